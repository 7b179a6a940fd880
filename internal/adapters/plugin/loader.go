package plugin

import (
	"fmt"
	"log/slog"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

// Composite dispatches to the first loader that matches a path.
type Composite []output.PluginLoader

var _ output.PluginLoader = Composite(nil)

// NewLoader returns a loader for native and Lua plugins.
func NewLoader(logger *slog.Logger) Composite {
	return Composite{Native{}, NewLua(logger)}
}

// Matches implements output.PluginLoader.
func (c Composite) Matches(path string) bool {
	return c.pick(path) != nil
}

// ReadMetadata implements output.PluginLoader.
func (c Composite) ReadMetadata(path string) (pluginapi.Metadata, error) {
	l := c.pick(path)
	if l == nil {
		return pluginapi.Metadata{}, unsupported(path)
	}
	return l.ReadMetadata(path)
}

// Open implements output.PluginLoader.
func (c Composite) Open(path string) (output.PluginBinary, error) {
	l := c.pick(path)
	if l == nil {
		return nil, unsupported(path)
	}
	return l.Open(path)
}

func (c Composite) pick(path string) output.PluginLoader {
	for _, l := range c {
		if l.Matches(path) {
			return l
		}
	}
	return nil
}

func unsupported(path string) error {
	return fmt.Errorf("no plugin loader for %s: %w", path, domain.ErrCapability)
}
