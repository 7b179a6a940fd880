package plugin

import (
	"fmt"
	"path/filepath"
	"plugin"
	"runtime"
	"strings"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

// NativeExtensions returns the plugin binary extensions of a platform.
// Go's plugin package has no Windows support, so none are returned there.
func NativeExtensions(goos string) []string {
	switch goos {
	case "darwin":
		return []string{".dylib", ".bundle", ".so"}
	case "windows":
		return nil
	default:
		return []string{".so"}
	}
}

// Native loads Go plugins built with -buildmode=plugin.
type Native struct{}

var _ output.PluginLoader = Native{}

// Matches implements output.PluginLoader.
func (Native) Matches(path string) bool {
	return matchesExtension(runtime.GOOS, path)
}

func matchesExtension(goos, path string) bool {
	ext := filepath.Ext(path)
	for _, want := range NativeExtensions(goos) {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// ReadMetadata implements output.PluginLoader.
func (Native) ReadMetadata(path string) (pluginapi.Metadata, error) {
	return ReadMetadata(path)
}

// Open implements output.PluginLoader.
func (Native) Open(path string) (output.PluginBinary, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &nativeBinary{path: path, lib: p}, nil
}

type nativeBinary struct {
	path string
	lib  *plugin.Plugin
}

// Instance looks up the Plugin variable first and falls back to the NewPlugin
// factory.
func (b *nativeBinary) Instance() (pluginapi.Plugin, error) {
	if sym, err := b.lib.Lookup(pluginapi.Symbol); err == nil {
		switch v := sym.(type) {
		case *pluginapi.Plugin:
			if *v != nil {
				return *v, nil
			}
		case pluginapi.Plugin:
			return v, nil
		}
	}

	if sym, err := b.lib.Lookup(pluginapi.FactorySymbol); err == nil {
		switch fn := sym.(type) {
		case func() pluginapi.Plugin:
			if p := fn(); p != nil {
				return p, nil
			}
		case *func() pluginapi.Plugin:
			if p := (*fn)(); p != nil {
				return p, nil
			}
		}
	}

	return nil, fmt.Errorf("%s exports neither %s nor %s: %w",
		b.path, pluginapi.Symbol, pluginapi.FactorySymbol, domain.ErrCapability)
}

// Release is a no-op. The Go runtime cannot unload plugins.
func (b *nativeBinary) Release() error {
	return nil
}
