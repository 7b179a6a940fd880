package domain

import "github.com/jobrunner/mapshell/pkg/pluginapi"

// PluginState is the lifecycle state of a plugin.
type PluginState int

// Plugin lifecycle states.
const (
	PluginDiscovered PluginState = iota
	PluginLoaded
	PluginUnloaded
)

// String returns the name of the state.
func (s PluginState) String() string {
	switch s {
	case PluginDiscovered:
		return "discovered"
	case PluginLoaded:
		return "loaded"
	case PluginUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// PluginCandidate is a plugin file whose embedded metadata has been read but
// whose code has not been loaded.
type PluginCandidate struct {
	Path string
	Info pluginapi.Info
}
