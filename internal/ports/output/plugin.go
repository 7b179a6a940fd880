package output

import "github.com/jobrunner/mapshell/pkg/pluginapi"

// PluginLoader reads and opens plugin files.
type PluginLoader interface {
	// Matches reports whether path is a plugin file this loader handles.
	Matches(path string) bool

	// ReadMetadata reads the embedded metadata block without running any
	// plugin code.
	ReadMetadata(path string) (pluginapi.Metadata, error)

	// Open loads the plugin file into the process.
	Open(path string) (PluginBinary, error)
}

// PluginBinary is a loaded plugin file.
type PluginBinary interface {
	// Instance returns the plugin object. It fails with domain.ErrCapability
	// when the file does not export a pluginapi.Plugin.
	Instance() (pluginapi.Plugin, error)

	// Release frees the loaded file.
	Release() error
}
