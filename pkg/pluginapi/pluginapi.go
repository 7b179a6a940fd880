// Package pluginapi is the contract between mapshell and its plugins.
//
// A native plugin is a Go plugin (built with -buildmode=plugin) exporting a
// variable named Plugin whose value implements Plugin, or a function named
// NewPlugin returning one. Every plugin file embeds a metadata block so that
// the host can index it without loading its code:
//
//	const _ = `MAPSHELL_PLUGIN_METADATA {"iid":"io.mapshell.plugin/1","metadata":{"id":"hello"}}`
//
// Lua plugins put the same block in a comment.
package pluginapi

import "log/slog"

// Exported symbol names looked up in native plugins.
const (
	Symbol        = "Plugin"
	FactorySymbol = "NewPlugin"
)

// MetadataMarker precedes the JSON metadata block embedded in plugin files.
const MetadataMarker = "MAPSHELL_PLUGIN_METADATA"

// InterfaceID is the contract version plugins must declare.
const InterfaceID = "io.mapshell.plugin/1"

// Type classifies what a plugin contributes.
type Type string

// Plugin types.
const (
	TypeTool         Type = "tool"
	TypeDataProvider Type = "data-provider"
	TypeUIExtension  Type = "ui-extension"
	TypeMapOverlay   Type = "map-overlay"
)

// Valid reports whether t is a known plugin type.
func (t Type) Valid() bool {
	switch t {
	case TypeTool, TypeDataProvider, TypeUIExtension, TypeMapOverlay:
		return true
	}
	return false
}

// Info identifies a plugin.
type Info struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Author       string   `json:"author,omitempty"`
	Description  string   `json:"description,omitempty"`
	Type         Type     `json:"type"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Metadata is the block embedded in a plugin file after MetadataMarker.
type Metadata struct {
	IID  string `json:"iid"`
	Info Info   `json:"metadata"`
}

// EntryPoints are references to UI pieces a plugin provides. The host does
// not interpret them.
type EntryPoints struct {
	Main      string `json:"main,omitempty"`
	Settings  string `json:"settings,omitempty"`
	Toolbar   string `json:"toolbar,omitempty"`
	SidePanel string `json:"side_panel,omitempty"`
}

// Context is the host facade handed to a plugin at initialization.
type Context interface {
	// Service looks up a host service by name ("MessageBus", "SettingsManager",
	// "SourceManager", "ParserFactory").
	Service(name string) (any, bool)

	// SendMessage publishes payload on the host message bus.
	SendMessage(topic string, payload any)

	// Config reads a setting addressed as "category.key". A key without a
	// category lives in "plugins".
	Config(key string, def any) any

	// SetConfig writes a setting addressed like Config.
	SetConfig(key string, value any) error

	// Logger returns a logger scoped to the plugin.
	Logger() *slog.Logger
}

// Plugin is the capability contract every plugin satisfies.
type Plugin interface {
	Info() Info
	Initialize(ctx Context) error
	Shutdown() error
}

// EntryPointProvider is implemented by plugins that contribute UI.
type EntryPointProvider interface {
	EntryPoints() EntryPoints
}

// MessageEmitter is implemented by plugins that raise messages toward the
// host. The host installs the sink after a successful Initialize.
type MessageEmitter interface {
	SetMessageSink(sink func(topic string, payload any))
}

// MessageReceiver is implemented by plugins that accept messages from the host.
type MessageReceiver interface {
	OnMessage(topic string, payload any)
}
