package domain

// Message bus topics published by the core.
const (
	TopicParserRegistered   = "parser.registered"
	TopicParserUnregistered = "parser.unregistered"
	TopicPluginLoaded       = "plugin.loaded"
	TopicPluginUnloaded     = "plugin.unloaded"
	TopicPluginError        = "plugin.error"
	TopicSourceAdded        = "source.added"
	TopicSourceRemoved      = "source.removed"
	TopicSourceError        = "source.error"
	TopicConfigChanged      = "config.changed"
	TopicAppReady           = "app.ready"
)
