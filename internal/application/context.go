package application

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

// Host service names resolvable through the plugin context.
const (
	ServiceMessageBus      = "MessageBus"
	ServiceSettingsManager = "SettingsManager"
	ServiceSourceManager   = "SourceManager"
	ServiceParserFactory   = "ParserFactory"
)

// defaultConfigCategory holds plugin settings addressed without a category.
const defaultConfigCategory = "plugins"

// Services is the registry of host services shared by all plugin contexts.
type Services struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewServices creates a registry holding the message bus and the settings
// store.
func NewServices(events output.EventPublisher, settings output.SettingsStore) *Services {
	return &Services{services: map[string]any{
		ServiceMessageBus:      events,
		ServiceSettingsManager: settings,
	}}
}

// Register adds or replaces a service.
func (s *Services) Register(name string, svc any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[name] = svc
}

// Lookup returns a service by name.
func (s *Services) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	return svc, ok
}

// PluginContext is the pluginapi.Context handed to one plugin.
type PluginContext struct {
	pluginID string
	services *Services
	events   output.EventPublisher
	settings output.SettingsStore
	logger   *slog.Logger
}

// NewPluginContext creates the context for a plugin.
func NewPluginContext(
	pluginID string,
	services *Services,
	events output.EventPublisher,
	settings output.SettingsStore,
	logger *slog.Logger,
) *PluginContext {
	return &PluginContext{
		pluginID: pluginID,
		services: services,
		events:   events,
		settings: settings,
		logger:   logger.With("plugin", pluginID),
	}
}

var _ pluginapi.Context = (*PluginContext)(nil)

// Service implements pluginapi.Context.
func (c *PluginContext) Service(name string) (any, bool) {
	return c.services.Lookup(name)
}

// SendMessage implements pluginapi.Context.
func (c *PluginContext) SendMessage(topic string, payload any) {
	c.events.Publish(topic, payload)
}

// Config implements pluginapi.Context.
func (c *PluginContext) Config(key string, def any) any {
	category, k := splitConfigKey(key)
	return c.settings.Value(category, k, def)
}

// SetConfig implements pluginapi.Context.
func (c *PluginContext) SetConfig(key string, value any) error {
	category, k := splitConfigKey(key)
	if err := c.settings.SetValue(category, k, value); err != nil {
		c.logger.Warn("failed to store plugin setting", "key", key, "error", err)
		return err
	}
	c.events.Publish(domain.TopicConfigChanged, map[string]any{
		"category": category,
		"key":      k,
		"plugin":   c.pluginID,
	})
	return nil
}

// Logger implements pluginapi.Context.
func (c *PluginContext) Logger() *slog.Logger {
	return c.logger
}

// splitConfigKey maps "category.key" to its parts. Any other shape,
// including keys with more than one dot, lives in the plugins category.
func splitConfigKey(key string) (category, name string) {
	parts := strings.Split(key, ".")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultConfigCategory, key
}
