package application

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

// PluginManager discovers plugin files, loads them with their dependencies
// and unloads them.
type PluginManager struct {
	// opMu serializes lifecycle operations; mu guards the indexes.
	opMu sync.Mutex
	mu   sync.RWMutex

	dirs       []string
	discovered map[string]domain.PluginCandidate
	loaded     map[string]*loadedPlugin
	order      []string // load order
	states     map[string]domain.PluginState

	loader   output.PluginLoader
	services *Services
	events   output.EventPublisher
	settings output.SettingsStore
	metrics  output.MetricsCollector
	logger   *slog.Logger
}

type loadedPlugin struct {
	plugin pluginapi.Plugin
	binary output.PluginBinary
	path   string
}

// NewPluginManager creates a plugin manager scanning dirs in order.
func NewPluginManager(
	dirs []string,
	loader output.PluginLoader,
	services *Services,
	events output.EventPublisher,
	settings output.SettingsStore,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *PluginManager {
	m := &PluginManager{
		discovered: make(map[string]domain.PluginCandidate),
		loaded:     make(map[string]*loadedPlugin),
		states:     make(map[string]domain.PluginState),
		loader:     loader,
		services:   services,
		events:     events,
		settings:   settings,
		metrics:    metrics,
		logger:     logger,
	}
	for _, d := range dirs {
		m.AddPluginDir(d)
	}
	return m
}

// DefaultPluginDirs returns the default scan order: the plugins directory
// next to the executable, the one above it, then the per-user data
// directory of the platform.
func DefaultPluginDirs(appDir, appName string) []string {
	home, _ := os.UserHomeDir()
	return pluginDirsFor(runtime.GOOS, home, appDir, appName)
}

func pluginDirsFor(goos, home, appDir, appName string) []string {
	dirs := []string{
		filepath.Join(appDir, "plugins"),
		filepath.Join(appDir, "..", "plugins"),
	}
	if home == "" {
		return dirs
	}
	switch goos {
	case "linux":
		dirs = append(dirs, filepath.Join(home, ".local", "share", appName, "plugins"))
	case "windows":
		dirs = append(dirs, filepath.Join(home, "AppData", "Local", appName, "plugins"))
	case "darwin":
		dirs = append(dirs, filepath.Join(home, "Library", "Application Support", appName, "plugins"))
	}
	return dirs
}

// AddPluginDir appends a directory to the scan list. Duplicates are ignored.
func (m *PluginManager) AddPluginDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dirs {
		if d == dir {
			return
		}
	}
	m.dirs = append(m.dirs, dir)
}

// PluginDirs returns the scan list.
func (m *PluginManager) PluginDirs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.dirs))
	copy(out, m.dirs)
	return out
}

// Scan indexes every plugin file of the scan directories by the id in its
// metadata. Missing directories are skipped. A later file with the same id
// replaces an earlier one. It returns the number of files indexed.
func (m *PluginManager) Scan() int {
	dirs := m.PluginDirs()
	m.logger.Debug("scanning plugins", "dirs", dirs)

	found := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("cannot read plugin directory", "dir", dir, "error", err)
			}
			continue
		}

		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !m.loader.Matches(path) {
				continue
			}

			meta, err := m.loader.ReadMetadata(path)
			if err != nil {
				m.logger.Debug("no plugin metadata", "path", path, "error", err)
				continue
			}
			if meta.Info.ID == "" {
				continue
			}
			if meta.IID != "" && meta.IID != pluginapi.InterfaceID {
				m.logger.Warn("plugin built for another interface", "path", path, "iid", meta.IID)
				continue
			}

			m.mu.Lock()
			m.discovered[meta.Info.ID] = domain.PluginCandidate{Path: path, Info: meta.Info}
			if _, loaded := m.loaded[meta.Info.ID]; !loaded {
				m.states[meta.Info.ID] = domain.PluginDiscovered
			}
			m.mu.Unlock()

			found++
			m.logger.Debug("found plugin", "id", meta.Info.ID, "path", path)
		}
	}

	m.logger.Info("plugin scan completed", "found", found)
	return found
}

// Load loads a discovered plugin after its dependencies. Loading a plugin
// that is already loaded succeeds without doing anything.
func (m *PluginManager) Load(id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.load(id, make(map[string]bool))
}

func (m *PluginManager) load(id string, inProgress map[string]bool) error {
	if m.IsLoaded(id) {
		m.logger.Debug("plugin already loaded", "id", id)
		return nil
	}
	if inProgress[id] {
		return m.fail(id, "load", domain.ErrCyclicDependency)
	}

	m.mu.RLock()
	cand, ok := m.discovered[id]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("plugin not found", "id", id)
		return m.fail(id, "load", domain.ErrPluginNotFound)
	}

	inProgress[id] = true
	defer delete(inProgress, id)

	binary, err := m.loader.Open(cand.Path)
	if err != nil {
		m.logger.Warn("failed to open plugin", "id", id, "path", cand.Path, "error", err)
		return m.fail(id, "open", err)
	}

	plugin, err := binary.Instance()
	if err != nil {
		m.release(id, binary)
		m.logger.Warn("invalid plugin interface", "id", id, "path", cand.Path, "error", err)
		return m.fail(id, "open", err)
	}

	for _, dep := range plugin.Info().Dependencies {
		if m.IsLoaded(dep) {
			continue
		}
		if err := m.load(dep, inProgress); err != nil {
			m.release(id, binary)
			m.logger.Warn("failed to load dependency", "id", id, "dependency", dep, "error", err)
			return m.fail(id, "load", fmt.Errorf("dependency %q: %w: %w", dep, domain.ErrDependency, err))
		}
	}

	ctx := NewPluginContext(id, m.services, m.events, m.settings, m.logger)
	if err := safeCall(func() error { return plugin.Initialize(ctx) }); err != nil {
		m.release(id, binary)
		m.logger.Warn("plugin initialization failed", "id", id, "error", err)
		return m.fail(id, "initialize", err)
	}

	if emitter, ok := plugin.(pluginapi.MessageEmitter); ok {
		emitter.SetMessageSink(func(topic string, payload any) {
			m.events.Publish(topic, payload)
		})
	}

	m.mu.Lock()
	m.loaded[id] = &loadedPlugin{plugin: plugin, binary: binary, path: cand.Path}
	m.order = append(m.order, id)
	m.states[id] = domain.PluginLoaded
	count := len(m.loaded)
	m.mu.Unlock()

	info := plugin.Info()
	m.metrics.ObservePluginOperation("load", nil)
	m.metrics.SetPluginsLoaded(count)
	m.logger.Info("plugin loaded", "id", id, "name", info.Name, "version", info.Version)
	m.events.Publish(domain.TopicPluginLoaded, map[string]any{"id": id})
	return nil
}

// fail records a failed operation and wraps the cause.
func (m *PluginManager) fail(id, op string, err error) error {
	m.metrics.ObservePluginOperation(op, err)
	m.events.Publish(domain.TopicPluginError, map[string]any{
		"id":    id,
		"op":    op,
		"error": err.Error(),
	})
	return &domain.PluginError{PluginID: id, Op: op, Err: err}
}

func (m *PluginManager) release(id string, binary output.PluginBinary) {
	if err := binary.Release(); err != nil {
		m.logger.Debug("plugin binary not released", "id", id, "error", err)
	}
}

// Unload shuts a loaded plugin down and releases it. Plugins depending on
// it stay loaded. Unloading a plugin that is not loaded fails without
// calling Shutdown.
func (m *PluginManager) Unload(id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.unload(id)
}

func (m *PluginManager) unload(id string) error {
	m.mu.Lock()
	lp, ok := m.loaded[id]
	if !ok {
		m.mu.Unlock()
		return &domain.PluginError{PluginID: id, Op: "unload", Err: domain.ErrPluginNotFound}
	}
	delete(m.loaded, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.states[id] = domain.PluginUnloaded
	count := len(m.loaded)
	m.mu.Unlock()

	shutdownErr := safeCall(lp.plugin.Shutdown)
	m.release(id, lp.binary)

	m.metrics.ObservePluginOperation("unload", shutdownErr)
	m.metrics.SetPluginsLoaded(count)
	m.logger.Info("plugin unloaded", "id", id)
	m.events.Publish(domain.TopicPluginUnloaded, map[string]any{"id": id})

	if shutdownErr != nil {
		m.logger.Warn("plugin shutdown failed", "id", id, "error", shutdownErr)
		return &domain.PluginError{PluginID: id, Op: "shutdown", Err: shutdownErr}
	}
	return nil
}

// LoadAll re-scans and loads every enabled plugin that is not loaded yet.
// It returns the number of plugins loaded by this call and the joined
// errors of the rest.
func (m *PluginManager) LoadAll() (int, error) {
	m.Scan()

	ids := m.discoveredIDs()
	before := m.Count()

	var errs []error
	for _, id := range ids {
		if m.IsLoaded(id) {
			continue
		}
		if !m.IsEnabled(id) {
			m.logger.Info("plugin disabled, skipping", "id", id)
			continue
		}
		if err := m.Load(id); err != nil {
			errs = append(errs, err)
		}
	}
	return m.Count() - before, errors.Join(errs...)
}

// ShutdownAll unloads every plugin in reverse load order.
func (m *PluginManager) ShutdownAll() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.unload(ids[i]); err != nil {
			m.logger.Warn("plugin unload failed", "id", ids[i], "error", err)
		}
	}
}

// Broadcast delivers a host message to every loaded plugin implementing
// pluginapi.MessageReceiver.
func (m *PluginManager) Broadcast(topic string, payload any) {
	for _, p := range m.Plugins() {
		recv, ok := p.(pluginapi.MessageReceiver)
		if !ok {
			continue
		}
		if err := safeCall(func() error { recv.OnMessage(topic, payload); return nil }); err != nil {
			m.logger.Warn("plugin message handler failed", "id", p.Info().ID, "topic", topic, "error", err)
		}
	}
}

// Plugin returns a loaded plugin.
func (m *PluginManager) Plugin(id string) (pluginapi.Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lp, ok := m.loaded[id]
	if !ok {
		return nil, false
	}
	return lp.plugin, true
}

// Plugins returns the loaded plugins in load order.
func (m *PluginManager) Plugins() []pluginapi.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pluginapi.Plugin, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.loaded[id].plugin)
	}
	return out
}

// PluginsByType returns the loaded plugins of one type in load order.
func (m *PluginManager) PluginsByType(t pluginapi.Type) []pluginapi.Plugin {
	var out []pluginapi.Plugin
	for _, p := range m.Plugins() {
		if p.Info().Type == t {
			out = append(out, p)
		}
	}
	return out
}

// LoadedIDs returns the ids of loaded plugins in load order.
func (m *PluginManager) LoadedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Count returns the number of loaded plugins.
func (m *PluginManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.loaded)
}

// IsLoaded reports whether a plugin is loaded.
func (m *PluginManager) IsLoaded(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.loaded[id]
	return ok
}

// State returns the lifecycle state of a known plugin.
func (m *PluginManager) State(id string) (domain.PluginState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	return s, ok
}

// Discovered returns the scan index sorted by id.
func (m *PluginManager) Discovered() []domain.PluginCandidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PluginCandidate, 0, len(m.discovered))
	for _, c := range m.discovered {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out
}

func (m *PluginManager) discoveredIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.discovered))
	for id := range m.discovered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntryPoints returns the UI entry points of a loaded plugin. Plugins
// without UI return the zero value.
func (m *PluginManager) EntryPoints(id string) (pluginapi.EntryPoints, error) {
	p, ok := m.Plugin(id)
	if !ok {
		return pluginapi.EntryPoints{}, fmt.Errorf("%q: %w", id, domain.ErrPluginNotFound)
	}
	if ep, ok := p.(pluginapi.EntryPointProvider); ok {
		return ep.EntryPoints(), nil
	}
	return pluginapi.EntryPoints{}, nil
}

func enabledKey(id string) string { return id + ".enabled" }

// IsEnabled reports the persisted enabled flag. Plugins are enabled unless
// disabled explicitly.
func (m *PluginManager) IsEnabled(id string) bool {
	v := m.settings.Value(defaultConfigCategory, enabledKey(id), true)
	enabled, ok := v.(bool)
	return !ok || enabled
}

// SetEnabled persists the enabled flag of a plugin.
func (m *PluginManager) SetEnabled(id string, enabled bool) error {
	if err := m.settings.SetValue(defaultConfigCategory, enabledKey(id), enabled); err != nil {
		return &domain.PluginError{PluginID: id, Op: "configure", Err: err}
	}
	m.logger.Info("plugin enabled flag changed", "id", id, "enabled", enabled)
	return nil
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}
