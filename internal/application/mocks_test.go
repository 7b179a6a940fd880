package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
	"github.com/jobrunner/mapshell/pkg/pluginapi"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockSource implements domain.MapSource for testing.
type mockSource struct {
	id     string
	name   string
	typ    domain.SourceType
	bounds domain.Extent
}

func (s *mockSource) ID() string              { return s.id }
func (s *mockSource) Name() string            { return s.name }
func (s *mockSource) Type() domain.SourceType { return s.typ }
func (s *mockSource) Bounds() domain.Extent   { return s.bounds }
func (s *mockSource) IsValid() bool           { return true }
func (s *mockSource) IsLoaded() bool          { return true }

// mockParser implements output.MapParser for testing.
type mockParser struct {
	name     string
	exts     []string
	mimes    []string
	accept   bool
	parseErr error

	mu     sync.Mutex
	parsed int
	sniffs int
}

func (p *mockParser) Name() string         { return p.name }
func (p *mockParser) Extensions() []string { return p.exts }
func (p *mockParser) MimeTypes() []string  { return p.mimes }

func (p *mockParser) CanParse(_ io.ReadSeeker) bool {
	p.mu.Lock()
	p.sniffs++
	p.mu.Unlock()
	return p.accept
}

func (p *mockParser) Parse(r io.Reader, sourceName string) (domain.MapSource, error) {
	p.mu.Lock()
	p.parsed++
	n := p.parsed
	p.mu.Unlock()

	if p.parseErr != nil {
		return nil, p.parseErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	return &mockSource{
		id:     fmt.Sprintf("%s-%s-%d", p.name, sourceName, n),
		name:   sourceName,
		typ:    domain.SourceVector,
		bounds: domain.NewExtent(0, 0, 1, 1),
	}, nil
}

func (p *mockParser) parseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parsed
}

// event is one recorded publication.
type event struct {
	topic   string
	payload any
}

// mockPublisher implements output.EventPublisher and records every event.
type mockPublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *mockPublisher) Publish(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{topic: topic, payload: payload})
}

func (p *mockPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

func (p *mockPublisher) count(topic string) int {
	n := 0
	for _, t := range p.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

// mockSettings implements output.SettingsStore in memory.
type mockSettings struct {
	mu     sync.Mutex
	values map[string]map[string]any
	setErr error
}

func newMockSettings() *mockSettings {
	return &mockSettings{values: make(map[string]map[string]any)}
}

func (s *mockSettings) Value(category, key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[category][key]; ok {
		return v
	}
	return def
}

func (s *mockSettings) SetValue(category, key string, value any) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[category] == nil {
		s.values[category] = make(map[string]any)
	}
	s.values[category][key] = value
	return nil
}

func (s *mockSettings) Category(category string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any)
	for k, v := range s.values[category] {
		out[k] = v
	}
	return out, nil
}

func (s *mockSettings) ResetCategory(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, category)
	return nil
}

// mockPlugin implements pluginapi.Plugin and records lifecycle calls.
type mockPlugin struct {
	info        pluginapi.Info
	initErr     error
	initPanic   bool
	shutdownErr error
	entry       pluginapi.EntryPoints

	initCalls     int
	shutdownCalls int
	ctx           pluginapi.Context
	sink          func(topic string, payload any)
	received      []string
}

func (p *mockPlugin) Info() pluginapi.Info { return p.info }

func (p *mockPlugin) Initialize(ctx pluginapi.Context) error {
	p.initCalls++
	if p.initPanic {
		panic("boom")
	}
	p.ctx = ctx
	return p.initErr
}

func (p *mockPlugin) Shutdown() error {
	p.shutdownCalls++
	return p.shutdownErr
}

func (p *mockPlugin) EntryPoints() pluginapi.EntryPoints { return p.entry }

func (p *mockPlugin) SetMessageSink(sink func(topic string, payload any)) { p.sink = sink }

func (p *mockPlugin) OnMessage(topic string, _ any) { p.received = append(p.received, topic) }

// bareCorePlugin implements only pluginapi.Plugin.
type bareCorePlugin struct{ info pluginapi.Info }

func (p *bareCorePlugin) Info() pluginapi.Info                 { return p.info }
func (p *bareCorePlugin) Initialize(_ pluginapi.Context) error { return nil }
func (p *bareCorePlugin) Shutdown() error                      { return nil }

// mockBinary implements output.PluginBinary.
type mockBinary struct {
	plugin      pluginapi.Plugin
	instanceErr error
	released    int
}

func (b *mockBinary) Instance() (pluginapi.Plugin, error) {
	if b.instanceErr != nil {
		return nil, b.instanceErr
	}
	return b.plugin, nil
}

func (b *mockBinary) Release() error {
	b.released++
	return nil
}

// mockLoader implements output.PluginLoader over an in-memory file table
// keyed by base name. Files still have to exist on disk to be scanned.
type mockLoader struct {
	metadata map[string]pluginapi.Metadata
	binaries map[string]*mockBinary
	openErr  map[string]error
	opened   []string
}

func newMockLoader() *mockLoader {
	return &mockLoader{
		metadata: make(map[string]pluginapi.Metadata),
		binaries: make(map[string]*mockBinary),
		openErr:  make(map[string]error),
	}
}

func (l *mockLoader) Matches(path string) bool {
	return filepath.Ext(path) == ".so"
}

func (l *mockLoader) ReadMetadata(path string) (pluginapi.Metadata, error) {
	meta, ok := l.metadata[filepath.Base(path)]
	if !ok {
		return pluginapi.Metadata{}, errors.New("no metadata")
	}
	return meta, nil
}

func (l *mockLoader) Open(path string) (output.PluginBinary, error) {
	name := filepath.Base(path)
	l.opened = append(l.opened, name)
	if err := l.openErr[name]; err != nil {
		return nil, err
	}
	b, ok := l.binaries[name]
	if !ok {
		return nil, errors.New("cannot open")
	}
	return b, nil
}

// mockCatalog implements output.Catalog by copying from a map of contents.
type mockCatalog struct {
	mu          sync.Mutex
	files       map[string]string
	listErr     error
	downloadErr error
	downloads   int
}

func (c *mockCatalog) List(_ context.Context) ([]output.CatalogObject, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]output.CatalogObject, 0, len(c.files))
	for k, v := range c.files {
		out = append(out, output.CatalogObject{Key: k, Size: int64(len(v))})
	}
	return out, nil
}

func (c *mockCatalog) Download(_ context.Context, key, dest string) error {
	if c.downloadErr != nil {
		return c.downloadErr
	}
	c.mu.Lock()
	body, ok := c.files[key]
	c.downloads++
	c.mu.Unlock()
	if !ok {
		return domain.ErrFileNotFound
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte(body), 0o644)
}

func (c *mockCatalog) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, key)
}
