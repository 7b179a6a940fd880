package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dhconnelly/rtreego"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

// minRectSide pads degenerate extents (single points, horizontal lines) so
// they can be stored in the viewport index.
const minRectSide = 1e-9

// loadConcurrency bounds the parallel parses of LoadFiles.
const loadConcurrency = 4

// SourceManager owns every loaded map source. Sources loaded from files are
// tracked by path so that a file is parsed at most once at a time.
type SourceManager struct {
	mu      sync.RWMutex
	sources map[string]*sourceEntry
	order   []string          // insertion order of ids
	byPath  map[string]string // absolute path -> source id
	index   *rtreego.Rtree

	loads     singleflight.Group
	factory   *ParserFactory
	providers output.TileProviders
	events    output.EventPublisher
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

type sourceEntry struct {
	source domain.MapSource
	path   string
	leaf   *indexLeaf
}

// indexLeaf is a source extent stored in the viewport index.
type indexLeaf struct {
	id   string
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (l *indexLeaf) Bounds() rtreego.Rect { return l.rect }

// NewSourceManager creates an empty source manager.
func NewSourceManager(
	factory *ParserFactory,
	providers output.TileProviders,
	events output.EventPublisher,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *SourceManager {
	return &SourceManager{
		sources:   make(map[string]*sourceEntry),
		byPath:    make(map[string]string),
		index:     rtreego.NewTree(2, 25, 50),
		factory:   factory,
		providers: providers,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// AddSource registers a source. Nil sources and duplicate ids are rejected.
func (m *SourceManager) AddSource(src domain.MapSource) error {
	return m.add(src, "")
}

func (m *SourceManager) add(src domain.MapSource, path string) error {
	if src == nil {
		m.logger.Warn("attempt to add nil source")
		return domain.ErrNilSource
	}
	id := src.ID()

	m.mu.Lock()
	if _, exists := m.sources[id]; exists {
		m.mu.Unlock()
		m.logger.Warn("source already exists", "id", id)
		return fmt.Errorf("%q: %w", id, domain.ErrDuplicateSource)
	}
	entry := &sourceEntry{source: src, path: path, leaf: newLeaf(id, src.Bounds())}
	m.sources[id] = entry
	m.order = append(m.order, id)
	if path != "" {
		m.byPath[path] = id
	}
	if entry.leaf != nil {
		m.index.Insert(entry.leaf)
	}
	counts := m.countsLocked()
	m.mu.Unlock()

	m.metrics.SetSources(counts)
	m.logger.Info("source added", "id", id, "name", src.Name(), "type", src.Type().String())
	m.events.Publish(domain.TopicSourceAdded, map[string]any{
		"id":   id,
		"name": src.Name(),
		"type": src.Type().String(),
	})
	return nil
}

func newLeaf(id string, e domain.Extent) *indexLeaf {
	if e.IsEmpty() {
		return nil
	}
	rect, err := rtreego.NewRect(
		rtreego.Point{e.MinLon(), e.MinLat()},
		[]float64{max(e.Width(), minRectSide), max(e.Height(), minRectSide)},
	)
	if err != nil {
		return nil
	}
	return &indexLeaf{id: id, rect: rect}
}

// RemoveSource unregisters a source by id.
func (m *SourceManager) RemoveSource(id string) error {
	m.mu.Lock()
	entry, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("source not found", "id", id)
		return fmt.Errorf("%q: %w", id, domain.ErrSourceNotFound)
	}
	m.removeLocked(id, entry)
	counts := m.countsLocked()
	m.mu.Unlock()

	m.metrics.SetSources(counts)
	m.logger.Info("source removed", "id", id)
	m.events.Publish(domain.TopicSourceRemoved, map[string]any{"id": id})
	return nil
}

func (m *SourceManager) removeLocked(id string, entry *sourceEntry) {
	delete(m.sources, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if entry.path != "" && m.byPath[entry.path] == id {
		delete(m.byPath, entry.path)
	}
	if entry.leaf != nil {
		m.index.Delete(entry.leaf)
	}
}

func (m *SourceManager) countsLocked() map[string]int {
	counts := make(map[string]int)
	for _, e := range m.sources {
		counts[e.source.Type().String()]++
	}
	return counts
}

// RemoveAll unregisters every source.
func (m *SourceManager) RemoveAll() {
	for _, id := range m.SourceIDs() {
		_ = m.RemoveSource(id)
	}
}

// Source returns a source by id.
func (m *SourceManager) Source(id string) (domain.MapSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sources[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, domain.ErrSourceNotFound)
	}
	return entry.source, nil
}

// Sources returns every source in insertion order.
func (m *SourceManager) Sources() []domain.MapSource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.MapSource, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sources[id].source)
	}
	return out
}

// SourcesByType returns the sources of one type in insertion order.
func (m *SourceManager) SourcesByType(t domain.SourceType) []domain.MapSource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.MapSource
	for _, id := range m.order {
		if src := m.sources[id].source; src.Type() == t {
			out = append(out, src)
		}
	}
	return out
}

// SourceIDs returns every source id in insertion order.
func (m *SourceManager) SourceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// HasSource reports whether a source id is registered.
func (m *SourceManager) HasSource(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sources[id]
	return ok
}

// Count returns the number of registered sources.
func (m *SourceManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

// SourcePath returns the file a source was loaded from, or "" for sources
// added directly.
func (m *SourceManager) SourcePath(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.sources[id]; ok {
		return entry.path
	}
	return ""
}

// SourceForPath returns the source loaded from path.
func (m *SourceManager) SourceForPath(path string) (domain.MapSource, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPath[abs]
	if !ok {
		return nil, false
	}
	return m.sources[id].source, true
}

// SourcesInView returns the sources whose bounds intersect the view, in
// insertion order. Sources with empty bounds are never returned.
func (m *SourceManager) SourcesInView(view domain.Extent) []domain.MapSource {
	leaf := newLeaf("", view)
	if leaf == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make(map[string]bool)
	for _, s := range m.index.SearchIntersect(leaf.rect) {
		hits[s.(*indexLeaf).id] = true
	}
	out := make([]domain.MapSource, 0, len(hits))
	for _, id := range m.order {
		if hits[id] {
			out = append(out, m.sources[id].source)
		}
	}
	return out
}

// LoadFile parses a file and registers the result. A file that is already
// loaded returns its current source; concurrent calls for the same path
// share one parse.
func (m *SourceManager) LoadFile(ctx context.Context, path string) (domain.MapSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	if _, err := os.Stat(abs); err != nil {
		m.logger.Warn("file does not exist", "path", abs)
		m.publishError(abs, err)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", abs, domain.ErrFileNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	v, err, _ := m.loads.Do(abs, func() (any, error) {
		if src, ok := m.SourceForPath(abs); ok {
			return src, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src, err := m.factory.ParseFile(abs)
		if err != nil {
			m.publishError(abs, err)
			return nil, err
		}
		if err := m.add(src, abs); err != nil {
			return nil, err
		}
		m.logger.Info("file loaded", "path", abs, "source_id", src.ID())
		return src, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.MapSource), nil
}

// LoadFiles loads every path, continuing past failures. It returns the
// number of files loaded and the joined errors of the rest.
func (m *SourceManager) LoadFiles(ctx context.Context, paths []string) (int, error) {
	var (
		mu     sync.Mutex
		loaded int
		errs   []error
	)

	var g errgroup.Group
	g.SetLimit(loadConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			_, err := m.LoadFile(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			loaded++
			return nil
		})
	}
	_ = g.Wait()

	return loaded, errors.Join(errs...)
}

// ReloadFile drops the source loaded from path, if any, and parses the
// file again.
func (m *SourceManager) ReloadFile(ctx context.Context, path string) (domain.MapSource, error) {
	if src, ok := m.SourceForPath(path); ok {
		if err := m.RemoveSource(src.ID()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return m.LoadFile(ctx, path)
}

// UnloadFile removes the source loaded from path.
func (m *SourceManager) UnloadFile(path string) error {
	src, ok := m.SourceForPath(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, domain.ErrSourceNotFound)
	}
	return m.RemoveSource(src.ID())
}

// AddOnlineMap registers a custom online tile source.
func (m *SourceManager) AddOnlineMap(name, urlTemplate string, minZoom, maxZoom int) (domain.OnlineSource, error) {
	src, err := m.providers.CreateCustom(name, urlTemplate, minZoom, maxZoom, "")
	if err != nil {
		return nil, err
	}
	if err := m.AddSource(src); err != nil {
		return nil, err
	}
	return src, nil
}

// AddProvider registers a source for a built-in tile provider.
func (m *SourceManager) AddProvider(t domain.ProviderType, apiKey string) (domain.OnlineSource, error) {
	src, err := m.providers.Create(t, apiKey)
	if err != nil {
		return nil, err
	}
	if err := m.AddSource(src); err != nil {
		return nil, err
	}
	return src, nil
}

// Providers returns the built-in tile providers.
func (m *SourceManager) Providers() []domain.ProviderInfo {
	return m.providers.List()
}

// Factory returns the parser factory used for file loads.
func (m *SourceManager) Factory() *ParserFactory {
	return m.factory
}

func (m *SourceManager) publishError(path string, err error) {
	m.events.Publish(domain.TopicSourceError, map[string]any{
		"path":  path,
		"error": err.Error(),
	})
}
