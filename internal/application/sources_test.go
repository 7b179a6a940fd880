package application

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jobrunner/mapshell/internal/adapters/online"
	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

func newTestSourceManager(f *ParserFactory, events output.EventPublisher) *SourceManager {
	if events == nil {
		events = output.NoOpPublisher{}
	}
	return NewSourceManager(f, online.NewProviders(quietLogger()), events, &output.NoOpMetrics{}, quietLogger())
}

func TestSourceManagerAddRemove(t *testing.T) {
	events := &mockPublisher{}
	m := newTestSourceManager(newTestFactory(nil), events)

	a := &mockSource{id: "a", name: "A", typ: domain.SourceVector}
	b := &mockSource{id: "b", name: "B", typ: domain.SourceOnline}

	if err := m.AddSource(a); err != nil {
		t.Fatalf("AddSource(a) error = %v", err)
	}
	if err := m.AddSource(b); err != nil {
		t.Fatalf("AddSource(b) error = %v", err)
	}
	if err := m.AddSource(&mockSource{id: "a"}); !errors.Is(err, domain.ErrDuplicateSource) {
		t.Errorf("duplicate AddSource() error = %v, want ErrDuplicateSource", err)
	}
	if err := m.AddSource(nil); !errors.Is(err, domain.ErrNilSource) {
		t.Errorf("AddSource(nil) error = %v, want ErrNilSource", err)
	}

	if m.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", m.Count())
	}
	if ids := m.SourceIDs(); ids[0] != "a" || ids[1] != "b" {
		t.Errorf("SourceIDs() = %v, want insertion order", ids)
	}
	if got := m.SourcesByType(domain.SourceOnline); len(got) != 1 || got[0].ID() != "b" {
		t.Errorf("SourcesByType(online) = %v", got)
	}
	if got, err := m.Source("a"); err != nil || got != a {
		t.Errorf("Source(a) = %v, %v", got, err)
	}

	if err := m.RemoveSource("a"); err != nil {
		t.Fatalf("RemoveSource() error = %v", err)
	}
	if err := m.RemoveSource("a"); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Errorf("second RemoveSource() error = %v, want ErrSourceNotFound", err)
	}
	if m.HasSource("a") {
		t.Error("HasSource(a) after removal")
	}
	if _, err := m.Source("a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Source(a) after removal error = %v", err)
	}

	if n := events.count(domain.TopicSourceAdded); n != 2 {
		t.Errorf("source.added published %d times, want 2", n)
	}
	if n := events.count(domain.TopicSourceRemoved); n != 1 {
		t.Errorf("source.removed published %d times, want 1", n)
	}

	m.RemoveAll()
	if m.Count() != 0 {
		t.Errorf("Count() after RemoveAll = %d", m.Count())
	}
}

func TestSourceManagerSourcesInView(t *testing.T) {
	m := newTestSourceManager(newTestFactory(nil), nil)

	sources := []*mockSource{
		{id: "berlin", bounds: domain.NewExtent(13, 52, 14, 53)},
		{id: "paris", bounds: domain.NewExtent(2, 48, 3, 49)},
		{id: "point", bounds: domain.NewExtent(13.5, 52.5, 13.5, 52.5)},
		{id: "empty"},
	}
	for _, s := range sources {
		if err := m.AddSource(s); err != nil {
			t.Fatalf("AddSource(%s) error = %v", s.id, err)
		}
	}

	tests := []struct {
		name string
		view domain.Extent
		want []string
	}{
		{"germany", domain.NewExtent(5, 47, 15, 55), []string{"berlin", "point"}},
		{"europe", domain.NewExtent(-10, 35, 30, 60), []string{"berlin", "paris", "point"}},
		{"ocean", domain.NewExtent(-40, 0, -30, 10), nil},
		{"point only", domain.NewExtent(13.4, 52.4, 13.6, 52.6), []string{"berlin", "point"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.SourcesInView(tt.view)
			if len(got) != len(tt.want) {
				t.Fatalf("SourcesInView() returned %d sources, want %d", len(got), len(tt.want))
			}
			for i, src := range got {
				if src.ID() != tt.want[i] {
					t.Errorf("SourcesInView()[%d] = %s, want %s", i, src.ID(), tt.want[i])
				}
			}
		})
	}

	_ = m.RemoveSource("berlin")
	if got := m.SourcesInView(domain.NewExtent(5, 47, 15, 55)); len(got) != 1 || got[0].ID() != "point" {
		t.Errorf("SourcesInView() after removal = %v", got)
	}
}

func TestSourceManagerLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.x", "data")

	events := &mockPublisher{}
	f := newTestFactory(nil)
	p := &mockParser{name: "X", exts: []string{"x"}, accept: true}
	_ = f.Register(p)
	m := newTestSourceManager(f, events)

	src, err := m.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	again, err := m.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second LoadFile() error = %v", err)
	}
	if again != src {
		t.Error("second LoadFile() returned a different source")
	}
	if p.parseCount() != 1 {
		t.Errorf("parsed %d times, want 1", p.parseCount())
	}

	abs, _ := filepath.Abs(path)
	if m.SourcePath(src.ID()) != abs {
		t.Errorf("SourcePath() = %q, want %q", m.SourcePath(src.ID()), abs)
	}
	if got, ok := m.SourceForPath(path); !ok || got != src {
		t.Error("SourceForPath() did not find the loaded source")
	}

	reloaded, err := m.ReloadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReloadFile() error = %v", err)
	}
	if reloaded.ID() == src.ID() {
		t.Error("ReloadFile() kept the old source")
	}
	if m.Count() != 1 {
		t.Errorf("Count() after reload = %d, want 1", m.Count())
	}

	if err := m.UnloadFile(path); err != nil {
		t.Fatalf("UnloadFile() error = %v", err)
	}
	if err := m.UnloadFile(path); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second UnloadFile() error = %v, want ErrNotFound", err)
	}
}

func TestSourceManagerLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	events := &mockPublisher{}
	f := newTestFactory(nil)
	_ = f.Register(&mockParser{name: "X", exts: []string{"x"}, accept: true, parseErr: domain.NewStructureError("X", "b.x", "bad")})
	m := newTestSourceManager(f, events)

	if _, err := m.LoadFile(context.Background(), filepath.Join(dir, "missing.x")); !errors.Is(err, domain.ErrFileNotFound) {
		t.Errorf("LoadFile(missing) error = %v, want ErrFileNotFound", err)
	}

	bad := writeFile(t, dir, "b.x", "data")
	if _, err := m.LoadFile(context.Background(), bad); !errors.Is(err, domain.ErrStructure) {
		t.Errorf("LoadFile(bad) error = %v, want ErrStructure", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.LoadFile(ctx, bad); !errors.Is(err, context.Canceled) {
		t.Errorf("LoadFile(canceled) error = %v, want context.Canceled", err)
	}

	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
	if n := events.count(domain.TopicSourceError); n != 2 {
		t.Errorf("source.error published %d times, want 2", n)
	}
}

func TestSourceManagerConcurrentLoadSharesParse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "shared.x", "data")

	f := newTestFactory(nil)
	p := &mockParser{name: "X", exts: []string{"x"}, accept: true}
	_ = f.Register(p)
	m := newTestSourceManager(f, nil)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src, err := m.LoadFile(context.Background(), path)
			if err != nil {
				t.Errorf("LoadFile() error = %v", err)
				return
			}
			ids[i] = src.ID()
		}()
	}
	wg.Wait()

	if p.parseCount() != 1 {
		t.Errorf("parsed %d times, want 1", p.parseCount())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("loads returned different sources: %v", ids)
		}
	}
}

func TestSourceManagerLoadFiles(t *testing.T) {
	dir := t.TempDir()
	f := newBuiltinFactory(t)
	m := newTestSourceManager(f, nil)

	paths := []string{
		writeFile(t, dir, "a.geojson", `{"type":"Point","coordinates":[1,2]}`),
		writeFile(t, dir, "b.geojson", `{"type":"Point","coordinates":[3,4]}`),
		writeFile(t, dir, "c.geojson", `not json`),
		filepath.Join(dir, "missing.kml"),
	}

	n, err := m.LoadFiles(context.Background(), paths)
	if n != 2 {
		t.Errorf("LoadFiles() loaded %d, want 2", n)
	}
	if err == nil {
		t.Fatal("LoadFiles() error = nil, want joined errors")
	}
	if !errors.Is(err, domain.ErrUnsupportedFormat) || !errors.Is(err, domain.ErrFileNotFound) {
		t.Errorf("LoadFiles() error = %v, want ErrUnsupportedFormat and ErrFileNotFound", err)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestSourceManagerOnlineMaps(t *testing.T) {
	m := newTestSourceManager(newTestFactory(nil), nil)

	src, err := m.AddOnlineMap("Local", "http://localhost/{z}/{x}/{y}.png", 0, 12)
	if err != nil {
		t.Fatalf("AddOnlineMap() error = %v", err)
	}
	if src.Type() != domain.SourceOnline || src.MaxZoom() != 12 {
		t.Errorf("AddOnlineMap() = type %v max %d", src.Type(), src.MaxZoom())
	}
	if !m.HasSource(src.ID()) {
		t.Error("online map not registered")
	}

	if _, err := m.AddOnlineMap("Broken", "", 0, 12); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("AddOnlineMap(empty) error = %v, want ErrInvalidInput", err)
	}

	if _, err := m.AddProvider(domain.ProviderOpenStreetMap, ""); err != nil {
		t.Errorf("AddProvider(osm) error = %v", err)
	}
	if _, err := m.AddProvider(domain.ProviderMapTiler, ""); !errors.Is(err, domain.ErrAPIKeyRequired) {
		t.Errorf("AddProvider(maptiler) error = %v, want ErrAPIKeyRequired", err)
	}
	if len(m.Providers()) == 0 {
		t.Error("Providers() is empty")
	}
	if got := len(m.SourcesByType(domain.SourceOnline)); got != 2 {
		t.Errorf("online sources = %d, want 2", got)
	}
}
