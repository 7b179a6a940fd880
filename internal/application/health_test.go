package application

import (
	"context"
	"testing"

	"github.com/jobrunner/mapshell/internal/domain"
)

func TestHealthServiceIsHealthy(t *testing.T) {
	f := newTestFactory(nil)
	service := NewHealthService(f, newTestSourceManager(f, nil), nil)

	if !service.IsHealthy(context.Background()) {
		t.Error("IsHealthy should return true")
	}
}

func TestHealthServiceIsReady(t *testing.T) {
	tests := []struct {
		name    string
		parsers int
		want    bool
	}{
		{name: "no parsers", parsers: 0, want: false},
		{name: "one parser", parsers: 1, want: true},
		{name: "several parsers", parsers: 3, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFactory(nil)
			for i := range tt.parsers {
				_ = f.Register(&mockParser{name: string(rune('A' + i))})
			}
			service := NewHealthService(f, newTestSourceManager(f, nil), nil)

			if got := service.IsReady(context.Background()); got != tt.want {
				t.Errorf("IsReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthServiceGetHealthDetails(t *testing.T) {
	f := newTestFactory(nil)
	_ = f.Register(&mockParser{name: "A"})
	sources := newTestSourceManager(f, nil)
	_ = sources.AddSource(&mockSource{id: "one"})
	_ = sources.AddSource(&mockSource{id: "two"})

	fx := newPluginFixture(t)
	fx.add(t, "alpha")
	fx.manager.Scan()
	_ = fx.manager.Load("alpha")

	service := NewHealthService(f, sources, fx.manager)
	details := service.GetHealthDetails(context.Background())

	if !details.Healthy || !details.Ready {
		t.Errorf("details = %+v, want healthy and ready", details)
	}
	if details.SourcesLoaded != 2 {
		t.Errorf("SourcesLoaded = %d, want 2", details.SourcesLoaded)
	}
	if details.Parsers != 1 {
		t.Errorf("Parsers = %d, want 1", details.Parsers)
	}
	if details.PluginsLoaded != 1 {
		t.Errorf("PluginsLoaded = %d, want 1", details.PluginsLoaded)
	}
	if details.Components["plugins"] != "ok" {
		t.Errorf("plugins component = %q", details.Components["plugins"])
	}
}

func TestHealthServiceDetailsWithoutPlugins(t *testing.T) {
	f := newTestFactory(nil)
	service := NewHealthService(f, newTestSourceManager(f, nil), nil)

	details := service.GetHealthDetails(context.Background())
	if details.Components["plugins"] != "disabled" {
		t.Errorf("plugins component = %q, want disabled", details.Components["plugins"])
	}
	if details.Components["parsers"] != "none registered" {
		t.Errorf("parsers component = %q", details.Components["parsers"])
	}
	if details.Ready {
		t.Error("Ready without parsers")
	}
}

func TestHealthServiceGetSourceHealth(t *testing.T) {
	f := newTestFactory(nil)
	sources := newTestSourceManager(f, nil)
	_ = sources.AddSource(&mockSource{id: "a", name: "Alpha", typ: domain.SourceVector})
	_ = sources.AddSource(&mockSource{id: "b", name: "Beta", typ: domain.SourceOnline})

	service := NewHealthService(f, sources, nil)
	got := service.GetSourceHealth(context.Background())

	if len(got) != 2 {
		t.Fatalf("GetSourceHealth() returned %d entries, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].Type != "vector" || !got[0].Valid || !got[0].Loaded {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].Name != "Beta" || got[1].Type != "online" {
		t.Errorf("entry 1 = %+v", got[1])
	}
}
