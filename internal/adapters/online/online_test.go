package online

import (
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/jobrunner/mapshell/internal/domain"
)

func newTestProviders() *Providers {
	return NewProviders(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestTileURL(t *testing.T) {
	tests := []struct {
		name     string
		template string
		opts     []Option
		z, x, y  int
		want     string
	}{
		{
			name:     "plain xyz",
			template: "https://tiles.example.com/{z}/{x}/{y}.png",
			z:        3, x: 4, y: 5,
			want: "https://tiles.example.com/3/4/5.png",
		},
		{
			name:     "subdomain rotation",
			template: "https://{s}.tile.example.com/{z}/{x}/{y}.png",
			z:        1, x: 0, y: 0,
			want: "https://b.tile.example.com/1/0/0.png",
		},
		{
			name:     "subdomain wraps",
			template: "https://{s}.tile.example.com/{z}/{x}/{y}.png",
			z:        2, x: 2, y: 1,
			want: "https://c.tile.example.com/2/2/1.png",
		},
		{
			name:     "key substituted",
			template: "https://api.example.com/{z}/{x}/{y}.png?key={key}&k2={apikey}",
			opts:     []Option{WithAPIKey(true, "secret")},
			z:        0, x: 0, y: 0,
			want: "https://api.example.com/0/0/0.png?key=secret&k2=secret",
		},
		{
			name:     "key kept when not required",
			template: "https://api.example.com/{z}/{x}/{y}.png?key={key}",
			opts:     []Option{WithAPIKey(false, "secret")},
			z:        0, x: 0, y: 0,
			want: "https://api.example.com/0/0/0.png?key={key}",
		},
		{
			name:     "esri row before column",
			template: "https://server.example.com/tile/{z}/{y}/{x}",
			z:        5, x: 10, y: 12,
			want: "https://server.example.com/tile/5/12/10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewTileSource("id", "n", tt.template, 0, 19, tt.opts...)
			if got := src.TileURL(tt.z, tt.x, tt.y); got != tt.want {
				t.Errorf("TileURL(%d,%d,%d) = %q, want %q", tt.z, tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestTileSourceProperties(t *testing.T) {
	src := NewTileSource("osm", "OSM", "https://{s}.example.com/{z}/{x}/{y}.png", 0, 19, WithAttribution("© OSM"))

	if src.Type() != domain.SourceOnline || !src.IsValid() || !src.IsLoaded() {
		t.Errorf("type = %v valid = %v", src.Type(), src.IsValid())
	}
	if src.TileSize() != 256 || src.TileFormat() != "png" {
		t.Errorf("TileSize() = %d TileFormat() = %q", src.TileSize(), src.TileFormat())
	}
	if got := src.Bounds().BBox(); !reflect.DeepEqual(got, []float64{-180, -85, 180, 85}) {
		t.Errorf("Bounds() = %v", got)
	}
	if NewTileSource("x", "x", "", 0, 1).IsValid() {
		t.Error("source without template should be invalid")
	}

	layer := src.MapLibreLayer()
	if layer["type"] != "raster" || layer["id"] != "osm" {
		t.Errorf("layer = %v", layer)
	}
	source := layer["source"].(map[string]any)
	tiles := source["tiles"].([]string)
	want := []string{
		"https://a.example.com/{z}/{x}/{y}.png",
		"https://b.example.com/{z}/{x}/{y}.png",
		"https://c.example.com/{z}/{x}/{y}.png",
	}
	if !reflect.DeepEqual(tiles, want) {
		t.Errorf("tiles = %v, want %v", tiles, want)
	}
	if source["attribution"] != "© OSM" || source["maxzoom"] != 19 {
		t.Errorf("source = %v", source)
	}

	var _ domain.OnlineSource = src
}

func TestProvidersCatalog(t *testing.T) {
	p := newTestProviders()

	if got := len(p.List()); got != 6 {
		t.Fatalf("len(List()) = %d, want 6", got)
	}
	names := p.Names()
	if names[0] != "OpenStreetMap" || names[len(names)-1] != "CartoDB Positron" {
		t.Errorf("Names() = %v", names)
	}

	info, err := p.Info(domain.ProviderMapTiler)
	if err != nil {
		t.Fatal(err)
	}
	if !info.RequiresAPIKey || info.MaxZoom != 20 {
		t.Errorf("maptiler = %+v", info)
	}

	if _, err := p.Info("nope"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("Info(nope) error = %v", err)
	}
}

func TestProvidersCreate(t *testing.T) {
	p := newTestProviders()

	tests := []struct {
		name    string
		typ     domain.ProviderType
		key     string
		wantErr error
	}{
		{"osm without key", domain.ProviderOpenStreetMap, "", nil},
		{"maptiler with key", domain.ProviderMapTiler, "k", nil},
		{"maptiler without key", domain.ProviderMapTiler, "", domain.ErrAPIKeyRequired},
		{"bing without key", domain.ProviderBingMaps, "", domain.ErrAPIKeyRequired},
		{"unknown", domain.ProviderType("x"), "", domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := p.Create(tt.typ, tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				if src != nil {
					t.Error("source should be nil on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error: %v", err)
			}
			if src.ID() == "" || src.Attribution() == "" || src.TermsURL() == "" {
				t.Errorf("source = %+v", src)
			}
		})
	}

	mt, _ := p.Create(domain.ProviderMapTiler, "abc")
	if got := mt.TileURL(1, 2, 3); got != "https://api.maptiler.com/maps/streets-v2/1/2/3.png?key=abc" {
		t.Errorf("TileURL() = %q", got)
	}
	mt.SetAPIKey("xyz")
	if got := mt.TileURL(1, 2, 3); got != "https://api.maptiler.com/maps/streets-v2/1/2/3.png?key=xyz" {
		t.Errorf("TileURL() after SetAPIKey = %q", got)
	}
}

func TestProvidersCreateCustom(t *testing.T) {
	p := newTestProviders()

	src, err := p.CreateCustom("Local", "http://localhost/{z}/{x}/{y}.png", 2, 14, "me")
	if err != nil {
		t.Fatal(err)
	}
	if src.MinZoom() != 2 || src.MaxZoom() != 14 || src.Attribution() != "me" || src.RequiresAPIKey() {
		t.Errorf("custom source = %+v", src)
	}

	if _, err := p.CreateCustom("x", "", 0, 1, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty template error = %v", err)
	}
	if _, err := p.CreateCustom("x", "http://t/{z}", 5, 2, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("inverted zoom error = %v", err)
	}
}
