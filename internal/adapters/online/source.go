// Package online provides raster tile sources served by remote tile
// services and the catalog of built-in providers.
package online

import (
	"strconv"
	"strings"
	"sync"

	"github.com/jobrunner/mapshell/internal/domain"
)

// Tile defaults.
const (
	DefaultTileSize   = 256
	DefaultTileFormat = "png"
	DefaultMinZoom    = 0
	DefaultMaxZoom    = 18
)

var subdomains = []string{"a", "b", "c"}

// TileSource is an online raster source addressed by a URL template with
// {z}, {x} and {y} placeholders, an optional {s} subdomain and an optional
// {key} or {apikey} placeholder.
type TileSource struct {
	id          string
	name        string
	urlTemplate string
	minZoom     int
	maxZoom     int
	attribution string
	termsURL    string
	tileSize    int
	format      string
	requiresKey bool

	mu     sync.RWMutex
	apiKey string
}

// Option configures a TileSource.
type Option func(*TileSource)

// WithAttribution sets the attribution text.
func WithAttribution(text string) Option {
	return func(s *TileSource) { s.attribution = text }
}

// WithTermsURL sets the terms of service link.
func WithTermsURL(url string) Option {
	return func(s *TileSource) { s.termsURL = url }
}

// WithAPIKey marks the source as key-protected and sets the key.
func WithAPIKey(required bool, key string) Option {
	return func(s *TileSource) {
		s.requiresKey = required
		s.apiKey = key
	}
}

// WithTileSize overrides the tile edge length in pixels.
func WithTileSize(size int) Option {
	return func(s *TileSource) { s.tileSize = size }
}

// WithFormat overrides the tile image format.
func WithFormat(format string) Option {
	return func(s *TileSource) { s.format = format }
}

// NewTileSource creates an online tile source.
func NewTileSource(id, name, urlTemplate string, minZoom, maxZoom int, opts ...Option) *TileSource {
	s := &TileSource{
		id:          id,
		name:        name,
		urlTemplate: urlTemplate,
		minZoom:     minZoom,
		maxZoom:     maxZoom,
		tileSize:    DefaultTileSize,
		format:      DefaultTileFormat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID implements domain.MapSource.
func (s *TileSource) ID() string { return s.id }

// Name implements domain.MapSource.
func (s *TileSource) Name() string { return s.name }

// Type implements domain.MapSource.
func (s *TileSource) Type() domain.SourceType { return domain.SourceOnline }

// Bounds covers the Web Mercator world.
func (s *TileSource) Bounds() domain.Extent { return domain.WorldExtent() }

// IsValid reports whether a URL template is set.
func (s *TileSource) IsValid() bool { return s.urlTemplate != "" }

// IsLoaded implements domain.MapSource.
func (s *TileSource) IsLoaded() bool { return true }

// MinZoom implements domain.RasterSource.
func (s *TileSource) MinZoom() int { return s.minZoom }

// MaxZoom implements domain.RasterSource.
func (s *TileSource) MaxZoom() int { return s.maxZoom }

// TileSize implements domain.RasterSource.
func (s *TileSource) TileSize() int { return s.tileSize }

// TileFormat implements domain.RasterSource.
func (s *TileSource) TileFormat() string { return s.format }

// URLTemplate implements domain.OnlineSource.
func (s *TileSource) URLTemplate() string { return s.urlTemplate }

// Attribution implements domain.OnlineSource.
func (s *TileSource) Attribution() string { return s.attribution }

// TermsURL returns the provider's terms of service link.
func (s *TileSource) TermsURL() string { return s.termsURL }

// RequiresAPIKey implements domain.OnlineSource.
func (s *TileSource) RequiresAPIKey() bool { return s.requiresKey }

// SetAPIKey implements domain.OnlineSource.
func (s *TileSource) SetAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

// TileURL expands the template for one tile. The subdomain rotates over
// a, b and c by (x+y+z) mod 3.
func (s *TileSource) TileURL(z, x, y int) string {
	url := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(s.withKey(s.urlTemplate))

	if strings.Contains(url, "{s}") {
		url = strings.ReplaceAll(url, "{s}", subdomains[mod(x+y+z, len(subdomains))])
	}
	return url
}

// withKey substitutes the API key when the source requires one and a key
// is set. Otherwise the placeholders are left in place.
func (s *TileSource) withKey(url string) string {
	s.mu.RLock()
	key := s.apiKey
	s.mu.RUnlock()
	if !s.requiresKey || key == "" {
		return url
	}
	return strings.NewReplacer("{key}", key, "{apikey}", key).Replace(url)
}

// tiles returns the MapLibre tile URL list. A {s} template is expanded to
// one URL per subdomain.
func (s *TileSource) tiles() []string {
	url := s.withKey(s.urlTemplate)
	if !strings.Contains(url, "{s}") {
		return []string{url}
	}
	out := make([]string, len(subdomains))
	for i, sub := range subdomains {
		out[i] = strings.ReplaceAll(url, "{s}", sub)
	}
	return out
}

// MapLibreLayer renders a raster layer description.
func (s *TileSource) MapLibreLayer() map[string]any {
	return map[string]any{
		"id":   s.id,
		"type": "raster",
		"source": map[string]any{
			"type":        "raster",
			"tiles":       s.tiles(),
			"tileSize":    s.tileSize,
			"minzoom":     s.minZoom,
			"maxzoom":     s.maxZoom,
			"attribution": s.attribution,
		},
	}
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
