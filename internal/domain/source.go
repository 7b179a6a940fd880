package domain

import "strings"

// SourceType tags the kind of dataset a MapSource holds. It is fixed when the
// source is constructed.
type SourceType int

// Source types.
const (
	SourceVector SourceType = iota
	SourceRaster
	SourceOnline
	SourceTerrain
	SourceCustom
)

// String returns the lower-case name of the source type.
func (t SourceType) String() string {
	switch t {
	case SourceVector:
		return "vector"
	case SourceRaster:
		return "raster"
	case SourceOnline:
		return "online"
	case SourceTerrain:
		return "terrain"
	case SourceCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseSourceType converts a name back to a SourceType.
func ParseSourceType(s string) (SourceType, bool) {
	switch strings.ToLower(s) {
	case "vector":
		return SourceVector, true
	case "raster":
		return SourceRaster, true
	case "online":
		return SourceOnline, true
	case "terrain":
		return SourceTerrain, true
	case "custom":
		return SourceCustom, true
	}
	return 0, false
}

// MapSource is one loaded dataset. Every source has an identity, a type tag
// and a bounding rectangle derived from its content.
type MapSource interface {
	ID() string
	Name() string
	Type() SourceType
	Bounds() Extent
	// IsValid is true iff the source holds at least one feature.
	IsValid() bool
	IsLoaded() bool
}

// GeoJSONRenderer is implemented by sources that can be rendered as a GeoJSON
// FeatureCollection for the map layer.
type GeoJSONRenderer interface {
	ToGeoJSON() map[string]any
}

// LayerRenderer is implemented by sources that describe their own MapLibre
// layer.
type LayerRenderer interface {
	MapLibreLayer() map[string]any
}

// VectorSource is a MapSource holding a feature collection.
type VectorSource interface {
	MapSource
	GeoJSONRenderer
	LayerRenderer
	// Features returns the GeoJSON-shaped feature collection.
	Features() map[string]any
	FeatureCount() int
	DefaultStyle() Style
}

// RasterSource is a MapSource addressed by tiles.
type RasterSource interface {
	MapSource
	LayerRenderer
	TileURL(z, x, y int) string
	TileSize() int
	TileFormat() string
	MinZoom() int
	MaxZoom() int
}

// OnlineSource is a raster source fetched from a remote tile service.
type OnlineSource interface {
	RasterSource
	URLTemplate() string
	Attribution() string
	TermsURL() string
	RequiresAPIKey() bool
	SetAPIKey(key string)
}

// Style is the default line style of a vector source.
type Style struct {
	Type  string `json:"type"`
	Color string `json:"color"`
	Width int    `json:"width"`
}

// Map returns the style as a MapLibre layer style.
func (s Style) Map() map[string]any {
	return map[string]any{
		"type": s.Type,
		"paint": map[string]any{
			"line-color": s.Color,
			"line-width": s.Width,
		},
	}
}

// VectorLayer builds the MapLibre layer description shared by vector sources.
func VectorLayer(s VectorSource) map[string]any {
	return map[string]any{
		"id":     s.ID(),
		"type":   "geojson",
		"source": s.ToGeoJSON(),
	}
}
