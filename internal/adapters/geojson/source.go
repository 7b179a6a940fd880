// Package geojson reads RFC 7946 GeoJSON documents into map sources. The
// parsed document is kept verbatim.
package geojson

import "github.com/jobrunner/mapshell/internal/domain"

// DefaultStyle is the line style of GeoJSON sources.
var DefaultStyle = domain.Style{Type: "line", Color: "#3388ff", Width: 2}

// Source wraps a parsed GeoJSON document.
type Source struct {
	id     string
	name   string
	doc    map[string]any
	bounds domain.Extent
}

// NewSource wraps doc and computes its bounds.
func NewSource(id, name string, doc map[string]any) *Source {
	s := &Source{id: id, name: name, doc: doc}
	s.bounds = computeBounds(doc)
	return s
}

// ID implements domain.MapSource.
func (s *Source) ID() string { return s.id }

// Name implements domain.MapSource.
func (s *Source) Name() string { return s.name }

// Type implements domain.MapSource.
func (s *Source) Type() domain.SourceType { return domain.SourceVector }

// Bounds implements domain.MapSource.
func (s *Source) Bounds() domain.Extent { return s.bounds }

// IsValid implements domain.MapSource.
func (s *Source) IsValid() bool { return s.FeatureCount() > 0 }

// IsLoaded implements domain.MapSource.
func (s *Source) IsLoaded() bool { return true }

// FeatureCount is the length of the features array, or 1 for a document
// without one (a single Feature or bare geometry).
func (s *Source) FeatureCount() int {
	if features, ok := s.doc["features"]; ok {
		list, _ := features.([]any)
		return len(list)
	}
	return 1
}

// Features returns the document as parsed.
func (s *Source) Features() map[string]any { return s.doc }

// ToGeoJSON returns the document as parsed.
func (s *Source) ToGeoJSON() map[string]any { return s.doc }

// DefaultStyle implements domain.VectorSource.
func (s *Source) DefaultStyle() domain.Style { return DefaultStyle }

// MapLibreLayer implements domain.LayerRenderer.
func (s *Source) MapLibreLayer() map[string]any { return domain.VectorLayer(s) }

// computeBounds walks every object of the tree. Values under a
// "coordinates" key are read as positions; properties are skipped.
func computeBounds(doc map[string]any) domain.Extent {
	var e domain.Extent
	walk(doc, &e)
	return e
}

func walk(v any, e *domain.Extent) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			switch k {
			case "coordinates":
				walkCoordinates(child, e)
			case "properties":
			default:
				walk(child, e)
			}
		}
	case []any:
		for _, child := range t {
			walk(child, e)
		}
	}
}

// walkCoordinates treats an array whose first element is a number as one
// position and recurses into anything else.
func walkCoordinates(v any, e *domain.Extent) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return
	}
	if lon, ok := arr[0].(float64); ok {
		if len(arr) < 2 {
			return
		}
		if lat, ok := arr[1].(float64); ok {
			e.Extend(lon, lat)
		}
		return
	}
	for _, child := range arr {
		walkCoordinates(child, e)
	}
}
