// Package kml reads Keyhole Markup Language files (plain or zipped) into
// map sources.
package kml

import "github.com/jobrunner/mapshell/internal/domain"

// GeometryKind tags the geometry of a placemark.
type GeometryKind string

// Placemark geometry kinds. A placemark without a geometry element has
// GeometryNone. The parser never produces GeometryMultiGeometry; the
// geometries of a MultiGeometry overwrite each other in document order.
const (
	GeometryNone          GeometryKind = ""
	GeometryPoint         GeometryKind = "Point"
	GeometryLineString    GeometryKind = "LineString"
	GeometryPolygon       GeometryKind = "Polygon"
	GeometryMultiGeometry GeometryKind = "MultiGeometry"
)

// Placemark is one named feature. For polygons Coordinates is the outer
// ring and InnerRings holds the holes in document order.
type Placemark struct {
	Name        string
	Description string
	StyleURL    string
	Geometry    GeometryKind
	Coordinates []domain.Coordinate
	InnerRings  [][]domain.Coordinate
}

// geoJSONGeometry renders the placemark geometry, or nil when there is none.
// Positions always carry the altitude.
func (p *Placemark) geoJSONGeometry() map[string]any {
	switch p.Geometry {
	case GeometryPoint:
		if len(p.Coordinates) == 0 {
			return nil
		}
		return domain.Geometry(domain.GeomPoint, p.Coordinates[0].Position(true))
	case GeometryLineString:
		return domain.Geometry(domain.GeomLineString, domain.Positions(p.Coordinates, true))
	case GeometryPolygon:
		rings := make([]any, 0, 1+len(p.InnerRings))
		rings = append(rings, domain.Positions(p.Coordinates, true))
		for _, ring := range p.InnerRings {
			rings = append(rings, domain.Positions(ring, true))
		}
		return domain.Geometry(domain.GeomPolygon, rings)
	}
	return nil
}

// DefaultStyle is the line style of KML sources.
var DefaultStyle = domain.Style{Type: "line", Color: "#ffaa00", Width: 2}

// Source is a parsed KML document.
type Source struct {
	id         string
	name       string
	placemarks []Placemark
	bounds     domain.Extent
}

// NewSource creates an empty KML source.
func NewSource(id, name string) *Source {
	return &Source{id: id, name: name}
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
func (s *Source) IsValid() bool { return len(s.placemarks) > 0 }

// IsLoaded implements domain.MapSource.
func (s *Source) IsLoaded() bool { return true }

// Placemarks returns the placemarks in document order.
func (s *Source) Placemarks() []Placemark { return s.placemarks }

// AddPlacemark appends a placemark and recomputes the bounds.
func (s *Source) AddPlacemark(p Placemark) {
	s.placemarks = append(s.placemarks, p)
	s.updateBounds()
}

// FeatureCount implements domain.VectorSource.
func (s *Source) FeatureCount() int { return len(s.placemarks) }

// DefaultStyle implements domain.VectorSource.
func (s *Source) DefaultStyle() domain.Style { return DefaultStyle }

// Features implements domain.VectorSource.
func (s *Source) Features() map[string]any { return s.ToGeoJSON() }

// MapLibreLayer implements domain.LayerRenderer.
func (s *Source) MapLibreLayer() map[string]any { return domain.VectorLayer(s) }

// ToGeoJSON renders one feature per placemark.
func (s *Source) ToGeoJSON() map[string]any {
	features := make([]domain.Feature, len(s.placemarks))
	for i := range s.placemarks {
		p := &s.placemarks[i]
		features[i] = domain.Feature{
			Geometry: p.geoJSONGeometry(),
			Properties: map[string]any{
				"name":        p.Name,
				"description": p.Description,
				"styleUrl":    p.StyleURL,
			},
		}
	}
	return domain.FeatureCollection(features)
}

func (s *Source) updateBounds() {
	var e domain.Extent
	for _, p := range s.placemarks {
		for _, c := range p.Coordinates {
			e.ExtendCoordinate(c)
		}
		for _, ring := range p.InnerRings {
			for _, c := range ring {
				e.ExtendCoordinate(c)
			}
		}
	}
	s.bounds = e
}
