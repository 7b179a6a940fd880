// Package gpx reads GPS Exchange Format files into map sources.
package gpx

import (
	"time"

	"github.com/jobrunner/mapshell/internal/domain"
)

// TrackPoint is one recorded position of a track segment.
type TrackPoint struct {
	Coordinate domain.Coordinate
	Elevation  float64
	Time       time.Time
	Speed      float64
	HeartRate  int
}

// TrackSegment is a continuous run of track points.
type TrackSegment struct {
	Points []TrackPoint
}

// Track is a named recording made of segments.
type Track struct {
	Name        string
	Description string
	Segments    []TrackSegment
}

// Waypoint is a single named point of interest.
type Waypoint struct {
	Coordinate  domain.Coordinate
	Name        string
	Description string
	Symbol      string
	Elevation   float64
	Time        time.Time
}

// DefaultStyle is the line style of GPX sources.
var DefaultStyle = domain.Style{Type: "line", Color: "#ff3388", Width: 3}

// Source is a parsed GPX document.
type Source struct {
	id        string
	name      string
	tracks    []Track
	waypoints []Waypoint
	bounds    domain.Extent
}

// NewSource creates an empty GPX source.
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
func (s *Source) IsValid() bool { return s.FeatureCount() > 0 }

// IsLoaded implements domain.MapSource.
func (s *Source) IsLoaded() bool { return true }

// Tracks returns the parsed tracks in document order.
func (s *Source) Tracks() []Track { return s.tracks }

// Waypoints returns the parsed waypoints in document order.
func (s *Source) Waypoints() []Waypoint { return s.waypoints }

// AddTrack appends a track and recomputes the bounds.
func (s *Source) AddTrack(t Track) {
	s.tracks = append(s.tracks, t)
	s.updateBounds()
}

// AddWaypoint appends a waypoint and recomputes the bounds.
func (s *Source) AddWaypoint(w Waypoint) {
	s.waypoints = append(s.waypoints, w)
	s.updateBounds()
}

// FeatureCount counts one feature per segment plus one per waypoint.
func (s *Source) FeatureCount() int {
	count := len(s.waypoints)
	for _, t := range s.tracks {
		count += len(t.Segments)
	}
	return count
}

// DefaultStyle implements domain.VectorSource.
func (s *Source) DefaultStyle() domain.Style { return DefaultStyle }

// Features implements domain.VectorSource.
func (s *Source) Features() map[string]any { return s.ToGeoJSON() }

// MapLibreLayer implements domain.LayerRenderer.
func (s *Source) MapLibreLayer() map[string]any { return domain.VectorLayer(s) }

// ToGeoJSON renders every segment as a LineString and every waypoint as a
// Point. Elevation becomes the third position value when it is non-zero.
func (s *Source) ToGeoJSON() map[string]any {
	features := make([]domain.Feature, 0, s.FeatureCount())

	for _, t := range s.tracks {
		for _, seg := range t.Segments {
			coords := make([]any, len(seg.Points))
			for i, p := range seg.Points {
				coords[i] = position(p.Coordinate, p.Elevation)
			}
			features = append(features, domain.Feature{
				Geometry: domain.Geometry(domain.GeomLineString, coords),
				Properties: map[string]any{
					"name":        t.Name,
					"description": t.Description,
				},
			})
		}
	}

	for _, w := range s.waypoints {
		features = append(features, domain.Feature{
			Geometry: domain.Geometry(domain.GeomPoint, position(w.Coordinate, w.Elevation)),
			Properties: map[string]any{
				"name":        w.Name,
				"description": w.Description,
				"symbol":      w.Symbol,
			},
		})
	}

	return domain.FeatureCollection(features)
}

func position(c domain.Coordinate, ele float64) []any {
	if ele != 0 {
		return []any{c.Lon, c.Lat, ele}
	}
	return []any{c.Lon, c.Lat}
}

func (s *Source) updateBounds() {
	var e domain.Extent
	for _, t := range s.tracks {
		for _, seg := range t.Segments {
			for _, p := range seg.Points {
				e.ExtendCoordinate(p.Coordinate)
			}
		}
	}
	for _, w := range s.waypoints {
		e.ExtendCoordinate(w.Coordinate)
	}
	s.bounds = e
}
