// Package domain contains the core map entities and value objects.
package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Coordinate is a WGS84 position with optional altitude.
type Coordinate struct {
	Lon float64
	Lat float64
	Alt float64
}

// NewCoordinate creates a coordinate without altitude.
func NewCoordinate(lon, lat float64) Coordinate {
	return Coordinate{Lon: lon, Lat: lat}
}

// Validate checks if the coordinate lies within WGS84 ranges.
func (c Coordinate) Validate() error {
	if c.Lon < -180 || c.Lon > 180 {
		return &ValidationError{
			Field:      "longitude",
			Value:      c.Lon,
			Constraint: "[-180, 180]",
			Message:    "longitude must be between -180 and 180",
		}
	}
	if c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{
			Field:      "latitude",
			Value:      c.Lat,
			Constraint: "[-90, 90]",
			Message:    "latitude must be between -90 and 90",
		}
	}
	return nil
}

// Point returns the coordinate as an orb point (altitude dropped).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// Position returns the GeoJSON position array. Altitude is appended only
// when withAlt is set.
func (c Coordinate) Position(withAlt bool) []any {
	if withAlt {
		return []any{c.Lon, c.Lat, c.Alt}
	}
	return []any{c.Lon, c.Lat}
}

// String returns a string representation of the coordinate.
func (c Coordinate) String() string {
	if c.Alt != 0 {
		return fmt.Sprintf("POINT Z(%f %f %f)", c.Lon, c.Lat, c.Alt)
	}
	return fmt.Sprintf("POINT(%f %f)", c.Lon, c.Lat)
}

// Extent is the bounding rectangle of a map source. The zero value is empty
// and contains nothing.
type Extent struct {
	bound orb.Bound
	set   bool
}

// NewExtent creates an extent from two corners.
func NewExtent(minLon, minLat, maxLon, maxLat float64) Extent {
	return Extent{
		bound: orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}},
		set:   true,
	}
}

// WorldExtent covers the Web Mercator latitude range.
func WorldExtent() Extent {
	return NewExtent(-180, -85, 180, 85)
}

// Extend grows the extent to include the given position.
func (e *Extent) Extend(lon, lat float64) {
	p := orb.Point{lon, lat}
	if !e.set {
		e.bound = orb.Bound{Min: p, Max: p}
		e.set = true
		return
	}
	e.bound = e.bound.Extend(p)
}

// ExtendCoordinate grows the extent to include c.
func (e *Extent) ExtendCoordinate(c Coordinate) {
	e.Extend(c.Lon, c.Lat)
}

// Union grows the extent to cover o.
func (e *Extent) Union(o Extent) {
	if !o.set {
		return
	}
	if !e.set {
		*e = o
		return
	}
	e.bound = e.bound.Union(o.bound)
}

// IsEmpty returns true if no position was added.
func (e Extent) IsEmpty() bool {
	return !e.set
}

// Bound returns the underlying orb bound.
func (e Extent) Bound() orb.Bound {
	return e.bound
}

// Contains checks if a coordinate is within the extent, edges included.
func (e Extent) Contains(c Coordinate) bool {
	return e.set && e.bound.Contains(c.Point())
}

// Intersects reports whether both extents are set and overlap.
func (e Extent) Intersects(o Extent) bool {
	return e.set && o.set && e.bound.Intersects(o.bound)
}

// MinLon returns the western edge.
func (e Extent) MinLon() float64 { return e.bound.Min.Lon() }

// MinLat returns the southern edge.
func (e Extent) MinLat() float64 { return e.bound.Min.Lat() }

// MaxLon returns the eastern edge.
func (e Extent) MaxLon() float64 { return e.bound.Max.Lon() }

// MaxLat returns the northern edge.
func (e Extent) MaxLat() float64 { return e.bound.Max.Lat() }

// Width returns the longitude span.
func (e Extent) Width() float64 {
	return e.bound.Max.Lon() - e.bound.Min.Lon()
}

// Height returns the latitude span.
func (e Extent) Height() float64 {
	return e.bound.Max.Lat() - e.bound.Min.Lat()
}

// Center returns the center coordinate of the extent.
func (e Extent) Center() Coordinate {
	c := e.bound.Center()
	return Coordinate{Lon: c.Lon(), Lat: c.Lat()}
}

// BBox returns [minLon, minLat, maxLon, maxLat], or nil for an empty extent.
func (e Extent) BBox() []float64 {
	if !e.set {
		return nil
	}
	return []float64{e.MinLon(), e.MinLat(), e.MaxLon(), e.MaxLat()}
}
