package domain

// Feature is one GeoJSON feature rendered from a parsed source.
type Feature struct {
	Geometry   map[string]any // nil renders as a null geometry
	Properties map[string]any
}

// GetProperty returns a property value by key.
func (f *Feature) GetProperty(key string) (any, bool) {
	if f.Properties == nil {
		return nil, false
	}
	v, ok := f.Properties[key]
	return v, ok
}

// GetStringProperty returns a property as string.
func (f *Feature) GetStringProperty(key string) string {
	if v, ok := f.GetProperty(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Map renders the feature as a GeoJSON object.
func (f *Feature) Map() map[string]any {
	props := f.Properties
	if props == nil {
		props = map[string]any{}
	}
	var geom any
	if f.Geometry != nil {
		geom = f.Geometry
	}
	return map[string]any{
		"type":       "Feature",
		"geometry":   geom,
		"properties": props,
	}
}

// GeometryType is a GeoJSON geometry type name.
type GeometryType string

// GeoJSON geometry types.
const (
	GeomPoint              GeometryType = "Point"
	GeomLineString         GeometryType = "LineString"
	GeomPolygon            GeometryType = "Polygon"
	GeomMultiPoint         GeometryType = "MultiPoint"
	GeomMultiLineString    GeometryType = "MultiLineString"
	GeomMultiPolygon       GeometryType = "MultiPolygon"
	GeomGeometryCollection GeometryType = "GeometryCollection"
)

// Geometry builds a GeoJSON geometry object.
func Geometry(t GeometryType, coordinates any) map[string]any {
	return map[string]any{
		"type":        string(t),
		"coordinates": coordinates,
	}
}

// FeatureCollection renders features as a GeoJSON FeatureCollection.
func FeatureCollection(features []Feature) map[string]any {
	list := make([]any, len(features))
	for i := range features {
		list[i] = features[i].Map()
	}
	return map[string]any{
		"type":     "FeatureCollection",
		"features": list,
	}
}

// Positions converts coordinates to GeoJSON position arrays.
func Positions(coords []Coordinate, withAlt bool) []any {
	out := make([]any, len(coords))
	for i, c := range coords {
		out[i] = c.Position(withAlt)
	}
	return out
}
