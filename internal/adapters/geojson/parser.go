package geojson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/jobrunner/mapshell/internal/domain"
)

// Name is the registry name of the GeoJSON parser.
const Name = "GeoJSON"

// sniffSize bounds the bytes CanParse reads.
const sniffSize = 1024

// validTypes are the recognized values of the top-level type member.
var validTypes = map[string]bool{
	"FeatureCollection":  true,
	"Feature":            true,
	"Point":              true,
	"LineString":         true,
	"Polygon":            true,
	"MultiPoint":         true,
	"MultiLineString":    true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
}

// IsValidGeoJSON reports whether the object's type member is one of the
// nine GeoJSON type names.
func IsValidGeoJSON(obj map[string]any) bool {
	t, ok := obj["type"].(string)
	return ok && validTypes[t]
}

// Parser reads GeoJSON documents.
type Parser struct {
	logger *slog.Logger
	newID  func() string
}

// NewParser creates a GeoJSON parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger, newID: uuid.NewString}
}

// Name implements output.MapParser.
func (p *Parser) Name() string { return Name }

// Extensions implements output.MapParser.
func (p *Parser) Extensions() []string { return []string{"geojson", "json", "topojson"} }

// MimeTypes implements output.MapParser.
func (p *Parser) MimeTypes() []string { return []string{"application/geo+json", "application/json"} }

// CanParse peeks at the first kilobyte and accepts an object whose type
// member is a GeoJSON type. A window cut short by the limit is accepted as
// long as the type member appears inside it. The read position is restored.
func (p *Parser) CanParse(r io.ReadSeeker) bool {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	defer func() { _, _ = r.Seek(pos, io.SeekStart) }()

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	buf := make([]byte, sniffSize+1)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false
	}
	truncated := n > sniffSize
	window := buf[:min(n, sniffSize)]

	trimmed := bytes.TrimLeft(window, " \t\r\n\ufeff")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	if !truncated && !gjson.ValidBytes(trimmed) {
		return false
	}
	t := gjson.GetBytes(trimmed, "type")
	return t.Type == gjson.String && validTypes[t.Str]
}

var utf8BOM = []byte("\xEF\xBB\xBF")

// Parse implements output.MapParser.
func (p *Parser) Parse(r io.Reader, sourceName string) (domain.MapSource, error) {
	src, err := p.ParseSource(r, sourceName)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// ParseSource reads the whole stream and wraps the document.
func (p *Parser) ParseSource(r io.Reader, sourceName string) (*Source, error) {
	name := sourceName
	if name == "" {
		name = Name
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewFormatError(Name, name, 0, err)
	}
	// CanParse accepts a leading byte order mark, so it must not fail here.
	data = bytes.TrimPrefix(data, utf8BOM)

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.NewFormatError(Name, name, errorLine(data, err), err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, domain.NewFormatError(Name, name, 0, fmt.Errorf("top-level value is %s, not an object", kind(doc)))
	}
	if !IsValidGeoJSON(obj) {
		return nil, domain.NewStructureError(Name, name, fmt.Sprintf("unrecognized type %v", obj["type"]))
	}

	src := NewSource(p.newID(), name, obj)
	p.logger.Debug("parsed geojson", "name", name, "features", src.FeatureCount())
	return src, nil
}

// errorLine maps a syntax error offset to a 1-based line.
func errorLine(data []byte, err error) int {
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return 0
	}
	off := min(int(syn.Offset), len(data))
	return bytes.Count(data[:off], []byte("\n")) + 1
}

func kind(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
