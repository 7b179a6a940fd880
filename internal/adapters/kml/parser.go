package kml

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jobrunner/mapshell/internal/adapters/xmlscan"
	"github.com/jobrunner/mapshell/internal/domain"
)

// Name is the registry name of the KML parser.
const Name = "KML"

// zipMagic starts every KMZ archive.
var zipMagic = []byte("PK\x03\x04")

// Parser reads KML 2.x documents and KMZ archives.
type Parser struct {
	logger *slog.Logger
	newID  func() string
}

// NewParser creates a KML parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger, newID: uuid.NewString}
}

// Name implements output.MapParser.
func (p *Parser) Name() string { return Name }

// Extensions implements output.MapParser.
func (p *Parser) Extensions() []string { return []string{"kml", "kmz"} }

// MimeTypes implements output.MapParser.
func (p *Parser) MimeTypes() []string {
	return []string{"application/vnd.google-earth.kml+xml", "application/vnd.google-earth.kmz"}
}

// CanParse reports whether the stream is a KML document or a KMZ archive
// holding one. The read position is restored.
func (p *Parser) CanParse(r io.ReadSeeker) bool {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	defer func() { _, _ = r.Seek(pos, io.SeekStart) }()

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	head := make([]byte, len(zipMagic))
	n, _ := io.ReadFull(r, head)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	if !bytes.Equal(head[:n], zipMagic) {
		return xmlscan.HasRoot(r, "kml")
	}

	// Only archives are buffered: zip needs random access.
	data, err := io.ReadAll(r)
	if err != nil {
		return false
	}
	entry, err := openKMZ(data)
	if err != nil {
		return false
	}
	defer entry.Close()
	return xmlscan.ContainsElement(entry, "kml")
}

// Parse implements output.MapParser.
func (p *Parser) Parse(r io.Reader, sourceName string) (domain.MapSource, error) {
	src, err := p.ParseSource(r, sourceName)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// ParseSource parses a KML document or KMZ archive. Any XML error discards
// the partial source.
func (p *Parser) ParseSource(r io.Reader, sourceName string) (*Source, error) {
	name := sourceName
	if name == "" {
		name = Name
	}

	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(zipMagic)); bytes.Equal(head, zipMagic) {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, domain.NewFormatError(Name, name, 0, err)
		}
		entry, err := openKMZ(data)
		if err != nil {
			return nil, domain.NewFormatError(Name, name, 0, err)
		}
		defer entry.Close()
		return p.parseDocument(entry, name)
	}
	return p.parseDocument(br, name)
}

// openKMZ returns the main document of a KMZ archive: doc.kml when present,
// otherwise the first .kml entry.
func openKMZ(data []byte) (io.ReadCloser, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open kmz: %w", err)
	}
	var first *zip.File
	for _, f := range zr.File {
		if !strings.EqualFold(path.Ext(f.Name), ".kml") {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), "doc.kml") {
			return f.Open()
		}
		if first == nil {
			first = f
		}
	}
	if first == nil {
		return nil, errors.New("kmz archive contains no kml document")
	}
	return first.Open()
}

type state int

const (
	inDocument state = iota
	inPlacemark
	inPoint
	inLineString
	inPolygon
	inOuter
	inInner
)

// children maps the elements that open a nested state. Placemarks are
// recognized at any depth below the document, including inside folders.
var children = map[state]map[string]state{
	inDocument:  {"Placemark": inPlacemark},
	inPlacemark: {"Point": inPoint, "LineString": inLineString, "Polygon": inPolygon},
	inPolygon:   {"outerBoundaryIs": inOuter, "innerBoundaryIs": inInner},
}

var textFields = map[state]map[string]bool{
	inPlacemark:  {"name": true, "description": true, "styleUrl": true},
	inPoint:      {"coordinates": true},
	inLineString: {"coordinates": true},
	inOuter:      {"coordinates": true},
	inInner:      {"coordinates": true},
}

type frame struct {
	state state
	depth int
}

func (p *Parser) parseDocument(r io.Reader, name string) (*Source, error) {
	b := &builder{src: NewSource(p.newID(), name)}
	sc := xmlscan.New(r)
	stack := []frame{{state: inDocument}}

	for {
		ev, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.NewFormatError(Name, name, sc.Line(), err)
		}

		top := stack[len(stack)-1]
		switch ev.Kind {
		case xmlscan.StartElement:
			if next, ok := children[top.state][ev.Name]; ok {
				stack = append(stack, frame{state: next, depth: ev.Depth})
				b.enter(next)
				continue
			}
			if textFields[top.state][ev.Name] {
				value, err := sc.ReadText()
				if err != nil {
					return nil, domain.NewFormatError(Name, name, sc.Line(), err)
				}
				b.text(top.state, ev.Name, value)
			}
		case xmlscan.EndElement:
			if len(stack) > 1 && ev.Depth == top.depth {
				b.leave(top.state)
				stack = stack[:len(stack)-1]
			}
		}
	}

	b.src.updateBounds()
	p.logger.Debug("parsed kml", "name", name, "placemarks", len(b.src.placemarks))
	return b.src, nil
}

// builder keeps the placemark being parsed. Each closed geometry replaces
// the placemark and takes the descriptive text read so far, so a later
// geometry wins and text that follows the last geometry is dropped.
type builder struct {
	src       *Source
	placemark Placemark
	geometry  Placemark
	name      string
	desc      string
	styleURL  string
}

func (b *builder) enter(st state) {
	switch st {
	case inPlacemark:
		b.placemark = Placemark{}
		b.name, b.desc, b.styleURL = "", "", ""
	case inPoint:
		b.geometry = Placemark{Geometry: GeometryPoint}
	case inLineString:
		b.geometry = Placemark{Geometry: GeometryLineString}
	case inPolygon:
		b.geometry = Placemark{Geometry: GeometryPolygon}
	}
}

func (b *builder) leave(st state) {
	switch st {
	case inPoint, inLineString, inPolygon:
		b.placemark = b.geometry
		b.placemark.Name = b.name
		b.placemark.Description = b.desc
		b.placemark.StyleURL = b.styleURL
	case inPlacemark:
		b.src.placemarks = append(b.src.placemarks, b.placemark)
	}
}

func (b *builder) text(st state, field, value string) {
	switch st {
	case inPlacemark:
		switch field {
		case "name":
			b.name = value
		case "description":
			b.desc = value
		case "styleUrl":
			b.styleURL = value
		}
	case inPoint, inLineString, inOuter:
		b.geometry.Coordinates = parseCoordinates(value)
	case inInner:
		b.geometry.InnerRings = append(b.geometry.InnerRings, parseCoordinates(value))
	}
}

// parseCoordinates reads whitespace separated lon,lat[,alt] tuples. Tuples
// with fewer than two parts are skipped and unparsable numbers become zero.
func parseCoordinates(s string) []domain.Coordinate {
	var coords []domain.Coordinate
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		c := domain.NewCoordinate(parseFloat(parts[0]), parseFloat(parts[1]))
		if len(parts) >= 3 {
			c.Alt = parseFloat(parts[2])
		}
		coords = append(coords, c)
	}
	return coords
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
