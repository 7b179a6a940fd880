package gpx

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/mapshell/internal/adapters/xmlscan"
	"github.com/jobrunner/mapshell/internal/domain"
)

// Name is the registry name of the GPX parser.
const Name = "GPX"

// Parser reads GPX 1.0 and 1.1 documents.
type Parser struct {
	logger *slog.Logger
	newID  func() string
}

// NewParser creates a GPX parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger, newID: uuid.NewString}
}

// Name implements output.MapParser.
func (p *Parser) Name() string { return Name }

// Extensions implements output.MapParser.
func (p *Parser) Extensions() []string { return []string{"gpx"} }

// MimeTypes implements output.MapParser.
func (p *Parser) MimeTypes() []string { return []string{"application/gpx+xml"} }

// CanParse reports whether the stream contains a gpx element.
func (p *Parser) CanParse(r io.ReadSeeker) bool {
	return xmlscan.HasRoot(r, "gpx")
}

// Parse implements output.MapParser.
func (p *Parser) Parse(r io.Reader, sourceName string) (domain.MapSource, error) {
	src, err := p.ParseSource(r, sourceName)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// state is a node of the parse state machine. Each nested state is entered
// on a start element and left on the end element at the same depth.
type state int

const (
	inDocument state = iota
	inTrack
	inSegment
	inTrackPoint
	inWaypoint
)

// children maps the elements that open a nested state.
var children = map[state]map[string]state{
	inDocument: {"trk": inTrack, "wpt": inWaypoint},
	inTrack:    {"trkseg": inSegment},
	inSegment:  {"trkpt": inTrackPoint},
}

// textFields lists the text children read in each state.
var textFields = map[state]map[string]bool{
	inTrack:      {"name": true, "desc": true},
	inTrackPoint: {"ele": true, "time": true, "speed": true, "hr": true},
	inWaypoint:   {"name": true, "desc": true, "sym": true, "ele": true, "time": true},
}

type frame struct {
	state state
	depth int
}

// ParseSource parses a GPX document. Any XML error discards the partial
// source.
func (p *Parser) ParseSource(r io.Reader, sourceName string) (*Source, error) {
	name := sourceName
	if name == "" {
		name = Name
	}

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
				b.enter(next, ev)
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
	p.logger.Debug("parsed gpx",
		"name", name,
		"tracks", len(b.src.tracks),
		"waypoints", len(b.src.waypoints),
	)
	return b.src, nil
}

// builder accumulates the element currently being parsed in each state.
type builder struct {
	src   *Source
	track Track
	seg   TrackSegment
	point TrackPoint
	wpt   Waypoint
}

func (b *builder) enter(st state, ev xmlscan.Event) {
	switch st {
	case inTrack:
		b.track = Track{}
	case inSegment:
		b.seg = TrackSegment{}
	case inTrackPoint:
		b.point = TrackPoint{Coordinate: coordinate(ev)}
	case inWaypoint:
		b.wpt = Waypoint{Coordinate: coordinate(ev)}
	}
}

func (b *builder) leave(st state) {
	switch st {
	case inTrackPoint:
		b.seg.Points = append(b.seg.Points, b.point)
	case inSegment:
		b.track.Segments = append(b.track.Segments, b.seg)
	case inTrack:
		b.src.tracks = append(b.src.tracks, b.track)
	case inWaypoint:
		b.src.waypoints = append(b.src.waypoints, b.wpt)
	}
}

func (b *builder) text(st state, field, value string) {
	switch st {
	case inTrack:
		switch field {
		case "name":
			b.track.Name = value
		case "desc":
			b.track.Description = value
		}
	case inTrackPoint:
		switch field {
		case "ele":
			b.point.Elevation = parseFloat(value)
		case "time":
			b.point.Time = parseTime(value)
		case "speed":
			b.point.Speed = parseFloat(value)
		case "hr":
			b.point.HeartRate, _ = strconv.Atoi(value)
		}
	case inWaypoint:
		switch field {
		case "name":
			b.wpt.Name = value
		case "desc":
			b.wpt.Description = value
		case "sym":
			b.wpt.Symbol = value
		case "ele":
			b.wpt.Elevation = parseFloat(value)
		case "time":
			b.wpt.Time = parseTime(value)
		}
	}
}

// coordinate reads the lat/lon attributes. Unparsable values become zero.
func coordinate(ev xmlscan.Event) domain.Coordinate {
	return domain.NewCoordinate(parseFloat(ev.AttrValue("lon")), parseFloat(ev.AttrValue("lat")))
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
