// Package xmlscan provides a depth-tracking XML token scanner for the
// streaming GPX and KML parsers.
package xmlscan

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Kind is the type of a scanner event.
type Kind int

// Event kinds.
const (
	StartElement Kind = iota
	EndElement
	Text
)

// Event is one step of the document. Depth is the nesting level of the
// element the event belongs to; the root element has depth 1.
type Event struct {
	Kind  Kind
	Name  string
	Depth int
	Attr  []xml.Attr
	Text  string
}

// AttrValue returns the value of the attribute with the given local name.
func (e Event) AttrValue(name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// ErrUnclosed is returned when the document ends inside an open element.
var ErrUnclosed = errors.New("document ended inside an open element")

// Scanner walks an XML document token by token, matching element names by
// their local part.
type Scanner struct {
	dec   *xml.Decoder
	stack []string
}

// New creates a scanner. Non UTF-8 encodings declared in the prolog are
// transcoded.
func New(r io.Reader) *Scanner {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return &Scanner{dec: dec}
}

// Depth returns the number of currently open elements.
func (s *Scanner) Depth() int {
	return len(s.stack)
}

// Line returns the current input line.
func (s *Scanner) Line() int {
	line, _ := s.dec.InputPos()
	return line
}

// Next returns the next start, end or text event. It returns io.EOF at the
// end of a balanced document and wraps ErrUnclosed when elements are still
// open at the end of input.
func (s *Scanner) Next() (Event, error) {
	for {
		tok, err := s.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(s.stack) > 0 {
					return Event{}, fmt.Errorf("%w: <%s>", ErrUnclosed, s.stack[len(s.stack)-1])
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			s.stack = append(s.stack, t.Name.Local)
			return Event{Kind: StartElement, Name: t.Name.Local, Depth: len(s.stack), Attr: t.Attr}, nil
		case xml.EndElement:
			depth := len(s.stack)
			if depth > 0 {
				s.stack = s.stack[:depth-1]
			}
			return Event{Kind: EndElement, Name: t.Name.Local, Depth: depth}, nil
		case xml.CharData:
			return Event{Kind: Text, Depth: len(s.stack), Text: string(t)}, nil
		}
	}
}

// ReadText must be called right after a StartElement event. It consumes the
// element up to its end tag and returns its trimmed character data,
// including the text of nested elements.
func (s *Scanner) ReadText() (string, error) {
	depth := len(s.stack)
	var b strings.Builder
	for {
		ev, err := s.Next()
		if err != nil {
			return "", err
		}
		switch ev.Kind {
		case Text:
			b.WriteString(ev.Text)
		case EndElement:
			if ev.Depth == depth {
				return strings.TrimSpace(b.String()), nil
			}
		}
	}
}

// HasRoot scans forward for a start element with the given local name and
// restores the read position afterward. Malformed input yields false.
func HasRoot(r io.ReadSeeker, name string) bool {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	defer func() { _, _ = r.Seek(pos, io.SeekStart) }()

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false
	}
	return ContainsElement(r, name)
}

// ContainsElement consumes r until a start element with the given local
// name appears. Malformed input yields false.
func ContainsElement(r io.Reader, name string) bool {
	s := New(r)
	for {
		ev, err := s.Next()
		if err != nil {
			return false
		}
		if ev.Kind == StartElement && ev.Name == name {
			return true
		}
	}
}
