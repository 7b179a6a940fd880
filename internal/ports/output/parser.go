package output

import (
	"io"

	"github.com/jobrunner/mapshell/internal/domain"
)

// MapParser turns a byte stream of one file format into a MapSource.
type MapParser interface {
	// Name is the unique registry key of the parser.
	Name() string

	// Extensions lists lower-case file extensions without the leading dot.
	Extensions() []string

	// MimeTypes lists the media types the parser reads.
	MimeTypes() []string

	// CanParse sniffs the content and leaves the read position unchanged.
	CanParse(r io.ReadSeeker) bool

	// Parse reads the whole stream. The returned source belongs to the caller.
	Parse(r io.Reader, sourceName string) (domain.MapSource, error)
}
