// Package application contains the application services.
package application

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

// ParserFactory maps files to the parser able to read them. Parser names are
// unique; the first registration of a name wins.
type ParserFactory struct {
	mu      sync.RWMutex
	parsers []output.MapParser // registration order
	byName  map[string]output.MapParser
	events  output.EventPublisher
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewParserFactory creates an empty factory.
func NewParserFactory(events output.EventPublisher, metrics output.MetricsCollector, logger *slog.Logger) *ParserFactory {
	return &ParserFactory{
		byName:  make(map[string]output.MapParser),
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// Register adds a parser. A parser whose name is already registered is
// rejected with a warning and ErrDuplicateParser.
func (f *ParserFactory) Register(p output.MapParser) error {
	if p == nil {
		return fmt.Errorf("parser is nil: %w", domain.ErrInvalidInput)
	}
	name := p.Name()

	f.mu.Lock()
	if _, exists := f.byName[name]; exists {
		f.mu.Unlock()
		f.logger.Warn("parser already registered", "name", name)
		return fmt.Errorf("%q: %w", name, domain.ErrDuplicateParser)
	}
	f.byName[name] = p
	f.parsers = append(f.parsers, p)
	f.mu.Unlock()

	f.logger.Info("parser registered", "name", name, "extensions", p.Extensions())
	f.events.Publish(domain.TopicParserRegistered, map[string]any{"name": name})
	return nil
}

// Unregister removes a parser by name.
func (f *ParserFactory) Unregister(name string) error {
	f.mu.Lock()
	if _, ok := f.byName[name]; !ok {
		f.mu.Unlock()
		f.logger.Warn("parser not registered", "name", name)
		return fmt.Errorf("%q: %w", name, domain.ErrParserNotFound)
	}
	delete(f.byName, name)
	for i, p := range f.parsers {
		if p.Name() == name {
			f.parsers = append(f.parsers[:i], f.parsers[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	f.logger.Info("parser unregistered", "name", name)
	f.events.Publish(domain.TopicParserUnregistered, map[string]any{"name": name})
	return nil
}

// Parser returns a parser by name.
func (f *ParserFactory) Parser(name string) (output.MapParser, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrParserNotFound)
	}
	return p, nil
}

// ParserNames returns the registered names in registration order.
func (f *ParserFactory) ParserNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, len(f.parsers))
	for i, p := range f.parsers {
		names[i] = p.Name()
	}
	return names
}

// Count returns the number of registered parsers.
func (f *ParserFactory) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.parsers)
}

// normalizeExt lower-cases an extension and drops the leading dot.
func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// candidates returns the parsers declaring ext, in registration order.
func (f *ParserFactory) candidates(ext string) []output.MapParser {
	ext = normalizeExt(ext)
	if ext == "" {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []output.MapParser
	for _, p := range f.parsers {
		for _, e := range p.Extensions() {
			if normalizeExt(e) == ext {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ParserForExtension returns the first parser declaring ext. The extension
// may carry a leading dot and is matched case-insensitively.
func (f *ParserFactory) ParserForExtension(ext string) (output.MapParser, error) {
	c := f.candidates(ext)
	if len(c) == 0 {
		return nil, fmt.Errorf("extension %q: %w", ext, domain.ErrParserNotFound)
	}
	return c[0], nil
}

// ParserForFile resolves the parser for a file: parsers declaring the file's
// extension are asked in registration order, and the first whose content
// sniff accepts the file wins.
func (f *ParserFactory) ParserForFile(path string) (output.MapParser, error) {
	c := f.candidates(filepath.Ext(path))
	if len(c) == 0 {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrUnsupportedFormat)
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrFileNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	for _, p := range c {
		if f.sniff(p, file) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, domain.ErrUnsupportedFormat)
}

// ParseFile resolves a parser and parses the file. Failures are logged and
// returned; the source is nil whenever err is non-nil.
func (f *ParserFactory) ParseFile(path string) (domain.MapSource, error) {
	p, err := f.ParserForFile(path)
	if err != nil {
		f.logger.Warn("no parser for file", "path", path, "error", err)
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		f.logger.Warn("cannot open file", "path", path, "error", err)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	start := time.Now()
	src, err := f.parse(p, file, filepath.Base(path))
	elapsed := time.Since(start)
	if err != nil {
		f.metrics.ObserveParse(p.Name(), 0, elapsed, err)
		f.logger.Warn("parse failed", "path", path, "parser", p.Name(), "error", err)
		return nil, err
	}

	features := 0
	if vs, ok := src.(domain.VectorSource); ok {
		features = vs.FeatureCount()
	}
	f.metrics.ObserveParse(p.Name(), features, elapsed, nil)
	f.logger.Info("file parsed", "path", path, "parser", p.Name(), "source_id", src.ID(), "features", features)
	return src, nil
}

// sniff asks p whether it accepts r. A panicking parser rejects the file.
func (f *ParserFactory) sniff(p output.MapParser, r io.ReadSeeker) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Error("parser panicked in CanParse", "parser", p.Name(), "panic", rec)
			_, _ = r.Seek(0, io.SeekStart)
			ok = false
		}
	}()
	return p.CanParse(r)
}

// parse runs p.Parse and reports a panic as a ParseError.
func (f *ParserFactory) parse(p output.MapParser, r io.Reader, name string) (src domain.MapSource, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			src = nil
			err = &domain.ParseError{Format: p.Name(), Source: name, Err: fmt.Errorf("parser panicked: %v", rec)}
		}
	}()
	return p.Parse(r, name)
}

// IsSupported reports whether any registered parser declares the file's
// extension. The content is not inspected.
func (f *ParserFactory) IsSupported(path string) bool {
	return len(f.candidates(filepath.Ext(path))) > 0
}

// SupportedExtensions returns the sorted, deduplicated union of all
// declared extensions.
func (f *ParserFactory) SupportedExtensions() []string {
	return f.collect(func(p output.MapParser) []string { return p.Extensions() }, normalizeExt)
}

// SupportedMimeTypes returns the sorted, deduplicated union of all declared
// MIME types.
func (f *ParserFactory) SupportedMimeTypes() []string {
	return f.collect(func(p output.MapParser) []string { return p.MimeTypes() }, strings.ToLower)
}

func (f *ParserFactory) collect(values func(output.MapParser) []string, norm func(string) string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, p := range f.parsers {
		for _, v := range values(p) {
			v = norm(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// FormatInfo describes one registered parser.
type FormatInfo struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	MimeTypes  []string `json:"mime_types"`
}

// Formats describes every registered parser in registration order.
func (f *ParserFactory) Formats() []FormatInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]FormatInfo, len(f.parsers))
	for i, p := range f.parsers {
		out[i] = FormatInfo{Name: p.Name(), Extensions: p.Extensions(), MimeTypes: p.MimeTypes()}
	}
	return out
}
