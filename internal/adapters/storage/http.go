package storage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// DefaultIndexFile names the catalog index below the base URL.
const DefaultIndexFile = "index.txt"

// maxIndexSize bounds the index document read into memory.
const maxIndexSize = 8 << 20

// HTTPCatalog implements output.Catalog for a web server that publishes an
// index of its map files. The index is either plain text with one key per
// line or a JSON manifest:
//
//	{"files": [{"key": "routes/line.kml", "size": 1024, "etag": "abc", "modified": "2024-05-01T10:00:00Z"}]}
//
// A bare JSON array of keys is accepted as well.
type HTTPCatalog struct {
	client *http.Client
	base   *url.URL
	index  string
	user   *url.Userinfo
	filter output.FileFilter
}

// HTTPConfig holds HTTP catalog configuration.
type HTTPConfig struct {
	BaseURL   string
	IndexFile string
	Timeout   time.Duration
	Username  string
	Password  string
}

// NewHTTPCatalog creates a catalog rooted at cfg.BaseURL.
func NewHTTPCatalog(cfg HTTPConfig, filter output.FileFilter) (*HTTPCatalog, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}

	c := &HTTPCatalog{
		client: &http.Client{Timeout: cfg.Timeout},
		base:   base,
		index:  cfg.IndexFile,
		filter: filter,
	}
	if c.index == "" {
		c.index = DefaultIndexFile
	}
	if c.client.Timeout == 0 {
		c.client.Timeout = 5 * time.Minute
	}
	if cfg.Username != "" && cfg.Password != "" {
		c.user = url.UserPassword(cfg.Username, cfg.Password)
	}
	return c, nil
}

// List fetches and parses the index.
func (c *HTTPCatalog) List(ctx context.Context) ([]output.CatalogObject, error) {
	resp, err := c.get(ctx, c.index)
	if err != nil {
		return nil, fmt.Errorf("fetching index %s: %w", c.index, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexSize))
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", c.index, err)
	}

	var objects []output.CatalogObject
	if isJSONIndex(resp.Header.Get("Content-Type"), body) {
		objects, err = parseManifest(body)
	} else {
		objects, err = parseKeyList(body)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing index %s: %w", c.index, err)
	}

	accepted := objects[:0]
	for _, obj := range objects {
		if accept(c.filter, path.Base(obj.Key)) {
			accepted = append(accepted, obj)
		}
	}
	return accepted, nil
}

// Download fetches a file into dest.
func (c *HTTPCatalog) Download(ctx context.Context, key string, dest string) error {
	if err := ensureDir(dest); err != nil {
		return err
	}

	resp, err := c.get(ctx, key)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return writeFile(dest, resp.Body)
}

// resolve returns the URL of a key, escaping each path segment.
func (c *HTTPCatalog) resolve(key string) string {
	u := *c.base
	u.Path = path.Join(c.base.Path, "/"+key)
	return u.String()
}

func (c *HTTPCatalog) get(ctx context.Context, key string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(key), nil)
	if err != nil {
		return nil, err
	}
	if c.user != nil {
		pass, _ := c.user.Password()
		req.SetBasicAuth(c.user.Username(), pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp, nil
}

func isJSONIndex(contentType string, body []byte) bool {
	if strings.HasPrefix(contentType, "application/json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// parseKeyList reads one key per line. Blank lines and # comments are
// skipped.
func parseKeyList(body []byte) ([]output.CatalogObject, error) {
	var objects []output.CatalogObject
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key := cleanKey(line); key != "" {
			objects = append(objects, output.CatalogObject{Key: key})
		}
	}
	return objects, scanner.Err()
}

func parseManifest(body []byte) ([]output.CatalogObject, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	entries := doc
	if doc.IsObject() {
		entries = doc.Get("files")
	}
	if !entries.IsArray() {
		return nil, fmt.Errorf(`manifest has no "files" array`)
	}

	var objects []output.CatalogObject
	for _, entry := range entries.Array() {
		var obj output.CatalogObject
		if entry.Type == gjson.String {
			obj.Key = cleanKey(entry.String())
		} else {
			obj.Key = cleanKey(entry.Get("key").String())
			obj.Size = entry.Get("size").Int()
			obj.ETag = entry.Get("etag").String()
			if t, err := time.Parse(time.RFC3339, entry.Get("modified").String()); err == nil {
				obj.LastModified = t.Unix()
			}
		}
		if obj.Key != "" {
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

// cleanKey normalizes a listed key. Keys escaping the catalog root are
// dropped.
func cleanKey(key string) string {
	key = path.Clean("/" + strings.TrimSpace(key))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." || strings.HasSuffix(key, "/") {
		return ""
	}
	return key
}
