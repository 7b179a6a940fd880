package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newIndexServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, exists := files[r.URL.Path]
		if !exists {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTPCatalog(t *testing.T, cfg HTTPConfig) *HTTPCatalog {
	t.Helper()
	catalog, err := NewHTTPCatalog(cfg, mapFiles)
	if err != nil {
		t.Fatalf("NewHTTPCatalog() error = %v", err)
	}
	return catalog
}

func TestHTTPCatalog(t *testing.T) {
	srv := newIndexServer(t, map[string]string{
		"/maps/index.txt":            "# map files\nberlin.gpx\n\n/routes/line.kml\nreadme.txt\n../escape.gpx\n",
		"/maps/berlin.gpx":           "<gpx/>",
		"/maps/routes/line.kml":      "<kml/>",
		"/maps/with space/track.gpx": "<gpx/>",
	})

	catalog := newTestHTTPCatalog(t, HTTPConfig{BaseURL: srv.URL + "/maps/", Username: "u", Password: "p"})

	objects, err := catalog.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"berlin.gpx", "routes/line.kml", "escape.gpx"}
	if len(objects) != len(want) {
		t.Fatalf("List() = %+v, want keys %v", objects, want)
	}
	for i, key := range want {
		if objects[i].Key != key {
			t.Errorf("objects[%d].Key = %q, want %q", i, objects[i].Key, key)
		}
	}

	dir := t.TempDir()
	dest := filepath.Join(dir, "routes", "line.kml")
	if err := catalog.Download(context.Background(), "routes/line.kml", dest); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	content, err := os.ReadFile(dest)
	if err != nil || string(content) != "<kml/>" {
		t.Errorf("downloaded content = %q, %v", content, err)
	}

	if err := catalog.Download(context.Background(), "with space/track.gpx", filepath.Join(dir, "track.gpx")); err != nil {
		t.Errorf("Download() of escaped key error = %v", err)
	}

	if err := catalog.Download(context.Background(), "missing.gpx", filepath.Join(dir, "missing.gpx")); err == nil {
		t.Error("Download() of missing file succeeded")
	}
}

func TestHTTPCatalogManifest(t *testing.T) {
	tests := []struct {
		name  string
		index string
		want  int
		size  int64
		etag  string
	}{
		{
			name:  "files object",
			index: `{"files":[{"key":"a.gpx","size":12,"etag":"x1","modified":"2024-05-01T10:00:00Z"},{"key":"notes.txt"},{"size":3}]}`,
			want:  1,
			size:  12,
			etag:  "x1",
		},
		{
			name:  "array of keys",
			index: `["a.gpx", "b.kml", "c.pdf"]`,
			want:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIndexServer(t, map[string]string{"/manifest.json": tt.index})
			catalog := newTestHTTPCatalog(t, HTTPConfig{
				BaseURL: srv.URL, IndexFile: "manifest.json", Username: "u", Password: "p",
			})

			objects, err := catalog.List(context.Background())
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(objects) != tt.want {
				t.Fatalf("List() = %+v, want %d objects", objects, tt.want)
			}
			if objects[0].Key != "a.gpx" || objects[0].Size != tt.size || objects[0].ETag != tt.etag {
				t.Errorf("objects[0] = %+v", objects[0])
			}
			if tt.etag != "" && objects[0].LastModified != 1714557600 {
				t.Errorf("LastModified = %d", objects[0].LastModified)
			}
		})
	}
}

func TestHTTPCatalogBadIndex(t *testing.T) {
	tests := []struct {
		name  string
		index string
	}{
		{"malformed json", `{"files": [`},
		{"no files array", `{"maps": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newIndexServer(t, map[string]string{"/index.txt": tt.index})
			catalog := newTestHTTPCatalog(t, HTTPConfig{BaseURL: srv.URL, Username: "u", Password: "p"})
			if _, err := catalog.List(context.Background()); err == nil {
				t.Error("List() error = nil")
			}
		})
	}
}

func TestHTTPCatalogUnauthorized(t *testing.T) {
	srv := newIndexServer(t, map[string]string{"/index.txt": "a.gpx\n"})

	catalog := newTestHTTPCatalog(t, HTTPConfig{BaseURL: srv.URL})
	if _, err := catalog.List(context.Background()); err == nil {
		t.Error("List() should fail on 401")
	}
}

func TestNewHTTPCatalog(t *testing.T) {
	catalog := newTestHTTPCatalog(t, HTTPConfig{BaseURL: "https://example.com/maps/"})
	if catalog.index != DefaultIndexFile {
		t.Errorf("index = %q, want %q", catalog.index, DefaultIndexFile)
	}
	if got := catalog.resolve("routes/a b.gpx"); got != "https://example.com/maps/routes/a%20b.gpx" {
		t.Errorf("resolve() = %q", got)
	}
	if catalog.client.Timeout == 0 {
		t.Error("client timeout not set")
	}
	if catalog.user != nil {
		t.Error("credentials set without a password")
	}

	for _, bad := range []string{"ftp://example.com", "://nope", "example.com/maps"} {
		if _, err := NewHTTPCatalog(HTTPConfig{BaseURL: bad}, nil); err == nil {
			t.Errorf("NewHTTPCatalog(%q) error = nil", bad)
		}
	}
}
