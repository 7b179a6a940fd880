package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func mapFiles(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".gpx", ".kml", ".kmz":
		return true
	}
	return false
}

func createFiles(t *testing.T, dir string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte("test"), 0o644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}
}

func TestLocalCatalogList(t *testing.T) {
	tmpDir := t.TempDir()
	createFiles(t, tmpDir,
		"track.gpx",
		"points.geojson",
		"subdir/places.KML",
		"ignored.txt",
		"also_ignored.gpkg",
	)

	catalog := NewLocalCatalog(tmpDir, mapFiles)
	objects, err := catalog.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
		if obj.Size != 4 { // "test" is 4 bytes
			t.Errorf("object %q size = %d, want 4", obj.Key, obj.Size)
		}
		if obj.LastModified == 0 {
			t.Errorf("object %q LastModified should not be 0", obj.Key)
		}
	}
	sort.Strings(keys)

	want := []string{"points.geojson", "subdir/places.KML", "track.gpx"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestLocalCatalogListWithoutFilter(t *testing.T) {
	tmpDir := t.TempDir()
	createFiles(t, tmpDir, "a.txt", "b.gpx")

	objects, err := NewLocalCatalog(tmpDir, nil).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("len(objects) = %d, want 2", len(objects))
	}
}

func TestLocalCatalogListEmpty(t *testing.T) {
	objects, err := NewLocalCatalog(t.TempDir(), mapFiles).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("len(objects) = %d, want 0", len(objects))
	}
}

func TestLocalCatalogListNonExistent(t *testing.T) {
	_, err := NewLocalCatalog("/nonexistent/path", mapFiles).List(context.Background())
	if err == nil {
		t.Error("List() should error for non-existent path")
	}
}

func TestLocalCatalogDownload(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	testContent := `{"type":"FeatureCollection","features":[]}`
	if err := os.WriteFile(filepath.Join(srcDir, "source.geojson"), []byte(testContent), 0o644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	catalog := NewLocalCatalog(srcDir, mapFiles)
	destFile := filepath.Join(destDir, "nested", "deep", "dest.geojson")

	if err := catalog.Download(context.Background(), "source.geojson", destFile); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	content, err := os.ReadFile(destFile)
	if err != nil {
		t.Fatalf("failed to read dest file: %v", err)
	}
	if string(content) != testContent {
		t.Errorf("content = %q, want %q", string(content), testContent)
	}

	// No temporary files are left behind
	entries, _ := os.ReadDir(filepath.Dir(destFile))
	if len(entries) != 1 {
		t.Errorf("dest dir holds %d entries, want 1", len(entries))
	}
}

func TestLocalCatalogDownloadSameFile(t *testing.T) {
	tmpDir := t.TempDir()
	createFiles(t, tmpDir, "test.gpx")

	catalog := NewLocalCatalog(tmpDir, mapFiles)
	err := catalog.Download(context.Background(), "test.gpx", filepath.Join(tmpDir, "test.gpx"))
	if err != nil {
		t.Errorf("Download() to same location should not error, got: %v", err)
	}
}

func TestLocalCatalogDownloadNonExistent(t *testing.T) {
	catalog := NewLocalCatalog(t.TempDir(), mapFiles)
	err := catalog.Download(context.Background(), "nonexistent.gpx", filepath.Join(t.TempDir(), "dest.gpx"))
	if err == nil {
		t.Error("Download() should error for non-existent source")
	}
}

func TestLocalCatalogFullPath(t *testing.T) {
	catalog := NewLocalCatalog("/data/maps", nil)

	tests := []struct {
		key  string
		want string
	}{
		{"test.gpx", filepath.Join("/data/maps", "test.gpx")},
		{"subdir/nested.kml", filepath.Join("/data/maps", "subdir", "nested.kml")},
		{"", "/data/maps"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := catalog.FullPath(tt.key); got != tt.want {
				t.Errorf("FullPath(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	if got := relativeKey("maps/berlin.gpx", "maps"); got != "berlin.gpx" {
		t.Errorf("relativeKey() = %q", got)
	}
	if got := fullKey("maps", "berlin.gpx"); got != "maps/berlin.gpx" {
		t.Errorf("fullKey() = %q", got)
	}
	if got := fullKey("", "berlin.gpx"); got != "berlin.gpx" {
		t.Errorf("fullKey() without prefix = %q", got)
	}
}
