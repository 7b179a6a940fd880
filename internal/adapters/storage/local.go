// Package storage provides catalogs of map files kept in object storage.
package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// LocalCatalog implements output.Catalog over a directory tree.
type LocalCatalog struct {
	basePath string
	filter   output.FileFilter
}

// NewLocalCatalog creates a catalog of the files under basePath accepted by
// filter. A nil filter accepts every file.
func NewLocalCatalog(basePath string, filter output.FileFilter) *LocalCatalog {
	return &LocalCatalog{basePath: basePath, filter: filter}
}

// List returns the accepted files below the base path. Keys use forward
// slashes.
func (c *LocalCatalog) List(ctx context.Context) ([]output.CatalogObject, error) {
	var objects []output.CatalogObject

	err := filepath.WalkDir(c.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !accept(c.filter, d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.CatalogObject{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// Download copies a file to dest. Copying a file onto itself does nothing.
func (c *LocalCatalog) Download(_ context.Context, key string, dest string) error {
	srcPath := c.FullPath(key)
	if filepath.Clean(srcPath) == filepath.Clean(dest) {
		return nil
	}

	if err := ensureDir(dest); err != nil {
		return err
	}

	src, err := os.Open(srcPath) //#nosec G304 -- key comes from List
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	return writeFile(dest, src)
}

// FullPath returns the full path for a key.
func (c *LocalCatalog) FullPath(key string) string {
	return filepath.Join(c.basePath, filepath.FromSlash(key))
}

// writeFile streams r into dest through a temporary file so that a watcher
// never sees a half-written map file.
func writeFile(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}

func accept(filter output.FileFilter, name string) bool {
	return filter == nil || filter(name)
}
