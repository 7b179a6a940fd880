// Package output defines the secondary/driven ports of the application.
package output

import "context"

// Catalog is a remote or local collection of map files.
type Catalog interface {
	// List returns every supported map file in the catalog.
	List(ctx context.Context) ([]CatalogObject, error)

	// Download copies an object to a local file.
	Download(ctx context.Context, key string, dest string) error
}

// CatalogObject is one file in a catalog.
type CatalogObject struct {
	Key          string // Object key, relative to the catalog root
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash when the backend reports one
}

// CatalogType selects the catalog backend.
type CatalogType string

const (
	CatalogS3    CatalogType = "s3"
	CatalogAzure CatalogType = "azure"
	CatalogHTTP  CatalogType = "http"
	CatalogLocal CatalogType = "local"
)

// FileFilter decides whether a file name is worth listing.
type FileFilter func(name string) bool
