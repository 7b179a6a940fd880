package storage

import (
	"context"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// AzureCatalog implements output.Catalog for Azure Blob Storage.
type AzureCatalog struct {
	client    *azblob.Client
	container string
	prefix    string
	filter    output.FileFilter
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureCatalog creates a catalog of the map files in a container. A
// connection string takes precedence over the account name and key.
func NewAzureCatalog(cfg AzureConfig, filter output.FileFilter) (*AzureCatalog, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AzureCatalog{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		filter:    filter,
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns every accepted blob below the prefix.
func (c *AzureCatalog) List(ctx context.Context) ([]output.CatalogObject, error) {
	var objects []output.CatalogObject

	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{
		Prefix: &c.prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, blob := range page.Segment.BlobItems {
			if obj, ok := c.catalogObject(blob); ok {
				objects = append(objects, obj)
			}
		}
	}

	return objects, nil
}

// catalogObject converts a blob. It returns false for blobs the filter
// rejects.
func (c *AzureCatalog) catalogObject(blob *container.BlobItem) (output.CatalogObject, bool) {
	if blob.Name == nil {
		return output.CatalogObject{}, false
	}
	key := relativeKey(*blob.Name, c.prefix)
	if key == "" || !accept(c.filter, path.Base(key)) {
		return output.CatalogObject{}, false
	}

	obj := output.CatalogObject{Key: key}
	if p := blob.Properties; p != nil {
		if p.ContentLength != nil {
			obj.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			obj.LastModified = p.LastModified.Unix()
		}
		if p.ETag != nil {
			obj.ETag = string(*p.ETag)
		}
	}
	return obj, true
}

// Download fetches a blob into dest.
func (c *AzureCatalog) Download(ctx context.Context, key string, dest string) error {
	if err := ensureDir(dest); err != nil {
		return err
	}

	resp, err := c.client.DownloadStream(ctx, c.container, fullKey(c.prefix, key), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return writeFile(dest, resp.Body)
}
