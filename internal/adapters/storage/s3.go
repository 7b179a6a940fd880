package storage

import (
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// S3Catalog implements output.Catalog for AWS S3 and S3-compatible stores
// such as MinIO.
type S3Catalog struct {
	client *s3.Client
	bucket string
	prefix string
	filter output.FileFilter
}

// S3Config holds S3 configuration. Without static keys the default AWS
// credential chain applies.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Catalog creates a catalog of the map files in a bucket.
func NewS3Catalog(ctx context.Context, cfg S3Config, filter output.FileFilter) (*S3Catalog, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Catalog{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		filter: filter,
	}, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint == "" {
			return
		}
		// Self-hosted stores rarely support virtual-hosted buckets.
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	}), nil
}

// List returns every accepted object below the prefix.
func (c *S3Catalog) List(ctx context.Context) ([]output.CatalogObject, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if c.prefix != "" {
		input.Prefix = aws.String(c.prefix + "/")
	}

	var objects []output.CatalogObject
	pages := s3.NewListObjectsV2Paginator(c.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Contents {
			if obj, ok := c.catalogObject(item); ok {
				objects = append(objects, obj)
			}
		}
	}
	return objects, nil
}

// catalogObject converts a listed object. Folder markers and objects the
// filter rejects are skipped.
func (c *S3Catalog) catalogObject(item types.Object) (output.CatalogObject, bool) {
	key := relativeKey(aws.ToString(item.Key), c.prefix)
	if key == "" || strings.HasSuffix(key, "/") || !accept(c.filter, path.Base(key)) {
		return output.CatalogObject{}, false
	}

	obj := output.CatalogObject{
		Key:  key,
		Size: aws.ToInt64(item.Size),
		ETag: strings.Trim(aws.ToString(item.ETag), `"`),
	}
	if item.LastModified != nil {
		obj.LastModified = item.LastModified.Unix()
	}
	return obj, true
}

// Download fetches an object into dest.
func (c *S3Catalog) Download(ctx context.Context, key string, dest string) error {
	if err := ensureDir(dest); err != nil {
		return err
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(fullKey(c.prefix, key)),
	})
	if err != nil {
		return err
	}
	defer func() { _ = out.Body.Close() }()

	return writeFile(dest, out.Body)
}
