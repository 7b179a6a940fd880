package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

// Instrumented wraps a catalog with metrics, logging and StorageError
// wrapping.
type Instrumented struct {
	next    output.Catalog
	name    output.CatalogType
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewInstrumented wraps next.
func NewInstrumented(next output.Catalog, name output.CatalogType, metrics output.MetricsCollector, logger *slog.Logger) *Instrumented {
	return &Instrumented{
		next:    next,
		name:    name,
		metrics: metrics,
		logger:  logger.With("catalog", string(name)),
	}
}

// List implements output.Catalog.
func (c *Instrumented) List(ctx context.Context) ([]output.CatalogObject, error) {
	start := time.Now()
	objects, err := c.next.List(ctx)
	c.record("list", start, err)
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Err: err}
	}

	var total uint64
	for _, o := range objects {
		if o.Size > 0 {
			total += uint64(o.Size)
		}
	}
	c.logger.Debug("catalog listed", "files", len(objects), "size", humanize.Bytes(total))
	return objects, nil
}

// Download implements output.Catalog.
func (c *Instrumented) Download(ctx context.Context, key string, dest string) error {
	start := time.Now()
	err := c.next.Download(ctx, key, dest)
	c.record("download", start, err)
	if err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	c.logger.Debug("file downloaded", "key", key, "dest", dest, "duration", time.Since(start))
	return nil
}

func (c *Instrumented) record(op string, start time.Time, err error) {
	c.metrics.ObserveStorage(op, time.Since(start), err)
}
