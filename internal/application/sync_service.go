package application

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// triggerCooldown is the minimum delay between two manual syncs.
const triggerCooldown = 30 * time.Second

// SyncStats contains statistics from a sync operation.
type SyncStats struct {
	Added   int
	Removed int
	Failed  int
}

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	FilesAdded      int       `json:"files_added"`
	FilesRemoved    int       `json:"files_removed"`
	FilesFailed     int       `json:"files_failed"`
	SourcesTotal    int       `json:"sources_total"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService mirrors a catalog of map files into the data directory and
// keeps the loaded sources in step with it.
type SyncService struct {
	sources  *SourceManager
	catalog  output.Catalog
	dataDir  string
	interval time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISync time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent sync operations; also guards synced
	syncOpMutex sync.Mutex
	synced      map[string]string // local path -> catalog key

	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service.
func NewSyncService(sources *SourceManager, catalog output.Catalog, dataDir string, interval time.Duration, logger *slog.Logger) *SyncService {
	return &SyncService{
		sources:  sources,
		catalog:  catalog,
		dataDir:  dataDir,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		synced:   make(map[string]string),
		// Initialize to past time to allow immediate first API call
		lastAPISync: time.Now().Add(-triggerCooldown - time.Second),
	}
}

// Start runs an initial sync and then the periodic scheduler.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	s.doSync(ctx)
	if s.interval <= 0 {
		// Only the startup sync; the API can still trigger more.
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			s.doSync(ctx)
			s.setNextSync(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sync service")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerSync runs a sync now. Calls within 30 seconds of the previous
// trigger fail with ErrRateLimited.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	if time.Since(s.lastAPISync) < triggerCooldown {
		return SyncResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()

	stats, err := s.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{
		FilesAdded:      stats.Added,
		FilesRemoved:    stats.Removed,
		FilesFailed:     stats.Failed,
		SourcesTotal:    s.sources.Count(),
		SyncedAt:        time.Now(),
		NextScheduledAt: s.getNextSync(),
	}, nil
}

func (s *SyncService) doSync(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.Error("sync failed", "error", err)
	}
}

// Sync downloads catalog files that are not loaded yet and unloads files
// that disappeared from the catalog. Only files this service downloaded are
// ever removed from disk.
func (s *SyncService) Sync(ctx context.Context) (SyncStats, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	s.logger.Info("syncing map files from catalog")

	objects, err := s.catalog.List(ctx)
	if err != nil {
		return SyncStats{}, err
	}

	factory := s.sources.Factory()
	remote := make(map[string]string, len(objects)) // local path -> key
	for _, obj := range objects {
		if !factory.IsSupported(obj.Key) {
			continue
		}
		remote[filepath.Join(s.dataDir, filepath.FromSlash(obj.Key))] = obj.Key
	}

	stats := SyncStats{}

	paths := make([]string, 0, len(remote))
	for p := range remote {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, localPath := range paths {
		key := remote[localPath]
		if _, ok := s.sources.SourceForPath(localPath); ok {
			s.logger.Debug("file already loaded, skipping", "key", key)
			s.synced[localPath] = key
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := s.catalog.Download(ctx, key, localPath); err != nil {
			s.logger.Error("failed to download map file", "key", key, "error", err)
			stats.Failed++
			continue
		}
		if _, err := s.sources.LoadFile(ctx, localPath); err != nil {
			s.logger.Error("failed to load map file", "path", localPath, "error", err)
			stats.Failed++
			continue
		}

		s.synced[localPath] = key
		stats.Added++
		s.logger.Info("new map file synced", "key", key)
	}

	for localPath, key := range s.synced {
		if _, exists := remote[localPath]; exists {
			continue
		}
		s.logger.Info("removing map file not in catalog", "key", key)

		if err := s.sources.UnloadFile(localPath); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to unload removed map file", "path", localPath, "error", err)
			continue
		}
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete local cache file", "path", localPath, "error", err)
		} else {
			s.logger.Debug("deleted local cache file", "path", localPath)
		}
		delete(s.synced, localPath)
		stats.Removed++
	}

	s.logger.Info("sync completed",
		"added", stats.Added,
		"removed", stats.Removed,
		"failed", stats.Failed,
		"total", s.sources.Count(),
	)
	return stats, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
