package storage

import (
	"context"
	"log/slog"
	"time"
)

// orphanGracePeriod keeps freshly saved objects whose video row may still
// be in the middle of being inserted.
const orphanGracePeriod = time.Hour

// FilenameLister reports the storage keys that are referenced by videos.
type FilenameLister interface {
	ListFilenames(ctx context.Context) ([]string, error)
}

// CleanupService periodically removes stored media that no video
// references, left behind when an upload saved its file but failed to
// record the video.
type CleanupService struct {
	repo     FilenameLister
	store    Store
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo FilenameLister, store Store, interval time.Duration) *CleanupService {
	return &CleanupService{
		repo:     repo,
		store:    store,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
// A non-positive interval disables the service.
func (cs *CleanupService) Start(ctx context.Context) {
	if cs.interval <= 0 {
		slog.Info("cleanup service disabled")
		close(cs.done)
		return
	}

	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	slog.Info("running cleanup cycle")

	referenced, err := cs.repo.ListFilenames(ctx)
	if err != nil {
		slog.Error("failed to list referenced media", "error", err)
		return
	}
	keep := make(map[string]bool, len(referenced))
	for _, name := range referenced {
		keep[name] = true
	}

	objects, err := cs.store.List(ctx)
	if err != nil {
		slog.Error("failed to list stored media", "error", err)
		return
	}

	cutoff := cs.now().Add(-orphanGracePeriod)
	var cleaned, failed int
	for _, obj := range objects {
		if keep[obj.Key] || obj.ModTime.After(cutoff) {
			continue
		}

		if err := cs.store.Delete(ctx, obj.Key); err != nil {
			slog.Error("failed to delete orphaned media",
				"key", obj.Key,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("removed orphaned media", "key", obj.Key, "modified_at", obj.ModTime)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"stored", len(objects),
	)
}
