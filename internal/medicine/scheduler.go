package medicine

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// StartScheduler refreshes the cache once immediately, then daily at the
// configured times (semicolon separated, e.g. "06:00;18:00"). Returns the
// scheduler so the caller can stop it on shutdown.
func StartScheduler(ctx context.Context, cache *Cache, refreshAt string) (*gocron.Scheduler, error) {
	if err := cache.Refresh(ctx); err != nil {
		// Startup proceeds on a failed initial load; lookups fall through
		// to the reference system until the next scheduled run succeeds.
		slog.Error("initial medicine reference load failed", "error", err)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(1).Day().At(refreshAt).Do(func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := cache.Refresh(refreshCtx); err != nil {
			slog.Error("scheduled medicine reference refresh failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	scheduler.StartAsync()
	slog.Info("medicine reference scheduler started", "refresh_at", refreshAt)
	return scheduler, nil
}
