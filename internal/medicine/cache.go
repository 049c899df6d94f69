// Package medicine keeps an in-memory snapshot of the medicine reference
// data. The reference system is the source of truth; the cache exists so
// price resolution and catalog enrichment do not hit it per keystroke.
package medicine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	apperrors "github.com/hiv-care-hub/platform/internal/shared/errors"
	"github.com/hiv-care-hub/platform/internal/shared/metrics"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Cache holds the medicine reference snapshot
type Cache struct {
	adapter  medref.Adapter
	pageSize int

	mu        sync.RWMutex
	byID      map[types.ID]medref.Medicine
	updatedAt time.Time
	updating  bool
}

// NewCache creates an empty cache backed by the given reference adapter
func NewCache(adapter medref.Adapter, pageSize int) *Cache {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Cache{
		adapter:  adapter,
		pageSize: pageSize,
		byID:     make(map[types.ID]medref.Medicine),
	}
}

// Refresh pulls the full medicine list page by page and swaps the snapshot
// in one step. Concurrent refreshes are collapsed: a second caller returns
// immediately while the first is still paging.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.updating {
		c.mu.Unlock()
		slog.Debug("medicine reference refresh already in progress, skipping")
		return nil
	}
	c.updating = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.updating = false
		c.mu.Unlock()
	}()

	start := time.Now()
	fresh := make(map[types.ID]medref.Medicine)
	offset := 0
	for {
		page, total, err := c.adapter.ListMedicines(ctx, medref.Page{Limit: c.pageSize, Offset: offset})
		if err != nil {
			return apperrors.ReferenceUnavailable(c.adapter.SourceSystem(), err)
		}
		for _, m := range page {
			fresh[m.ID] = m
		}
		offset += len(page)
		if len(page) == 0 || offset >= total {
			break
		}
	}

	c.mu.Lock()
	c.byID = fresh
	c.updatedAt = time.Now()
	c.mu.Unlock()

	metrics.RecordMedicineCacheSize(len(fresh))
	slog.Info("medicine reference refreshed",
		"medicines", len(fresh),
		"source", c.adapter.SourceSystem(),
		"duration", time.Since(start).String())
	return nil
}

// Get returns a medicine by ID. Falls through to the reference system on a
// cache miss so a stale snapshot never hides a newly registered medicine.
func (c *Cache) Get(ctx context.Context, id types.ID) (*medref.Medicine, error) {
	c.mu.RLock()
	m, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return &m, nil
	}

	fetched, err := c.adapter.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byID[fetched.ID] = *fetched
	c.mu.Unlock()
	return fetched, nil
}

// Price returns the current reference price for a medicine
func (c *Cache) Price(ctx context.Context, id types.ID) (float64, error) {
	m, err := c.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve price for medicine %s: %w", id, err)
	}
	return m.Price, nil
}

// Size returns the number of cached medicines
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// UpdatedAt returns when the snapshot was last swapped
func (c *Cache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
