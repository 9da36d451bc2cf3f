package learned

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bkowalcz/pricewatch/internal/models"
)

// Store is the persistence backing the cache. A nil result with a nil error
// means no entry exists for the key.
type Store interface {
	LoadSelector(ctx context.Context, key string) (*models.LearnedSelector, error)
	SaveSelector(ctx context.Context, key string, sel models.LearnedSelector) error
	DeleteSelector(ctx context.Context, key string) error
}

// Key builds the cache key for a product on a domain.
func Key(domain, productID string) string {
	return domain + "|" + productID
}

// Cache fronts the store with per-key miss counting. An entry that misses
// maxMisses consecutive times is evicted so the pipeline stops paying for a
// stale selector; any success resets the counter.
type Cache struct {
	store     Store
	maxMisses int

	mu sync.Mutex
}

func NewCache(store Store, maxMisses int) *Cache {
	if maxMisses < 1 {
		maxMisses = 3
	}
	return &Cache{store: store, maxMisses: maxMisses}
}

// Get returns the learned selector for a product, or nil when none is
// cached.
func (c *Cache) Get(ctx context.Context, domain, productID string) (*models.LearnedSelector, error) {
	sel, err := c.store.LoadSelector(ctx, Key(domain, productID))
	if err != nil {
		return nil, fmt.Errorf("loading learned selector: %w", err)
	}
	return sel, nil
}

// MarkSuccess records that a selector produced a validated price. It is the
// only write path that creates or refreshes entries; last validated write
// wins.
func (c *Cache) MarkSuccess(ctx context.Context, domain, productID, selector, strategy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := models.LearnedSelector{
		Selector:    selector,
		Strategy:    strategy,
		LastSuccess: time.Now().UTC(),
		Confidence:  1.0,
		Misses:      0,
	}
	if err := c.store.SaveSelector(ctx, Key(domain, productID), entry); err != nil {
		return fmt.Errorf("saving learned selector: %w", err)
	}
	return nil
}

// MarkMiss increments the consecutive-miss counter and evicts the entry
// once it reaches the limit. A miss on an absent entry is a no-op.
func (c *Cache) MarkMiss(ctx context.Context, domain, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(domain, productID)
	entry, err := c.store.LoadSelector(ctx, key)
	if err != nil {
		return fmt.Errorf("loading learned selector for miss: %w", err)
	}
	if entry == nil {
		return nil
	}

	entry.Misses++
	if entry.Misses >= c.maxMisses {
		slog.Info("Evicting stale learned selector",
			"key", key, "selector", entry.Selector, "misses", entry.Misses)
		if err := c.store.DeleteSelector(ctx, key); err != nil {
			return fmt.Errorf("evicting learned selector: %w", err)
		}
		return nil
	}

	entry.Confidence *= 0.5
	if err := c.store.SaveSelector(ctx, key, *entry); err != nil {
		return fmt.Errorf("recording selector miss: %w", err)
	}
	return nil
}
