package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
)

// Store persists cache entries keyed by prompt. Timestamps are unix
// nanoseconds.
type Store interface {
	Get(ctx context.Context, prompt string) (models.CacheEntry, bool, error)
	Put(ctx context.Context, entry models.CacheEntry) error
	// DeleteBefore removes entries with a timestamp strictly before cutoff.
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
	Close() error
}

// Cache stores whole workflow results and only serves a hit while every
// file the result points at still exists.
type Cache struct {
	store Store
	now   func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("cache: store must not be nil")
	}
	c := &Cache{store: store, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get returns the cached result for prompt. A result whose artifacts are
// missing is reported as a miss; the row is left in place.
func (c *Cache) Get(ctx context.Context, prompt string) (*models.WorkflowResult, bool, error) {
	entry, ok, err := c.store.Get(ctx, prompt)
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var result models.WorkflowResult
	if err := json.Unmarshal(entry.Response, &result); err != nil {
		return nil, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	for _, path := range result.ArtifactPaths() {
		if _, err := os.Stat(path); err != nil {
			constants.Logger.Info("Cached artifact missing, treating as miss", "path", path, "error", err)
			return nil, false, nil
		}
	}
	return &result, true, nil
}

// Put upserts result under prompt with the current time.
func (c *Cache) Put(ctx context.Context, prompt string, result models.WorkflowResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: encode result: %w", err)
	}
	entry := models.CacheEntry{
		Prompt:    prompt,
		Response:  data,
		Timestamp: c.now().UTC().UnixNano(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// EvictExpired deletes entries older than retention. An entry exactly
// retention old is kept.
func (c *Cache) EvictExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = constants.CacheRetention
	}
	cutoff := c.now().UTC().Add(-retention).UnixNano()
	n, err := c.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: evict: %w", err)
	}
	if n > 0 {
		constants.Logger.Info("Evicted expired cache entries", "count", n, "retention", retention.String())
	}
	return n, nil
}

func (c *Cache) Close() error {
	return c.store.Close()
}
