package fingerprint

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

const defaultCacheSize = 1024

// Cache fronts a FingerprintStore with a bounded in-memory LRU. Reads fall
// through to the backing store on a miss, writes go to both. A nil backing
// store makes the cache memory only. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, schemas.ElementFingerprint]
	backing schemas.FingerprintStore
	logger  *zap.Logger
}

var _ schemas.FingerprintStore = (*Cache)(nil)

// NewCache builds a cache holding at most size fingerprints.
func NewCache(size int, backing schemas.FingerprintStore, logger *zap.Logger) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, schemas.ElementFingerprint](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint cache: %w", err)
	}
	return &Cache{
		entries: entries,
		backing: backing,
		logger:  logger.Named("fingerprint_cache"),
	}, nil
}

func cacheKey(scenarioID, selector string) string {
	return scenarioID + "\x00" + selector
}

// LoadFingerprint returns the last known good fingerprint, or nil when none has
// been recorded.
func (c *Cache) LoadFingerprint(ctx context.Context, scenarioID, selector string) (*schemas.ElementFingerprint, error) {
	key := cacheKey(scenarioID, selector)
	if fp, ok := c.entries.Get(key); ok {
		return &fp, nil
	}
	if c.backing == nil {
		return nil, nil
	}

	fp, err := c.backing.LoadFingerprint(ctx, scenarioID, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint for %q: %w", selector, err)
	}
	if fp != nil {
		c.entries.Add(key, *fp)
	}
	return fp, nil
}

// SaveFingerprint records fp as the last known good fingerprint.
func (c *Cache) SaveFingerprint(ctx context.Context, scenarioID, selector string, fp schemas.ElementFingerprint) error {
	if err := fp.Validate(); err != nil {
		return err
	}
	c.entries.Add(cacheKey(scenarioID, selector), fp)

	if c.backing == nil {
		return nil
	}
	if err := c.backing.SaveFingerprint(ctx, scenarioID, selector, fp); err != nil {
		return fmt.Errorf("failed to persist fingerprint for %q: %w", selector, err)
	}
	c.logger.Debug("Fingerprint recorded.", zap.String("scenario_id", scenarioID), zap.String("selector", selector))
	return nil
}

// Len reports how many fingerprints are held in memory.
func (c *Cache) Len() int { return c.entries.Len() }
