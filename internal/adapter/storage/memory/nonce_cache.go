package memory

import (
	"context"
	"sync"
	"time"

	"offchain-settlement/internal/core/domain"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	DefaultNonceCapacity      = 10_000
	DefaultNonceShards        = 16
	DefaultNonceSweepInterval = 30 * time.Second
)

// NonceCacheConfig sizes a NonceCache. Zero values take the defaults.
type NonceCacheConfig struct {
	Capacity      int
	Shards        int
	SweepInterval time.Duration
}

// NonceCache implements ports.NonceCache with a fixed number of independently
// locked shards. Each shard holds at most Capacity/Shards live keys and evicts
// its oldest insertion when full, so eviction is approximately oldest-first
// across the cache. Expired entries are dropped by Run.
type NonceCache struct {
	shards   []*nonceShard
	perShard int
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type nonceShard struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	order   []orderItem
	nextSeq uint64
}

type nonceEntry struct {
	expiresAt int64
	seq       uint64
}

// orderItem records insertion order; it is stale once the key is removed or re-inserted.
type orderItem struct {
	key string
	seq uint64
}

// NewNonceCache creates an empty cache.
func NewNonceCache(cfg NonceCacheConfig, log zerolog.Logger) *NonceCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultNonceCapacity
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultNonceShards
	}
	if cfg.Shards > cfg.Capacity {
		cfg.Shards = cfg.Capacity
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultNonceSweepInterval
	}
	perShard := cfg.Capacity / cfg.Shards
	if perShard < 1 {
		perShard = 1
	}

	c := &NonceCache{
		shards:   make([]*nonceShard, cfg.Shards),
		perShard: perShard,
		interval: cfg.SweepInterval,
		now:      time.Now,
		log:      log,
	}
	for i := range c.shards {
		c.shards[i] = &nonceShard{entries: make(map[string]nonceEntry)}
	}
	return c
}

func (c *NonceCache) shard(key string) *nonceShard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Seen reports whether the pair is cached and not yet expired.
func (c *NonceCache) Seen(ctx context.Context, signer common.Address, nonce common.Hash) (bool, error) {
	key := domain.NonceCacheKey(signer, nonce)
	now := c.now().Unix()

	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	return ok && now < e.expiresAt, nil
}

// Remember inserts the pair until expiresAt and reports whether it was new.
func (c *NonceCache) Remember(ctx context.Context, signer common.Address, nonce common.Hash, expiresAt time.Time) (bool, error) {
	key := domain.NonceCacheKey(signer, nonce)
	now := c.now().Unix()

	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok {
		if now < e.expiresAt {
			return false, nil
		}
		// Its order item goes stale and is skipped by evictOldest.
		delete(sh.entries, key)
	}
	for len(sh.entries) >= c.perShard {
		sh.evictOldest()
	}
	sh.nextSeq++
	sh.entries[key] = nonceEntry{expiresAt: expiresAt.Unix(), seq: sh.nextSeq}
	sh.order = append(sh.order, orderItem{key: key, seq: sh.nextSeq})
	return true, nil
}

// evictOldest removes the oldest live insertion. Caller holds sh.mu.
func (sh *nonceShard) evictOldest() {
	for len(sh.order) > 0 {
		item := sh.order[0]
		sh.order = sh.order[1:]
		if e, ok := sh.entries[item.key]; ok && e.seq == item.seq {
			delete(sh.entries, item.key)
			return
		}
	}
}

// sweep drops expired entries and compacts the insertion order.
func (sh *nonceShard) sweep(now int64) int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	removed := 0
	live := sh.order[:0]
	for _, item := range sh.order {
		e, ok := sh.entries[item.key]
		if !ok || e.seq != item.seq {
			continue
		}
		if now >= e.expiresAt {
			delete(sh.entries, item.key)
			removed++
			continue
		}
		live = append(live, item)
	}
	clear(sh.order[len(live):])
	sh.order = live
	return removed
}

// Sweep runs one pass over every shard, taking one shard lock at a time.
func (c *NonceCache) Sweep() int {
	now := c.now().Unix()
	removed := 0
	for _, sh := range c.shards {
		removed += sh.sweep(now)
	}
	return removed
}

// Len returns the number of cached entries, expired or not.
func (c *NonceCache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Run sweeps on every interval until ctx is cancelled.
func (c *NonceCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.log.Debug().Int("removed", removed).Int("remaining", c.Len()).Msg("nonce cache swept")
			}
		}
	}
}
