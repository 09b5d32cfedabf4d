package store

import (
	"errors"
	"sync"

	"quantra/internal/market"
)

const defaultShardCount = 32

// CandleCache is a sharded in-memory candle buffer keyed by
// symbol@interval. The live session appends bars as they close and
// flushes them to the CandleStore on rollover.
type CandleCache struct {
	shards []candleShard
}

type candleShard struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

// NewCandleCache returns a cache with the default shard count.
func NewCandleCache() *CandleCache {
	return newCandleCache(defaultShardCount)
}

func newCandleCache(shards int) *CandleCache {
	if shards <= 0 {
		shards = 1
	}
	out := &CandleCache{shards: make([]candleShard, shards)}
	for i := range out.shards {
		out.shards[i] = candleShard{data: make(map[string][]market.Candle)}
	}
	return out
}

func cacheKey(symbol, interval string) string { return symbol + "@" + interval }

func (c *CandleCache) shardFor(key string) *candleShard {
	return &c.shards[hashKey(key)%uint32(len(c.shards))]
}

// Put appends candles, replacing the trailing bar when the timestamp
// matches (an updated in-progress bar), and trims to max bars.
func (c *CandleCache) Put(symbol, interval string, candles []market.Candle, max int) error {
	symbol = market.NormalizeSymbol(symbol)
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval cannot be empty")
	}
	if len(candles) == 0 {
		return nil
	}
	if max <= 0 {
		max = 100
	}
	key := cacheKey(symbol, interval)
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[key]
	for _, candle := range candles {
		if n := len(cur); n > 0 && cur[n-1].Timestamp.Equal(candle.Timestamp) {
			cur[n-1] = candle
			continue
		}
		cur = append(cur, candle)
	}
	if len(cur) > max {
		cur = cur[len(cur)-max:]
	}
	sh.data[key] = cur
	return nil
}

// Get returns a copy of the buffered candles.
func (c *CandleCache) Get(symbol, interval string) []market.Candle {
	key := cacheKey(market.NormalizeSymbol(symbol), interval)
	sh := c.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]market.Candle, len(sh.data[key]))
	copy(out, sh.data[key])
	return out
}

// Drain returns and clears the buffered candles for one key.
func (c *CandleCache) Drain(symbol, interval string) []market.Candle {
	key := cacheKey(market.NormalizeSymbol(symbol), interval)
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur := sh.data[key]
	delete(sh.data, key)
	return cur
}

// Symbols lists symbols currently buffered for an interval.
func (c *CandleCache) Symbols(interval string) []string {
	suffix := "@" + interval
	var out []string
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for key := range sh.data {
			if len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix {
				out = append(out, key[:len(key)-len(suffix)])
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// fnv-1a
func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
