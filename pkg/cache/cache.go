package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whale-watch/pkg/gateway"
)

// Fetcher loads a profile from upstream. Injected so tests can count calls.
type Fetcher func(ctx context.Context, address string) (gateway.AddressProfile, error)

// ProfileCache is a read-through TTL cache keyed by address. Concurrent
// misses for the same key may both fetch; the second write wins, which is
// fine because both carry equally fresh data.
type ProfileCache struct {
	ttl   time.Duration
	fetch Fetcher

	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	profile   gateway.AddressProfile
	fetchedAt time.Time
}

func New(ttl time.Duration, fetch Fetcher) *ProfileCache {
	return &ProfileCache{
		ttl:     ttl,
		fetch:   fetch,
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// GetOrFetch returns the stored profile while it is fresh, refetching
// otherwise. Upstream failure degrades to the zero profile here — and the
// degraded profile is cached too, so a dead upstream is asked again only
// once per TTL window.
func (c *ProfileCache) GetOrFetch(ctx context.Context, address string) gateway.AddressProfile {
	c.mu.RLock()
	e, ok := c.entries[address]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.profile
	}

	profile, err := c.fetch(ctx, address)
	if err != nil {
		log.Warn().Err(err).Str("addr", address).Msg("📇 profile fetch failed, caching empty profile")
		profile = gateway.AddressProfile{Address: address, FetchedAt: c.now().UTC()}
	}

	c.mu.Lock()
	c.entries[address] = entry{profile: profile, fetchedAt: c.now()}
	c.mu.Unlock()
	return profile
}

// Clear drops every entry.
func (c *ProfileCache) Clear() {
	c.mu.Lock()
	c.entries = map[string]entry{}
	c.mu.Unlock()
}

// Stats reports entry count and sorted keys for the debug surface.
func (c *ProfileCache) Stats() (int, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return len(c.entries), keys
}
