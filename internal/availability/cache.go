// Package availability serves per-title copy counters from a TTL-bounded
// cache. A missing entry only costs a recompute against the ledger; the
// ledger invalidates entries synchronously with every copy mutation.
package availability

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"library-backend/internal/ledger"
)

// CountSource is the source of truth a cache miss recomputes from.
type CountSource interface {
	Counts(ctx context.Context, titleID int64) (ledger.Counts, error)
}

// Service is the availability cache.
type Service struct {
	cache  *cache.Cache
	source CountSource
	ttl    time.Duration
}

// New creates the cache with the given entry TTL.
func New(source CountSource, ttl time.Duration) *Service {
	return &Service{
		cache:  cache.New(ttl, 2*ttl),
		source: source,
		ttl:    ttl,
	}
}

// Get returns the title's counters and whether they came from the cache.
// On a miss the counters are recomputed and cached with a fresh TTL.
func (s *Service) Get(ctx context.Context, titleID int64) (ledger.Counts, bool, error) {
	key := cacheKey(titleID)
	if v, found := s.cache.Get(key); found {
		return v.(ledger.Counts), true, nil
	}

	counts, err := s.source.Counts(ctx, titleID)
	if err != nil {
		return ledger.Counts{}, false, err
	}
	s.cache.Set(key, counts, cache.DefaultExpiration)
	return counts, false, nil
}

// Invalidate drops the title's entry so the next read recomputes. Called
// by the ledger before a mutating call returns to its caller.
func (s *Service) Invalidate(titleID int64) {
	s.cache.Delete(cacheKey(titleID))
}

func cacheKey(titleID int64) string {
	return strconv.FormatInt(titleID, 10)
}
