// Package ratelimit implements sliding-window-log admission control keyed
// by (actor, action). State lives in an in-memory TTL store; losing it
// degrades enforcement, never correctness, so idle windows are simply
// evicted.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrRateLimited signals that the actor exceeded the configured request
// budget for the action. Transient: retry after the window slides.
var ErrRateLimited = errors.New("rate limited")

// window holds the admitted request timestamps for one (actor, action)
// key, oldest first. Rejected attempts are never recorded, so a burst of
// rejections cannot inflate the count.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter admits at most `limit` requests per key within any trailing
// interval of `length`. Safe for concurrent use: per-key locking ensures
// two simultaneous checks against a single remaining slot admit one.
type Limiter struct {
	windows *cache.Cache
	mu      sync.Mutex // guards window creation
	limit   int
	length  time.Duration

	now func() time.Time
}

// New creates a Limiter allowing `limit` requests per `length` per key.
func New(limit int, length time.Duration) *Limiter {
	return &Limiter{
		windows: cache.New(length, 2*length),
		limit:   limit,
		length:  length,
		now:     time.Now,
	}
}

// Allow records and admits the request, or rejects it. On rejection the
// returned duration says how long until the oldest admitted request
// leaves the window.
func (l *Limiter) Allow(actor, action string) (bool, time.Duration) {
	key := actor + ":" + action
	w := l.getWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.length)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]

	if len(w.stamps) >= l.limit {
		return false, w.stamps[0].Add(l.length).Sub(now)
	}

	w.stamps = append(w.stamps, now)
	// Refresh the entry's TTL so active keys outlive the janitor.
	l.windows.Set(key, w, cache.DefaultExpiration)
	return true, 0
}

// Admit is Allow with an error signal for callers that propagate one.
func (l *Limiter) Admit(actor, action string) error {
	if ok, _ := l.Allow(actor, action); !ok {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) getWindow(key string) *window {
	if v, ok := l.windows.Get(key); ok {
		return v.(*window)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.windows.Get(key); ok {
		return v.(*window)
	}
	w := &window{}
	l.windows.Set(key, w, cache.DefaultExpiration)
	return w
}
