// Package sweeper drives the administrative hold sweeps on a tick. The
// queue manager holds no timers of its own; this service is optional and
// the same sweeps stay reachable through the admin API.
package sweeper

import (
	"context"
	"log"
	"time"

	"library-backend/config"
	"library-backend/internal/reservation"
)

// Service periodically expires stale holds and promotes waiting
// reservations onto freed copies.
type Service struct {
	cfg   *config.SweeperConfig
	queue *reservation.Manager
}

// NewService creates a sweeper over the given queue manager.
func NewService(cfg *config.SweeperConfig, queue *reservation.Manager) *Service {
	return &Service{cfg: cfg, queue: queue}
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled. Intended to run in its own goroutine.
func (s *Service) Run(ctx context.Context) {
	log.Printf("Hold sweeper started, interval %s", s.cfg.Interval)
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Hold sweeper stopping.")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires overdue holds, then promotes onto whatever copies are
// free. Failures are logged; the next tick retries naturally.
func (s *Service) SweepOnce(ctx context.Context) {
	expired, err := s.queue.ExpireHolds(ctx)
	if err != nil {
		log.Printf("Sweep: expire-holds failed: %v", err)
	}

	processed, err := s.queue.ProcessHolds(ctx)
	if err != nil {
		log.Printf("Sweep: process-holds failed: %v", err)
	}

	if expired.Expired+expired.Promoted+expired.Failed+processed.Promoted+processed.Failed > 0 {
		log.Printf("Sweep: expired=%d chained=%d promoted=%d failures=%d",
			expired.Expired, expired.Promoted, processed.Promoted, expired.Failed+processed.Failed)
	}
}
