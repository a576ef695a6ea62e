// Package reservation maintains the per-title FIFO wait list and the hold
// state machine: ACTIVE -> ON_HOLD -> FULFILLED | EXPIRED, with CANCELLED
// reachable from any non-terminal state by the owner.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"library-backend/internal/ledger"
	"library-backend/internal/model"
)

var (
	// ErrAlreadyReserved means the user already has a non-terminal
	// reservation for the title.
	ErrAlreadyReserved = errors.New("user already has a pending reservation for this title")

	// ErrCopiesAvailable means the title has a free copy, so the caller
	// should borrow directly instead of queueing.
	ErrCopiesAvailable = errors.New("copies available, borrow directly")

	// ErrNotFound means the referenced reservation does not exist.
	ErrNotFound = errors.New("reservation not found")

	// ErrNotOwner means the caller does not own the reservation.
	ErrNotOwner = errors.New("caller does not own this reservation")

	// ErrTerminal means the reservation already reached a final state.
	ErrTerminal = errors.New("reservation is in a terminal state")
)

// SweepResult reports what an administrative batch accomplished. Per-item
// failures are counted, not fatal.
type SweepResult struct {
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// Manager owns the reservation queue. All copy transitions go through the
// ledger; every mutation runs under the title's transaction scope so
// promotion never races a concurrent claim.
type Manager struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	holdTTL time.Duration

	now func() time.Time
}

// NewManager creates a queue manager with the given hold window.
func NewManager(db *gorm.DB, l *ledger.Ledger, holdTTL time.Duration) *Manager {
	return &Manager{
		db:      db,
		ledger:  l,
		holdTTL: holdTTL,
		now:     time.Now,
	}
}

// Enroll appends the user to the title's wait list. Enrollment is only
// allowed while no copy is free; with a free copy the user should borrow.
func (m *Manager) Enroll(ctx context.Context, userID, titleID int64) (*model.Reservation, error) {
	var res *model.Reservation
	err := m.ledger.InTitleTx(ctx, titleID, func(tx *gorm.DB) error {
		var available int64
		if err := tx.Model(&model.BookCopy{}).
			Where("book_title_id = ? AND status = ?", titleID, model.CopyAvailable).
			Count(&available).Error; err != nil {
			return fmt.Errorf("failed to count available copies for title %d: %w", titleID, err)
		}
		if available > 0 {
			return ErrCopiesAvailable
		}

		var err error
		res, err = m.EnrollTx(tx, userID, titleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EnrollTx creates the ACTIVE reservation inside an existing title
// transaction. Exposed for the loan service's exhausted-borrow path.
func (m *Manager) EnrollTx(tx *gorm.DB, userID, titleID int64) (*model.Reservation, error) {
	var pending int64
	err := tx.Model(&model.Reservation{}).
		Where("user_id = ? AND book_title_id = ? AND status IN ?",
			userID, titleID, []model.ReservationStatus{model.ReservationActive, model.ReservationOnHold}).
		Count(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check pending reservations: %w", err)
	}
	if pending > 0 {
		return nil, ErrAlreadyReserved
	}

	r := model.Reservation{
		UserID:      userID,
		BookTitleID: titleID,
		Status:      model.ReservationActive,
	}
	if err := tx.Create(&r).Error; err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	return &r, nil
}

// Position returns the reservation's 1-indexed place in its title's
// queue. Advisory, recomputed on every read; zero for non-ACTIVE rows.
func (m *Manager) Position(ctx context.Context, r *model.Reservation) (int, error) {
	if r.Status != model.ReservationActive {
		return 0, nil
	}

	var ahead int64
	err := m.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("book_title_id = ? AND status = ?", r.BookTitleID, model.ReservationActive).
		Where("created_at < ? OR (created_at = ? AND id < ?)", r.CreatedAt, r.CreatedAt, r.ID).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return int(ahead) + 1, nil
}

// PositionForUser returns the user's queue position on a title, or nil
// when the user has no ACTIVE reservation there.
func (m *Manager) PositionForUser(ctx context.Context, userID, titleID int64) (*int, error) {
	var r model.Reservation
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND book_title_id = ? AND status = ?", userID, titleID, model.ReservationActive).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}

	pos, err := m.Position(ctx, &r)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// Promote offers a free copy of the title to the head of its queue.
// No-op when the queue is empty or no copy is free.
func (m *Manager) Promote(ctx context.Context, titleID int64) error {
	return m.ledger.InTitleTx(ctx, titleID, func(tx *gorm.DB) error {
		_, err := m.PromoteTx(tx, titleID, m.now())
		return err
	})
}

// PromoteTx performs one promotion inside an existing title transaction:
// the oldest ACTIVE reservation (CreatedAt, then ID) takes the freed copy
// and moves to ON_HOLD with a fresh expiry. Returns whether a promotion
// happened.
func (m *Manager) PromoteTx(tx *gorm.DB, titleID int64, now time.Time) (bool, error) {
	var r model.Reservation
	err := tx.Where("book_title_id = ? AND status = ?", titleID, model.ReservationActive).
		Order("created_at, id").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to select next reservation for title %d: %w", titleID, err)
	}

	expiresAt := now.Add(m.holdTTL)
	c, err := m.ledger.AssignHold(tx, titleID, r.ID, expiresAt)
	if errors.Is(err, ledger.ErrNoCopyAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.Status = model.ReservationOnHold
	r.HoldCopyID = &c.ID
	r.HoldExpiresAt = &expiresAt
	if err := tx.Save(&r).Error; err != nil {
		return false, fmt.Errorf("failed to mark reservation %d on hold: %w", r.ID, err)
	}
	return true, nil
}

// FulfilTx consumes the user's valid ON_HOLD reservation for the title,
// if any, and returns it with the held copy converted to LOANED. Returns
// nil when the user holds nothing claimable. Loan-service use only; runs
// inside the borrow transaction so the copy cannot be allocated twice.
func (m *Manager) FulfilTx(tx *gorm.DB, userID, titleID int64, now time.Time) (*model.Reservation, *model.BookCopy, error) {
	var r model.Reservation
	err := tx.Where("user_id = ? AND book_title_id = ? AND status = ?",
		userID, titleID, model.ReservationOnHold).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up hold: %w", err)
	}
	if r.HoldCopyID == nil || r.HoldExpiresAt == nil || !r.HoldExpiresAt.After(now) {
		// An expired hold is the sweep's business; borrow ignores it.
		return nil, nil, nil
	}

	c, err := m.ledger.ClaimHeld(tx, *r.HoldCopyID)
	if err != nil {
		return nil, nil, err
	}

	r.Status = model.ReservationFulfilled
	r.HoldCopyID = nil
	r.HoldExpiresAt = nil
	if err := tx.Save(&r).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to fulfil reservation %d: %w", r.ID, err)
	}
	return &r, c, nil
}

// ExpireOneTx expires the longest-overdue hold for the title inside an
// existing transaction and releases its copy, without promoting. Lets a
// borrow attempt notice a stale hold instead of waiting for the sweep.
// Returns whether a hold was expired.
func (m *Manager) ExpireOneTx(tx *gorm.DB, titleID int64, now time.Time) (bool, error) {
	var r model.Reservation
	err := tx.Where("book_title_id = ? AND status = ? AND hold_expires_at <= ?",
		titleID, model.ReservationOnHold, now).
		Order("hold_expires_at").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to scan for stale holds on title %d: %w", titleID, err)
	}

	if r.HoldCopyID != nil {
		if _, err := m.ledger.Release(tx, *r.HoldCopyID); err != nil {
			return false, err
		}
	}

	r.Status = model.ReservationExpired
	r.HoldCopyID = nil
	r.HoldExpiresAt = nil
	if err := tx.Save(&r).Error; err != nil {
		return false, fmt.Errorf("failed to expire reservation %d: %w", r.ID, err)
	}
	return true, nil
}

// ProcessHolds promotes as many ACTIVE reservations as free copies allow,
// across every title with a queue. Idempotent: a second run with no state
// change performs zero promotions.
func (m *Manager) ProcessHolds(ctx context.Context) (SweepResult, error) {
	var titleIDs []int64
	err := m.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("status = ?", model.ReservationActive).
		Distinct("book_title_id").
		Pluck("book_title_id", &titleIDs).Error
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list titles with active reservations: %w", err)
	}

	var result SweepResult
	for _, titleID := range titleIDs {
		err := m.ledger.InTitleTx(ctx, titleID, func(tx *gorm.DB) error {
			for {
				promoted, err := m.PromoteTx(tx, titleID, m.now())
				if err != nil {
					return err
				}
				if !promoted {
					return nil
				}
				result.Promoted++
			}
		})
		if err != nil {
			log.Printf("process-holds: title %d failed: %v", titleID, err)
			result.Failed++
		}
	}
	return result, nil
}

// ExpireHolds expires every ON_HOLD reservation whose window has passed,
// releases its copy, and immediately promotes the next in line for the
// same title. The promotion chain is bounded by the queue length: each
// expired hold frees exactly one copy and each promotion consumes one.
func (m *Manager) ExpireHolds(ctx context.Context) (SweepResult, error) {
	now := m.now()

	var candidates []model.Reservation
	err := m.db.WithContext(ctx).
		Where("status = ? AND hold_expires_at <= ?", model.ReservationOnHold, now).
		Order("hold_expires_at").
		Find(&candidates).Error
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list expired holds: %w", err)
	}

	var result SweepResult
	for _, candidate := range candidates {
		err := m.ledger.InTitleTx(ctx, candidate.BookTitleID, func(tx *gorm.DB) error {
			var r model.Reservation
			if err := tx.First(&r, candidate.ID).Error; err != nil {
				return fmt.Errorf("failed to reload reservation %d: %w", candidate.ID, err)
			}
			// The hold may have been consumed or cancelled since the
			// scan; skipping is a no-op, not an error.
			if r.Status != model.ReservationOnHold || r.HoldExpiresAt == nil || r.HoldExpiresAt.After(now) {
				return nil
			}

			if r.HoldCopyID != nil {
				if _, err := m.ledger.Release(tx, *r.HoldCopyID); err != nil {
					return err
				}
			}

			r.Status = model.ReservationExpired
			r.HoldCopyID = nil
			r.HoldExpiresAt = nil
			if err := tx.Save(&r).Error; err != nil {
				return fmt.Errorf("failed to expire reservation %d: %w", r.ID, err)
			}
			result.Expired++

			promoted, err := m.PromoteTx(tx, candidate.BookTitleID, now)
			if err != nil {
				return err
			}
			if promoted {
				result.Promoted++
			}
			return nil
		})
		if err != nil {
			log.Printf("expire-holds: reservation %d failed: %v", candidate.ID, err)
			result.Failed++
		}
	}
	return result, nil
}

// Cancel voids a non-terminal reservation. Cancelling an ON_HOLD
// reservation releases its copy and promotes the next user atomically
// with the cancellation, exactly like a timeout would.
func (m *Manager) Cancel(ctx context.Context, reservationID, userID int64, isAdmin bool) (*model.Reservation, error) {
	var probe model.Reservation
	err := m.db.WithContext(ctx).First(&probe, reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %d: %w", reservationID, err)
	}
	if !isAdmin && probe.UserID != userID {
		return nil, ErrNotOwner
	}

	var cancelled *model.Reservation
	err = m.ledger.InTitleTx(ctx, probe.BookTitleID, func(tx *gorm.DB) error {
		var r model.Reservation
		if err := tx.First(&r, reservationID).Error; err != nil {
			return fmt.Errorf("failed to reload reservation %d: %w", reservationID, err)
		}
		if r.Terminal() {
			return ErrTerminal
		}

		wasOnHold := r.Status == model.ReservationOnHold
		if wasOnHold && r.HoldCopyID != nil {
			if _, err := m.ledger.Release(tx, *r.HoldCopyID); err != nil {
				return err
			}
		}

		r.Status = model.ReservationCancelled
		r.HoldCopyID = nil
		r.HoldExpiresAt = nil
		if err := tx.Save(&r).Error; err != nil {
			return fmt.Errorf("failed to cancel reservation %d: %w", r.ID, err)
		}

		if wasOnHold {
			if _, err := m.PromoteTx(tx, r.BookTitleID, m.now()); err != nil {
				return err
			}
		}
		cancelled = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// ListByUser returns the user's reservations, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID int64) ([]model.Reservation, error) {
	var reservations []model.Reservation
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for user %d: %w", userID, err)
	}
	return reservations, nil
}
