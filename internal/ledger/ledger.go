package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"library-backend/internal/lock"
	"library-backend/internal/model"
)

var (
	// ErrNoCopyAvailable means every copy of the title is loaned or held.
	// Recoverable: the caller should take the reservation path.
	ErrNoCopyAvailable = errors.New("no copy available")

	// ErrCopyNotFound means the referenced copy does not exist.
	ErrCopyNotFound = errors.New("copy not found")

	// ErrCopyNotHeld means a hold consumption was attempted on a copy
	// that is not ON_HOLD.
	ErrCopyNotHeld = errors.New("copy is not on hold")

	// ErrStoreBusy means the transaction kept failing on transient
	// conflicts and the bounded retries ran out.
	ErrStoreBusy = errors.New("store busy, retry later")
)

// Counts is the per-title copy breakdown. Available+Loaned+OnHold == Total.
type Counts struct {
	Total     int64 `json:"total_copies"`
	Available int64 `json:"available_copies"`
	Loaned    int64 `json:"loaned_copies"`
	OnHold    int64 `json:"on_hold_copies"`
}

// Invalidator receives cache-invalidation signals for a title.
type Invalidator interface {
	Invalidate(titleID int64)
}

// Ledger owns all copy state transitions. The individual operations run
// inside a transaction supplied by InTitleTx, which serializes work per
// title so two concurrent claims can never take the same copy.
type Ledger struct {
	db         *gorm.DB
	locks      *lock.KeyedMutex
	inv        Invalidator
	maxRetries int
	backoff    time.Duration
}

// New creates a Ledger over the given database.
func New(db *gorm.DB, locks *lock.KeyedMutex) *Ledger {
	return &Ledger{
		db:         db,
		locks:      locks,
		maxRetries: 3,
		backoff:    25 * time.Millisecond,
	}
}

// SetInvalidator wires the availability cache. Optional; without it
// mutations simply skip the invalidation signal.
func (l *Ledger) SetInvalidator(inv Invalidator) {
	l.inv = inv
}

// InTitleTx runs fn in a transaction under the title's mutex, retrying a
// bounded number of times on transient store conflicts. On commit the
// title's cache entry is invalidated before control returns, so no reader
// observes counters that predate the mutation.
func (l *Ledger) InTitleTx(ctx context.Context, titleID int64, fn func(tx *gorm.DB) error) error {
	l.locks.Lock(titleID)
	defer l.locks.Unlock(titleID)

	var err error
	for attempt := 0; ; attempt++ {
		err = l.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			if l.inv != nil {
				l.inv.Invalidate(titleID)
			}
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= l.maxRetries {
			return fmt.Errorf("%w: %v", ErrStoreBusy, err)
		}
		time.Sleep(l.backoff << attempt)
	}
}

// retryable reports whether the error is a transient store conflict worth
// retrying (lock contention, serialization failure, sqlite busy).
func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"deadlock",
		"could not serialize",
		"lock timeout",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Claim takes the oldest AVAILABLE copy of the title and marks it LOANED.
func (l *Ledger) Claim(tx *gorm.DB, titleID int64) (*model.BookCopy, error) {
	var c model.BookCopy
	err := tx.Where("book_title_id = ? AND status = ?", titleID, model.CopyAvailable).
		Order("id").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCopyAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select available copy for title %d: %w", titleID, err)
	}

	c.Status = model.CopyLoaned
	c.HoldReservationID = nil
	c.HoldExpiresAt = nil
	if err := tx.Save(&c).Error; err != nil {
		return nil, fmt.Errorf("failed to claim copy %d: %w", c.ID, err)
	}
	return &c, nil
}

// ClaimHeld converts an ON_HOLD copy to LOANED. Used when a borrow
// consumes the borrower's own hold instead of taking a fresh copy.
func (l *Ledger) ClaimHeld(tx *gorm.DB, copyID int64) (*model.BookCopy, error) {
	c, err := l.getCopy(tx, copyID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CopyOnHold {
		return nil, ErrCopyNotHeld
	}

	c.Status = model.CopyLoaned
	c.HoldReservationID = nil
	c.HoldExpiresAt = nil
	if err := tx.Save(c).Error; err != nil {
		return nil, fmt.Errorf("failed to claim held copy %d: %w", c.ID, err)
	}
	return c, nil
}

// Release puts a copy back in circulation. This is the only path through
// which a LOANED or ON_HOLD copy becomes AVAILABLE again.
func (l *Ledger) Release(tx *gorm.DB, copyID int64) (*model.BookCopy, error) {
	c, err := l.getCopy(tx, copyID)
	if err != nil {
		return nil, err
	}

	c.Status = model.CopyAvailable
	c.HoldReservationID = nil
	c.HoldExpiresAt = nil
	if err := tx.Save(c).Error; err != nil {
		return nil, fmt.Errorf("failed to release copy %d: %w", c.ID, err)
	}
	return c, nil
}

// AssignHold marks the oldest AVAILABLE copy of the title ON_HOLD for the
// given reservation. Queue-manager use only.
func (l *Ledger) AssignHold(tx *gorm.DB, titleID, reservationID int64, expiresAt time.Time) (*model.BookCopy, error) {
	var c model.BookCopy
	err := tx.Where("book_title_id = ? AND status = ?", titleID, model.CopyAvailable).
		Order("id").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCopyAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select available copy for title %d: %w", titleID, err)
	}

	c.Status = model.CopyOnHold
	c.HoldReservationID = &reservationID
	c.HoldExpiresAt = &expiresAt
	if err := tx.Save(&c).Error; err != nil {
		return nil, fmt.Errorf("failed to hold copy %d: %w", c.ID, err)
	}
	return &c, nil
}

// Counts returns the copy breakdown for a title straight from the store.
// This is the source of truth the availability cache recomputes from.
func (l *Ledger) Counts(ctx context.Context, titleID int64) (Counts, error) {
	var rows []struct {
		Status model.CopyStatus
		N      int64
	}
	err := l.db.WithContext(ctx).Model(&model.BookCopy{}).
		Select("status, count(*) as n").
		Where("book_title_id = ?", titleID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count copies for title %d: %w", titleID, err)
	}

	var counts Counts
	for _, r := range rows {
		switch r.Status {
		case model.CopyAvailable:
			counts.Available = r.N
		case model.CopyLoaned:
			counts.Loaned = r.N
		case model.CopyOnHold:
			counts.OnHold = r.N
		}
		counts.Total += r.N
	}
	return counts, nil
}

func (l *Ledger) getCopy(tx *gorm.DB, copyID int64) (*model.BookCopy, error) {
	var c model.BookCopy
	err := tx.First(&c, copyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCopyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load copy %d: %w", copyID, err)
	}
	return &c, nil
}
