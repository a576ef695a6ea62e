// Package loan orchestrates borrow, renew and return against the copy
// ledger, the reservation queue and the fine calculator.
package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"library-backend/internal/fine"
	"library-backend/internal/ledger"
	"library-backend/internal/model"
	"library-backend/internal/reservation"
)

var (
	// ErrNotFound means the referenced loan does not exist.
	ErrNotFound = errors.New("loan not found")

	// ErrNotOwner means the caller does not own the loan.
	ErrNotOwner = errors.New("caller does not own this loan")

	// ErrAlreadyReturned means the loan reached its terminal state.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrRenewalLimit means the loan used up its renewals.
	ErrRenewalLimit = errors.New("renewal limit exceeded")

	// ErrOverdue means an overdue loan cannot be renewed.
	ErrOverdue = errors.New("overdue loan cannot be renewed")

	// ErrTitleReserved means renewals are blocked while other users wait
	// for the title.
	ErrTitleReserved = errors.New("title has pending reservations")

	// ErrActiveLoanLimit means the user hit the active-loan cap.
	ErrActiveLoanLimit = errors.New("active loan limit reached")
)

// Config carries the lending business rules.
type Config struct {
	Period          time.Duration
	MaxRenewals     int
	MaxActiveLoans  int
	FinePerDayCents int64
}

// Service is the loan orchestrator.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	queue  *reservation.Manager
	cfg    Config

	now func() time.Time
}

// NewService creates a loan service.
func NewService(db *gorm.DB, l *ledger.Ledger, q *reservation.Manager, cfg Config) *Service {
	return &Service{
		db:     db,
		ledger: l,
		queue:  q,
		cfg:    cfg,
		now:    time.Now,
	}
}

// BorrowResult distinguishes the three non-error outcomes of a borrow:
// a loan was issued; the title was exhausted and the caller was enrolled
// in the queue; or the caller was already enrolled.
type BorrowResult struct {
	Loan        *model.Loan
	Reservation *model.Reservation
	Enrolled    bool // reservation newly created by this call
}

// Borrow issues a loan of the title to the user. A valid hold belonging
// to the user is consumed in preference to a fresh claim; with no copy
// free the user is enrolled in the title's queue instead.
func (s *Service) Borrow(ctx context.Context, userID, titleID int64) (*BorrowResult, error) {
	result := &BorrowResult{}
	err := s.ledger.InTitleTx(ctx, titleID, func(tx *gorm.DB) error {
		now := s.now()

		var active int64
		err := tx.Model(&model.Loan{}).
			Where("user_id = ? AND status = ?", userID, model.LoanActive).
			Count(&active).Error
		if err != nil {
			return fmt.Errorf("failed to count active loans for user %d: %w", userID, err)
		}
		if active >= int64(s.cfg.MaxActiveLoans) {
			return ErrActiveLoanLimit
		}

		// The user's own hold wins over a fresh claim; the held copy is
		// reused, never double-allocated.
		_, c, err := s.queue.FulfilTx(tx, userID, titleID, now)
		if err != nil {
			return err
		}

		if c == nil {
			c, err = s.ledger.Claim(tx, titleID)
			if errors.Is(err, ledger.ErrNoCopyAvailable) {
				// A stale hold counts as a free copy: expire it, give the
				// queue first refusal, then try once more.
				expired, expErr := s.queue.ExpireOneTx(tx, titleID, now)
				if expErr != nil {
					return expErr
				}
				if expired {
					if _, expErr = s.queue.PromoteTx(tx, titleID, now); expErr != nil {
						return expErr
					}
					c, err = s.ledger.Claim(tx, titleID)
				}
			}
			if errors.Is(err, ledger.ErrNoCopyAvailable) {
				return s.enrollExhausted(tx, userID, titleID, result)
			}
			if err != nil {
				return err
			}
		}

		l := model.Loan{
			UserID:      userID,
			BookCopyID:  c.ID,
			BookTitleID: titleID,
			Status:      model.LoanActive,
			LoanedAt:    now,
			DueDate:     now.Add(s.cfg.Period),
		}
		if err := tx.Create(&l).Error; err != nil {
			return fmt.Errorf("failed to create loan: %w", err)
		}
		result.Loan = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// enrollExhausted queues the user on a title with no free copy. An
// existing non-terminal reservation is surfaced instead of an error so
// the commit still lands.
func (s *Service) enrollExhausted(tx *gorm.DB, userID, titleID int64, result *BorrowResult) error {
	r, err := s.queue.EnrollTx(tx, userID, titleID)
	if errors.Is(err, reservation.ErrAlreadyReserved) {
		var existing model.Reservation
		findErr := tx.Where("user_id = ? AND book_title_id = ? AND status IN ?",
			userID, titleID,
			[]model.ReservationStatus{model.ReservationActive, model.ReservationOnHold}).
			First(&existing).Error
		if findErr != nil {
			return fmt.Errorf("failed to load existing reservation: %w", findErr)
		}
		result.Reservation = &existing
		return nil
	}
	if err != nil {
		return err
	}
	result.Reservation = r
	result.Enrolled = true
	return nil
}

// RenewResult reports the due-date extension.
type RenewResult struct {
	Loan            *model.Loan
	PreviousDueDate time.Time
	NewDueDate      time.Time
}

// Renew extends an ACTIVE loan by one period. Blocked when the loan is
// overdue, out of renewals, or other users are queued for the title.
func (s *Service) Renew(ctx context.Context, loanID, userID int64) (*RenewResult, error) {
	probe, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	var result *RenewResult
	err = s.ledger.InTitleTx(ctx, probe.BookTitleID, func(tx *gorm.DB) error {
		var l model.Loan
		if err := tx.First(&l, loanID).Error; err != nil {
			return fmt.Errorf("failed to reload loan %d: %w", loanID, err)
		}
		if l.UserID != userID {
			return ErrNotOwner
		}
		if l.Status != model.LoanActive {
			return ErrAlreadyReturned
		}
		if l.RenewalsCount >= s.cfg.MaxRenewals {
			return ErrRenewalLimit
		}

		now := s.now()
		if now.After(l.DueDate) {
			return ErrOverdue
		}

		var pending int64
		err := tx.Model(&model.Reservation{}).
			Where("book_title_id = ? AND status IN ?", l.BookTitleID,
				[]model.ReservationStatus{model.ReservationActive, model.ReservationOnHold}).
			Count(&pending).Error
		if err != nil {
			return fmt.Errorf("failed to count pending reservations: %w", err)
		}
		if pending > 0 {
			return ErrTitleReserved
		}

		previous := l.DueDate
		l.DueDate = l.DueDate.Add(s.cfg.Period)
		l.RenewalsCount++
		if err := tx.Save(&l).Error; err != nil {
			return fmt.Errorf("failed to renew loan %d: %w", l.ID, err)
		}

		result = &RenewResult{Loan: &l, PreviousDueDate: previous, NewDueDate: l.DueDate}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReturnResult reports the settled loan and any fine.
type ReturnResult struct {
	Loan        *model.Loan
	DaysOverdue int
	FineCents   int64
}

// Return settles the loan: RETURNED is recorded with any fine, the copy
// goes back through the ledger, and the next queued reservation is
// promoted — all before this call returns, so the caller's next
// availability read reflects the post-return state.
func (s *Service) Return(ctx context.Context, loanID, userID int64) (*ReturnResult, error) {
	probe, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	var result *ReturnResult
	err = s.ledger.InTitleTx(ctx, probe.BookTitleID, func(tx *gorm.DB) error {
		var l model.Loan
		if err := tx.First(&l, loanID).Error; err != nil {
			return fmt.Errorf("failed to reload loan %d: %w", loanID, err)
		}
		if l.UserID != userID {
			return ErrNotOwner
		}
		if l.Status != model.LoanActive {
			return ErrAlreadyReturned
		}

		now := s.now()
		days, cents := fine.Calculate(l.DueDate, now, s.cfg.FinePerDayCents)

		l.Status = model.LoanReturned
		l.ReturnedAt = &now
		l.FineCents = &cents
		if err := tx.Save(&l).Error; err != nil {
			return fmt.Errorf("failed to settle loan %d: %w", l.ID, err)
		}

		if _, err := s.ledger.Release(tx, l.BookCopyID); err != nil {
			return err
		}
		if _, err := s.queue.PromoteTx(tx, l.BookTitleID, now); err != nil {
			return err
		}

		result = &ReturnResult{Loan: &l, DaysOverdue: days, FineCents: cents}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListByUser returns the user's loans, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]model.Loan, error) {
	var loans []model.Loan
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("loaned_at DESC, id DESC").
		Find(&loans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for user %d: %w", userID, err)
	}
	return loans, nil
}

func (s *Service) getLoan(ctx context.Context, loanID int64) (*model.Loan, error) {
	var l model.Loan
	err := s.db.WithContext(ctx).First(&l, loanID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan %d: %w", loanID, err)
	}
	return &l, nil
}
