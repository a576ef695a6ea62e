package model

import "time"

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
)

// Loan records one borrowing of one copy. RETURNED is terminal; rows are
// never deleted so history stays queryable. BookTitleID is denormalized
// from the copy so per-title queries (renewal blocking, expected
// availability) avoid a join.
type Loan struct {
	ID            int64      `gorm:"primaryKey"`
	UserID        int64      `gorm:"index;not null"`
	BookCopyID    int64      `gorm:"index;not null"`
	BookTitleID   int64      `gorm:"index;not null"`
	Status        LoanStatus `gorm:"size:16;not null;index"`
	LoanedAt      time.Time  `gorm:"not null"`
	DueDate       time.Time  `gorm:"not null"`
	RenewalsCount int        `gorm:"not null;default:0"`
	ReturnedAt    *time.Time
	FineCents     *int64
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// Overdue reports whether the loan is past due at the given instant.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == LoanActive && now.After(l.DueDate)
}
