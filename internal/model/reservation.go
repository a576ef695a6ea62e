package model

import "time"

// ReservationStatus is the queue state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationOnHold    ReservationStatus = "ON_HOLD"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is one user's place in a title's FIFO wait list. Promotion
// order is (CreatedAt, ID); HoldCopyID and HoldExpiresAt are set exactly
// while the reservation is ON_HOLD.
type Reservation struct {
	ID            int64             `gorm:"primaryKey"`
	UserID        int64             `gorm:"index;not null"`
	BookTitleID   int64             `gorm:"index;not null"`
	Status        ReservationStatus `gorm:"size:16;not null;index"`
	HoldCopyID    *int64
	HoldExpiresAt *time.Time `gorm:"index"`
	CreatedAt     time.Time  `gorm:"not null;index"`
	UpdatedAt     time.Time  `gorm:"not null"`
}

// Terminal reports whether the reservation has left the queue for good.
func (r *Reservation) Terminal() bool {
	switch r.Status {
	case ReservationFulfilled, ReservationExpired, ReservationCancelled:
		return true
	}
	return false
}
