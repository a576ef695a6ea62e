package model

import "time"

// CopyStatus is the circulation state of a physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyLoaned    CopyStatus = "LOANED"
	CopyOnHold    CopyStatus = "ON_HOLD"
)

// BookTitle represents a catalog title. Catalog CRUD is handled elsewhere;
// the engine only reads titles and mutates their copies.
type BookTitle struct {
	ID        int64     `gorm:"primaryKey"`
	Title     string    `gorm:"size:512;not null"`
	Author    string    `gorm:"size:256;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Copies []BookCopy `gorm:"foreignKey:BookTitleID"`
}

// BookCopy is one circulating unit of a title. Status transitions happen
// only through the ledger; HoldReservationID and HoldExpiresAt are set
// exactly while the copy is ON_HOLD.
type BookCopy struct {
	ID                int64      `gorm:"primaryKey"`
	BookTitleID       int64      `gorm:"index;not null"`
	Status            CopyStatus `gorm:"size:16;not null;index"`
	HoldReservationID *int64
	HoldExpiresAt     *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}
