package model

import "time"

// Roles recognized by the API layer. Account management itself lives
// outside this service; rows exist so ownership checks and foreign keys
// resolve.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User identifies a borrower.
type User struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"size:256;not null"`
	Email     string    `gorm:"uniqueIndex;size:256;not null"`
	Role      string    `gorm:"size:32;not null;default:member"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
