package models

import (
	"time"

	"gorm.io/gorm"
)

// Roles carried in bearer tokens.
const (
	RoleLandlord = "landlord"
	RoleTenant   = "tenant"
	RoleAdmin    = "admin"
)

type User struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Email          string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name           string         `gorm:"size:255;not null" json:"name"`
	PasswordHash   string         `gorm:"size:255;not null" json:"-"`
	Role           string         `gorm:"size:20;default:'tenant'" json:"role"` // landlord, tenant, admin
	StellarAddress string         `gorm:"size:56" json:"stellar_address,omitempty"`
	IsActive       bool           `gorm:"default:true" json:"is_active"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// Landlord holds the per-landlord flags the subscription ledger consults.
type Landlord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UserID      uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	IsTrialUsed bool      `gorm:"not null;default:false" json:"is_trial_used"`
}

// TableName overrides the table name
func (Landlord) TableName() string {
	return "landlords"
}
