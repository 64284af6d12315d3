package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnlimitedListings marks a plan without a listing cap.
const UnlimitedListings = -1

// SubscriptionPlan is static reference data seeded at startup.
type SubscriptionPlan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Name         string          `gorm:"uniqueIndex;size:64;not null" json:"name"`
	MonthlyPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"monthly_price"`
	TrialDays    int             `gorm:"not null;default:0" json:"trial_days"`
	ListingLimit int             `gorm:"not null" json:"listing_limit"`
}

// TableName overrides the table name
func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

// IsFree reports whether the plan costs nothing.
func (p SubscriptionPlan) IsFree() bool {
	return p.MonthlyPrice.IsZero()
}

// Unlimited reports whether the plan has no listing cap.
func (p SubscriptionPlan) Unlimited() bool {
	return p.ListingLimit == UnlimitedListings
}

// DefaultPlans is the catalog seeded into an empty database.
func DefaultPlans() []SubscriptionPlan {
	return []SubscriptionPlan{
		{ID: 1, Name: "Free Plan", MonthlyPrice: decimal.Zero, TrialDays: 0, ListingLimit: 2},
		{ID: 2, Name: "Standard Plan", MonthlyPrice: decimal.NewFromInt(500), TrialDays: 10, ListingLimit: 10},
		{ID: 3, Name: "Premium Plan", MonthlyPrice: decimal.NewFromInt(1000), TrialDays: 14, ListingLimit: UnlimitedListings},
	}
}
