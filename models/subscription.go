package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/utils"
)

// Subscription rows are never deleted; inactive rows are the history that
// proration lookups and audits read from.
type Subscription struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	LandlordID uint             `gorm:"index;uniqueIndex:ux_subscriptions_one_active,where:is_active = true;not null" json:"landlord_id"`
	PlanID     uint             `gorm:"not null" json:"plan_id"`
	Plan       SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	IsActive   bool             `gorm:"index;not null;default:false" json:"is_active"`
	IsTrial    bool             `gorm:"not null;default:false" json:"is_trial"`
	StartDate  time.Time        `gorm:"not null" json:"start_date"`
	EndDate    time.Time        `gorm:"not null" json:"end_date"`
	AmountPaid decimal.Decimal  `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	QuoteToken string           `gorm:"size:36;index" json:"quote_token,omitempty"`
}

// TableName overrides the table name
func (Subscription) TableName() string {
	return "subscriptions"
}

// QuoteRoute says how a quoted plan change must be committed.
type QuoteRoute string

const (
	RouteNoop  QuoteRoute = "noop"
	RouteFree  QuoteRoute = "free"
	RouteTrial QuoteRoute = "trial"
	RoutePaid  QuoteRoute = "paid"
)

// ParseQuoteRoute rejects anything outside the closed set.
func ParseQuoteRoute(s string) (QuoteRoute, error) {
	switch r := QuoteRoute(s); r {
	case RouteNoop, RouteFree, RouteTrial, RoutePaid:
		return r, nil
	}
	return "", fmt.Errorf("quote route %q: %w", s, utils.ErrInvalidEnum)
}

// ProrationQuote is the server-held side of a quote token. It records the
// plan and rate state the amount was computed from so a later commit can
// detect that the basis moved.
type ProrationQuote struct {
	Token            string          `gorm:"primaryKey;size:36" json:"quote_token"`
	CreatedAt        time.Time       `json:"created_at"`
	LandlordID       uint            `gorm:"index;not null" json:"landlord_id"`
	TargetPlanID     uint            `gorm:"not null" json:"target_plan_id"`
	TargetPrice      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"target_price"`
	CurrentPlanID    *uint           `json:"current_plan_id,omitempty"`
	CurrentEndDate   *time.Time      `json:"current_end_date,omitempty"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Route            QuoteRoute      `gorm:"size:10;not null" json:"route"`
	ExpiresAt        time.Time       `gorm:"not null" json:"expires_at"`
	ConsumedAt       *time.Time      `json:"consumed_at,omitempty"`
	GatewayReference string          `gorm:"size:64;index" json:"gateway_reference,omitempty"`
}

// TableName overrides the table name
func (ProrationQuote) TableName() string {
	return "proration_quotes"
}

// RequiresTrial reports whether the quote routes to trial activation.
func (q ProrationQuote) RequiresTrial() bool {
	return q.Route == RouteTrial
}
