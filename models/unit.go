package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/utils"
)

// UtilityType is a metered utility.
type UtilityType string

const (
	UtilityWater       UtilityType = "water"
	UtilityElectricity UtilityType = "electricity"
)

// ParseUtilityType rejects anything outside the closed set.
func ParseUtilityType(s string) (UtilityType, error) {
	switch u := UtilityType(s); u {
	case UtilityWater, UtilityElectricity:
		return u, nil
	}
	return "", fmt.Errorf("utility type %q: %w", s, utils.ErrInvalidEnum)
}

// Unit carries the fixed monthly charges of a rental unit.
type Unit struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	PropertyID uint            `gorm:"index;not null" json:"property_id"`
	Name       string          `gorm:"size:100" json:"name"`
	RentAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"rent_amount"`
	AssocDues  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"assoc_dues"`
	LateFee    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"late_fee"`
}

// TableName overrides the table name
func (Unit) TableName() string {
	return "units"
}

// UtilityRate is the per-unit-of-consumption rate a concessionaire billed a
// property for one month.
type UtilityRate struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	PropertyID    uint            `gorm:"uniqueIndex:ux_rate_property_period_type,priority:1;not null" json:"property_id"`
	BillingPeriod time.Time       `gorm:"uniqueIndex:ux_rate_property_period_type,priority:2;not null" json:"billing_period"`
	UtilityType   UtilityType     `gorm:"uniqueIndex:ux_rate_property_period_type,priority:3;size:16;not null" json:"utility_type"`
	Rate          decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"rate"`
}

// TableName overrides the table name
func (UtilityRate) TableName() string {
	return "utility_rates"
}
