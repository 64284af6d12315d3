package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod is one calendar month of billing for a unit. It is frozen
// once its invoice is final.
type BillingPeriod struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UnitID      uint      `gorm:"uniqueIndex:ux_period_unit_start,priority:1;not null" json:"unit_id"`
	PeriodStart time.Time `gorm:"uniqueIndex:ux_period_unit_start,priority:2;not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`
}

// TableName overrides the table name
func (BillingPeriod) TableName() string {
	return "billing_periods"
}

// MeterReading is the recorded reading pair an invoice was computed from.
type MeterReading struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	BillingPeriodID uint            `gorm:"uniqueIndex:ux_reading_period_type,priority:1;not null" json:"billing_period_id"`
	UtilityType     UtilityType     `gorm:"uniqueIndex:ux_reading_period_type,priority:2;size:16;not null" json:"utility_type"`
	UnitID          uint            `gorm:"index;not null" json:"unit_id"`
	PreviousReading decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"previous_reading"`
	CurrentReading  decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"current_reading"`
}

// TableName overrides the table name
func (MeterReading) TableName() string {
	return "meter_readings"
}
