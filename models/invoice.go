package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/utils"
)

// InvoiceStatus is the edit state of a monthly invoice.
type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "draft"
	InvoiceFinal InvoiceStatus = "final"
)

// ParseInvoiceStatus rejects anything outside the closed set.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch st := InvoiceStatus(s); st {
	case InvoiceDraft, InvoiceFinal:
		return st, nil
	}
	return "", fmt.Errorf("invoice status %q: %w", s, utils.ErrInvalidEnum)
}

// Invoice is a tenant's monthly utility and rent bill. TotalDue is the signed
// sum of its parts and is never clamped; a negative total sets NeedsReview.
type Invoice struct {
	ID                uint            `gorm:"primaryKey" json:"billing_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	UnitID            uint            `gorm:"index;not null" json:"unit_id"`
	BillingPeriodID   uint            `gorm:"uniqueIndex;not null" json:"billing_period_id"`
	PeriodStart       time.Time       `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time       `gorm:"not null" json:"period_end"`
	WaterAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"water_amount"`
	ElectricityAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"electricity_amount"`
	RentAmount        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"rent_amount"`
	AssocDues         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"assoc_dues"`
	LateFee           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"late_fee"`
	PenaltyAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"penalty_amount"`
	DiscountAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	TotalDue          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_due"`
	Status            InvoiceStatus   `gorm:"size:10;not null;default:'draft'" json:"status"`
	NeedsReview       bool            `gorm:"not null;default:false" json:"needs_review"`
	DueDate           *time.Time      `json:"due_date"`
	FinalizedAt       *time.Time      `json:"finalized_at,omitempty"`
}

// TableName overrides the table name
func (Invoice) TableName() string {
	return "invoices"
}

// IsFinal reports whether the invoice can no longer be edited.
func (i Invoice) IsFinal() bool {
	return i.Status == InvoiceFinal
}
