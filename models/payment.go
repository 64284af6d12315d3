package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods recorded on the settlement trail.
const (
	MethodGateway = "gateway"
	MethodManual  = "manual"
	MethodStellar = "stellar"
)

// Payment is the audit trail of a settlement. Reference is the gateway
// reference number or on-chain hash. One gateway checkout can settle several
// kinds, so a reference is unique per kind.
type Payment struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	AgreementID uint            `gorm:"index;not null" json:"agreement_id"`
	Kind        ObligationKind  `gorm:"uniqueIndex:ux_payment_reference_kind,priority:2;size:20;not null" json:"kind"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency    string          `gorm:"size:10;not null;default:'PHP'" json:"currency"`
	Method      string          `gorm:"size:20;not null" json:"method"` // gateway, manual, stellar
	Reference   *string         `gorm:"uniqueIndex:ux_payment_reference_kind,priority:1;size:100" json:"reference,omitempty"`
	PaidAt      time.Time       `gorm:"not null" json:"paid_at"`
}

// TableName overrides the table name
func (Payment) TableName() string {
	return "payments"
}
