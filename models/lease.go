package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/utils"
)

// LeaseAgreement is the signed lease whose up-front payments gate portal access.
type LeaseAgreement struct {
	ID              uint            `gorm:"primaryKey" json:"agreement_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	TenantID        uint            `gorm:"index;not null" json:"tenant_id"`
	UnitID          uint            `gorm:"index;not null" json:"unit_id"`
	SecurityDeposit decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"sec_deposit"`
	AdvancePayment  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"advanced_payment"`
}

// TableName overrides the table name
func (LeaseAgreement) TableName() string {
	return "lease_agreements"
}

// ObligationKind is a required one-time lease payment.
type ObligationKind string

const (
	KindSecurityDeposit ObligationKind = "security_deposit"
	KindAdvancePayment  ObligationKind = "advance_payment"
)

// ObligationKinds lists every kind in a stable order.
var ObligationKinds = []ObligationKind{KindSecurityDeposit, KindAdvancePayment}

// ParseObligationKind rejects anything outside the closed set.
func ParseObligationKind(s string) (ObligationKind, error) {
	switch k := ObligationKind(s); k {
	case KindSecurityDeposit, KindAdvancePayment:
		return k, nil
	}
	return "", fmt.Errorf("obligation kind %q: %w", s, utils.ErrInvalidEnum)
}

// AmountFor returns the lease amount owed for a kind.
func (l LeaseAgreement) AmountFor(kind ObligationKind) decimal.Decimal {
	switch kind {
	case KindSecurityDeposit:
		return l.SecurityDeposit
	case KindAdvancePayment:
		return l.AdvancePayment
	}
	return decimal.Zero
}

// ObligationState is derived from the IsPaid and ProofPending flags.
type ObligationState string

const (
	StateUnpaid         ObligationState = "unpaid"
	StateProofSubmitted ObligationState = "proof_submitted"
	StatePaid           ObligationState = "paid"
)

// PaymentObligation moves unpaid -> proof_submitted -> paid (manual proof) or
// unpaid -> paid (gateway). Paid is final.
type PaymentObligation struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	AgreementID  uint            `gorm:"uniqueIndex:ux_obligation_agreement_kind,priority:1;not null" json:"agreement_id"`
	Kind         ObligationKind  `gorm:"uniqueIndex:ux_obligation_agreement_kind,priority:2;size:20;not null" json:"kind"`
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	IsPaid       bool            `gorm:"not null;default:false" json:"is_paid"`
	ProofPending bool            `gorm:"not null;default:false" json:"proof_pending"`
	ProofRef     string          `gorm:"size:500" json:"proof_ref,omitempty"`
	Reference    string          `gorm:"size:100;index" json:"reference,omitempty"`
	PaidAt       *time.Time      `json:"paid_at,omitempty"`
}

// TableName overrides the table name
func (PaymentObligation) TableName() string {
	return "payment_obligations"
}

// State derives the state machine position from the stored flags.
func (o PaymentObligation) State() ObligationState {
	switch {
	case o.IsPaid:
		return StatePaid
	case o.ProofPending:
		return StateProofSubmitted
	}
	return StateUnpaid
}

// LeaseCheckout is one gateway checkout opened for a lease. The covered
// obligations and the total are fixed when it is opened; a webhook for the
// reference must pay exactly Total. A lease may have several checkouts.
type LeaseCheckout struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Reference   string              `gorm:"uniqueIndex;size:100;not null" json:"reference"`
	AgreementID uint                `gorm:"index;not null" json:"agreement_id"`
	Total       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"total"`
	SettledAt   *time.Time          `json:"settled_at,omitempty"`
	Items       []LeaseCheckoutItem `gorm:"foreignKey:CheckoutID" json:"items"`
}

// TableName overrides the table name
func (LeaseCheckout) TableName() string {
	return "lease_checkouts"
}

// Kinds lists the obligations the checkout covers.
func (c LeaseCheckout) Kinds() []ObligationKind {
	kinds := make([]ObligationKind, 0, len(c.Items))
	for _, item := range c.Items {
		kinds = append(kinds, item.Kind)
	}
	return kinds
}

// LeaseCheckoutItem is one obligation covered by a checkout, at the amount
// owed when the checkout was opened.
type LeaseCheckoutItem struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	CheckoutID uint            `gorm:"uniqueIndex:ux_checkout_item_kind,priority:1;not null" json:"checkout_id"`
	Kind       ObligationKind  `gorm:"uniqueIndex:ux_checkout_item_kind,priority:2;size:20;not null" json:"kind"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
}

// TableName overrides the table name
func (LeaseCheckoutItem) TableName() string {
	return "lease_checkout_items"
}
