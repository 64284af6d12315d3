// Package settlement tracks the up-front payments a signed lease requires
// and whether they are all paid.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Receipt describes how an obligation was paid.
type Receipt struct {
	Method    string
	Reference string
}

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: db, now: clock}
}

// CreateObligations opens one unpaid obligation per kind the lease charges.
// Calling it again leaves existing rows untouched.
func (s *Service) CreateObligations(ctx context.Context, agreementID uint) ([]models.PaymentObligation, error) {
	lease, err := s.lease(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	for _, kind := range models.ObligationKinds {
		amount := lease.AmountFor(kind)
		if !amount.IsPositive() {
			continue
		}
		row := models.PaymentObligation{AgreementID: agreementID, Kind: kind, Amount: amount}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		if err != nil {
			return nil, fmt.Errorf("create %s obligation: %w", kind, err)
		}
	}
	return s.Obligations(ctx, agreementID)
}

// MarkProofSubmitted records a tenant-uploaded proof of payment. On an
// already paid obligation it returns the obligation together with
// ErrAlreadySettled, which callers treat as a no-op.
func (s *Service) MarkProofSubmitted(ctx context.Context, agreementID uint, kind models.ObligationKind, proofRef string) (*models.PaymentObligation, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, fmt.Errorf("proof reference is required: %w", utils.ErrInvalidInput)
	}
	res := s.db.WithContext(ctx).Model(&models.PaymentObligation{}).
		Where("agreement_id = ? AND kind = ? AND is_paid = ? AND proof_pending = ?", agreementID, kind, false, false).
		Updates(map[string]interface{}{"proof_pending": true, "proof_ref": proofRef})
	if res.Error != nil {
		return nil, fmt.Errorf("record proof: %w", res.Error)
	}

	ob, err := s.Obligation(ctx, agreementID, kind)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		switch ob.State() {
		case models.StatePaid:
			return ob, fmt.Errorf("%s for agreement %d: %w", kind, agreementID, utils.ErrAlreadySettled)
		case models.StateProofSubmitted:
			return nil, fmt.Errorf("%s for agreement %d already has a proof under review: %w", kind, agreementID, utils.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("%s for agreement %d changed concurrently: %w", kind, agreementID, utils.ErrInvalidTransition)
	}

	utils.Logger.WithFields(logrus.Fields{"agreement_id": agreementID, "kind": kind}).Info("Payment proof submitted")
	return ob, nil
}

// ConfirmPayment marks an obligation paid. Confirming a paid obligation
// returns it unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, agreementID uint, kind models.ObligationKind, receipt Receipt) (*models.PaymentObligation, error) {
	if receipt.Method == "" {
		receipt.Method = models.MethodManual
	}
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentObligation{}).
			Where("agreement_id = ? AND kind = ? AND is_paid = ?", agreementID, kind, false).
			Updates(map[string]interface{}{
				"is_paid":       true,
				"proof_pending": false,
				"reference":     receipt.Reference,
				"paid_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("confirm payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var ob models.PaymentObligation
		if err := tx.Where("agreement_id = ? AND kind = ?", agreementID, kind).First(&ob).Error; err != nil {
			return fmt.Errorf("reload obligation: %w", err)
		}
		payment := models.Payment{
			AgreementID: agreementID,
			Kind:        kind,
			Amount:      ob.Amount,
			Currency:    "PHP",
			Method:      receipt.Method,
			PaidAt:      now,
		}
		if receipt.Reference != "" {
			ref := receipt.Reference
			payment.Reference = &ref
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&payment).Error; err != nil {
			return fmt.Errorf("record payment: %w", err)
		}

		utils.Logger.WithFields(logrus.Fields{
			"agreement_id": agreementID,
			"kind":         kind,
			"method":       receipt.Method,
			"amount":       utils.FormatMoney(ob.Amount),
		}).Info("Payment confirmed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Obligation(ctx, agreementID, kind)
}

// RejectProof returns an obligation under review to unpaid so the tenant
// can upload a new proof.
func (s *Service) RejectProof(ctx context.Context, agreementID uint, kind models.ObligationKind) (*models.PaymentObligation, error) {
	res := s.db.WithContext(ctx).Model(&models.PaymentObligation{}).
		Where("agreement_id = ? AND kind = ? AND is_paid = ? AND proof_pending = ?", agreementID, kind, false, true).
		Updates(map[string]interface{}{"proof_pending": false, "proof_ref": ""})
	if res.Error != nil {
		return nil, fmt.Errorf("reject proof: %w", res.Error)
	}
	ob, err := s.Obligation(ctx, agreementID, kind)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if ob.IsPaid {
			return nil, fmt.Errorf("%s for agreement %d: %w", kind, agreementID, utils.ErrAlreadySettled)
		}
		return nil, fmt.Errorf("%s for agreement %d has no proof under review: %w", kind, agreementID, utils.ErrInvalidTransition)
	}
	return ob, nil
}

// OpenCheckout records a gateway checkout covering every unpaid obligation of
// a lease, fixing the amounts and total the tenant is asked to pay. Earlier
// checkouts stay valid.
func (s *Service) OpenCheckout(ctx context.Context, agreementID uint, reference string) (*models.LeaseCheckout, error) {
	if reference == "" {
		return nil, fmt.Errorf("checkout reference is required: %w", utils.ErrInvalidInput)
	}
	checkout := models.LeaseCheckout{Reference: reference, AgreementID: agreementID, Total: decimal.Zero}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var unpaid []models.PaymentObligation
		err := tx.Where("agreement_id = ? AND is_paid = ?", agreementID, false).Order("id").Find(&unpaid).Error
		if err != nil {
			return fmt.Errorf("load unpaid obligations: %w", err)
		}
		if len(unpaid) == 0 {
			return fmt.Errorf("agreement %d has nothing left to pay: %w", agreementID, utils.ErrAlreadySettled)
		}
		for _, ob := range unpaid {
			checkout.Items = append(checkout.Items, models.LeaseCheckoutItem{Kind: ob.Kind, Amount: ob.Amount})
			checkout.Total = checkout.Total.Add(ob.Amount)
		}
		if err := tx.Create(&checkout).Error; err != nil {
			return fmt.Errorf("record checkout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &checkout, nil
}

// Checkout loads a lease checkout by its gateway reference.
func (s *Service) Checkout(ctx context.Context, reference string) (*models.LeaseCheckout, error) {
	var checkout models.LeaseCheckout
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("reference = ?", reference).
		First(&checkout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("checkout reference %s: %w", reference, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load checkout: %w", err)
	}
	return &checkout, nil
}

// SettleCheckout applies a gateway payment to the obligations its checkout
// covers. The amount must equal the total fixed at checkout. Obligations paid
// by other means since then keep their original receipt, and a redelivered
// notification changes nothing.
func (s *Service) SettleCheckout(ctx context.Context, reference string, amount decimal.Decimal) (*models.LeaseCheckout, error) {
	checkout, err := s.Checkout(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !utils.SameAmount(checkout.Total, amount) {
		return nil, fmt.Errorf("paid %s for checkout %s totalling %s: %w",
			utils.FormatMoney(amount), reference, utils.FormatMoney(checkout.Total), utils.ErrInvalidInput)
	}

	receipt := Receipt{Method: models.MethodGateway, Reference: reference}
	for _, item := range checkout.Items {
		ob, err := s.ConfirmPayment(ctx, checkout.AgreementID, item.Kind, receipt)
		if err != nil {
			return nil, err
		}
		if ob.Reference != reference {
			utils.Logger.WithFields(logrus.Fields{
				"agreement_id": checkout.AgreementID,
				"kind":         item.Kind,
				"checkout":     reference,
				"amount":       utils.FormatMoney(item.Amount),
			}).Warn("Checkout paid an obligation that was already settled; refund due")
		}
	}

	err = s.db.WithContext(ctx).Model(&models.LeaseCheckout{}).
		Where("id = ? AND settled_at IS NULL", checkout.ID).
		Update("settled_at", s.now().UTC()).Error
	if err != nil {
		return nil, fmt.Errorf("mark checkout settled: %w", err)
	}
	return s.Checkout(ctx, reference)
}

// IsLeaseUnlocked reports whether every obligation the lease charges is paid.
func (s *Service) IsLeaseUnlocked(ctx context.Context, agreementID uint) (bool, error) {
	lease, err := s.lease(ctx, agreementID)
	if err != nil {
		return false, err
	}
	obligations, err := s.Obligations(ctx, agreementID)
	if err != nil {
		return false, err
	}
	paid := make(map[models.ObligationKind]bool, len(obligations))
	for _, ob := range obligations {
		paid[ob.Kind] = ob.IsPaid
	}
	for _, kind := range models.ObligationKinds {
		if lease.AmountFor(kind).IsPositive() && !paid[kind] {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) Obligations(ctx context.Context, agreementID uint) ([]models.PaymentObligation, error) {
	var obligations []models.PaymentObligation
	err := s.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("id").
		Find(&obligations).Error
	if err != nil {
		return nil, fmt.Errorf("load obligations: %w", err)
	}
	return obligations, nil
}

func (s *Service) Obligation(ctx context.Context, agreementID uint, kind models.ObligationKind) (*models.PaymentObligation, error) {
	var ob models.PaymentObligation
	err := s.db.WithContext(ctx).Where("agreement_id = ? AND kind = ?", agreementID, kind).First(&ob).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s obligation for agreement %d: %w", kind, agreementID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load obligation: %w", err)
	}
	return &ob, nil
}

// Payments returns the settlement trail of a lease.
func (s *Service) Payments(ctx context.Context, agreementID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).Where("agreement_id = ?", agreementID).Order("id").Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	return payments, nil
}

func (s *Service) lease(ctx context.Context, agreementID uint) (*models.LeaseAgreement, error) {
	var lease models.LeaseAgreement
	if err := s.db.WithContext(ctx).First(&lease, agreementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lease agreement %d: %w", agreementID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load lease agreement: %w", err)
	}
	return &lease, nil
}
