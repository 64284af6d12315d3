package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Adjustments are the landlord-entered parts of an invoice. A nil LateFee
// keeps the unit's configured late fee.
type Adjustments struct {
	PenaltyAmount  decimal.Decimal
	DiscountAmount decimal.Decimal
	LateFee        *decimal.Decimal
	DueDate        *time.Time
}

func (a Adjustments) apply(fixed FixedCharges) FixedCharges {
	fixed.PenaltyAmount = a.PenaltyAmount
	fixed.DiscountAmount = a.DiscountAmount
	if a.LateFee != nil {
		fixed.LateFee = *a.LateFee
	}
	return fixed
}

// Service owns billing periods, meter readings and invoices.
type Service struct {
	db    *gorm.DB
	rates *RateTable
	now   func() time.Time
}

func NewService(db *gorm.DB, rates *RateTable, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: db, rates: rates, now: clock}
}

// OpenPeriod starts the month containing period for a unit. It creates the
// billing period and a draft invoice carrying only fixed charges. Opening an
// already open period returns the existing invoice.
func (s *Service) OpenPeriod(ctx context.Context, unitID uint, period time.Time) (*models.Invoice, error) {
	fixed, err := s.rates.FixedCharges(ctx, unitID)
	if err != nil {
		return nil, err
	}
	var invoice *models.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = openPeriod(tx, unitID, period, fixed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func openPeriod(tx *gorm.DB, unitID uint, period time.Time, fixed FixedCharges) (*models.Invoice, error) {
	start, end := MonthBounds(period)
	var bp models.BillingPeriod
	err := tx.Where(models.BillingPeriod{UnitID: unitID, PeriodStart: start}).
		Attrs(models.BillingPeriod{PeriodEnd: end}).
		FirstOrCreate(&bp).Error
	if err != nil {
		return nil, fmt.Errorf("open billing period: %w", err)
	}

	var invoice models.Invoice
	err = tx.Where(models.Invoice{BillingPeriodID: bp.ID}).
		Attrs(models.Invoice{
			UnitID:      unitID,
			PeriodStart: bp.PeriodStart,
			PeriodEnd:   bp.PeriodEnd,
			RentAmount:  fixed.RentAmount,
			AssocDues:   fixed.AssocDues,
			LateFee:     fixed.LateFee,
			TotalDue:    Total(decimal.Zero, decimal.Zero, fixed),
			Status:      models.InvoiceDraft,
		}).
		FirstOrCreate(&invoice).Error
	if err != nil {
		return nil, fmt.Errorf("open invoice: %w", err)
	}
	return &invoice, nil
}

// ComputeUtilityBill computes and stores the invoice for a unit's month.
// When rates is nil the posted rates for the month are used. Nothing is
// written unless the whole calculation succeeds.
func (s *Service) ComputeUtilityBill(ctx context.Context, unitID uint, period time.Time, readings Readings, rates *Rates, adj Adjustments) (*models.Invoice, error) {
	var (
		resolved Rates
		fixed    FixedCharges
		err      error
	)
	if rates == nil {
		resolved, fixed, err = s.rates.Resolve(ctx, unitID, period)
	} else {
		resolved = *rates
		fixed, err = s.rates.FixedCharges(ctx, unitID)
	}
	if err != nil {
		return nil, err
	}
	fixed = adj.apply(fixed)

	breakdown, err := Calculate(readings.Water, readings.Electricity, resolved, fixed)
	if err != nil {
		return nil, err
	}

	var invoice *models.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := openPeriod(tx, unitID, period, fixed)
		if err != nil {
			return err
		}
		if inv.IsFinal() {
			return fmt.Errorf("invoice %d: %w", inv.ID, utils.ErrInvoiceFinalized)
		}

		for _, pair := range []MeterReadingPair{readings.Water, readings.Electricity} {
			row := models.MeterReading{
				BillingPeriodID: inv.BillingPeriodID,
				UtilityType:     pair.UtilityType,
				UnitID:          unitID,
				PreviousReading: *pair.Previous,
				CurrentReading:  *pair.Current,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "billing_period_id"}, {Name: "utility_type"}},
				DoUpdates: clause.AssignmentColumns([]string{"previous_reading", "current_reading", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("save %s reading: %w", pair.UtilityType, err)
			}
		}

		updates := map[string]interface{}{
			"water_amount":       breakdown.WaterAmount,
			"electricity_amount": breakdown.ElectricityAmount,
			"rent_amount":        breakdown.RentAmount,
			"assoc_dues":         breakdown.AssocDues,
			"late_fee":           breakdown.LateFee,
			"penalty_amount":     breakdown.PenaltyAmount,
			"discount_amount":    breakdown.DiscountAmount,
			"total_due":          breakdown.TotalDue,
			"needs_review":       breakdown.NeedsReview,
		}
		if adj.DueDate != nil {
			updates["due_date"] = adj.DueDate.UTC()
		}
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, models.InvoiceDraft).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update invoice: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("invoice %d: %w", inv.ID, utils.ErrInvoiceFinalized)
		}

		var fresh models.Invoice
		if err := tx.First(&fresh, inv.ID).Error; err != nil {
			return fmt.Errorf("reload invoice: %w", err)
		}
		invoice = &fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := utils.Logger.WithFields(logrus.Fields{
		"unit_id":    unitID,
		"invoice_id": invoice.ID,
		"total_due":  utils.FormatMoney(invoice.TotalDue),
	})
	if invoice.NeedsReview {
		entry.Warn("Invoice total is negative, flagged for review")
	} else {
		entry.Info("Utility bill computed")
	}
	return invoice, nil
}

// UpdateAdjustments changes penalty, discount, late fee and due date on a
// draft invoice and recomputes its total from the stored utility amounts.
func (s *Service) UpdateAdjustments(ctx context.Context, invoiceID uint, adj Adjustments) (*models.Invoice, error) {
	for name, v := range map[string]decimal.Decimal{"penalty_amount": adj.PenaltyAmount, "discount_amount": adj.DiscountAmount} {
		if v.IsNegative() {
			return nil, fmt.Errorf("%s must not be negative: %w", name, utils.ErrInvalidInput)
		}
	}
	if adj.LateFee != nil && adj.LateFee.IsNegative() {
		return nil, fmt.Errorf("late_fee must not be negative: %w", utils.ErrInvalidInput)
	}

	invoice, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.IsFinal() {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, utils.ErrInvoiceFinalized)
	}

	fixed := adj.apply(FixedCharges{
		RentAmount: invoice.RentAmount,
		AssocDues:  invoice.AssocDues,
		LateFee:    invoice.LateFee,
	})
	total := Total(invoice.WaterAmount, invoice.ElectricityAmount, fixed)
	updates := map[string]interface{}{
		"late_fee":        fixed.LateFee,
		"penalty_amount":  fixed.PenaltyAmount,
		"discount_amount": fixed.DiscountAmount,
		"total_due":       total,
		"needs_review":    total.IsNegative(),
	}
	if adj.DueDate != nil {
		updates["due_date"] = adj.DueDate.UTC()
	}
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, models.InvoiceDraft).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update invoice: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, utils.ErrInvoiceFinalized)
	}
	return s.GetInvoice(ctx, invoiceID)
}

// Finalize freezes a draft invoice. Finalizing a final invoice is a no-op.
func (s *Service) Finalize(ctx context.Context, invoiceID uint) (*models.Invoice, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, models.InvoiceDraft).
		Updates(map[string]interface{}{
			"status":       models.InvoiceFinal,
			"finalized_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("finalize invoice: %w", res.Error)
	}
	invoice, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected > 0 {
		utils.Logger.WithField("invoice_id", invoiceID).Info("Invoice finalized")
	}
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := s.db.WithContext(ctx).First(&invoice, invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invoice %d: %w", invoiceID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	return &invoice, nil
}

// ListInvoices returns a unit's invoices, newest period first.
func (s *Service) ListInvoices(ctx context.Context, unitID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("period_start DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

// Readings returns the meter readings stored for an invoice's period.
func (s *Service) Readings(ctx context.Context, invoice *models.Invoice) ([]models.MeterReading, error) {
	var rows []models.MeterReading
	err := s.db.WithContext(ctx).
		Where("billing_period_id = ?", invoice.BillingPeriodID).
		Order("utility_type").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	return rows, nil
}
