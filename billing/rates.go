package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MonthBounds returns the first and last calendar day of t's month in UTC.
func MonthBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}

// RateTable resolves rates and fixed charges. It never writes except through PostRate.
type RateTable struct {
	db *gorm.DB
}

func NewRateTable(db *gorm.DB) *RateTable {
	return &RateTable{db: db}
}

// Resolve returns the utility rates and fixed charges that apply to a unit in
// the month containing period. A utility without a posted rate resolves to
// zero; a month with no posted rates at all is an error.
func (r *RateTable) Resolve(ctx context.Context, unitID uint, period time.Time) (Rates, FixedCharges, error) {
	unit, err := r.unit(ctx, unitID)
	if err != nil {
		return Rates{}, FixedCharges{}, err
	}
	rates, err := r.ratesFor(ctx, unit.PropertyID, period)
	if err != nil {
		return Rates{}, FixedCharges{}, err
	}
	return rates, fixedFromUnit(unit), nil
}

// FixedCharges returns the unit's fixed charges without requiring posted rates.
func (r *RateTable) FixedCharges(ctx context.Context, unitID uint) (FixedCharges, error) {
	unit, err := r.unit(ctx, unitID)
	if err != nil {
		return FixedCharges{}, err
	}
	return fixedFromUnit(unit), nil
}

// PostRate records the concessionaire rate for a property, utility and month.
// Posting again for the same month replaces the rate.
func (r *RateTable) PostRate(ctx context.Context, propertyID uint, utility models.UtilityType, period time.Time, rate decimal.Decimal) (*models.UtilityRate, error) {
	if rate.IsNegative() {
		return nil, fmt.Errorf("rate must not be negative: %w", utils.ErrInvalidInput)
	}
	start, _ := MonthBounds(period)
	row := models.UtilityRate{
		PropertyID:    propertyID,
		BillingPeriod: start,
		UtilityType:   utility,
		Rate:          rate,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "property_id"}, {Name: "billing_period"}, {Name: "utility_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("post rate: %w", err)
	}
	return &row, nil
}

func (r *RateTable) ratesFor(ctx context.Context, propertyID uint, period time.Time) (Rates, error) {
	start, _ := MonthBounds(period)
	var rows []models.UtilityRate
	err := r.db.WithContext(ctx).
		Where("property_id = ? AND billing_period >= ? AND billing_period < ?", propertyID, start, start.AddDate(0, 1, 0)).
		Find(&rows).Error
	if err != nil {
		return Rates{}, fmt.Errorf("load rates: %w", err)
	}
	if len(rows) == 0 {
		return Rates{}, fmt.Errorf("property %d, %s: %w", propertyID, start.Format("2006-01"), utils.ErrRatesNotFound)
	}
	var rates Rates
	for _, row := range rows {
		switch row.UtilityType {
		case models.UtilityWater:
			rates.Water = row.Rate
		case models.UtilityElectricity:
			rates.Electricity = row.Rate
		}
	}
	return rates, nil
}

func (r *RateTable) unit(ctx context.Context, unitID uint) (*models.Unit, error) {
	var unit models.Unit
	if err := r.db.WithContext(ctx).First(&unit, unitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unit %d: %w", unitID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load unit: %w", err)
	}
	return &unit, nil
}

func fixedFromUnit(unit *models.Unit) FixedCharges {
	return FixedCharges{
		RentAmount: unit.RentAmount,
		AssocDues:  unit.AssocDues,
		LateFee:    unit.LateFee,
	}
}
