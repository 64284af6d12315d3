// Package billing derives a unit's monthly invoice from meter readings, the
// property's concessionaire rates and the unit's fixed charges.
package billing

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
)

// MeterReadingPair is one utility's previous and current meter reading.
// A nil reading is absent and fails the calculation.
type MeterReadingPair struct {
	UtilityType models.UtilityType `json:"utility_type"`
	Previous    *decimal.Decimal   `json:"previous_reading"`
	Current     *decimal.Decimal   `json:"current_reading"`
}

// NewReadingPair builds a pair from present readings.
func NewReadingPair(utility models.UtilityType, previous, current decimal.Decimal) MeterReadingPair {
	return MeterReadingPair{UtilityType: utility, Previous: &previous, Current: &current}
}

// Readings holds the two pairs an invoice is computed from.
type Readings struct {
	Water       MeterReadingPair
	Electricity MeterReadingPair
}

// Rates are the per-unit utility rates for a period.
type Rates struct {
	Water       decimal.Decimal `json:"water_rate"`
	Electricity decimal.Decimal `json:"electricity_rate"`
}

// FixedCharges are the non-metered parts of an invoice.
type FixedCharges struct {
	RentAmount     decimal.Decimal `json:"rent_amount"`
	AssocDues      decimal.Decimal `json:"assoc_dues"`
	LateFee        decimal.Decimal `json:"late_fee"`
	PenaltyAmount  decimal.Decimal `json:"penalty_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// Breakdown is the structured result of a calculation.
type Breakdown struct {
	WaterUsage        decimal.Decimal
	ElectricityUsage  decimal.Decimal
	WaterAmount       decimal.Decimal
	ElectricityAmount decimal.Decimal
	FixedCharges
	TotalDue decimal.Decimal
	// NeedsReview is set when TotalDue is negative. The total is kept as is.
	NeedsReview bool
}

// Usage returns max(0, current - previous). A regressing meter yields zero.
func (p MeterReadingPair) Usage() (decimal.Decimal, error) {
	if p.Previous == nil {
		return decimal.Zero, fmt.Errorf("%s previous reading absent: %w", p.UtilityType, utils.ErrInvalidReading)
	}
	if p.Current == nil {
		return decimal.Zero, fmt.Errorf("%s current reading absent: %w", p.UtilityType, utils.ErrInvalidReading)
	}
	if p.Previous.IsNegative() || p.Current.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s reading is negative: %w", p.UtilityType, utils.ErrInvalidReading)
	}
	usage := p.Current.Sub(*p.Previous)
	if usage.IsNegative() {
		return decimal.Zero, nil
	}
	return usage, nil
}

// Calculate computes an invoice breakdown. Only the two utility amounts are
// rounded, before summation; usage is never rounded.
func Calculate(water, electricity MeterReadingPair, rates Rates, fixed FixedCharges) (Breakdown, error) {
	if water.UtilityType != models.UtilityWater {
		return Breakdown{}, fmt.Errorf("water slot holds %q readings: %w", water.UtilityType, utils.ErrInvalidReading)
	}
	if electricity.UtilityType != models.UtilityElectricity {
		return Breakdown{}, fmt.Errorf("electricity slot holds %q readings: %w", electricity.UtilityType, utils.ErrInvalidReading)
	}
	waterUsage, err := water.Usage()
	if err != nil {
		return Breakdown{}, err
	}
	electricityUsage, err := electricity.Usage()
	if err != nil {
		return Breakdown{}, err
	}
	if err := validateNonNegative(map[string]decimal.Decimal{
		"water_rate":       rates.Water,
		"electricity_rate": rates.Electricity,
		"rent_amount":      fixed.RentAmount,
		"assoc_dues":       fixed.AssocDues,
		"late_fee":         fixed.LateFee,
		"penalty_amount":   fixed.PenaltyAmount,
		"discount_amount":  fixed.DiscountAmount,
	}); err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		WaterUsage:        waterUsage,
		ElectricityUsage:  electricityUsage,
		WaterAmount:       utils.Round2(waterUsage.Mul(rates.Water)),
		ElectricityAmount: utils.Round2(electricityUsage.Mul(rates.Electricity)),
		FixedCharges:      fixed,
	}
	b.TotalDue = Total(b.WaterAmount, b.ElectricityAmount, fixed)
	b.NeedsReview = b.TotalDue.IsNegative()
	return b, nil
}

// Total is the signed invoice sum. It does not clamp.
func Total(waterAmount, electricityAmount decimal.Decimal, fixed FixedCharges) decimal.Decimal {
	return waterAmount.
		Add(electricityAmount).
		Add(fixed.RentAmount).
		Add(fixed.AssocDues).
		Add(fixed.LateFee).
		Add(fixed.PenaltyAmount).
		Sub(fixed.DiscountAmount)
}

// ParseReading decodes a raw JSON reading. Absent, null and non-numeric
// values are rejected instead of defaulting to zero.
func ParseReading(raw json.RawMessage) (*decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("reading absent: %w", utils.ErrInvalidReading)
	}
	s := string(bytes.Trim(trimmed, `"`))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("reading %q is not numeric: %w", s, utils.ErrInvalidReading)
	}
	return &d, nil
}

func validateNonNegative(values map[string]decimal.Decimal) error {
	for name, v := range values {
		if v.IsNegative() {
			return fmt.Errorf("%s must not be negative: %w", name, utils.ErrInvalidInput)
		}
	}
	return nil
}
