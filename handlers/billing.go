package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/billing"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
)

type BillingHandler struct {
	billing *billing.Service
	rates   *billing.RateTable
}

func NewBillingHandler(svc *billing.Service, rates *billing.RateTable) *BillingHandler {
	return &BillingHandler{billing: svc, rates: rates}
}

type PostRateRequest struct {
	PropertyID    uint   `json:"property_id" binding:"required"`
	UtilityType   string `json:"utility_type" binding:"required"`
	BillingPeriod string `json:"billing_period" binding:"required"`
	Rate          string `json:"rate" binding:"required"`
}

type OpenPeriodRequest struct {
	Period string `json:"period" binding:"required"`
}

// ReadingInput keeps raw JSON so absent, null and non-numeric readings are
// rejected rather than read as zero.
type ReadingInput struct {
	PreviousReading json.RawMessage `json:"previous_reading"`
	CurrentReading  json.RawMessage `json:"current_reading"`
}

type AdjustmentsInput struct {
	PenaltyAmount  *string `json:"penalty_amount"`
	DiscountAmount *string `json:"discount_amount"`
	LateFee        *string `json:"late_fee"`
	DueDate        *string `json:"due_date"`
}

type ComputeBillRequest struct {
	Period          string       `json:"period" binding:"required"`
	Water           ReadingInput `json:"water"`
	Electricity     ReadingInput `json:"electricity"`
	WaterRate       *string      `json:"water_rate"`
	ElectricityRate *string      `json:"electricity_rate"`
	AdjustmentsInput
}

type readingResponse struct {
	UtilityType     models.UtilityType `json:"utility_type"`
	PreviousReading string             `json:"previous_reading"`
	CurrentReading  string             `json:"current_reading"`
}

type invoiceResponse struct {
	BillingID         uint                 `json:"billing_id"`
	UnitID            uint                 `json:"unit_id"`
	PeriodStart       string               `json:"period_start"`
	PeriodEnd         string               `json:"period_end"`
	WaterAmount       string               `json:"water_amount"`
	ElectricityAmount string               `json:"electricity_amount"`
	RentAmount        string               `json:"rent_amount"`
	AssocDues         string               `json:"assoc_dues"`
	LateFee           string               `json:"late_fee"`
	PenaltyAmount     string               `json:"penalty_amount"`
	DiscountAmount    string               `json:"discount_amount"`
	TotalDue          string               `json:"total_due"`
	Status            models.InvoiceStatus `json:"status"`
	NeedsReview       bool                 `json:"needs_review"`
	DueDate           *string              `json:"due_date"`
	FinalizedAt       *string              `json:"finalized_at,omitempty"`
	Readings          []readingResponse    `json:"readings,omitempty"`
}

func newInvoiceResponse(inv *models.Invoice, readings []models.MeterReading) invoiceResponse {
	resp := invoiceResponse{
		BillingID:         inv.ID,
		UnitID:            inv.UnitID,
		PeriodStart:       inv.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:         inv.PeriodEnd.UTC().Format(time.RFC3339),
		WaterAmount:       utils.FormatMoney(inv.WaterAmount),
		ElectricityAmount: utils.FormatMoney(inv.ElectricityAmount),
		RentAmount:        utils.FormatMoney(inv.RentAmount),
		AssocDues:         utils.FormatMoney(inv.AssocDues),
		LateFee:           utils.FormatMoney(inv.LateFee),
		PenaltyAmount:     utils.FormatMoney(inv.PenaltyAmount),
		DiscountAmount:    utils.FormatMoney(inv.DiscountAmount),
		TotalDue:          utils.FormatMoney(inv.TotalDue),
		Status:            inv.Status,
		NeedsReview:       inv.NeedsReview,
		DueDate:           formatTime(inv.DueDate),
		FinalizedAt:       formatTime(inv.FinalizedAt),
	}
	for _, r := range readings {
		resp.Readings = append(resp.Readings, readingResponse{
			UtilityType:     r.UtilityType,
			PreviousReading: r.PreviousReading.String(),
			CurrentReading:  r.CurrentReading.String(),
		})
	}
	return resp
}

// PostRate records the concessionaire rate a property was billed for a month.
func (h *BillingHandler) PostRate(c *gin.Context) {
	var req PostRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	utility, err := models.ParseUtilityType(req.UtilityType)
	if err != nil {
		respondError(c, err)
		return
	}
	period, err := parsePeriod(req.BillingPeriod)
	if err != nil {
		respondError(c, err)
		return
	}
	rate, err := utils.ParseMoney(req.Rate)
	if err != nil {
		respondError(c, err)
		return
	}

	row, err := h.rates.PostRate(c.Request.Context(), req.PropertyID, utility, period, rate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"property_id":    row.PropertyID,
		"utility_type":   row.UtilityType,
		"billing_period": row.BillingPeriod.UTC().Format(time.RFC3339),
		"rate":           row.Rate.String(),
	})
}

// OpenPeriod rolls a unit over into a new month.
func (h *BillingHandler) OpenPeriod(c *gin.Context) {
	unitID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req OpenPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		respondError(c, err)
		return
	}

	invoice, err := h.billing.OpenPeriod(c.Request.Context(), unitID, period)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newInvoiceResponse(invoice, nil))
}

// ComputeBill computes a unit's monthly utility bill from meter readings.
func (h *BillingHandler) ComputeBill(c *gin.Context) {
	unitID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req ComputeBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		respondError(c, err)
		return
	}
	water, err := readingPair(models.UtilityWater, req.Water)
	if err != nil {
		respondError(c, err)
		return
	}
	electricity, err := readingPair(models.UtilityElectricity, req.Electricity)
	if err != nil {
		respondError(c, err)
		return
	}
	rates, err := rateOverride(req.WaterRate, req.ElectricityRate)
	if err != nil {
		respondError(c, err)
		return
	}
	adj, err := req.AdjustmentsInput.parse()
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	invoice, err := h.billing.ComputeUtilityBill(ctx, unitID, period,
		billing.Readings{Water: water, Electricity: electricity}, rates, adj)
	if err != nil {
		respondError(c, err)
		return
	}
	readings, err := h.billing.Readings(ctx, invoice)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResponse(invoice, readings))
}

func (h *BillingHandler) ListBills(c *gin.Context) {
	unitID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	invoices, err := h.billing.ListInvoices(c.Request.Context(), unitID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		resp = append(resp, newInvoiceResponse(&invoices[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"bills": resp, "count": len(resp)})
}

func (h *BillingHandler) GetBill(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	invoice, err := h.billing.GetInvoice(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	readings, err := h.billing.Readings(ctx, invoice)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResponse(invoice, readings))
}

// UpdateAdjustments edits penalty, discount, late fee and due date of a draft bill.
func (h *BillingHandler) UpdateAdjustments(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req AdjustmentsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	adj, err := req.parse()
	if err != nil {
		respondError(c, err)
		return
	}
	invoice, err := h.billing.UpdateAdjustments(c.Request.Context(), id, adj)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResponse(invoice, nil))
}

func (h *BillingHandler) Finalize(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	invoice, err := h.billing.Finalize(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInvoiceResponse(invoice, nil))
}

func (in AdjustmentsInput) parse() (billing.Adjustments, error) {
	var adj billing.Adjustments
	var err error
	if in.PenaltyAmount != nil {
		if adj.PenaltyAmount, err = utils.ParseMoney(*in.PenaltyAmount); err != nil {
			return adj, fmt.Errorf("penalty_amount: %w", err)
		}
	}
	if in.DiscountAmount != nil {
		if adj.DiscountAmount, err = utils.ParseMoney(*in.DiscountAmount); err != nil {
			return adj, fmt.Errorf("discount_amount: %w", err)
		}
	}
	if in.LateFee != nil {
		fee, err := utils.ParseMoney(*in.LateFee)
		if err != nil {
			return adj, fmt.Errorf("late_fee: %w", err)
		}
		adj.LateFee = &fee
	}
	if in.DueDate != nil {
		due, err := parseDate(*in.DueDate)
		if err != nil {
			return adj, fmt.Errorf("due_date %q: %w", *in.DueDate, utils.ErrInvalidInput)
		}
		adj.DueDate = &due
	}
	return adj, nil
}

func readingPair(utility models.UtilityType, in ReadingInput) (billing.MeterReadingPair, error) {
	previous, err := billing.ParseReading(in.PreviousReading)
	if err != nil {
		return billing.MeterReadingPair{}, fmt.Errorf("%s previous_reading: %w", utility, err)
	}
	current, err := billing.ParseReading(in.CurrentReading)
	if err != nil {
		return billing.MeterReadingPair{}, fmt.Errorf("%s current_reading: %w", utility, err)
	}
	return billing.MeterReadingPair{UtilityType: utility, Previous: previous, Current: current}, nil
}

// rateOverride returns nil when neither rate is given, so the posted rates apply.
func rateOverride(water, electricity *string) (*billing.Rates, error) {
	if water == nil && electricity == nil {
		return nil, nil
	}
	if water == nil || electricity == nil {
		return nil, fmt.Errorf("water_rate and electricity_rate go together: %w", utils.ErrInvalidInput)
	}
	var rates billing.Rates
	var err error
	if rates.Water, err = decimal.NewFromString(*water); err != nil {
		return nil, fmt.Errorf("water_rate %q: %w", *water, utils.ErrInvalidInput)
	}
	if rates.Electricity, err = decimal.NewFromString(*electricity); err != nil {
		return nil, fmt.Errorf("electricity_rate %q: %w", *electricity, utils.ErrInvalidInput)
	}
	return &rates, nil
}

// parsePeriod accepts "2024-03", a calendar date or an RFC 3339 timestamp.
func parsePeriod(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01", s); err == nil {
		return t, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("billing period %q: %w", s, utils.ErrInvalidInput)
	}
	return t, nil
}
