package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/subscription"
	"github.com/yourusername/rentledger/utils"
)

// Subscription checkouts carry this prefix in their gateway reference so
// the webhook can route them.
const subscriptionRefPrefix = "SUB-"

type SubscriptionHandler struct {
	ledger       *subscription.Ledger
	gateway      utils.PaymentGateway
	redirectBase string
}

func NewSubscriptionHandler(ledger *subscription.Ledger, gateway utils.PaymentGateway, redirectBase string) *SubscriptionHandler {
	return &SubscriptionHandler{ledger: ledger, gateway: gateway, redirectBase: redirectBase}
}

type QuoteRequest struct {
	PlanID uint `json:"plan_id" binding:"required"`
}

type CommitRequest struct {
	PlanID     uint   `json:"plan_id" binding:"required"`
	QuoteToken string `json:"quote_token" binding:"required"`
}

type quoteResponse struct {
	QuoteToken string            `json:"quote_token"`
	PlanID     uint              `json:"plan_id"`
	Route      models.QuoteRoute `json:"route"`
	Amount     string            `json:"amount"`
	ExpiresAt  string            `json:"expires_at"`
}

type subscriptionResponse struct {
	ID         uint   `json:"id"`
	PlanID     uint   `json:"plan_id"`
	PlanName   string `json:"plan_name,omitempty"`
	IsActive   bool   `json:"is_active"`
	IsTrial    bool   `json:"is_trial"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	AmountPaid string `json:"amount_paid"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:         sub.ID,
		PlanID:     sub.PlanID,
		PlanName:   sub.Plan.Name,
		IsActive:   sub.IsActive,
		IsTrial:    sub.IsTrial,
		StartDate:  sub.StartDate.UTC().Format(time.RFC3339),
		EndDate:    sub.EndDate.UTC().Format(time.RFC3339),
		AmountPaid: utils.FormatMoney(sub.AmountPaid),
	}
}

// landlord resolves the caller's landlord record, writing the error response
// when it cannot.
func (h *SubscriptionHandler) landlord(c *gin.Context) (*models.Landlord, bool) {
	userID, ok := callerID(c)
	if !ok {
		return nil, false
	}
	landlord, err := h.ledger.LandlordForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return landlord, true
}

func (h *SubscriptionHandler) Plans(c *gin.Context) {
	plans, err := h.ledger.Plans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]gin.H, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, gin.H{
			"id":            p.ID,
			"name":          p.Name,
			"monthly_price": utils.FormatMoney(p.MonthlyPrice),
			"trial_days":    p.TrialDays,
			"listing_limit": p.ListingLimit,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": resp})
}

// Quote prices a plan change and returns the token that commits it.
func (h *SubscriptionHandler) Quote(c *gin.Context) {
	landlord, ok := h.landlord(c)
	if !ok {
		return
	}
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	quote, err := h.ledger.Quote(c.Request.Context(), landlord.ID, req.PlanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteResponse{
		QuoteToken: quote.Token,
		PlanID:     quote.TargetPlanID,
		Route:      quote.Route,
		Amount:     utils.FormatMoney(quote.Amount),
		ExpiresAt:  quote.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Commit applies a free, trial or no-op quote. Repeating it returns the same
// subscription. Paid quotes only commit once the gateway confirms the charge.
func (h *SubscriptionHandler) Commit(c *gin.Context) {
	landlord, ok := h.landlord(c)
	if !ok {
		return
	}
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	quote, err := h.ledger.IssuedQuote(ctx, landlord.ID, req.PlanID, req.QuoteToken)
	if err != nil {
		respondError(c, err)
		return
	}
	if quote.Route == models.RoutePaid {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error": "This plan change must be paid through checkout",
			"code":  "payment_required",
		})
		return
	}
	sub, err := h.ledger.Commit(ctx, landlord.ID, req.PlanID, req.QuoteToken, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

// Checkout starts a gateway payment for exactly the quoted amount.
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	landlord, ok := h.landlord(c)
	if !ok {
		return
	}
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	quote, err := h.ledger.PendingQuote(ctx, landlord.ID, req.PlanID, req.QuoteToken)
	if err != nil {
		respondError(c, err)
		return
	}
	if quote.Route != models.RoutePaid {
		respondError(c, fmt.Errorf("quote routes to %s and needs no payment: %w", quote.Route, utils.ErrInvalidInput))
		return
	}

	reference := subscriptionRefPrefix + uuid.NewString()
	if err := h.ledger.AttachGatewayReference(ctx, quote.Token, reference); err != nil {
		respondError(c, err)
		return
	}
	session, err := h.gateway.CreateCheckout(ctx, utils.CheckoutRequest{
		ReferenceNumber: reference,
		Amount:          quote.Amount,
		Currency:        "PHP",
		Description:     fmt.Sprintf("Subscription plan %d", quote.TargetPlanID),
		Redirect:        redirectURLs(h.redirectBase, "subscription"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	utils.Logger.WithFields(logrus.Fields{
		"landlord_id": landlord.ID,
		"reference":   reference,
		"amount":      utils.FormatMoney(quote.Amount),
	}).Info("Subscription checkout started")
	c.JSON(http.StatusOK, gin.H{
		"checkout_id":  session.CheckoutID,
		"redirect_url": session.RedirectURL,
		"reference":    reference,
		"amount":       utils.FormatMoney(quote.Amount),
	})
}

func (h *SubscriptionHandler) Active(c *gin.Context) {
	landlord, ok := h.landlord(c)
	if !ok {
		return
	}
	sub, err := h.ledger.Active(c.Request.Context(), landlord.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

func (h *SubscriptionHandler) History(c *gin.Context) {
	landlord, ok := h.landlord(c)
	if !ok {
		return
	}
	subs, err := h.ledger.History(c.Request.Context(), landlord.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]subscriptionResponse, 0, len(subs))
	for i := range subs {
		resp = append(resp, newSubscriptionResponse(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": resp})
}

func (h *SubscriptionHandler) ListingLimit(c *gin.Context) {
	landlord, ok := h.landlord(c)
	if !ok {
		return
	}
	count, err := strconv.Atoi(c.Query("count"))
	if err != nil {
		respondError(c, fmt.Errorf("count %q: %w", c.Query("count"), utils.ErrInvalidInput))
		return
	}
	within, err := h.ledger.IsWithinListingLimit(c.Request.Context(), landlord.ID, count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"within_limit": within, "count": count})
}

func redirectURLs(base, flow string) utils.RedirectURLs {
	return utils.RedirectURLs{
		Success: base + "/" + flow + "/success",
		Failure: base + "/" + flow + "/failure",
		Cancel:  base + "/" + flow + "/cancel",
	}
}
