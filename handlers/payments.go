package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/settlement"
	"github.com/yourusername/rentledger/subscription"
	"github.com/yourusername/rentledger/utils"
)

const (
	leaseRefPrefix = "LEASE-"

	// WebhookSecretHeader carries the shared secret the gateway is configured with.
	WebhookSecretHeader = "X-Webhook-Secret"

	paymentSuccess = "PAYMENT_SUCCESS"
)

type PaymentHandler struct {
	settlement    *settlement.Service
	ledger        *subscription.Ledger
	gateway       utils.PaymentGateway
	stellarClient utils.StellarClientInterface
	webhookSecret string
	redirectBase  string
}

func NewPaymentHandler(svc *settlement.Service, ledger *subscription.Ledger, gateway utils.PaymentGateway,
	stellarClient utils.StellarClientInterface, webhookSecret, redirectBase string) *PaymentHandler {
	return &PaymentHandler{
		settlement:    svc,
		ledger:        ledger,
		gateway:       gateway,
		stellarClient: stellarClient,
		webhookSecret: webhookSecret,
		redirectBase:  redirectBase,
	}
}

type ProofRequest struct {
	ProofRef string `json:"proof_ref" binding:"required"`
}

type ConfirmRequest struct {
	Reference string `json:"reference"`
}

type StellarPaymentRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

type StellarEnvelopeRequest struct {
	SourceAccount string `json:"source_account" binding:"required"`
}

// WebhookEvent is the subset of the gateway's payment notification we read.
type WebhookEvent struct {
	ID                     string `json:"id"`
	Status                 string `json:"status" binding:"required"`
	RequestReferenceNumber string `json:"requestReferenceNumber" binding:"required"`
	Amount                 string `json:"amount" binding:"required"`
	Currency               string `json:"currency"`
}

type obligationResponse struct {
	Kind      models.ObligationKind  `json:"kind"`
	Amount    string                 `json:"amount"`
	State     models.ObligationState `json:"state"`
	ProofRef  string                 `json:"proof_ref,omitempty"`
	Reference string                 `json:"reference,omitempty"`
	PaidAt    *string                `json:"paid_at,omitempty"`
}

func newObligationResponse(ob *models.PaymentObligation) obligationResponse {
	return obligationResponse{
		Kind:      ob.Kind,
		Amount:    utils.FormatMoney(ob.Amount),
		State:     ob.State(),
		ProofRef:  ob.ProofRef,
		Reference: ob.Reference,
		PaidAt:    formatTime(ob.PaidAt),
	}
}

// obligationParams reads :id and :kind, writing the error response on failure.
func obligationParams(c *gin.Context) (uint, models.ObligationKind, bool) {
	agreementID, ok := uintParam(c, "id")
	if !ok {
		return 0, "", false
	}
	kind, err := models.ParseObligationKind(c.Param("kind"))
	if err != nil {
		respondError(c, err)
		return 0, "", false
	}
	return agreementID, kind, true
}

func (h *PaymentHandler) CreateObligations(c *gin.Context) {
	agreementID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if _, err := h.settlement.CreateObligations(c.Request.Context(), agreementID); err != nil {
		respondError(c, err)
		return
	}
	h.writeObligations(c, http.StatusCreated, agreementID)
}

func (h *PaymentHandler) ListObligations(c *gin.Context) {
	agreementID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	h.writeObligations(c, http.StatusOK, agreementID)
}

func (h *PaymentHandler) writeObligations(c *gin.Context, status int, agreementID uint) {
	ctx := c.Request.Context()
	obligations, err := h.settlement.Obligations(ctx, agreementID)
	if err != nil {
		respondError(c, err)
		return
	}
	unlocked, err := h.settlement.IsLeaseUnlocked(ctx, agreementID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]obligationResponse, 0, len(obligations))
	for i := range obligations {
		resp = append(resp, newObligationResponse(&obligations[i]))
	}
	c.JSON(status, gin.H{"agreement_id": agreementID, "obligations": resp, "unlocked": unlocked})
}

// SubmitProof records a tenant's uploaded proof of payment.
func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	agreementID, kind, ok := obligationParams(c)
	if !ok {
		return
	}
	var req ProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ob, err := h.settlement.MarkProofSubmitted(c.Request.Context(), agreementID, kind, req.ProofRef)
	if err != nil && !(errors.Is(err, utils.ErrAlreadySettled) && ob != nil) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newObligationResponse(ob))
}

// Confirm is the landlord accepting a proof or recording an offline payment.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	agreementID, kind, ok := obligationParams(c)
	if !ok {
		return
	}
	var req ConfirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ob, err := h.settlement.ConfirmPayment(c.Request.Context(), agreementID, kind,
		settlement.Receipt{Method: models.MethodManual, Reference: strings.TrimSpace(req.Reference)})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newObligationResponse(ob))
}

func (h *PaymentHandler) Reject(c *gin.Context) {
	agreementID, kind, ok := obligationParams(c)
	if !ok {
		return
	}
	ob, err := h.settlement.RejectProof(c.Request.Context(), agreementID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newObligationResponse(ob))
}

// StellarEnvelope builds the unsigned transaction a tenant's wallet signs to
// pay an obligation on chain.
func (h *PaymentHandler) StellarEnvelope(c *gin.Context) {
	agreementID, kind, ok := obligationParams(c)
	if !ok {
		return
	}
	var req StellarEnvelopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ob, err := h.settlement.Obligation(c.Request.Context(), agreementID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	if ob.IsPaid {
		respondError(c, fmt.Errorf("%s for agreement %d: %w", kind, agreementID, utils.ErrAlreadySettled))
		return
	}
	if err := h.stellarClient.ValidateAccount(req.SourceAccount); err != nil {
		respondError(c, fmt.Errorf("source account %s (%v): %w", req.SourceAccount, err, utils.ErrInvalidInput))
		return
	}
	memo := utils.PaymentMemo(agreementID, string(kind))
	envelope, err := h.stellarClient.BuildPaymentEnvelope(req.SourceAccount, ob.Amount, memo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"envelope_xdr": envelope, "memo": memo, "amount": utils.FormatMoney(ob.Amount)})
}

// StellarSettle confirms an obligation paid by a verified on-chain transaction.
func (h *PaymentHandler) StellarSettle(c *gin.Context) {
	agreementID, kind, ok := obligationParams(c)
	if !ok {
		return
	}
	var req StellarPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	ob, err := h.settlement.Obligation(ctx, agreementID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	if ob.IsPaid {
		c.JSON(http.StatusOK, newObligationResponse(ob))
		return
	}
	if err := h.stellarClient.VerifyPayment(req.TxHash, ob.Amount, utils.PaymentMemo(agreementID, string(kind))); err != nil {
		respondError(c, err)
		return
	}
	ob, err = h.settlement.ConfirmPayment(ctx, agreementID, kind,
		settlement.Receipt{Method: models.MethodStellar, Reference: req.TxHash})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newObligationResponse(ob))
}

// Checkout starts one gateway payment covering every unpaid obligation of a lease.
func (h *PaymentHandler) Checkout(c *gin.Context) {
	agreementID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	reference := leaseRefPrefix + uuid.NewString()
	checkout, err := h.settlement.OpenCheckout(ctx, agreementID, reference)
	if err != nil {
		respondError(c, err)
		return
	}
	session, err := h.gateway.CreateCheckout(ctx, utils.CheckoutRequest{
		ReferenceNumber: reference,
		Amount:          checkout.Total,
		Currency:        "PHP",
		Description:     fmt.Sprintf("Lease %d move-in payments", agreementID),
		Redirect:        redirectURLs(h.redirectBase, "lease"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout_id":  session.CheckoutID,
		"redirect_url": session.RedirectURL,
		"reference":    reference,
		"amount":       utils.FormatMoney(checkout.Total),
		"kinds":        checkout.Kinds(),
	})
}

// Webhook receives payment notifications. Redelivered notifications are
// harmless: every confirmation below is idempotent.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	secret := c.GetHeader(WebhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret", "code": "invalid_signature"})
		return
	}
	var event WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		badRequest(c, err)
		return
	}
	log := utils.Logger.WithFields(logrus.Fields{
		"reference": event.RequestReferenceNumber,
		"status":    event.Status,
		"amount":    event.Amount,
	})
	if event.Status != paymentSuccess {
		log.Info("Ignoring non-success payment notification")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	amount, err := utils.ParseMoney(event.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	ref := event.RequestReferenceNumber
	switch {
	case strings.HasPrefix(ref, subscriptionRefPrefix):
		quote, err := h.ledger.QuoteByReference(ctx, ref)
		if err != nil {
			respondError(c, err)
			return
		}
		if _, err := h.ledger.ConfirmPaidSwitch(ctx, quote.LandlordID, quote.TargetPlanID, quote.Token, amount); err != nil {
			log.WithError(err).Warn("Paid plan switch not applied")
			respondError(c, err)
			return
		}
	case strings.HasPrefix(ref, leaseRefPrefix):
		if _, err := h.settlement.SettleCheckout(ctx, ref, amount); err != nil {
			log.WithError(err).Warn("Lease checkout not settled")
			respondError(c, err)
			return
		}
	default:
		respondError(c, fmt.Errorf("reference %q: %w", ref, utils.ErrNotFound))
		return
	}

	log.Info("Payment notification processed")
	c.JSON(http.StatusOK, gin.H{"status": "processed", "processed_at": time.Now().UTC().Format(time.RFC3339)})
}
