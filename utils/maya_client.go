package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// DefaultGatewayTimeout bounds a checkout call when none is configured.
const DefaultGatewayTimeout = 10 * time.Second

// RedirectURLs are where the gateway sends the payer afterwards.
type RedirectURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Cancel  string `json:"cancel"`
}

type CheckoutRequest struct {
	ReferenceNumber string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	Redirect        RedirectURLs
}

type CheckoutSession struct {
	CheckoutID  string `json:"checkoutId"`
	RedirectURL string `json:"redirectUrl"`
}

// PaymentGateway starts hosted checkouts. Implementations never retry: a
// timeout is reported as ErrGatewayTimeout for the payer to retry.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type mayaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type mayaItem struct {
	Name        string     `json:"name"`
	Quantity    int        `json:"quantity"`
	TotalAmount mayaAmount `json:"totalAmount"`
}

type mayaCheckoutPayload struct {
	TotalAmount            mayaAmount   `json:"totalAmount"`
	RedirectURL            RedirectURLs `json:"redirectUrl"`
	RequestReferenceNumber string       `json:"requestReferenceNumber"`
	Items                  []mayaItem   `json:"items"`
}

// MayaClient talks to the Maya hosted checkout API.
type MayaClient struct {
	httpClient *resty.Client
}

func NewMayaClient(baseURL, publicKey, secretKey string, timeout time.Duration) *MayaClient {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetBasicAuth(publicKey, secretKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &MayaClient{httpClient: client}
}

func (c *MayaClient) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.ReferenceNumber == "" {
		return nil, fmt.Errorf("checkout reference is required: %w", ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("checkout amount %s: %w", FormatMoney(req.Amount), ErrInvalidInput)
	}
	if req.Currency == "" {
		req.Currency = "PHP"
	}
	amount := mayaAmount{Value: FormatMoney(req.Amount), Currency: req.Currency}
	payload := mayaCheckoutPayload{
		TotalAmount:            amount,
		RedirectURL:            req.Redirect,
		RequestReferenceNumber: req.ReferenceNumber,
		Items:                  []mayaItem{{Name: req.Description, Quantity: 1, TotalAmount: amount}},
	}

	var session CheckoutSession
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&session).
		Post("/checkout/v1/checkouts")
	if err != nil {
		if isTimeout(err) {
			Logger.WithField("reference", req.ReferenceNumber).Warn("Maya checkout timed out")
			return nil, fmt.Errorf("maya checkout %s: %w", req.ReferenceNumber, ErrGatewayTimeout)
		}
		return nil, fmt.Errorf("maya checkout %s: %v: %w", req.ReferenceNumber, err, ErrGatewayFailure)
	}
	if resp.IsError() {
		Logger.WithField("status", resp.StatusCode()).Errorf("Maya checkout rejected: %s", resp.String())
		return nil, fmt.Errorf("maya checkout %s: status %d: %w", req.ReferenceNumber, resp.StatusCode(), ErrGatewayFailure)
	}
	if session.RedirectURL == "" {
		return nil, fmt.Errorf("maya checkout %s: empty redirect url: %w", req.ReferenceNumber, ErrGatewayFailure)
	}
	return &session, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
