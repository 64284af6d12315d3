package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rentledger/middleware"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type MockGateway struct {
	CreateCheckoutFunc func(ctx context.Context, req utils.CheckoutRequest) (*utils.CheckoutSession, error)
	Requests           []utils.CheckoutRequest
}

func (m *MockGateway) CreateCheckout(ctx context.Context, req utils.CheckoutRequest) (*utils.CheckoutSession, error) {
	m.Requests = append(m.Requests, req)
	if m.CreateCheckoutFunc == nil {
		return &utils.CheckoutSession{CheckoutID: "chk-1", RedirectURL: "https://pay.example/chk-1"}, nil
	}
	return m.CreateCheckoutFunc(ctx, req)
}

type MockStellarClient struct {
	ValidateAccountFunc      func(accountID string) error
	BuildPaymentEnvelopeFunc func(source string, amount decimal.Decimal, memo string) (string, error)
	VerifyPaymentFunc        func(txHash string, amount decimal.Decimal, memo string) error
}

func (m *MockStellarClient) ValidateAccount(accountID string) error {
	if m.ValidateAccountFunc == nil {
		return nil
	}
	return m.ValidateAccountFunc(accountID)
}

func (m *MockStellarClient) BuildPaymentEnvelope(source string, amount decimal.Decimal, memo string) (string, error) {
	return m.BuildPaymentEnvelopeFunc(source, amount, memo)
}

func (m *MockStellarClient) VerifyPayment(txHash string, amount decimal.Decimal, memo string) error {
	return m.VerifyPaymentFunc(txHash, amount, memo)
}

// newRouter returns a router that authenticates every request as userID.
// A zero userID leaves the request anonymous.
func newRouter(userID uint, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != 0 {
			c.Set(middleware.UserIDKey, userID)
			c.Set(middleware.RoleKey, role)
		}
		c.Next()
	})
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
