package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rentledger/billing"
	"github.com/yourusername/rentledger/models"
)

func setupBillingRouter(t *testing.T) *gin.Engine {
	db := setupTestDB(t)
	unit := models.Unit{
		ID:         7,
		PropertyID: 3,
		Name:       "2B",
		RentAmount: decimal.NewFromInt(5000),
		AssocDues:  decimal.NewFromInt(200),
	}
	require.NoError(t, db.Create(&unit).Error)

	rates := billing.NewRateTable(db)
	clock := func() time.Time { return time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC) }
	handler := NewBillingHandler(billing.NewService(db, rates, clock), rates)

	router := newRouter(20, models.RoleLandlord)
	router.POST("/rates", handler.PostRate)
	router.POST("/units/:id/periods", handler.OpenPeriod)
	router.POST("/units/:id/bills", handler.ComputeBill)
	router.GET("/units/:id/bills", handler.ListBills)
	router.GET("/bills/:id", handler.GetBill)
	router.PATCH("/bills/:id", handler.UpdateAdjustments)
	router.POST("/bills/:id/finalize", handler.Finalize)
	return router
}

func postMarchRates(t *testing.T, router *gin.Engine) {
	for utility, rate := range map[string]string{"water": "20", "electricity": "12.5"} {
		w := doJSON(t, router, http.MethodPost, "/rates", gin.H{
			"property_id":    3,
			"utility_type":   utility,
			"billing_period": "2024-03",
			"rate":           rate,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

func TestBillingHandler_ComputeBill(t *testing.T) {
	router := setupBillingRouter(t)
	postMarchRates(t, router)

	w := doJSON(t, router, http.MethodPost, "/units/7/bills", `{
		"period": "2024-03",
		"water": {"previous_reading": 10, "current_reading": "25"},
		"electricity": {"previous_reading": 100, "current_reading": 180},
		"due_date": "2024-04-05"
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "300.00", body["water_amount"])
	assert.Equal(t, "1000.00", body["electricity_amount"])
	assert.Equal(t, "5000.00", body["rent_amount"])
	assert.Equal(t, "6500.00", body["total_due"])
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, "2024-03-01T00:00:00Z", body["period_start"])
	assert.Equal(t, "2024-04-05T00:00:00Z", body["due_date"])
	assert.Len(t, body["readings"], 2)

	billID := uint(body["billing_id"].(float64))
	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/bills/%d", billID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "6500.00", decodeBody(t, w)["total_due"])

	w = doJSON(t, router, http.MethodGet, "/units/7/bills", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestBillingHandler_ComputeBillRejectsBadReadings(t *testing.T) {
	router := setupBillingRouter(t)
	postMarchRates(t, router)

	tests := []struct {
		name string
		body string
	}{
		{"Null reading", `{"period":"2024-03","water":{"previous_reading":null,"current_reading":25},"electricity":{"previous_reading":1,"current_reading":2}}`},
		{"Missing pair", `{"period":"2024-03","water":{"previous_reading":10,"current_reading":25}}`},
		{"Text reading", `{"period":"2024-03","water":{"previous_reading":"ten","current_reading":25},"electricity":{"previous_reading":1,"current_reading":2}}`},
		{"Negative reading", `{"period":"2024-03","water":{"previous_reading":-1,"current_reading":25},"electricity":{"previous_reading":1,"current_reading":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/units/7/bills", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			assert.Equal(t, "invalid_reading", decodeBody(t, w)["code"])
		})
	}

	w := doJSON(t, router, http.MethodGet, "/units/7/bills", nil)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"], "failed calculations write nothing")
}

func TestBillingHandler_RatesAndOverrides(t *testing.T) {
	router := setupBillingRouter(t)
	readings := `"water":{"previous_reading":10,"current_reading":25},"electricity":{"previous_reading":100,"current_reading":180}`

	w := doJSON(t, router, http.MethodPost, "/units/7/bills", `{"period":"2024-03",`+readings+`}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "rates_not_found", decodeBody(t, w)["code"])

	w = doJSON(t, router, http.MethodPost, "/units/7/bills",
		`{"period":"2024-03","water_rate":"10","electricity_rate":"10",`+readings+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "6150.00", decodeBody(t, w)["total_due"])

	w = doJSON(t, router, http.MethodPost, "/units/7/bills", `{"period":"2024-03","water_rate":"10",`+readings+`}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/rates", gin.H{
		"property_id": 3, "utility_type": "gas", "billing_period": "2024-03", "rate": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_enum", decodeBody(t, w)["code"])

	w = doJSON(t, router, http.MethodPost, "/rates", gin.H{
		"property_id": 3, "utility_type": "water", "billing_period": "2024-03", "rate": "-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/units/99/bills", `{"period":"2024-03","water_rate":"1","electricity_rate":"1",`+readings+`}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBillingHandler_AdjustAndFinalize(t *testing.T) {
	router := setupBillingRouter(t)
	postMarchRates(t, router)

	w := doJSON(t, router, http.MethodPost, "/units/7/bills", `{
		"period": "2024-03",
		"water": {"previous_reading": 10, "current_reading": 25},
		"electricity": {"previous_reading": 100, "current_reading": 180}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	path := fmt.Sprintf("/bills/%d", uint(decodeBody(t, w)["billing_id"].(float64)))

	w = doJSON(t, router, http.MethodPatch, path, gin.H{"penalty_amount": "150", "discount_amount": "50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "6600.00", decodeBody(t, w)["total_due"])

	w = doJSON(t, router, http.MethodPatch, path, gin.H{"discount_amount": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, path+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "final", body["status"])
	assert.NotNil(t, body["finalized_at"])

	w = doJSON(t, router, http.MethodPost, path+"/finalize", nil)
	assert.Equal(t, http.StatusOK, w.Code, "finalizing twice is a no-op")

	w = doJSON(t, router, http.MethodPatch, path, gin.H{"penalty_amount": "1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invoice_finalized", decodeBody(t, w)["code"])

	w = doJSON(t, router, http.MethodGet, "/bills/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, router, http.MethodGet, "/bills/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingHandler_OpenPeriod(t *testing.T) {
	router := setupBillingRouter(t)

	w := doJSON(t, router, http.MethodPost, "/units/7/periods", gin.H{"period": "2024-04"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "5200.00", body["total_due"])
	assert.Equal(t, "0.00", body["water_amount"])
	assert.Equal(t, "2024-04-30T00:00:00Z", body["period_end"])

	w = doJSON(t, router, http.MethodPost, "/units/7/periods", gin.H{"period": "April"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
