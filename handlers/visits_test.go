package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/visits"
)

func setupVisitRouter(t *testing.T) *gin.Engine {
	db := setupTestDB(t)
	clock := func() time.Time { return time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC) }
	handler := NewVisitHandler(visits.NewWorkflow(db, clock), clock)

	router := newRouter(4, models.RoleTenant)
	router.POST("/visits", handler.Request)
	router.POST("/visits/:id/:action", handler.Act)
	router.GET("/units/:id/visits", handler.List)
	router.GET("/units/:id/booked-dates", handler.BookedDates)
	return router
}

func requestVisit(t *testing.T, router *gin.Engine, date, at string) uint {
	w := doJSON(t, router, http.MethodPost, "/visits", gin.H{"unit_id": 7, "visit_date": date, "visit_time": at})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.EqualValues(t, 4, body["tenant_id"])
	return uint(body["visit_id"].(float64))
}

func TestVisitHandler_Workflow(t *testing.T) {
	router := setupVisitRouter(t)
	id := requestVisit(t, router, "2024-07-03", "10:30")
	path := func(action string) string { return fmt.Sprintf("/visits/%d/%s", id, action) }

	w := doJSON(t, router, http.MethodPost, path("cancel"), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "pending visits cannot be cancelled")

	w = doJSON(t, router, http.MethodPost, path("approve"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "approved", body["status"])
	assert.Nil(t, body["reason"])

	w = doJSON(t, router, http.MethodPost, path("cancel"), gin.H{"reason": "unit was leased"})
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, "unit was leased", body["reason"])

	w = doJSON(t, router, http.MethodPost, path("approve"), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decodeBody(t, w)["code"])

	w = doJSON(t, router, http.MethodPost, path("disapprove"), nil)
	assert.Equal(t, http.StatusConflict, w.Code, "a cancelled visit cannot be disapproved, reason or not")
	assert.Equal(t, "invalid_transition", decodeBody(t, w)["code"])
}

func TestVisitHandler_Disapprove(t *testing.T) {
	router := setupVisitRouter(t)
	id := requestVisit(t, router, "2024-07-03", "10:30")

	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/visits/%d/disapprove", id), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_reason", decodeBody(t, w)["code"])

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/visits/%d/disapprove", id), gin.H{"reason": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/visits/%d/disapprove", id), gin.H{"reason": "double booked"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disapproved", decodeBody(t, w)["status"])

	again := requestVisit(t, router, "2024-07-04", "14:00")
	assert.NotEqual(t, id, again, "resubmission is a new visit")

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/visits/%d/reschedule", again), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_enum", decodeBody(t, w)["code"])

	w = doJSON(t, router, http.MethodPost, "/visits/999/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/units/7/visits?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["visits"], 1)

	w = doJSON(t, router, http.MethodGet, "/units/7/visits?status=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVisitHandler_RequestValidation(t *testing.T) {
	router := setupVisitRouter(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"Past date", gin.H{"unit_id": 7, "visit_date": "2024-06-30", "visit_time": "10:00"}},
		{"Bad time", gin.H{"unit_id": 7, "visit_date": "2024-07-02", "visit_time": "10am"}},
		{"Bad date", gin.H{"unit_id": 7, "visit_date": "July 2", "visit_time": "10:00"}},
		{"Missing unit", gin.H{"visit_date": "2024-07-02", "visit_time": "10:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/visits", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestVisitHandler_BookedDates(t *testing.T) {
	router := setupVisitRouter(t)

	w := doJSON(t, router, http.MethodGet, "/units/7/booked-dates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["booked_dates"], 0)

	requestVisit(t, router, "2024-07-03", "10:00")
	requestVisit(t, router, "2024-07-03", "15:00")
	cancelled := requestVisit(t, router, "2024-07-05", "09:00")
	requestVisit(t, router, "2024-12-01", "09:00")
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/visits/%d/disapprove", cancelled), gin.H{"reason": "closed"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/units/7/booked-dates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	days := decodeBody(t, w)["booked_dates"].([]interface{})
	require.Len(t, days, 1, "outside the default window and disapproved visits are not booked")
	assert.Equal(t, map[string]interface{}{"date": "2024-07-03", "count": float64(2)}, days[0])

	w = doJSON(t, router, http.MethodGet, "/units/7/booked-dates?to=2024-12-31", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["booked_dates"], 2)

	w = doJSON(t, router, http.MethodGet, "/units/7/booked-dates?from=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
