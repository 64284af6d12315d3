package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"github.com/yourusername/rentledger/visits"
)

type VisitHandler struct {
	workflow *visits.Workflow
	now      func() time.Time
}

func NewVisitHandler(workflow *visits.Workflow, clock func() time.Time) *VisitHandler {
	if clock == nil {
		clock = time.Now
	}
	return &VisitHandler{workflow: workflow, now: clock}
}

type VisitRequestBody struct {
	UnitID    uint   `json:"unit_id" binding:"required"`
	VisitDate string `json:"visit_date" binding:"required"`
	VisitTime string `json:"visit_time" binding:"required"`
}

type VisitActionBody struct {
	Reason string `json:"reason"`
}

type visitResponse struct {
	VisitID   uint               `json:"visit_id"`
	TenantID  uint               `json:"tenant_id"`
	UnitID    uint               `json:"unit_id"`
	VisitDate string             `json:"visit_date"`
	VisitTime string             `json:"visit_time"`
	Status    models.VisitStatus `json:"status"`
	Reason    *string            `json:"reason"`
}

func newVisitResponse(v *models.VisitRequest) visitResponse {
	return visitResponse{
		VisitID:   v.ID,
		TenantID:  v.TenantID,
		UnitID:    v.UnitID,
		VisitDate: v.VisitDate.UTC().Format("2006-01-02"),
		VisitTime: v.VisitTime,
		Status:    v.Status,
		Reason:    v.Reason,
	}
}

// Request books a visit for the calling tenant.
func (h *VisitHandler) Request(c *gin.Context) {
	tenantID, ok := callerID(c)
	if !ok {
		return
	}
	var req VisitRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := parseDate(req.VisitDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "visit_date must be YYYY-MM-DD", "code": utils.ErrInvalidInput.Error()})
		return
	}
	visit, err := h.workflow.Request(c.Request.Context(), tenantID, req.UnitID, date, req.VisitTime)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newVisitResponse(visit))
}

// Act applies approve, disapprove or cancel from the :action path segment.
func (h *VisitHandler) Act(c *gin.Context) {
	visitID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	action, err := models.ParseVisitAction(c.Param("action"))
	if err != nil {
		respondError(c, err)
		return
	}
	var body VisitActionBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	visit, err := h.workflow.Transition(c.Request.Context(), visitID, action, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVisitResponse(visit))
}

func (h *VisitHandler) List(c *gin.Context) {
	unitID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var status *models.VisitStatus
	if raw := c.Query("status"); raw != "" {
		st, err := models.ParseVisitStatus(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		status = &st
	}
	list, err := h.workflow.List(c.Request.Context(), unitID, status)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]visitResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newVisitResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"visits": resp})
}

// BookedDates reports open visits per day, from today through the booking
// window unless from/to are given.
func (h *VisitHandler) BookedDates(c *gin.Context) {
	unitID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	from := h.now().UTC()
	to := from.Add(visits.BookingWindow)
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD", "code": utils.ErrInvalidInput.Error()})
			return
		}
		*dst = t
	}
	days, err := h.workflow.BookedDates(c.Request.Context(), unitID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if days == nil {
		days = []visits.BookedDay{}
	}
	c.JSON(http.StatusOK, gin.H{"unit_id": unitID, "booked_dates": days})
}
