package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/rentledger/middleware"
	"github.com/yourusername/rentledger/utils"
)

// errorStatus maps engine errors onto HTTP statuses. The sentinel text is
// the response code.
var errorStatus = []struct {
	err    error
	status int
}{
	{utils.ErrInvalidReading, http.StatusUnprocessableEntity},
	{utils.ErrMissingReason, http.StatusUnprocessableEntity},
	{utils.ErrInvalidEnum, http.StatusBadRequest},
	{utils.ErrInvalidInput, http.StatusBadRequest},
	{utils.ErrUnknownPlan, http.StatusNotFound},
	{utils.ErrRatesNotFound, http.StatusNotFound},
	{utils.ErrNotFound, http.StatusNotFound},
	{utils.ErrTrialAlreadyUsed, http.StatusConflict},
	{utils.ErrStaleQuote, http.StatusConflict},
	{utils.ErrInvalidTransition, http.StatusConflict},
	{utils.ErrInvoiceFinalized, http.StatusConflict},
	{utils.ErrAlreadySettled, http.StatusConflict},
	{utils.ErrGatewayTimeout, http.StatusGatewayTimeout},
	{utils.ErrGatewayFailure, http.StatusBadGateway},
}

// respondError writes {"error","code"} for err. Unknown errors are logged
// and reported as internal without leaking their text.
func respondError(c *gin.Context, err error) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": err.Error(), "code": m.err.Error()})
			return
		}
	}
	utils.Logger.WithError(err).WithField("path", c.FullPath()).Error("Unhandled request error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": utils.ErrInvalidInput.Error()})
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name, "code": utils.ErrInvalidInput.Error()})
		return 0, false
	}
	return uint(id), true
}

func callerID(c *gin.Context) (uint, bool) {
	id, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated", "code": "missing_token"})
	}
	return id, ok
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
