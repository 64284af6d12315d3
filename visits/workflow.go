// Package visits runs the landlord approval workflow for tenant booking visits.
package visits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/gorm"
)

// BookingWindow is how far ahead booked dates are reported by default.
const BookingWindow = 90 * 24 * time.Hour

var transitions = map[models.VisitStatus]map[models.VisitAction]models.VisitStatus{
	models.VisitPending: {
		models.ActionApprove:    models.VisitApproved,
		models.ActionDisapprove: models.VisitDisapproved,
	},
	models.VisitApproved: {
		models.ActionCancel: models.VisitCancelled,
	},
}

// Next returns the status action leads to from status.
func Next(from models.VisitStatus, action models.VisitAction) (models.VisitStatus, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", fmt.Errorf("cannot %s a %s visit: %w", action, from, utils.ErrInvalidTransition)
	}
	return to, nil
}

// BookedDay is the number of open visits on one date.
type BookedDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Workflow struct {
	db  *gorm.DB
	now func() time.Time
}

func NewWorkflow(db *gorm.DB, clock func() time.Time) *Workflow {
	if clock == nil {
		clock = time.Now
	}
	return &Workflow{db: db, now: clock}
}

// Request books a pending visit. A tenant whose earlier visit was
// disapproved or cancelled books again through here.
func (w *Workflow) Request(ctx context.Context, tenantID, unitID uint, date time.Time, at string) (*models.VisitRequest, error) {
	if _, err := time.Parse("15:04", at); err != nil {
		return nil, fmt.Errorf("visit time %q must be HH:MM: %w", at, utils.ErrInvalidInput)
	}
	day := truncateDay(date)
	if day.Before(truncateDay(w.now())) {
		return nil, fmt.Errorf("visit date %s is in the past: %w", day.Format("2006-01-02"), utils.ErrInvalidInput)
	}
	visit := models.VisitRequest{
		TenantID:  tenantID,
		UnitID:    unitID,
		VisitDate: day,
		VisitTime: at,
		Status:    models.VisitPending,
	}
	if err := w.db.WithContext(ctx).Create(&visit).Error; err != nil {
		return nil, fmt.Errorf("create visit: %w", err)
	}
	return &visit, nil
}

func (w *Workflow) Approve(ctx context.Context, visitID uint) (*models.VisitRequest, error) {
	return w.Transition(ctx, visitID, models.ActionApprove, "")
}

func (w *Workflow) Disapprove(ctx context.Context, visitID uint, reason string) (*models.VisitRequest, error) {
	return w.Transition(ctx, visitID, models.ActionDisapprove, reason)
}

func (w *Workflow) Cancel(ctx context.Context, visitID uint, reason string) (*models.VisitRequest, error) {
	return w.Transition(ctx, visitID, models.ActionCancel, reason)
}

// Transition applies a landlord action. The move is checked before the
// disapproval reason, so a finished visit reports ErrInvalidTransition. The
// update only lands if the visit
// is still in the status the transition was checked against; otherwise the
// visit is left as it is and ErrInvalidTransition is returned.
func (w *Workflow) Transition(ctx context.Context, visitID uint, action models.VisitAction, reason string) (*models.VisitRequest, error) {
	visit, err := w.Get(ctx, visitID)
	if err != nil {
		return nil, err
	}
	to, err := Next(visit.Status, action)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if action == models.ActionDisapprove && reason == "" {
		return nil, fmt.Errorf("disapproving visit %d: %w", visitID, utils.ErrMissingReason)
	}

	updates := map[string]interface{}{"status": to}
	switch {
	case action == models.ActionApprove:
		updates["reason"] = nil
	case reason != "":
		updates["reason"] = reason
	}
	res := w.db.WithContext(ctx).Model(&models.VisitRequest{}).
		Where("id = ? AND status = ?", visitID, visit.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update visit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("visit %d changed concurrently: %w", visitID, utils.ErrInvalidTransition)
	}

	utils.Logger.WithFields(logrus.Fields{
		"visit_id": visitID,
		"from":     visit.Status,
		"to":       to,
	}).Info("Visit status changed")
	return w.Get(ctx, visitID)
}

func (w *Workflow) Get(ctx context.Context, visitID uint) (*models.VisitRequest, error) {
	var visit models.VisitRequest
	if err := w.db.WithContext(ctx).First(&visit, visitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("visit %d: %w", visitID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load visit: %w", err)
	}
	return &visit, nil
}

// List returns a unit's visits, optionally only those in status.
func (w *Workflow) List(ctx context.Context, unitID uint, status *models.VisitStatus) ([]models.VisitRequest, error) {
	q := w.db.WithContext(ctx).Where("unit_id = ?", unitID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var visits []models.VisitRequest
	if err := q.Order("visit_date, visit_time").Find(&visits).Error; err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return visits, nil
}

// BookedDates counts pending and approved visits per day in [from, to].
func (w *Workflow) BookedDates(ctx context.Context, unitID uint, from, to time.Time) ([]BookedDay, error) {
	var visits []models.VisitRequest
	err := w.db.WithContext(ctx).
		Where("unit_id = ? AND status IN ? AND visit_date >= ? AND visit_date <= ?",
			unitID, []models.VisitStatus{models.VisitPending, models.VisitApproved}, truncateDay(from), truncateDay(to)).
		Order("visit_date").
		Find(&visits).Error
	if err != nil {
		return nil, fmt.Errorf("load booked dates: %w", err)
	}

	var days []BookedDay
	for _, v := range visits {
		date := v.VisitDate.UTC().Format("2006-01-02")
		if n := len(days); n > 0 && days[n-1].Date == date {
			days[n-1].Count++
			continue
		}
		days = append(days, BookedDay{Date: date, Count: 1})
	}
	return days, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
