package models

import (
	"fmt"
	"time"

	"github.com/yourusername/rentledger/utils"
)

// VisitStatus is the position of a booking visit in the approval workflow.
type VisitStatus string

const (
	VisitPending     VisitStatus = "pending"
	VisitApproved    VisitStatus = "approved"
	VisitDisapproved VisitStatus = "disapproved"
	VisitCancelled   VisitStatus = "cancelled"
)

// ParseVisitStatus rejects anything outside the closed set.
func ParseVisitStatus(s string) (VisitStatus, error) {
	switch st := VisitStatus(s); st {
	case VisitPending, VisitApproved, VisitDisapproved, VisitCancelled:
		return st, nil
	}
	return "", fmt.Errorf("visit status %q: %w", s, utils.ErrInvalidEnum)
}

// VisitAction is a landlord decision on a visit.
type VisitAction string

const (
	ActionApprove    VisitAction = "approve"
	ActionDisapprove VisitAction = "disapprove"
	ActionCancel     VisitAction = "cancel"
)

// ParseVisitAction rejects anything outside the closed set.
func ParseVisitAction(s string) (VisitAction, error) {
	switch a := VisitAction(s); a {
	case ActionApprove, ActionDisapprove, ActionCancel:
		return a, nil
	}
	return "", fmt.Errorf("visit action %q: %w", s, utils.ErrInvalidEnum)
}

// VisitRequest is a tenant's request to view a unit. Disapproved and
// cancelled are terminal; a resubmission is a new request.
type VisitRequest struct {
	ID        uint        `gorm:"primaryKey" json:"visit_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	TenantID  uint        `gorm:"index;not null" json:"tenant_id"`
	UnitID    uint        `gorm:"index;not null" json:"unit_id"`
	VisitDate time.Time   `gorm:"index;not null" json:"visit_date"`
	VisitTime string      `gorm:"size:5;not null" json:"visit_time"`
	Status    VisitStatus `gorm:"size:12;not null;default:'pending'" json:"status"`
	Reason    *string     `gorm:"type:text" json:"reason"`
}

// TableName overrides the table name
func (VisitRequest) TableName() string {
	return "visit_requests"
}
