// Package subscription holds a landlord's plan ledger and the proration
// rules used to quote plan changes.
package subscription

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
)

// CycleDays is the fixed month length proration divides by, whatever the
// calendar month.
const CycleDays = 30

// Current is the part of an active subscription proration reads.
type Current struct {
	PlanID  uint
	Price   decimal.Decimal
	EndDate time.Time
}

// CurrentFrom reads proration input off an active subscription with its plan loaded.
func CurrentFrom(sub *models.Subscription) *Current {
	if sub == nil {
		return nil
	}
	return &Current{PlanID: sub.PlanID, Price: sub.Plan.MonthlyPrice, EndDate: sub.EndDate}
}

// RemainingDays is the time left before end in fractional days, never below zero.
func RemainingDays(now, end time.Time) decimal.Decimal {
	if !end.After(now) {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(end.Sub(now))).Div(decimal.NewFromInt(int64(24 * time.Hour)))
}

// UnusedCredit is the unrounded value of the days left on the current plan.
func UnusedCredit(price, remainingDays decimal.Decimal) decimal.Decimal {
	return price.Mul(remainingDays).Div(decimal.NewFromInt(CycleDays))
}

// Prorate returns the charge for switching from current to target. Without a
// current subscription, or when target is the current plan, it is zero. Only
// the final charge is rounded.
func Prorate(current *Current, target models.SubscriptionPlan, now time.Time) decimal.Decimal {
	if current == nil || current.PlanID == target.ID {
		return decimal.Zero
	}
	credit := UnusedCredit(current.Price, RemainingDays(now, current.EndDate))
	charge := target.MonthlyPrice.Sub(credit)
	if charge.IsNegative() {
		return decimal.Zero
	}
	return utils.Round2(charge)
}

// Decision is the outcome of routing a plan change.
type Decision struct {
	Route  models.QuoteRoute
	Amount decimal.Decimal
}

// Route decides how a landlord reaches target. The free tier short-circuits
// trial and proration; an unused trial is offered before any paid switch.
func Route(landlord models.Landlord, current *Current, target models.SubscriptionPlan, now time.Time) Decision {
	switch {
	case target.IsFree():
		return Decision{Route: models.RouteFree, Amount: decimal.Zero}
	case current != nil && current.PlanID == target.ID:
		return Decision{Route: models.RouteNoop, Amount: decimal.Zero}
	case !landlord.IsTrialUsed && target.TrialDays > 0:
		return Decision{Route: models.RouteTrial, Amount: decimal.Zero}
	case current == nil:
		return Decision{Route: models.RoutePaid, Amount: utils.Round2(target.MonthlyPrice)}
	default:
		return Decision{Route: models.RoutePaid, Amount: Prorate(current, target, now)}
	}
}
