package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultQuoteTTL bounds how long a quoted amount can be committed.
const DefaultQuoteTTL = 15 * time.Minute

// Ledger is the authoritative record of landlord subscriptions. Each
// mutating call runs in one transaction that first touches the landlord row,
// so changes for the same landlord are serialized.
type Ledger struct {
	db       *gorm.DB
	quoteTTL time.Duration
	now      func() time.Time
}

func NewLedger(db *gorm.DB, quoteTTL time.Duration, clock func() time.Time) *Ledger {
	if quoteTTL <= 0 {
		quoteTTL = DefaultQuoteTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{db: db, quoteTTL: quoteTTL, now: clock}
}

// clock truncates to what Postgres timestamps keep, so values read back
// compare equal to the values written.
func (l *Ledger) clock() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) Plans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	if err := l.db.WithContext(ctx).Order("monthly_price, id").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// Active returns the landlord's active subscription with its plan.
func (l *Ledger) Active(ctx context.Context, landlordID uint) (*models.Subscription, error) {
	sub, err := activeSubscription(l.db.WithContext(ctx), landlordID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("landlord %d has no active subscription: %w", landlordID, utils.ErrNotFound)
	}
	return sub, nil
}

// History returns every subscription row of a landlord, newest first.
func (l *Ledger) History(ctx context.Context, landlordID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := l.db.WithContext(ctx).Preload("Plan").
		Where("landlord_id = ?", landlordID).
		Order("id DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return subs, nil
}

// ActivateFreePlan puts the landlord on the free tier for a cycle. Activating
// it again while already on it extends the end date.
func (l *Ledger) ActivateFreePlan(ctx context.Context, landlordID uint) (*models.Subscription, error) {
	var sub *models.Subscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.lockLandlord(tx, landlordID); err != nil {
			return err
		}
		var err error
		sub, err = l.activateFree(tx, landlordID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ActivateTrial starts the plan's free trial. A landlord gets one trial ever.
func (l *Ledger) ActivateTrial(ctx context.Context, landlordID, planID uint) (*models.Subscription, error) {
	var sub *models.Subscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan, err := findPlan(tx, planID)
		if err != nil {
			return err
		}
		if err := l.lockLandlord(tx, landlordID); err != nil {
			return err
		}
		sub, err = l.activateTrial(tx, landlordID, *plan, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Quote prices a switch to targetPlanID and stores the basis it was priced
// on behind a fresh token.
func (l *Ledger) Quote(ctx context.Context, landlordID, targetPlanID uint) (*models.ProrationQuote, error) {
	db := l.db.WithContext(ctx)
	target, err := findPlan(db, targetPlanID)
	if err != nil {
		return nil, err
	}
	landlord, err := findLandlord(db, landlordID)
	if err != nil {
		return nil, err
	}
	active, err := activeSubscription(db, landlordID)
	if err != nil {
		return nil, err
	}

	now := l.clock()
	decision := Route(*landlord, CurrentFrom(active), *target, now)
	quote := models.ProrationQuote{
		Token:        uuid.NewString(),
		LandlordID:   landlordID,
		TargetPlanID: target.ID,
		TargetPrice:  target.MonthlyPrice,
		Amount:       decision.Amount,
		Route:        decision.Route,
		ExpiresAt:    now.Add(l.quoteTTL),
	}
	if active != nil {
		planID, end := active.PlanID, active.EndDate
		quote.CurrentPlanID = &planID
		quote.CurrentEndDate = &end
	}
	if err := db.Create(&quote).Error; err != nil {
		return nil, fmt.Errorf("save quote: %w", err)
	}

	utils.Logger.WithFields(logrus.Fields{
		"landlord_id": landlordID,
		"plan_id":     target.ID,
		"route":       quote.Route,
		"amount":      utils.FormatMoney(quote.Amount),
	}).Info("Plan change quoted")
	return &quote, nil
}

// Commit applies a quoted plan change. amount is required for paid routes
// and must equal the quoted amount.
func (l *Ledger) Commit(ctx context.Context, landlordID, planID uint, token string, amount *decimal.Decimal) (*models.Subscription, error) {
	quote, err := l.matchQuote(l.db.WithContext(ctx), landlordID, planID, token)
	if err != nil {
		return nil, err
	}

	switch quote.Route {
	case models.RoutePaid:
		if amount == nil {
			return nil, fmt.Errorf("amount charged is required for a paid switch: %w", utils.ErrInvalidInput)
		}
		return l.ConfirmPaidSwitch(ctx, landlordID, planID, token, *amount)
	case models.RouteNoop:
		return l.commitNoop(ctx, quote)
	}

	var sub *models.Subscription
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.lockLandlord(tx, landlordID); err != nil {
			return err
		}
		consumed, err := l.consumeQuote(tx, quote)
		if err != nil {
			return err
		}
		if !consumed {
			sub, err = committedBy(tx, landlordID, token)
			return err
		}
		switch quote.Route {
		case models.RouteFree:
			sub, err = l.activateFree(tx, landlordID, token)
		case models.RouteTrial:
			var plan *models.SubscriptionPlan
			if plan, err = findPlan(tx, planID); err == nil {
				sub, err = l.activateTrial(tx, landlordID, *plan, token)
			}
		default:
			err = fmt.Errorf("quote route %q: %w", quote.Route, utils.ErrInvalidEnum)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ConfirmPaidSwitch commits a paid plan change once payment for the quoted
// amount is confirmed. Confirming an already committed quote returns the
// subscription it created.
func (l *Ledger) ConfirmPaidSwitch(ctx context.Context, landlordID, planID uint, token string, amountCharged decimal.Decimal) (*models.Subscription, error) {
	var sub *models.Subscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.lockLandlord(tx, landlordID); err != nil {
			return err
		}
		quote, err := l.matchQuote(tx, landlordID, planID, token)
		if err != nil {
			return err
		}
		if quote.Route != models.RoutePaid {
			return fmt.Errorf("quote %s routes to %s: %w", token, quote.Route, utils.ErrStaleQuote)
		}
		if quote.ConsumedAt != nil {
			sub, err = committedBy(tx, landlordID, token)
			return err
		}
		if !utils.SameAmount(quote.Amount, amountCharged) {
			return fmt.Errorf("charged %s, quoted %s: %w",
				utils.FormatMoney(amountCharged), utils.FormatMoney(quote.Amount), utils.ErrStaleQuote)
		}
		plan, err := findPlan(tx, planID)
		if err != nil {
			return err
		}
		if err := l.checkBasis(tx, quote, plan); err != nil {
			return err
		}

		consumed, err := l.consumeQuote(tx, quote)
		if err != nil {
			return err
		}
		if !consumed {
			sub, err = committedBy(tx, landlordID, token)
			return err
		}
		now := l.clock()
		sub, err = l.replaceActive(tx, landlordID, *plan, now.AddDate(0, 0, CycleDays), false, utils.Round2(amountCharged), token)
		return err
	})
	if err != nil {
		return nil, err
	}

	utils.Logger.WithFields(logrus.Fields{
		"landlord_id": landlordID,
		"plan_id":     planID,
		"amount":      utils.FormatMoney(amountCharged),
	}).Info("Paid plan switch committed")
	return sub, nil
}

// IssuedQuote returns the quote behind token if it was issued to landlordID
// for planID, committed or not.
func (l *Ledger) IssuedQuote(ctx context.Context, landlordID, planID uint, token string) (*models.ProrationQuote, error) {
	return l.matchQuote(l.db.WithContext(ctx), landlordID, planID, token)
}

// PendingQuote returns an uncommitted, unexpired quote issued to landlordID for planID.
func (l *Ledger) PendingQuote(ctx context.Context, landlordID, planID uint, token string) (*models.ProrationQuote, error) {
	quote, err := l.IssuedQuote(ctx, landlordID, planID, token)
	if err != nil {
		return nil, err
	}
	if quote.ConsumedAt != nil {
		return nil, fmt.Errorf("quote %s already committed: %w", token, utils.ErrStaleQuote)
	}
	if !quote.ExpiresAt.After(l.clock()) {
		return nil, fmt.Errorf("quote %s expired: %w", token, utils.ErrStaleQuote)
	}
	return quote, nil
}

// AttachGatewayReference records the checkout reference of a paid quote so
// the payment webhook can find it. A quote carries one checkout only: once a
// reference is attached it is never replaced, and a new checkout needs a new
// quote.
func (l *Ledger) AttachGatewayReference(ctx context.Context, token, reference string) error {
	if reference == "" {
		return fmt.Errorf("empty gateway reference: %w", utils.ErrInvalidInput)
	}
	res := l.db.WithContext(ctx).Model(&models.ProrationQuote{}).
		Where("token = ? AND route = ? AND consumed_at IS NULL AND expires_at > ?", token, models.RoutePaid, l.clock()).
		Where("COALESCE(gateway_reference, '') = ''").
		Update("gateway_reference", reference)
	if res.Error != nil {
		return fmt.Errorf("attach gateway reference: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var quote models.ProrationQuote
		if err := l.db.WithContext(ctx).Where("token = ?", token).First(&quote).Error; err == nil && quote.GatewayReference != "" {
			return fmt.Errorf("quote %s already has checkout %s: %w", token, quote.GatewayReference, utils.ErrStaleQuote)
		}
		return fmt.Errorf("quote %s cannot start a checkout: %w", token, utils.ErrStaleQuote)
	}
	return nil
}

// QuoteByReference finds the paid quote a gateway reference was issued for.
func (l *Ledger) QuoteByReference(ctx context.Context, reference string) (*models.ProrationQuote, error) {
	var quote models.ProrationQuote
	err := l.db.WithContext(ctx).Where("gateway_reference = ?", reference).First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("gateway reference %s: %w", reference, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}
	return &quote, nil
}

// LandlordForUser resolves the landlord record of an authenticated user.
func (l *Ledger) LandlordForUser(ctx context.Context, userID uint) (*models.Landlord, error) {
	var landlord models.Landlord
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&landlord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("landlord for user %d: %w", userID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load landlord: %w", err)
	}
	return &landlord, nil
}

// IsWithinListingLimit reports whether a landlord holding currentCount
// listings may add one more. Without an active subscription the free tier's
// limit applies.
func (l *Ledger) IsWithinListingLimit(ctx context.Context, landlordID uint, currentCount int) (bool, error) {
	if currentCount < 0 {
		return false, fmt.Errorf("listing count %d: %w", currentCount, utils.ErrInvalidInput)
	}
	db := l.db.WithContext(ctx)
	active, err := activeSubscription(db, landlordID)
	if err != nil {
		return false, err
	}
	var plan models.SubscriptionPlan
	if active != nil {
		plan = active.Plan
	} else {
		free, err := freePlan(db)
		if err != nil {
			return false, err
		}
		plan = *free
	}
	if plan.Unlimited() {
		return true, nil
	}
	return currentCount < plan.ListingLimit, nil
}

// ExpireLapsed moves every active subscription whose end date has passed to
// the free tier and returns how many were moved.
func (l *Ledger) ExpireLapsed(ctx context.Context) (int, error) {
	now := l.clock()
	var lapsed []models.Subscription
	err := l.db.WithContext(ctx).
		Where("is_active = ? AND end_date < ?", true, now).
		Find(&lapsed).Error
	if err != nil {
		return 0, fmt.Errorf("find lapsed subscriptions: %w", err)
	}

	moved := 0
	for _, sub := range lapsed {
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := l.lockLandlord(tx, sub.LandlordID); err != nil {
				return err
			}
			res := tx.Model(&models.Subscription{}).
				Where("id = ? AND is_active = ? AND end_date < ?", sub.ID, true, now).
				Update("is_active", false)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			free, err := freePlan(tx)
			if err != nil {
				return err
			}
			if _, err := l.replaceActive(tx, sub.LandlordID, *free, now.AddDate(0, 0, CycleDays), false, decimal.Zero, ""); err != nil {
				return err
			}
			moved++
			return nil
		})
		if err != nil {
			utils.Logger.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to expire subscription")
			continue
		}
	}
	if moved > 0 {
		utils.Logger.WithField("count", moved).Info("Lapsed subscriptions moved to free plan")
	}
	return moved, nil
}

func (l *Ledger) commitNoop(ctx context.Context, quote *models.ProrationQuote) (*models.Subscription, error) {
	active, err := activeSubscription(l.db.WithContext(ctx), quote.LandlordID)
	if err != nil {
		return nil, err
	}
	if active == nil || active.PlanID != quote.TargetPlanID {
		return nil, fmt.Errorf("quote %s: plan changed since quoting: %w", quote.Token, utils.ErrStaleQuote)
	}
	return active, nil
}

func (l *Ledger) activateFree(tx *gorm.DB, landlordID uint, token string) (*models.Subscription, error) {
	free, err := freePlan(tx)
	if err != nil {
		return nil, err
	}
	active, err := activeSubscription(tx, landlordID)
	if err != nil {
		return nil, err
	}
	end := l.clock().AddDate(0, 0, CycleDays)
	if active == nil || active.PlanID != free.ID {
		return l.replaceActive(tx, landlordID, *free, end, false, decimal.Zero, token)
	}

	updates := map[string]interface{}{"end_date": end}
	if token != "" {
		updates["quote_token"] = token
	}
	if err := tx.Model(&models.Subscription{}).Where("id = ?", active.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("extend free plan: %w", err)
	}
	return activeSubscription(tx, landlordID)
}

func (l *Ledger) activateTrial(tx *gorm.DB, landlordID uint, plan models.SubscriptionPlan, token string) (*models.Subscription, error) {
	if plan.TrialDays <= 0 {
		return nil, fmt.Errorf("plan %d has no trial: %w", plan.ID, utils.ErrInvalidTransition)
	}
	res := tx.Model(&models.Landlord{}).
		Where("id = ? AND is_trial_used = ?", landlordID, false).
		Update("is_trial_used", true)
	if res.Error != nil {
		return nil, fmt.Errorf("claim trial: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("landlord %d: %w", landlordID, utils.ErrTrialAlreadyUsed)
	}
	now := l.clock()
	sub, err := l.replaceActive(tx, landlordID, plan, now.AddDate(0, 0, plan.TrialDays), true, decimal.Zero, token)
	if err != nil {
		return nil, err
	}
	utils.Logger.WithFields(logrus.Fields{"landlord_id": landlordID, "plan_id": plan.ID}).Info("Trial activated")
	return sub, nil
}

// replaceActive retires the landlord's active row and inserts the new one.
func (l *Ledger) replaceActive(tx *gorm.DB, landlordID uint, plan models.SubscriptionPlan, end time.Time, trial bool, amount decimal.Decimal, token string) (*models.Subscription, error) {
	err := tx.Model(&models.Subscription{}).
		Where("landlord_id = ? AND is_active = ?", landlordID, true).
		Update("is_active", false).Error
	if err != nil {
		return nil, fmt.Errorf("retire active subscription: %w", err)
	}
	sub := models.Subscription{
		LandlordID: landlordID,
		PlanID:     plan.ID,
		IsActive:   true,
		IsTrial:    trial,
		StartDate:  l.clock(),
		EndDate:    end,
		AmountPaid: amount,
		QuoteToken: token,
	}
	if err := tx.Omit(clause.Associations).Create(&sub).Error; err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	sub.Plan = plan
	return &sub, nil
}

// matchQuote loads a quote and checks it was issued to this landlord for this plan.
func (l *Ledger) matchQuote(tx *gorm.DB, landlordID, planID uint, token string) (*models.ProrationQuote, error) {
	if token == "" {
		return nil, fmt.Errorf("missing quote token: %w", utils.ErrStaleQuote)
	}
	var quote models.ProrationQuote
	if err := tx.Where("token = ?", token).First(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unknown quote %s: %w", token, utils.ErrStaleQuote)
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if quote.LandlordID != landlordID || quote.TargetPlanID != planID {
		return nil, fmt.Errorf("quote %s was issued for another change: %w", token, utils.ErrStaleQuote)
	}
	return &quote, nil
}

// checkBasis fails when the plan price or the landlord's active subscription
// moved since the quote was priced. A quote whose checkout already started
// is not subject to expiry.
func (l *Ledger) checkBasis(tx *gorm.DB, quote *models.ProrationQuote, plan *models.SubscriptionPlan) error {
	if quote.GatewayReference == "" && !l.clock().Before(quote.ExpiresAt) {
		return fmt.Errorf("quote %s expired: %w", quote.Token, utils.ErrStaleQuote)
	}
	if !plan.MonthlyPrice.Equal(quote.TargetPrice) {
		return fmt.Errorf("plan %d price changed: %w", plan.ID, utils.ErrStaleQuote)
	}
	active, err := activeSubscription(tx, quote.LandlordID)
	if err != nil {
		return err
	}
	switch {
	case active == nil && quote.CurrentPlanID == nil:
		return nil
	case active == nil || quote.CurrentPlanID == nil:
		return fmt.Errorf("quote %s: active subscription changed: %w", quote.Token, utils.ErrStaleQuote)
	case active.PlanID != *quote.CurrentPlanID || quote.CurrentEndDate == nil || !active.EndDate.Equal(*quote.CurrentEndDate):
		return fmt.Errorf("quote %s: active subscription changed: %w", quote.Token, utils.ErrStaleQuote)
	}
	return nil
}

// consumeQuote marks an unexpired quote used. It reports false when another
// commit consumed it first.
func (l *Ledger) consumeQuote(tx *gorm.DB, quote *models.ProrationQuote) (bool, error) {
	now := l.clock()
	if quote.ConsumedAt == nil && quote.GatewayReference == "" && !now.Before(quote.ExpiresAt) {
		return false, fmt.Errorf("quote %s expired: %w", quote.Token, utils.ErrStaleQuote)
	}
	res := tx.Model(&models.ProrationQuote{}).
		Where("token = ? AND consumed_at IS NULL", quote.Token).
		Update("consumed_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("consume quote: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// lockLandlord touches the landlord row. In Postgres this takes the row lock
// for the rest of the transaction.
func (l *Ledger) lockLandlord(tx *gorm.DB, landlordID uint) error {
	res := tx.Model(&models.Landlord{}).Where("id = ?", landlordID).Update("updated_at", l.clock())
	if res.Error != nil {
		return fmt.Errorf("lock landlord: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("landlord %d: %w", landlordID, utils.ErrNotFound)
	}
	return nil
}

// committedBy returns the active subscription a consumed quote produced.
func committedBy(tx *gorm.DB, landlordID uint, token string) (*models.Subscription, error) {
	active, err := activeSubscription(tx, landlordID)
	if err != nil {
		return nil, err
	}
	if active == nil || active.QuoteToken != token {
		return nil, fmt.Errorf("quote %s already used: %w", token, utils.ErrStaleQuote)
	}
	return active, nil
}

func activeSubscription(db *gorm.DB, landlordID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Preload("Plan").
		Where("landlord_id = ? AND is_active = ?", landlordID, true).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load active subscription: %w", err)
	}
	return &sub, nil
}

func findPlan(db *gorm.DB, planID uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := db.First(&plan, planID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("plan %d: %w", planID, utils.ErrUnknownPlan)
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	return &plan, nil
}

// freePlan is the cheapest zero-price plan.
func freePlan(db *gorm.DB) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := db.Where("monthly_price = ?", 0).Order("id").First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no free plan configured: %w", utils.ErrUnknownPlan)
		}
		return nil, fmt.Errorf("load free plan: %w", err)
	}
	return &plan, nil
}

func findLandlord(db *gorm.DB, landlordID uint) (*models.Landlord, error) {
	var landlord models.Landlord
	if err := db.First(&landlord, landlordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("landlord %d: %w", landlordID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load landlord: %w", err)
	}
	return &landlord, nil
}
