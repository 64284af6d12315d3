package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupLedger(t *testing.T) (*Ledger, *testClock, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))

	plans := models.DefaultPlans()
	require.NoError(t, db.Create(&plans).Error)
	require.NoError(t, db.Create(&models.Landlord{ID: 1, UserID: 10}).Error)

	clock := &testClock{now: time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)}
	return NewLedger(db, DefaultQuoteTTL, clock.Now), clock, db
}

func TestLedger_ActivateFreePlan(t *testing.T) {
	ledger, clock, _ := setupLedger(t)
	ctx := context.Background()

	sub, err := ledger.ActivateFreePlan(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sub.IsActive)
	assert.Equal(t, freePlanDef.ID, sub.PlanID)
	assert.True(t, clock.now.AddDate(0, 0, 30).Equal(sub.EndDate))

	clock.Advance(5 * 24 * time.Hour)
	again, err := ledger.ActivateFreePlan(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID, "reactivation extends the same row")
	assert.True(t, clock.now.AddDate(0, 0, 30).Equal(again.EndDate))

	_, err = ledger.ActivateFreePlan(ctx, 42)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestLedger_TrialIsOneTime(t *testing.T) {
	ledger, clock, db := setupLedger(t)
	ctx := context.Background()

	quote, err := ledger.Quote(ctx, 1, standardPlanDef.ID)
	require.NoError(t, err)
	assert.True(t, quote.RequiresTrial())
	assert.True(t, quote.Amount.IsZero())

	sub, err := ledger.Commit(ctx, 1, standardPlanDef.ID, quote.Token, nil)
	require.NoError(t, err)
	assert.True(t, sub.IsTrial)
	assert.Equal(t, standardPlanDef.ID, sub.PlanID)
	assert.True(t, clock.now.AddDate(0, 0, 10).Equal(sub.EndDate))

	var landlord models.Landlord
	require.NoError(t, db.First(&landlord, 1).Error)
	assert.True(t, landlord.IsTrialUsed)

	// committing the same quote again returns what it produced
	again, err := ledger.Commit(ctx, 1, standardPlanDef.ID, quote.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)

	_, err = ledger.ActivateTrial(ctx, 1, premiumPlanDef.ID)
	assert.ErrorIs(t, err, utils.ErrTrialAlreadyUsed)

	_, err = ledger.ActivateTrial(ctx, 1, freePlanDef.ID)
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	next, err := ledger.Quote(ctx, 1, premiumPlanDef.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoutePaid, next.Route)
}

func TestLedger_PaidSwitch(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	// ten days of Standard at 500 remain
	_, err := ledger.ActivateTrial(ctx, 1, standardPlanDef.ID)
	require.NoError(t, err)

	quote, err := ledger.Quote(ctx, 1, premiumPlanDef.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoutePaid, quote.Route)
	assert.Equal(t, "833.33", utils.FormatMoney(quote.Amount))
	require.NotNil(t, quote.CurrentPlanID)
	assert.Equal(t, standardPlanDef.ID, *quote.CurrentPlanID)

	_, err = ledger.ConfirmPaidSwitch(ctx, 1, premiumPlanDef.ID, quote.Token, decimal.RequireFromString("800"))
	assert.ErrorIs(t, err, utils.ErrStaleQuote)

	_, err = ledger.Commit(ctx, 1, premiumPlanDef.ID, quote.Token, nil)
	assert.ErrorIs(t, err, utils.ErrInvalidInput)

	_, err = ledger.ConfirmPaidSwitch(ctx, 1, standardPlanDef.ID, quote.Token, quote.Amount)
	assert.ErrorIs(t, err, utils.ErrStaleQuote, "quote is bound to its plan")

	amount := decimal.RequireFromString("833.33")
	sub, err := ledger.Commit(ctx, 1, premiumPlanDef.ID, quote.Token, &amount)
	require.NoError(t, err)
	assert.Equal(t, premiumPlanDef.ID, sub.PlanID)
	assert.False(t, sub.IsTrial)
	assert.Equal(t, "833.33", utils.FormatMoney(sub.AmountPaid))

	again, err := ledger.ConfirmPaidSwitch(ctx, 1, premiumPlanDef.ID, quote.Token, amount)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)

	history, err := ledger.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].IsActive)
	assert.False(t, history[1].IsActive)
}

func TestLedger_StaleQuote(t *testing.T) {
	t.Run("plan changed after quoting", func(t *testing.T) {
		ledger, _, db := setupLedger(t)
		ctx := context.Background()
		require.NoError(t, db.Model(&models.Landlord{}).Where("id = ?", 1).Update("is_trial_used", true).Error)

		quote, err := ledger.Quote(ctx, 1, premiumPlanDef.ID)
		require.NoError(t, err)
		assert.Equal(t, "1000.00", utils.FormatMoney(quote.Amount))

		_, err = ledger.ActivateFreePlan(ctx, 1)
		require.NoError(t, err)

		_, err = ledger.ConfirmPaidSwitch(ctx, 1, premiumPlanDef.ID, quote.Token, quote.Amount)
		assert.ErrorIs(t, err, utils.ErrStaleQuote)

		active, err := ledger.Active(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, freePlanDef.ID, active.PlanID)
	})

	t.Run("quote expired", func(t *testing.T) {
		ledger, clock, db := setupLedger(t)
		ctx := context.Background()
		require.NoError(t, db.Model(&models.Landlord{}).Where("id = ?", 1).Update("is_trial_used", true).Error)

		quote, err := ledger.Quote(ctx, 1, premiumPlanDef.ID)
		require.NoError(t, err)
		clock.Advance(DefaultQuoteTTL + time.Second)

		_, err = ledger.ConfirmPaidSwitch(ctx, 1, premiumPlanDef.ID, quote.Token, quote.Amount)
		assert.ErrorIs(t, err, utils.ErrStaleQuote)
		assert.ErrorIs(t, ledger.AttachGatewayReference(ctx, quote.Token, "ref-1"), utils.ErrStaleQuote)
	})

	t.Run("checkout started before expiry", func(t *testing.T) {
		ledger, clock, db := setupLedger(t)
		ctx := context.Background()
		require.NoError(t, db.Model(&models.Landlord{}).Where("id = ?", 1).Update("is_trial_used", true).Error)

		quote, err := ledger.Quote(ctx, 1, premiumPlanDef.ID)
		require.NoError(t, err)
		require.NoError(t, ledger.AttachGatewayReference(ctx, quote.Token, "ref-2"))
		clock.Advance(time.Hour)

		found, err := ledger.QuoteByReference(ctx, "ref-2")
		require.NoError(t, err)
		assert.Equal(t, quote.Token, found.Token)

		assert.ErrorIs(t, ledger.AttachGatewayReference(ctx, quote.Token, "ref-3"), utils.ErrStaleQuote,
			"a second checkout must not orphan the first")
		found, err = ledger.QuoteByReference(ctx, "ref-2")
		require.NoError(t, err)
		assert.Equal(t, quote.Token, found.Token)
		_, err = ledger.QuoteByReference(ctx, "ref-3")
		assert.ErrorIs(t, err, utils.ErrNotFound)

		sub, err := ledger.ConfirmPaidSwitch(ctx, 1, premiumPlanDef.ID, quote.Token, quote.Amount)
		require.NoError(t, err)
		assert.Equal(t, premiumPlanDef.ID, sub.PlanID)
	})

	t.Run("unknown token", func(t *testing.T) {
		ledger, _, _ := setupLedger(t)
		_, err := ledger.Commit(context.Background(), 1, premiumPlanDef.ID, "not-a-token", nil)
		assert.ErrorIs(t, err, utils.ErrStaleQuote)
	})
}

func TestLedger_QuoteUnknownPlan(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	_, err := ledger.Quote(context.Background(), 1, 99)
	assert.ErrorIs(t, err, utils.ErrUnknownPlan)
}

func TestLedger_NoopAndFreeCommit(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	free, err := ledger.Quote(ctx, 1, freePlanDef.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouteFree, free.Route)
	sub, err := ledger.Commit(ctx, 1, freePlanDef.ID, free.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, freePlanDef.ID, sub.PlanID)

	noop, err := ledger.Quote(ctx, 1, freePlanDef.ID)
	require.NoError(t, err)
	// the free tier always routes free, even when already on it
	assert.Equal(t, models.RouteFree, noop.Route)

	_, err = ledger.ActivateTrial(ctx, 1, standardPlanDef.ID)
	require.NoError(t, err)
	same, err := ledger.Quote(ctx, 1, standardPlanDef.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouteNoop, same.Route)
	assert.True(t, same.Amount.IsZero())
	active, err := ledger.Commit(ctx, 1, standardPlanDef.ID, same.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, standardPlanDef.ID, active.PlanID)
}

func TestLedger_IsWithinListingLimit(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	ctx := context.Background()

	ok, err := ledger.IsWithinListingLimit(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ledger.IsWithinListingLimit(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok, "free tier allows two listings")

	_, err = ledger.ActivateTrial(ctx, 1, premiumPlanDef.ID)
	require.NoError(t, err)
	ok, err = ledger.IsWithinListingLimit(ctx, 1, 5000)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ledger.IsWithinListingLimit(ctx, 1, -1)
	assert.ErrorIs(t, err, utils.ErrInvalidInput)
}

func TestLedger_ExpireLapsed(t *testing.T) {
	ledger, clock, _ := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.ActivateTrial(ctx, 1, premiumPlanDef.ID)
	require.NoError(t, err)

	moved, err := ledger.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	clock.Advance(15 * 24 * time.Hour)
	moved, err = ledger.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	active, err := ledger.Active(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, freePlanDef.ID, active.PlanID)
	assert.Equal(t, freePlanDef.Name, active.Plan.Name)
}

func TestLedger_LandlordForUser(t *testing.T) {
	ledger, _, _ := setupLedger(t)
	landlord, err := ledger.LandlordForUser(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint(1), landlord.ID)

	_, err = ledger.LandlordForUser(context.Background(), 11)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestLedger_PendingQuote(t *testing.T) {
	ledger, clock, _ := setupLedger(t)
	ctx := context.Background()

	quote, err := ledger.Quote(ctx, 1, standardPlanDef.ID)
	require.NoError(t, err)

	pending, err := ledger.PendingQuote(ctx, 1, standardPlanDef.ID, quote.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RouteTrial, pending.Route)

	_, err = ledger.PendingQuote(ctx, 2, standardPlanDef.ID, quote.Token)
	assert.ErrorIs(t, err, utils.ErrStaleQuote, "issued to another landlord")

	_, err = ledger.Commit(ctx, 1, standardPlanDef.ID, quote.Token, nil)
	require.NoError(t, err)
	_, err = ledger.PendingQuote(ctx, 1, standardPlanDef.ID, quote.Token)
	assert.ErrorIs(t, err, utils.ErrStaleQuote, "already committed")

	other, err := ledger.Quote(ctx, 1, premiumPlanDef.ID)
	require.NoError(t, err)
	clock.Advance(DefaultQuoteTTL)
	_, err = ledger.PendingQuote(ctx, 1, premiumPlanDef.ID, other.Token)
	assert.ErrorIs(t, err, utils.ErrStaleQuote, "expired")
}
