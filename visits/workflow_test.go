package visits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rentledger/models"
	"github.com/yourusername/rentledger/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var today = time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)

func setupWorkflow(t *testing.T) *Workflow {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return NewWorkflow(db, func() time.Time { return today })
}

func request(t *testing.T, w *Workflow, daysAhead int) *models.VisitRequest {
	t.Helper()
	v, err := w.Request(context.Background(), 4, 7, today.AddDate(0, 0, daysAhead), "14:30")
	require.NoError(t, err)
	return v
}

func TestNext(t *testing.T) {
	tests := []struct {
		from    models.VisitStatus
		action  models.VisitAction
		want    models.VisitStatus
		wantErr bool
	}{
		{models.VisitPending, models.ActionApprove, models.VisitApproved, false},
		{models.VisitPending, models.ActionDisapprove, models.VisitDisapproved, false},
		{models.VisitPending, models.ActionCancel, "", true},
		{models.VisitApproved, models.ActionCancel, models.VisitCancelled, false},
		{models.VisitApproved, models.ActionApprove, "", true},
		{models.VisitApproved, models.ActionDisapprove, "", true},
		{models.VisitDisapproved, models.ActionApprove, "", true},
		{models.VisitCancelled, models.ActionApprove, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, utils.ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApproveThenCancel(t *testing.T) {
	w := setupWorkflow(t)
	ctx := context.Background()
	v := request(t, w, 2)
	assert.Equal(t, models.VisitPending, v.Status)

	approved, err := w.Approve(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisitApproved, approved.Status)

	cancelled, err := w.Cancel(ctx, v.ID, "tenant found another unit")
	require.NoError(t, err)
	assert.Equal(t, models.VisitCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Reason)
	assert.Equal(t, "tenant found another unit", *cancelled.Reason)

	_, err = w.Approve(ctx, v.ID)
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)
}

func TestCancelPendingFails(t *testing.T) {
	w := setupWorkflow(t)
	v := request(t, w, 2)

	_, err := w.Cancel(context.Background(), v.ID, "")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	stored, err := w.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisitPending, stored.Status)
}

func TestDisapproveRequiresReason(t *testing.T) {
	w := setupWorkflow(t)
	ctx := context.Background()
	v := request(t, w, 2)

	_, err := w.Disapprove(ctx, v.ID, "   ")
	assert.ErrorIs(t, err, utils.ErrMissingReason)

	stored, err := w.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VisitPending, stored.Status)

	disapproved, err := w.Disapprove(ctx, v.ID, "unit under renovation")
	require.NoError(t, err)
	assert.Equal(t, models.VisitDisapproved, disapproved.Status)
	require.NotNil(t, disapproved.Reason)
	assert.Equal(t, "unit under renovation", *disapproved.Reason)

	// resubmission is a new visit
	again := request(t, w, 3)
	assert.NotEqual(t, v.ID, again.ID)
	assert.Equal(t, models.VisitPending, again.Status)
}

func TestDisapproveFinishedVisitWithoutReason(t *testing.T) {
	w := setupWorkflow(t)
	ctx := context.Background()

	cancelled := request(t, w, 2)
	_, err := w.Approve(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = w.Cancel(ctx, cancelled.ID, "")
	require.NoError(t, err)

	disapproved := request(t, w, 3)
	_, err = w.Disapprove(ctx, disapproved.ID, "double booked")
	require.NoError(t, err)

	for _, id := range []uint{cancelled.ID, disapproved.ID} {
		_, err := w.Disapprove(ctx, id, "")
		assert.ErrorIs(t, err, utils.ErrInvalidTransition, "visit %d", id)
		assert.NotErrorIs(t, err, utils.ErrMissingReason)
	}
}

func TestTransitionUnknownVisit(t *testing.T) {
	w := setupWorkflow(t)
	_, err := w.Approve(context.Background(), 404)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = w.Disapprove(context.Background(), 404, "")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestRequestValidation(t *testing.T) {
	w := setupWorkflow(t)
	ctx := context.Background()

	_, err := w.Request(ctx, 4, 7, today.AddDate(0, 0, 1), "2pm")
	assert.ErrorIs(t, err, utils.ErrInvalidInput)

	_, err = w.Request(ctx, 4, 7, today.AddDate(0, 0, -1), "10:00")
	assert.ErrorIs(t, err, utils.ErrInvalidInput)

	v, err := w.Request(ctx, 4, 7, today, "10:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", v.VisitDate.Format("2006-01-02"))
}

func TestBookedDates(t *testing.T) {
	w := setupWorkflow(t)
	ctx := context.Background()

	a := request(t, w, 1)
	request(t, w, 1)
	c := request(t, w, 4)
	d := request(t, w, 5)

	_, err := w.Approve(ctx, a.ID)
	require.NoError(t, err)
	_, err = w.Disapprove(ctx, d.ID, "double booked")
	require.NoError(t, err)

	days, err := w.BookedDates(ctx, 7, today, today.Add(BookingWindow))
	require.NoError(t, err)
	assert.Equal(t, []BookedDay{
		{Date: "2024-07-02", Count: 2},
		{Date: c.VisitDate.Format("2006-01-02"), Count: 1},
	}, days)

	pending := models.VisitPending
	list, err := w.List(ctx, 7, &pending)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
