package database

import (
	"context"
	"testing"
	"time"

	"liftbook/internal/domain"
	"liftbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := &models.OutboxTask{TaskType: models.TaskNotify, BookingID: "b-1", Payload: `{"n":1}`}
	second := &models.OutboxTask{TaskType: models.TaskSheetsUpsert, BookingID: "b-1", Payload: `{"n":2}`}
	require.NoError(t, db.CreateOutboxTask(ctx, first))
	require.NoError(t, db.CreateOutboxTask(ctx, second))
	assert.Equal(t, models.OutboxPending, first.Status)

	pending, err := db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	future := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, first.ID, models.OutboxRetry, "boom", &future))
	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, second.ID, models.OutboxCompleted, "", nil))

	pending, err = db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "retry scheduled in the future must not be picked up")

	past := time.Now().Add(-time.Second)
	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, first.ID, models.OutboxRetry, "boom again", &past))
	pending, err = db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "boom again", *pending[0].LastError)

	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, first.ID, models.OutboxFailed, "gave up", nil))
	failed, err := db.GetFailedOutboxTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)

	all, err := db.GetOutboxTasksByBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, models.OutboxCompleted, all[1].Status)
}

func TestGetOutboxTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.OutboxTask{TaskType: models.TaskNotify, BookingID: "b-2", Payload: `{}`}
	require.NoError(t, db.CreateOutboxTask(ctx, task))

	got, err := db.GetOutboxTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "b-2", got.BookingID)
	assert.Equal(t, models.OutboxPending, got.Status)

	_, err = db.GetOutboxTask(ctx, task.ID+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
