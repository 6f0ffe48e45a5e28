package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"liftbook/internal/config"
	"liftbook/internal/database"
	"liftbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessNotifySuccess(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	worker := NewOutboxWorker(db, notifier, "log", nil, nil, config.WorkerConfig{}, nil)

	ctx := context.Background()
	task := enqueueNotify(t, db, "b-1", "cust-1")
	worker.Dispatch(ctx, []*models.OutboxTask{task})

	queued, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processQueued(ctx, &queued)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if got := notifier.recipients(); len(got) != 1 || got[0] != "cust-1" {
		t.Fatalf("unexpected recipients: %v", got)
	}
}

func TestProcessNotifyRetry(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("boom")}
	worker := NewOutboxWorker(db, notifier, "log", nil, nil, config.WorkerConfig{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	task := enqueueNotify(t, db, "b-2", "cust-1")
	worker.processTask(ctx, task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessNotifyFailToDeadLetter(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	worker := NewOutboxWorker(db, &fakeNotifier{err: errors.New("fatal")}, "log", nil, rdb, config.WorkerConfig{MaxRetries: 1}, nil)

	ctx := context.Background()
	task := enqueueNotify(t, db, "b-3", "cust-1")
	worker.processTask(ctx, task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	n, err := rdb.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dead letter, got %d", n)
	}
}

func TestProcessBadPayloadFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, &fakeNotifier{}, "log", nil, nil, config.WorkerConfig{MaxRetries: 5}, nil)

	ctx := context.Background()
	task := &models.OutboxTask{TaskType: models.TaskNotify, BookingID: "b-4", Payload: "not json"}
	if err := db.CreateOutboxTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	worker.processTask(ctx, task)

	status, retryCount, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected no retries, got %d", retryCount)
	}
}

func TestProcessSheetsUpsertUsesLatestBooking(t *testing.T) {
	db := newTestDB(t)
	mirror := &fakeMirror{}
	worker := NewOutboxWorker(db, &fakeNotifier{}, "log", mirror, nil, config.WorkerConfig{}, nil)

	ctx := context.Background()
	booking := seedBooking(t, db)
	task := &models.OutboxTask{TaskType: models.TaskSheetsUpsert, BookingID: booking.ID, Payload: SheetsPayload(booking.ID)}
	if err := db.CreateOutboxTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	worker.processTask(ctx, task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if len(mirror.upserted) != 1 || mirror.upserted[0].ID != booking.ID {
		t.Fatalf("expected mirror upsert for %s, got %+v", booking.ID, mirror.upserted)
	}
}

func TestProcessSheetsUpsertWithoutMirror(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, &fakeNotifier{}, "log", nil, nil, config.WorkerConfig{}, nil)

	ctx := context.Background()
	task := &models.OutboxTask{TaskType: models.TaskSheetsUpsert, BookingID: "missing", Payload: SheetsPayload("missing")}
	if err := db.CreateOutboxTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	worker.processTask(ctx, task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
}

func TestProcessQueuedSkipsCompleted(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	worker := NewOutboxWorker(db, notifier, "log", nil, nil, config.WorkerConfig{}, nil)

	ctx := context.Background()
	task := enqueueNotify(t, db, "b-5", "cust-1")
	if err := db.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	worker.processQueued(ctx, task)
	if len(notifier.recipients()) != 0 {
		t.Fatalf("completed task must not be delivered twice")
	}
}

func TestDispatchViaRedis(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	worker := NewOutboxWorker(db, &fakeNotifier{}, "log", nil, rdb, config.WorkerConfig{}, nil)

	ctx := context.Background()
	task := enqueueNotify(t, db, "b-6", "cust-1")
	worker.Dispatch(ctx, []*models.OutboxTask{task, nil, {}})

	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected task to go to redis, not memory")
	}
	got, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	if got.ID != task.ID {
		t.Fatalf("expected task %d, got %d", task.ID, got.ID)
	}
}

func TestStartDeliversPolledTasks(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	worker := NewOutboxWorker(db, notifier, "log", nil, nil, config.WorkerConfig{PollInterval: 10 * time.Millisecond}, nil)

	task := enqueueNotify(t, db, "b-7", "disp-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(notifier.recipients()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if len(notifier.recipients()) != 1 {
		t.Fatalf("expected polled task to be delivered once, got %d", len(notifier.recipients()))
	}
	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.OutboxCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	policy := RetryPolicyFromConfig(config.WorkerConfig{})
	if policy.MaxRetries != 5 || policy.InitialDelay != 2*time.Second || policy.MaxDelay != time.Minute {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
	if policy.Exhausted(4) {
		t.Fatalf("attempt 4 of 5 should not be exhausted")
	}
	if !policy.Exhausted(5) {
		t.Fatalf("attempt 5 of 5 should be exhausted")
	}

	custom := RetryPolicyFromConfig(config.WorkerConfig{MaxRetries: 2, InitialDelay: time.Millisecond})
	if custom.NextDelay(3) != 4*time.Millisecond {
		t.Fatalf("expected 4ms, got %s", custom.NextDelay(3))
	}
}

// Helpers

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []models.NotificationIntent
}

func (f *fakeNotifier) Notify(_ context.Context, intent models.NotificationIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, intent)
	return nil
}

func (f *fakeNotifier) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, i := range f.sent {
		out = append(out, i.Recipient)
	}
	return out
}

type fakeMirror struct {
	upserted []*models.Booking
}

func (f *fakeMirror) UpsertBooking(_ context.Context, b *models.Booking) error {
	f.upserted = append(f.upserted, b)
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.Nop()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func enqueueNotify(t *testing.T, db *database.DB, bookingID, recipient string) *models.OutboxTask {
	t.Helper()
	payload, err := json.Marshal(models.NotificationIntent{BookingID: bookingID, NewStatus: models.StatusPending, Recipient: recipient})
	if err != nil {
		t.Fatalf("encode intent: %v", err)
	}
	task := &models.OutboxTask{TaskType: models.TaskNotify, BookingID: bookingID, Payload: string(payload)}
	if err := db.CreateOutboxTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func seedBooking(t *testing.T, db *database.DB) *models.Booking {
	t.Helper()
	now := time.Now()
	b := &models.Booking{
		ID:                  uuid.NewString(),
		CustomerID:          "cust-1",
		ServiceType:         models.ServiceBoxTruck,
		PickupAddress:       "1 Dock Rd",
		DropoffAddress:      "9 Hill St",
		PreferredDate:       now.AddDate(0, 0, 7),
		PreferredTimeWindow: models.WindowFlexible,
		TotalEstimate:       12000,
		DepositAmount:       2400,
		Status:              models.StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	entry := &models.StatusHistoryEntry{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		NewStatus: models.StatusPending,
		ActorID:   &b.CustomerID,
		ActorRole: models.RoleCustomer,
		CreatedAt: now,
	}
	if err := db.CreateBooking(context.Background(), b, entry, nil); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM outbox WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
