package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liftbook/internal/config"
	"liftbook/internal/domain"
	"liftbook/internal/metrics"
	"liftbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey = "liftbook:outbox"
	deadLetterKey = "liftbook:outbox:deadletter"
)

// OutboxStore is the slice of storage the worker needs.
type OutboxStore interface {
	GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error)
	GetOutboxTask(ctx context.Context, id int64) (*models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

// sheetsPayload is persisted in OutboxTask.Payload for sheets_upsert tasks.
type sheetsPayload struct {
	BookingID string `json:"booking_id"`
}

// OutboxWorker delivers committed outbox tasks: notifications and the
// spreadsheet mirror. Tasks arrive through redis or an in-memory queue and
// storage polling picks up anything those paths missed.
type OutboxWorker struct {
	store        OutboxStore
	notifier     domain.Notifier
	mirror       domain.BookingMirror
	channel      string
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.OutboxTask
	pollInterval time.Duration
	batchSize    int
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewOutboxWorker builds a worker with defaults for every zero setting.
// mirror and redisClient may be nil.
func NewOutboxWorker(store OutboxStore, notifier domain.Notifier, channel string, mirror domain.BookingMirror,
	redisClient *redis.Client, cfg config.WorkerConfig, logger *zerolog.Logger) *OutboxWorker {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 20
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "outbox_worker").Logger()
	}

	return &OutboxWorker{
		store:        store,
		notifier:     notifier,
		mirror:       mirror,
		channel:      channel,
		redis:        redisClient,
		retryPolicy:  RetryPolicyFromConfig(cfg),
		queue:        make(chan models.OutboxTask, models.WorkerQueueSize),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		timeout:      models.DefaultCollaboratorTimeout * time.Second,
		logger:       l,
	}
}

// WithTimeout bounds each notifier or mirror call.
func (w *OutboxWorker) WithTimeout(d time.Duration) *OutboxWorker {
	if d > 0 {
		w.timeout = d
	}
	return w
}

// Dispatch schedules tasks that are already committed to storage. Redis is
// tried first, then the in-memory queue; a task that fits neither is left
// for polling.
func (w *OutboxWorker) Dispatch(ctx context.Context, tasks []*models.OutboxTask) {
	for _, task := range tasks {
		if task == nil || task.ID == 0 {
			continue
		}
		if w.redis != nil {
			err := w.pushRedis(ctx, *task)
			if err == nil {
				continue
			}
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		}

		select {
		case w.queue <- *task:
		default:
			w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
		}
	}
}

// Start runs the delivery loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("started")
	defer w.logger.Info().Msg("stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processQueued(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processQueued(ctx, &t)
			continue
		}

		if n := w.poll(ctx); n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// poll processes one batch of due tasks from storage and reports how many it saw.
func (w *OutboxWorker) poll(ctx context.Context) int {
	tasks, err := w.store.GetPendingOutboxTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending tasks")
		}
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *OutboxWorker) tryLocalQueue() (models.OutboxTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.OutboxTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.OutboxTask, bool) {
	if w.redis == nil {
		return models.OutboxTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.OutboxTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.OutboxTask{}, false
	}
	if len(res) != 2 {
		return models.OutboxTask{}, false
	}
	var task models.OutboxTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.OutboxTask{}, false
	}
	return task, true
}

// processQueued re-reads a queued task so one already handled by polling is skipped.
func (w *OutboxWorker) processQueued(ctx context.Context, queued *models.OutboxTask) {
	task, err := w.store.GetOutboxTask(ctx, queued.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", queued.ID).Msg("reload queued task")
		return
	}
	if task.Status != models.OutboxPending && task.Status != models.OutboxRetry {
		return
	}
	w.processTask(ctx, task)
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask) {
	if err := w.handleTask(ctx, task); err != nil {
		var perm permanentError
		if errors.As(err, &perm) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (w *OutboxWorker) handleTask(ctx context.Context, task *models.OutboxTask) error {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	switch task.TaskType {
	case models.TaskNotify:
		var intent models.NotificationIntent
		if err := json.Unmarshal([]byte(task.Payload), &intent); err != nil {
			return permanentError{fmt.Errorf("decode payload: %w", err)}
		}
		if err := w.notifier.Notify(callCtx, intent); err != nil {
			metrics.IncNotification(w.channel, "error")
			return err
		}
		metrics.IncNotification(w.channel, "ok")
		return nil

	case models.TaskSheetsUpsert:
		if w.mirror == nil {
			return nil
		}
		var payload sheetsPayload
		if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
			return permanentError{fmt.Errorf("decode payload: %w", err)}
		}
		if payload.BookingID == "" {
			payload.BookingID = task.BookingID
		}
		booking, err := w.store.GetBooking(callCtx, payload.BookingID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return permanentError{err}
			}
			return err
		}
		return w.mirror.UpsertBooking(callCtx, booking)

	default:
		return permanentError{fmt.Errorf("unknown task type: %s", task.TaskType)}
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("task failed, will retry")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.OutboxTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Msg("task failed permanently")
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.OutboxTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.OutboxTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}

// SheetsPayload encodes the payload of a sheets_upsert task.
func SheetsPayload(bookingID string) string {
	data, _ := json.Marshal(sheetsPayload{BookingID: bookingID})
	return string(data)
}

var _ domain.TaskDispatcher = (*OutboxWorker)(nil)
