package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/hibiken/asynq"
)

const (
	// TaskEmail is the asynq task type carrying an Email payload.
	TaskEmail = "alert:email"

	queueName  = "alerts"
	maxRetries = 3
)

// AsynqDispatcher enqueues emails as asynq tasks in Redis.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(redisAddr string) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, email Email) error {
	task, err := newEmailTask(email)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task, asynq.Queue(queueName), asynq.MaxRetry(maxRetries)); err != nil {
		return fmt.Errorf("enqueue alert email: %w", err)
	}
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

func newEmailTask(email Email) (*asynq.Task, error) {
	payload, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("marshal alert email: %w", err)
	}
	return asynq.NewTask(TaskEmail, payload), nil
}

// AsynqWorker consumes alert email tasks and delivers them.
type AsynqWorker struct {
	server  *asynq.Server
	sender  Sender
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewAsynqWorker(redisAddr string, sender Sender, logger *slog.Logger, metrics *observability.Metrics) *AsynqWorker {
	w := &AsynqWorker{sender: sender, logger: logger, metrics: metrics}
	failures := logger.With("sink", "alert_failures")
	w.server = asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			w.metrics.AlertEmails.WithLabelValues("failed").Inc()
			failures.Error("alert email task failed", "task", task.Type(), "error", err)
		}),
	})
	return w
}

// Run processes tasks until ctx is cancelled.
func (w *AsynqWorker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskEmail, w.handleEmail)

	w.logger.Info("alert dispatcher started", "mode", "asynq")
	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("start asynq worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("alert dispatcher stopped")
	return nil
}

func (w *AsynqWorker) handleEmail(ctx context.Context, task *asynq.Task) error {
	var email Email
	if err := json.Unmarshal(task.Payload(), &email); err != nil {
		return fmt.Errorf("decode alert email: %v: %w", err, asynq.SkipRetry)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := w.sender.Send(ctx, email); err != nil {
		return err
	}
	w.metrics.AlertEmails.WithLabelValues("sent").Inc()
	w.logger.Info("alert email sent", "user_id", email.UserID, "fence_name", email.FenceName)
	return nil
}
