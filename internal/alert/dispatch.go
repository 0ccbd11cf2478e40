package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/fencewatch/internal/observability"
)

// ErrQueueFull is returned by InProcessDispatcher when its buffer is full.
var ErrQueueFull = errors.New("alert queue full")

const sendTimeout = 30 * time.Second

// InProcessDispatcher queues emails on a bounded channel drained by a single
// worker goroutine. Delivery failures go to a dedicated failure log.
type InProcessDispatcher struct {
	sender   Sender
	queue    chan Email
	logger   *slog.Logger
	failures *slog.Logger
	metrics  *observability.Metrics
}

// NewInProcessDispatcher creates a dispatcher with room for size queued emails.
func NewInProcessDispatcher(sender Sender, size int, logger *slog.Logger, metrics *observability.Metrics) *InProcessDispatcher {
	if size < 1 {
		size = 1
	}
	return &InProcessDispatcher{
		sender:   sender,
		queue:    make(chan Email, size),
		logger:   logger,
		failures: logger.With("sink", "alert_failures"),
		metrics:  metrics,
	}
}

// Dispatch enqueues without blocking.
func (d *InProcessDispatcher) Dispatch(_ context.Context, email Email) error {
	select {
	case d.queue <- email:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued emails until ctx is cancelled, then delivers whatever
// is still buffered before returning.
func (d *InProcessDispatcher) Run(ctx context.Context) error {
	d.logger.Info("alert dispatcher started", "mode", "in-process", "capacity", cap(d.queue))
	for {
		select {
		case email := <-d.queue:
			d.deliver(ctx, email)
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			d.logger.Info("alert dispatcher stopped")
			return nil
		}
	}
}

func (d *InProcessDispatcher) drain(ctx context.Context) {
	for {
		select {
		case email := <-d.queue:
			d.deliver(ctx, email)
		default:
			return
		}
	}
}

func (d *InProcessDispatcher) deliver(ctx context.Context, email Email) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, email); err != nil {
		d.metrics.AlertEmails.WithLabelValues("failed").Inc()
		d.failures.Error("alert email delivery failed",
			"user_id", email.UserID,
			"fence_name", email.FenceName,
			"recipients", email.Recipients,
			"error", err,
		)
		return
	}
	d.metrics.AlertEmails.WithLabelValues("sent").Inc()
	d.logger.Info("alert email sent", "user_id", email.UserID, "fence_name", email.FenceName)
}

// LogSender writes emails to the log instead of delivering them. It stands
// in when no email provider is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.logger.Info("alert email (delivery disabled)",
		"recipients", email.Recipients,
		"subject", email.Subject,
		"body", email.Body,
	)
	return nil
}
