package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Values of the result label on northwind_outbox_publish_attempts_total.
const (
	resultSent         = "sent"
	resultRetry        = "retry"
	resultDeadLettered = "dead_lettered"
	resultDLQFailed    = "dlq_failed"
	resultDeferred     = "deferred"
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "northwind_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by order event type and result.",
	}, []string{"event_type", "result"})
	pendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "northwind_outbox_pending_records",
		Help: "Current number of pending order events in the outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "northwind_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// DeadLetter is the body published to the DLQ once every attempt failed.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// deadLetterMessage wraps msg into a DeadLetter keyed like the original event.
func deadLetterMessage(msg domain.OutboxMessage, cause error, at time.Time) (domain.OutboxMessage, error) {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return domain.OutboxMessage{}, fmt.Errorf("quote payload: %w", err)
		}
		payload = quoted
	}

	body, err := json.Marshal(DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   cause.Error(),
		DLQPublishedAt: at.UTC(),
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := msg
	letter.Payload = body
	return letter, nil
}

type config struct {
	logger         *log.Entry
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

func (c *config) applyDefaults() {
	if c.logger == nil {
		c.logger = log.WithField("component", "outbox-worker")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	c.retryBaseDelay = max(c.retryBaseDelay, 0)
}

// Option configures a Worker.
type Option func(*config)

// WithLogger sets the entry the worker logs through.
func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

// WithDLQPublisher sets where messages go after the last failed attempt.
// Without one, such messages are only marked failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *config) { c.dlq = publisher }
}

// WithPollInterval sets the pause between two polling cycles.
func WithPollInterval(interval time.Duration) Option {
	return func(c *config) { c.pollInterval = interval }
}

// WithBatchSize caps the number of messages pulled per cycle.
func WithBatchSize(size int) Option {
	return func(c *config) { c.batchSize = size }
}

// WithMaxAttempts sets how many times one message is published before it is dead-lettered.
func WithMaxAttempts(attempts int) Option {
	return func(c *config) { c.maxAttempts = attempts }
}

// WithRetryBaseDelay sets the first backoff step; it doubles on every retry.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *config) { c.retryBaseDelay = delay }
}

// Worker publishes pending order events from the outbox to the broker.
//
// Events of one order are delivered in outbox order: once an event of an order
// is dead-lettered, the order's later events wait for the next cycle.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       config
}

// NewWorker creates an outbox worker. Non-positive options fall back to defaults.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	var cfg config
	cfg.pollInterval = defaultPollInterval
	cfg.batchSize = defaultBatchSize
	cfg.maxAttempts = defaultMaxAttempts
	cfg.retryBaseDelay = defaultRetryBaseDelay
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.applyDefaults()

	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run polls the outbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce runs a single polling cycle. A cancelled ctx stops the cycle and
// leaves the current message pending.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(batch) == 0 {
		return
	}

	// Orders whose earlier event in this batch was not delivered.
	blocked := make(map[string]struct{})
	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}

		entry := w.cfg.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
			"order_id":   msg.AggregateID,
		})

		if _, ok := blocked[msg.AggregateID]; ok {
			publishAttempts.WithLabelValues(msg.EventType, resultDeferred).Inc()
			entry.Debug("earlier event of the order is undelivered; deferring")
			continue
		}

		err := w.deliver(ctx, msg)
		switch {
		case err == nil:
			if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
				entry.WithError(err).Warn("failed to mark outbox message as sent")
			}
		case ctx.Err() != nil:
			entry.WithError(err).Info("publish interrupted; message stays pending")
			return
		default:
			blocked[msg.AggregateID] = struct{}{}
			w.giveUp(ctx, entry, msg, err)
		}
	}

	w.observeBacklog(ctx)
}

// deliver publishes msg up to maxAttempts times, sleeping between attempts.
// It returns ctx.Err() when ctx ends during a backoff.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := range w.cfg.maxAttempts {
		if attempt > 0 {
			if err := sleep(ctx, w.backoff(attempt)); err != nil {
				return err
			}
		}

		lastErr = w.publisher.Publish(msg)
		if lastErr == nil {
			publishAttempts.WithLabelValues(msg.EventType, resultSent).Inc()
			return nil
		}
		publishAttempts.WithLabelValues(msg.EventType, resultRetry).Inc()
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.cfg.maxAttempts, lastErr)
}

// giveUp dead-letters msg and marks it failed. If the DLQ refuses the letter
// the message is left pending for the next cycle.
func (w *Worker) giveUp(ctx context.Context, entry *log.Entry, msg domain.OutboxMessage, cause error) {
	entry = entry.WithError(cause)
	entry.Error("outbox publish failed after retries")

	if w.cfg.dlq != nil {
		letter, err := deadLetterMessage(msg, cause, time.Now())
		if err == nil {
			err = w.cfg.dlq.Publish(letter)
		}
		if err != nil {
			publishAttempts.WithLabelValues(msg.EventType, resultDLQFailed).Inc()
			entry.WithField("dlq_error", err.Error()).Warn("dead letter not accepted; message stays pending")
			return
		}
	}

	publishAttempts.WithLabelValues(msg.EventType, resultDeadLettered).Inc()
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithField("mark_error", err.Error()).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingMessages.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}

// backoff is the pause before retry number retry (1-based), saturating at the
// largest Duration.
func (w *Worker) backoff(retry int) time.Duration {
	delay := w.cfg.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	for range retry - 1 {
		if delay > math.MaxInt64/2 {
			return math.MaxInt64
		}
		delay *= 2
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
