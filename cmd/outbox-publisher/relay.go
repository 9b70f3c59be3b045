package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) topicPublisher

// RelayParams wire the notification relay.
type RelayParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               txRunner
	Topics           topicSource
	Outbox           outboxStore
	DeadLetters      deadLetterStore
	Registry         eventResolver
	Metrics          *metrics.NotificationMetrics
	PublisherFactory publisherFactory
}

// Relay drains outbox_events into the library notification topic. Each batch
// runs in one transaction so claimed rows stay locked until they are marked.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	topics       topicSource
	outbox       outboxStore
	deadLetters  deadLetterStore
	registry     eventResolver
	metrics      *metrics.NotificationMetrics
	publisherFor publisherFactory
	dlqTopic     string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) topicPublisher {
			if p := params.Topics.Publisher(topic); p != nil {
				return gcpPublisher{p}
			}
			return nil
		}
	}

	cfg := params.Config.Outbox
	r := &Relay{
		logg:         params.Logger,
		db:           params.DB,
		topics:       params.Topics,
		outbox:       params.Outbox,
		deadLetters:  params.DeadLetters,
		registry:     params.Registry,
		metrics:      params.Metrics,
		publisherFor: factory,
		dlqTopic:     params.Config.PubSub.DeadLetterTopic,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		pollInterval: defaultPollInterval,
	}
	if cfg.BatchSize > 0 {
		r.batchSize = cfg.BatchSize
	}
	if cfg.MaxAttempts > 0 {
		r.maxAttempts = cfg.MaxAttempts
	}
	if cfg.PollIntervalMS > 0 {
		r.pollInterval = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	return r, nil
}

// Run polls until ctx is canceled. Full batches are followed immediately by
// the next one; empty polls and batch errors back off.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": r.db.Ping,
		"pubsub":   r.topics.Ping,
	} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		claimed, err := r.drainBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case claimed > 0:
			wait = r.pollInterval
			continue
		default:
			wait = r.pollInterval
		}
		if err := sleepCtx(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// drainBatch claims up to batchSize rows and delivers each one. It returns the
// number of rows claimed.
func (r *Relay) drainBatch(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.outbox.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		r.metrics.ObserveBatch(claimed)
		for _, event := range events {
			outcome, err := r.deliver(ctx, tx, event)
			if err != nil {
				return err
			}
			r.metrics.IncDelivery(string(event.EventType), outcome)
		}
		return nil
	})
	return claimed, err
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (string, error) {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return metrics.DeliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	fields["event_id"] = resolved.Envelope.EventID
	fields["topic"] = resolved.Descriptor.Topic

	err = r.publish(ctx, resolved.Descriptor.Topic, notificationMessage(event, resolved))
	if err == nil {
		if err := r.outbox.MarkPublishedTx(tx, event.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(r.logg.WithFields(ctx, fields), "notification published")
		return metrics.DeliveryPublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return metrics.DeliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	if event.AttemptCount+1 >= r.maxAttempts {
		err = fmt.Errorf("max publish attempts reached: %w", err)
		return metrics.DeliveryDeadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, err, fields)
	}

	fields["attempt_count"] = event.AttemptCount + 1
	fields["error"] = err.Error()
	r.logg.Warn(r.logg.WithFields(ctx, fields), "notification publish failed; will retry")
	if err := r.outbox.MarkFailedTx(tx, event.ID, err); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return metrics.DeliveryRetry, nil
}

// deadLetter records the row in outbox_dlq, mirrors it to the dead-letter
// topic when one is configured and retires the outbox row.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	logCtx := r.logg.WithFields(ctx, fields)
	r.logg.Warn(logCtx, "notification dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}

	if r.dlqTopic != "" {
		attrs := baseAttributes(event)
		attrs["error_reason"] = string(reason)
		if err := r.publish(ctx, r.dlqTopic, &gcppubsub.Message{Data: event.Payload, Attributes: attrs}); err != nil {
			r.logg.Error(logCtx, "dead-letter forward failed", err)
		}
	}

	if err := r.outbox.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := r.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func baseAttributes(event models.OutboxEvent) map[string]string {
	return map[string]string{
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
	}
}

// notificationMessage carries the stored envelope unchanged. Attributes let
// subscribers route by event type or member without decoding the body.
func notificationMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := baseAttributes(event)
	attrs["event_id"] = resolved.Envelope.EventID
	attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	if addressed, ok := resolved.Payload.(payloads.Addressed); ok {
		if recipient := addressed.Recipient(); recipient != uuid.Nil {
			attrs["recipient_user_id"] = recipient.String()
		}
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}
