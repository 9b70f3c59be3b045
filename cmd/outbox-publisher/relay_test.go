package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db/models"
	"github.com/angelmondragon/bookitzzz-backend/pkg/enums"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/metrics"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox/registry"
)

func TestRelayContinuesAfterTransientFailure(t *testing.T) {
	repo := &fakeOutbox{events: []models.OutboxEvent{
		overdueRow(t, 0),
		overdueRow(t, 0),
	}}
	pub := &fakePublisher{results: []error{errors.New("transient"), nil}}
	relay := newTestRelay(t, repo, pub, &fakeResolver{payload: &payloads.BorrowOverdueEvent{}}, &fakeDeadLetters{}, nil)

	claimed, err := relay.drainBatch(context.Background())
	if err != nil {
		t.Fatalf("drain batch: %v", err)
	}
	if claimed != 2 {
		t.Fatalf("expected 2 rows claimed, got %d", claimed)
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("expected second row marked published, got %v", repo.published)
	}
}

func TestRelayAddsRecipientAttribute(t *testing.T) {
	member := uuid.New()
	repo := &fakeOutbox{events: []models.OutboxEvent{overdueRow(t, 0)}}
	pub := &fakePublisher{results: []error{nil}}
	resolver := &fakeResolver{payload: &payloads.BorrowOverdueEvent{UserID: member}}
	relay := newTestRelay(t, repo, pub, resolver, &fakeDeadLetters{}, nil)

	if _, err := relay.drainBatch(context.Background()); err != nil {
		t.Fatalf("drain batch: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	attrs := pub.sent[0].Attributes
	if attrs["recipient_user_id"] != member.String() {
		t.Fatalf("expected recipient %s, got %q", member, attrs["recipient_user_id"])
	}
	if attrs["event_type"] != string(enums.EventBorrowOverdue) || attrs["event_id"] == "" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestRelayDeadLettersUnresolvableRows(t *testing.T) {
	row := overdueRow(t, 0)
	repo := &fakeOutbox{events: []models.OutboxEvent{row}}
	dlq := &fakeDeadLetters{}
	resolver := &fakeResolver{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	relay := newTestRelay(t, repo, &fakePublisher{}, resolver, dlq, nil)

	if _, err := relay.drainBatch(context.Background()); err != nil {
		t.Fatalf("drain batch: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != row.ID || !bytes.Equal(entry.Payload, row.Payload) {
		t.Fatalf("dlq entry does not mirror the outbox row")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row retired, got %v", repo.terminal)
	}
}

func TestRelayDeadLettersAfterMaxAttempts(t *testing.T) {
	row := overdueRow(t, 1)
	repo := &fakeOutbox{events: []models.OutboxEvent{row}}
	dlq := &fakeDeadLetters{}
	pub := &fakePublisher{results: []error{errors.New("transient")}}
	reg := prometheus.NewRegistry()
	relay := newTestRelay(t, repo, pub, &fakeResolver{payload: &payloads.BorrowOverdueEvent{}}, dlq, &config.OutboxConfig{
		BatchSize:   1,
		MaxAttempts: 2,
	})
	relay.metrics = metrics.NewNotificationMetrics(reg)

	if _, err := relay.drainBatch(context.Background()); err != nil {
		t.Fatalf("drain batch: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max attempts dlq entry, got %+v", dlq.entries)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row must not be marked for retry")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() != "library_notification_deliveries_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == metrics.DeliveryDeadLettered {
					found = metric.GetCounter().GetValue() == 1
				}
			}
		}
	}
	if !found {
		t.Fatalf("expected dead-lettered delivery to be counted")
	}
}

func TestRelayForwardsDeadLettersToTopic(t *testing.T) {
	repo := &fakeOutbox{events: []models.OutboxEvent{overdueRow(t, 0)}}
	pub := &fakePublisher{results: []error{nil}}
	resolver := &fakeResolver{err: registry.NewNonRetryableError(errors.New("bad payload"))}
	relay := newTestRelay(t, repo, pub, resolver, &fakeDeadLetters{}, nil)
	relay.dlqTopic = "dead-letter-topic"
	var topics []string
	relay.publisherFor = func(topic string) topicPublisher {
		topics = append(topics, topic)
		return pub
	}

	if _, err := relay.drainBatch(context.Background()); err != nil {
		t.Fatalf("drain batch: %v", err)
	}
	if len(topics) != 1 || topics[0] != "dead-letter-topic" {
		t.Fatalf("expected a single dead-letter publish, got %v", topics)
	}
	if pub.sent[0].Attributes["error_reason"] != string(enums.OutboxDLQReasonNonRetryable) {
		t.Fatalf("expected error_reason attribute, got %v", pub.sent[0].Attributes)
	}
}

func TestRelayMissingPublisherIsTerminal(t *testing.T) {
	repo := &fakeOutbox{events: []models.OutboxEvent{overdueRow(t, 0)}}
	dlq := &fakeDeadLetters{}
	relay := newTestRelay(t, repo, nil, &fakeResolver{payload: &payloads.BorrowOverdueEvent{}}, dlq, nil)
	relay.publisherFor = func(string) topicPublisher { return nil }

	if _, err := relay.drainBatch(context.Background()); err != nil {
		t.Fatalf("drain batch: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry when no publisher exists, got %d", len(dlq.entries))
	}
}

func TestNewRelayAppliesDefaults(t *testing.T) {
	relay := newTestRelay(t, &fakeOutbox{}, &fakePublisher{}, &fakeResolver{}, &fakeDeadLetters{}, &config.OutboxConfig{})
	if relay.batchSize != defaultBatchSize || relay.maxAttempts != defaultMaxAttempts || relay.pollInterval != defaultPollInterval {
		t.Fatalf("unexpected defaults batch=%d attempts=%d poll=%s", relay.batchSize, relay.maxAttempts, relay.pollInterval)
	}
	if _, err := NewRelay(RelayParams{}); err == nil {
		t.Fatalf("expected missing config to fail")
	}
}

func newTestRelay(t *testing.T, repo outboxStore, pub *fakePublisher, resolver eventResolver, dlq deadLetterStore, override *config.OutboxConfig) *Relay {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	relay, err := NewRelay(RelayParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               fakeDB{},
		Topics:           fakeTopics{},
		Outbox:           repo,
		DeadLetters:      dlq,
		Registry:         resolver,
		PublisherFactory: func(string) topicPublisher { return pub },
	})
	if err != nil {
		t.Fatalf("construct relay: %v", err)
	}
	return relay
}

func overdueRow(tb testing.TB, attempts int) models.OutboxEvent {
	tb.Helper()
	env, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventBorrowOverdue,
		AggregateType: enums.AggregateBorrow,
		AggregateID:   uuid.New(),
		Payload:       env,
		AttemptCount:  attempts,
	}
}

type fakeOutbox struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeOutbox) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeOutbox) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeOutbox) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDeadLetters struct {
	entries []models.OutboxDLQ
}

func (f *fakeDeadLetters) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakeTopics struct{}

func (fakeTopics) Ping(context.Context) error { return nil }

func (fakeTopics) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results []error
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.sent = append(f.sent, msg)
	if len(f.results) == 0 {
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	return fakeResult{err: err}
}

type fakeResult struct {
	err error
}

func (f fakeResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeResolver struct {
	payload any
	err     error
}

func (f *fakeResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         "notification-topic",
		},
		Envelope: outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
		Payload:  f.payload,
	}, nil
}
