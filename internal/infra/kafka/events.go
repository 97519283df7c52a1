package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types; the producer prefixes them with the configured topic prefix.
const (
	EventUserRegistered = "user.registered"
	EventUserLoggedIn   = "user.logged_in"
	EventUserLoggedOut  = "user.logged_out"
	EventAccountLocked  = "account.locked"
)

// EventPublisher implements port.EventPublisher on top of Producer.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// publish keys messages by subject so events for one user stay ordered on a partition.
func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, subject string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		Subject:   subject,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(subject),
		Value: sarama.ByteEncoder(body),
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string    `json:"user_id"`
		Email        string    `json:"email"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		UserID:       event.UserID,
		Email:        event.Email,
		RegisteredAt: event.RegisteredAt.UTC(),
	}
	return p.publish(ctx, event.EventID, EventUserRegistered, event.UserID, event.RegisteredAt, payload)
}

func (p *EventPublisher) PublishUserLoggedIn(ctx context.Context, event domain.UserLoggedInEvent) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		LoggedInAt time.Time `json:"logged_in_at"`
		Method     string    `json:"method"`
	}{
		UserID:     event.UserID,
		LoggedInAt: event.LoggedInAt.UTC(),
		Method:     event.Method,
	}
	return p.publish(ctx, event.EventID, EventUserLoggedIn, event.UserID, event.LoggedInAt, payload)
}

func (p *EventPublisher) PublishUserLoggedOut(ctx context.Context, event domain.UserLoggedOutEvent) error {
	payload := struct {
		UserID               string    `json:"user_id"`
		LoggedOutAt          time.Time `json:"logged_out_at"`
		AccessTokenRevoked   bool      `json:"access_token_revoked"`
		RefreshTokensRevoked int       `json:"refresh_tokens_revoked"`
	}{
		UserID:               event.UserID,
		LoggedOutAt:          event.LoggedOutAt.UTC(),
		AccessTokenRevoked:   event.AccessTokenRevoked,
		RefreshTokensRevoked: event.RefreshTokensRevoked,
	}
	return p.publish(ctx, event.EventID, EventUserLoggedOut, event.UserID, event.LoggedOutAt, payload)
}

func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		Identifier  string    `json:"identifier"`
		LockedAt    time.Time `json:"locked_at"`
		LockedUntil time.Time `json:"locked_until"`
		Failures    int       `json:"failures"`
	}{
		Identifier:  event.Identifier,
		LockedAt:    event.LockedAt.UTC(),
		LockedUntil: event.LockedUntil.UTC(),
		Failures:    event.Failures,
	}
	return p.publish(ctx, event.EventID, EventAccountLocked, event.Identifier, event.LockedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
