package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/forgeci/forge/pkg/model"
)

// Publisher sends lifecycle event envelopes to an external broker.
type Publisher interface {
	PublishEnvelope(ctx context.Context, env *model.Envelope) error
	Close()
}

// NewEnvelope wraps a payload in the canonical event envelope.
func NewEnvelope(service, subject, eventType string, payload any) (*model.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Server:        service,
		Topic:         subject,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// NoopPublisher drops every envelope. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishEnvelope(context.Context, *model.Envelope) error { return nil }
func (NoopPublisher) Close()                                                 {}
