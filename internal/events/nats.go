package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/metrics"
	"github.com/forgeci/forge/pkg/model"
)

// NATSPublisher publishes lifecycle envelopes to a JetStream subject.
type NATSPublisher struct {
	logger  *zap.Logger
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
}

// NewNATS creates a publisher over an existing NATS connection.
func NewNATS(logger *zap.Logger, nc *nats.Conn, subject, service string) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{
		logger:  logger,
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes an envelope.
func (p *NATSPublisher) PublishEnvelope(ctx context.Context, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues("nats").Inc()
		return err
	}

	subject := env.Topic
	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		metrics.EventPublishErrors.WithLabelValues("nats").Inc()
		p.logger.Error("events.nats.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return err
	}

	p.logger.Debug("events.nats.published",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	return nil
}

// Close drains the underlying connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("events.nats.drain_failed", zap.Error(err))
		}
	}
}
