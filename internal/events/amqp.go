package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/metrics"
	"github.com/forgeci/forge/pkg/model"
)

// AMQPPublisher publishes lifecycle envelopes to a topic exchange, for
// deployments that run RabbitMQ instead of NATS. The event type is the
// routing key.
type AMQPPublisher struct {
	logger   *zap.Logger
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	service  string
}

// NewAMQP connects to RabbitMQ and declares the exchange.
func NewAMQP(logger *zap.Logger, url, exchange, service string) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{
		logger:   logger,
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		service:  service,
	}, nil
}

// PublishEnvelope serializes and publishes an envelope.
func (p *AMQPPublisher) PublishEnvelope(ctx context.Context, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues("amqp").Inc()
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		env.EventType, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   env.ID.String(),
			Timestamp:   env.Timestamp,
			AppId:       p.service,
			Body:        data,
		})
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues("amqp").Inc()
		p.logger.Error("events.amqp.publish_failed",
			zap.String("exchange", p.exchange),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		return err
	}

	p.logger.Debug("events.amqp.published",
		zap.String("exchange", p.exchange),
		zap.String("event_type", env.EventType))
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
