package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/forgeci/forge/pkg/eventbus"
	"github.com/forgeci/forge/pkg/model"
)

// Bridge forwards in-process lifecycle events to the broker publisher.
// Components publish to the bus without knowing whether a broker is
// configured at all.
type Bridge struct {
	logger  *zap.Logger
	pub     Publisher
	subject string
	service string
}

// NewBridge subscribes the publisher to every lifecycle event type.
func NewBridge(logger *zap.Logger, bus *eventbus.EventBus, pub Publisher, subject, service string) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{logger: logger, pub: pub, subject: subject, service: service}

	bus.Subscribe(model.BootstrapCompletedEvent{}, b.forward("bootstrap.completed"))
	bus.Subscribe(model.AccountProvisionedEvent{}, b.forward("account.provisioned"))
	bus.Subscribe(model.PolicyAppliedEvent{}, b.forward("policy.applied"))
	bus.Subscribe(model.PluginsSyncedEvent{}, b.forward("plugins.synced"))
	bus.Subscribe(model.AgentStatusEvent{}, b.forwardAgentStatus())

	return b
}

func (b *Bridge) forward(eventType string) eventbus.Handler {
	return func(event interface{}) {
		b.send(eventType, event)
	}
}

func (b *Bridge) forwardAgentStatus() eventbus.Handler {
	return func(event interface{}) {
		e, ok := event.(model.AgentStatusEvent)
		if !ok {
			return
		}
		b.send("agent."+e.Status, e)
	}
}

func (b *Bridge) send(eventType string, payload any) {
	env, err := NewEnvelope(b.service, b.subject, eventType, payload)
	if err != nil {
		b.logger.Error("events.bridge.marshal_failed",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.pub.PublishEnvelope(ctx, env); err != nil {
		b.logger.Warn("events.bridge.forward_failed",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
