package component

import (
	"context"
	"sync"
	"time"

	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/codec"
	"github.com/flowbroker/connector/internal/message"
)

// pollTimeout bounds each ReceiveMessage call so GetNextEvent can
// periodically re-check the stop signal.
const pollTimeout = time.Second

// BrokerInputConfig is the decoded component_config for a broker_input.
type BrokerInputConfig struct {
	QueueName     string
	Subscriptions []string
	Temporary     bool
	MaxRedelivery int
	CreateOnStart bool
	Codec         codec.Codec
}

// brokerInput is the terminal source at the head of a flow: it polls
// the adapter, decodes the payload, wraps it in a Message, and attaches a
// nack callback that nacks the broker delivery. The ack callback that acks
// the delivery is exposed via GetAcknowledgementCallback for the worker
// loop to attach to whatever the component emits.
type brokerInput struct {
	adapter broker.Adapter
	cfg     BrokerInputConfig

	mu                  sync.Mutex
	activeSubscriptions map[string]bool
	lastAck             *broker.Message
}

// NewBrokerInput wires a broker_input component around an already-connected
// adapter. Exported so the app's simplified-flow synthesis can build
// one directly without going through the component registry.
func NewBrokerInput(adapter broker.Adapter, cfg BrokerInputConfig) (Component, error) {
	active := map[string]bool{}
	for _, s := range cfg.Subscriptions {
		active[s] = true
	}
	bi := &brokerInput{adapter: adapter, cfg: cfg, activeSubscriptions: active}
	if err := adapter.BindToQueue(broker.QueueBinding{
		QueueName:     cfg.QueueName,
		Subscriptions: cfg.Subscriptions,
		Temporary:     cfg.Temporary,
		MaxRedelivery: cfg.MaxRedelivery,
		CreateOnStart: cfg.CreateOnStart,
	}); err != nil {
		return nil, err
	}
	return bi, nil
}

// GetNextEvent polls the adapter with a 1s timeout so shutdown stays
// responsive even with no traffic.
func (b *brokerInput) GetNextEvent(ctx context.Context) (*message.Event, error) {
	bmsg, err := b.adapter.ReceiveMessage(ctx, pollTimeout, b.cfg.QueueName)
	if err != nil || bmsg == nil {
		return nil, err
	}

	payload, err := b.cfg.Codec.Decode(bmsg.Payload)
	if err != nil {
		_ = b.adapter.Nack(bmsg, broker.OutcomeRejected)
		return nil, err
	}

	msg := message.New(payload, bmsg.Topic, bmsg.UserProperties)
	captured := bmsg
	msg.AddNegativeAcknowledgement(func(outcome message.NackOutcome) {
		_ = b.adapter.Nack(captured, toBrokerOutcome(outcome))
	})

	b.mu.Lock()
	b.lastAck = captured
	b.mu.Unlock()

	evt := message.NewMessageEvent(msg)
	return &evt, nil
}

// GetAcknowledgementCallback acks the most recently received broker
// message. In practice each Message created by GetNextEvent captures its
// own broker receipt in its nack closure; the ack side is symmetric so the
// worker loop can attach one callback per message via this accessor
// pattern used by every downstream stage that forwards the message.
func (b *brokerInput) GetAcknowledgementCallback() message.AckCallback {
	b.mu.Lock()
	captured := b.lastAck
	b.mu.Unlock()
	return func() {
		if captured != nil {
			_ = b.adapter.Ack(captured)
		}
	}
}

func (b *brokerInput) Invoke(_ context.Context, _ *message.Message, data any) (any, error) {
	return data, nil
}

// AddSubscription adds a dynamic topic subscription.
func (b *brokerInput) AddSubscription(topic string) error {
	b.mu.Lock()
	b.activeSubscriptions[topic] = true
	b.mu.Unlock()
	return b.adapter.AddTopicSubscription(b.cfg.QueueName, topic)
}

// RemoveSubscription removes a dynamic topic subscription.
func (b *brokerInput) RemoveSubscription(topic string) error {
	b.mu.Lock()
	delete(b.activeSubscriptions, topic)
	b.mu.Unlock()
	return b.adapter.RemoveTopicSubscription(b.cfg.QueueName, topic)
}

func (b *brokerInput) GetConnectionStatus() string {
	return b.adapter.Status().String()
}

func toBrokerOutcome(o message.NackOutcome) broker.Outcome {
	if o == message.NackFailed {
		return broker.OutcomeFailed
	}
	return broker.OutcomeRejected
}
