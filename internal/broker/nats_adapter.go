package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// natsReceipt is the opaque receipt token NATSAdapter hands back on
// ReceiveMessage; Ack/Nack type-assert it back out.
type natsReceipt struct {
	msg jetstream.Msg
}

// NATSAdapter is the production Adapter backed by NATS JetStream, grounded
// on processor/task-dispatcher/component.go's consumeLoop/Fetch/Ack/Nak
// pattern: a durable consumer per bound queue, Fetch standing in for
// receive_message, and Msg.Ack()/Msg.Nak()/Msg.Term() standing in for the
// three ack outcomes.
type NATSAdapter struct {
	statusHub

	url    string
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
	retry  RetryStrategy

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
	streams   map[string]jetstream.Stream
}

// NewNATSAdapter builds an adapter that will connect to url on Connect.
// retry drives the Reconnecting state machine on connection loss; pass
// NewForeverRetry or NewParametrizedRetry.
func NewNATSAdapter(url string, retry RetryStrategy, logger *slog.Logger) *NATSAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSAdapter{
		url:       url,
		retry:     retry,
		logger:    logger,
		consumers: map[string]jetstream.Consumer{},
		streams:   map[string]jetstream.Stream{},
	}
}

func (a *NATSAdapter) Connect(ctx context.Context) error {
	a.transition(StatusConnecting)

	nc, err := nats.Connect(a.url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.logger.Warn("nats disconnected", slog.String("error", fmt.Sprint(err)))
			go reconnectLoop(context.Background(), a.logger, a.retry, a.reconnect, &a.statusHub)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			a.transition(StatusDisconnected)
		}),
	)
	if err != nil {
		a.transition(StatusDisconnected)
		return fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		a.transition(StatusDisconnected)
		return fmt.Errorf("jetstream: %w", err)
	}

	a.mu.Lock()
	a.nc = nc
	a.js = js
	a.mu.Unlock()

	a.transition(StatusConnected)
	return nil
}

func (a *NATSAdapter) reconnect(ctx context.Context) error {
	return a.Connect(ctx)
}

func (a *NATSAdapter) Disconnect() error {
	a.mu.Lock()
	nc := a.nc
	a.mu.Unlock()
	if nc != nil {
		nc.Close()
	}
	a.transition(StatusDisconnected)
	return nil
}

// BindToQueue reuses the JetStream stream named after the queue, creating
// it only when CreateOnStart is set (otherwise a missing stream is an
// error), and creates a durable (or ephemeral, if Temporary) consumer
// filtered to the bound subscriptions.
func (a *NATSAdapter) BindToQueue(binding QueueBinding) error {
	a.mu.Lock()
	js := a.js
	a.mu.Unlock()
	if js == nil {
		return fmt.Errorf("nats adapter: not connected")
	}

	ctx := context.Background()
	stream, err := js.Stream(ctx, binding.QueueName)
	if err != nil {
		if binding.CreateOnStart {
			stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
				Name:     binding.QueueName,
				Subjects: binding.Subscriptions,
			})
		}
		if err != nil {
			return fmt.Errorf("nats adapter: stream %s: %w", binding.QueueName, err)
		}
	}

	consumerCfg := jetstream.ConsumerConfig{
		AckPolicy:  jetstream.AckExplicitPolicy,
		MaxDeliver: binding.MaxRedelivery,
	}
	if !binding.Temporary {
		consumerCfg.Durable = binding.QueueName
	}
	if len(binding.Subscriptions) == 1 {
		consumerCfg.FilterSubject = binding.Subscriptions[0]
	} else {
		consumerCfg.FilterSubjects = binding.Subscriptions
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return fmt.Errorf("nats adapter: consumer %s: %w", binding.QueueName, err)
	}

	a.mu.Lock()
	a.streams[binding.QueueName] = stream
	a.consumers[binding.QueueName] = consumer
	a.mu.Unlock()
	return nil
}

// AddTopicSubscription and RemoveTopicSubscription recreate the consumer
// with an updated filter-subject list; JetStream consumers are immutable on
// FilterSubject, so this is a create-or-update of the whole list.
func (a *NATSAdapter) AddTopicSubscription(queueName, topic string) error {
	return a.mutateSubscriptions(queueName, func(subs []string) []string {
		return append(subs, topic)
	})
}

func (a *NATSAdapter) RemoveTopicSubscription(queueName, topic string) error {
	return a.mutateSubscriptions(queueName, func(subs []string) []string {
		filtered := subs[:0]
		for _, s := range subs {
			if s != topic {
				filtered = append(filtered, s)
			}
		}
		return filtered
	})
}

func (a *NATSAdapter) mutateSubscriptions(queueName string, mutate func([]string) []string) error {
	a.mu.Lock()
	stream, ok := a.streams[queueName]
	consumer, cok := a.consumers[queueName]
	a.mu.Unlock()
	if !ok || !cok {
		return fmt.Errorf("nats adapter: queue %q is not bound", queueName)
	}

	info, err := consumer.Info(context.Background())
	if err != nil {
		return fmt.Errorf("nats adapter: consumer info: %w", err)
	}
	subs := info.Config.FilterSubjects
	if subs == nil && info.Config.FilterSubject != "" {
		subs = []string{info.Config.FilterSubject}
	}
	subs = mutate(subs)

	cfg := info.Config
	cfg.FilterSubject = ""
	cfg.FilterSubjects = subs
	newConsumer, err := stream.CreateOrUpdateConsumer(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("nats adapter: update consumer: %w", err)
	}

	a.mu.Lock()
	a.consumers[queueName] = newConsumer
	a.mu.Unlock()
	return nil
}

func (a *NATSAdapter) ReceiveMessage(ctx context.Context, timeout time.Duration, queueName string) (*Message, error) {
	a.mu.Lock()
	consumer, ok := a.consumers[queueName]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("nats adapter: queue %q is not bound", queueName)
	}

	batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}

	for msg := range batch.Messages() {
		props := map[string]any{}
		for k := range msg.Headers() {
			props[k] = msg.Headers().Get(k)
		}
		return &Message{
			Payload:        msg.Data(),
			Topic:          msg.Subject(),
			UserProperties: props,
			Receipt:        natsReceipt{msg: msg},
		}, nil
	}
	if err := batch.Error(); err != nil && err != context.DeadlineExceeded {
		return nil, err
	}
	return nil, nil
}

func (a *NATSAdapter) SendMessage(ctx context.Context, destination string, payload []byte, userProperties map[string]any, ackCB SendAckCallback) error {
	a.mu.Lock()
	js := a.js
	a.mu.Unlock()
	if js == nil {
		return fmt.Errorf("nats adapter: not connected")
	}

	headers := nats.Header{}
	for k, v := range userProperties {
		headers.Set(k, fmt.Sprintf("%v", v))
	}

	msg := &nats.Msg{Subject: destination, Data: payload, Header: headers}
	ack, err := js.PublishMsgAsync(msg)
	if err != nil {
		if ackCB != nil {
			ackCB(err)
		}
		return fmt.Errorf("nats adapter: publish: %w", err)
	}

	go func() {
		select {
		case <-ack.Ok():
			if ackCB != nil {
				ackCB(nil)
			}
		case err := <-ack.Err():
			if ackCB != nil {
				ackCB(err)
			}
		case <-ctx.Done():
			if ackCB != nil {
				ackCB(ctx.Err())
			}
		}
	}()
	return nil
}

func (a *NATSAdapter) Ack(msg *Message) error {
	receipt, ok := msg.Receipt.(natsReceipt)
	if !ok {
		return ErrNoBrokerMessage
	}
	return receipt.msg.Ack()
}

func (a *NATSAdapter) Nack(msg *Message, outcome Outcome) error {
	receipt, ok := msg.Receipt.(natsReceipt)
	if !ok {
		return ErrNoBrokerMessage
	}
	switch outcome {
	case OutcomeRejected:
		return receipt.msg.Term()
	default:
		return receipt.msg.Nak()
	}
}
