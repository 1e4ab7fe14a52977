package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DevAdapter is the in-process broker adapter used for local development and
// tests: queues keyed by queue name, topic subscriptions matched against
// published topics with Solace-style wildcards ("*" matches exactly one
// topic level, ">" matches the tail of the topic from that level on).
//
// Multiple DevAdapter instances can be wired to the same *Hub to model
// several connector instances (or flows) sharing one broker.
type DevAdapter struct {
	statusHub
	hub *Hub
}

// Hub is the shared in-process broker backing every DevAdapter that points
// at it: it owns the queues and the subscription table.
type Hub struct {
	mu            sync.Mutex
	queues        map[string]chan *Message
	subscriptions map[string][]string // queueName -> topic patterns
}

// NewHub creates an empty in-process broker.
func NewHub() *Hub {
	return &Hub{
		queues:        map[string]chan *Message{},
		subscriptions: map[string][]string{},
	}
}

// NewDevAdapter wraps hub with the Adapter interface. Pass a fresh *Hub per
// isolated dev broker, or share one across adapters to model several
// components talking to the same broker.
func NewDevAdapter(hub *Hub) *DevAdapter {
	return &DevAdapter{hub: hub}
}

func (a *DevAdapter) Connect(_ context.Context) error {
	a.transition(StatusConnecting)
	a.transition(StatusConnected)
	return nil
}

func (a *DevAdapter) Disconnect() error {
	a.transition(StatusDisconnected)
	return nil
}

func (a *DevAdapter) BindToQueue(binding QueueBinding) error {
	a.hub.mu.Lock()
	defer a.hub.mu.Unlock()

	if _, exists := a.hub.queues[binding.QueueName]; !exists {
		depth := 1000
		a.hub.queues[binding.QueueName] = make(chan *Message, depth)
	}
	a.hub.subscriptions[binding.QueueName] = append(a.hub.subscriptions[binding.QueueName], binding.Subscriptions...)
	return nil
}

func (a *DevAdapter) AddTopicSubscription(queueName, topic string) error {
	a.hub.mu.Lock()
	defer a.hub.mu.Unlock()
	a.hub.subscriptions[queueName] = append(a.hub.subscriptions[queueName], topic)
	return nil
}

func (a *DevAdapter) RemoveTopicSubscription(queueName, topic string) error {
	a.hub.mu.Lock()
	defer a.hub.mu.Unlock()
	subs := a.hub.subscriptions[queueName]
	filtered := subs[:0]
	for _, s := range subs {
		if s != topic {
			filtered = append(filtered, s)
		}
	}
	a.hub.subscriptions[queueName] = filtered
	return nil
}

func (a *DevAdapter) ReceiveMessage(ctx context.Context, timeout time.Duration, queueName string) (*Message, error) {
	a.hub.mu.Lock()
	q, ok := a.hub.queues[queueName]
	a.hub.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dev broker: queue %q is not bound", queueName)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-q:
		return msg, nil
	case <-timer.C:
		return nil, nil
	}
}

func (a *DevAdapter) SendMessage(_ context.Context, destination string, payload []byte, userProperties map[string]any, ackCB SendAckCallback) error {
	a.hub.mu.Lock()
	defer a.hub.mu.Unlock()

	delivered := false
	for queueName, subs := range a.hub.subscriptions {
		for _, pattern := range subs {
			if topicMatches(pattern, destination) {
				q := a.hub.queues[queueName]
				msg := &Message{Payload: payload, Topic: destination, UserProperties: userProperties, Receipt: queueName}
				select {
				case q <- msg:
					delivered = true
				default:
					if ackCB != nil {
						ackCB(fmt.Errorf("dev broker: queue %q is full", queueName))
					}
					return fmt.Errorf("dev broker: queue %q is full", queueName)
				}
				break
			}
		}
	}
	_ = delivered
	if ackCB != nil {
		ackCB(nil)
	}
	return nil
}

func (a *DevAdapter) Ack(msg *Message) error {
	if _, ok := msg.Receipt.(string); !ok {
		return ErrNoBrokerMessage
	}
	return nil
}

func (a *DevAdapter) Nack(msg *Message, _ Outcome) error {
	if _, ok := msg.Receipt.(string); !ok {
		return ErrNoBrokerMessage
	}
	return nil
}

// topicMatches reports whether topic satisfies the Solace-style pattern:
// "*" matches exactly one level, ">" matches the remainder of the topic
// from that level onward.
func topicMatches(pattern, topic string) bool {
	pLevels := strings.Split(pattern, "/")
	tLevels := strings.Split(topic, "/")

	i := 0
	for ; i < len(pLevels); i++ {
		if pLevels[i] == ">" {
			return true
		}
		if i >= len(tLevels) {
			return false
		}
		if pLevels[i] == "*" {
			continue
		}
		if pLevels[i] != tLevels[i] {
			return false
		}
	}
	return i == len(tLevels)
}
