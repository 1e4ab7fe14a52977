// Package message implements the envelope that travels a flow: payload,
// topic, user properties, and the acknowledgement chains that eventually
// settle the originating broker delivery exactly once.
package message

import "sync"

// NackOutcome describes how a negative acknowledgement should be reported
// to the originating broker adapter.
type NackOutcome int

const (
	// NackRejected marks the message as permanently rejected (no redelivery
	// expected from a well-behaved broker).
	NackRejected NackOutcome = iota
	// NackFailed marks the message as a transient failure (broker may
	// redeliver).
	NackFailed
)

func (o NackOutcome) String() string {
	switch o {
	case NackFailed:
		return "failed"
	default:
		return "rejected"
	}
}

// AckCallback settles a successful delivery.
type AckCallback func()

// NackCallback settles a failed delivery with the outcome that should be
// reported upstream.
type NackCallback func(outcome NackOutcome)

// Message is the mutable envelope that flows through a pipeline. A Message
// is owned by exactly one component at a time: the one currently processing
// it, or one that has just enqueued it and must not touch it again.
type Message struct {
	Payload        any
	Topic          string
	TopicDelimiter string
	UserProperties map[string]any
	Previous       any
	UserData       map[string]any
	InvokeData     any
	IterationData  map[string]any
	KeywordArgs    map[string]any

	mu            sync.Mutex
	ackCallbacks  []AckCallback
	nackCallbacks []NackCallback
	settled       bool
}

// New creates a Message ready to be pushed into a flow.
func New(payload any, topic string, userProperties map[string]any) *Message {
	if userProperties == nil {
		userProperties = map[string]any{}
	}
	return &Message{
		Payload:        payload,
		Topic:          topic,
		TopicDelimiter: "/",
		UserProperties: userProperties,
		UserData:       map[string]any{},
		IterationData:  map[string]any{},
		KeywordArgs:    map[string]any{},
	}
}

// AddAcknowledgement appends a callback to the ack chain. Callbacks fire in
// the order they were added.
func (m *Message) AddAcknowledgement(cb AckCallback) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackCallbacks = append(m.ackCallbacks, cb)
}

// AddNegativeAcknowledgement appends a callback to the nack chain.
func (m *Message) AddNegativeAcknowledgement(cb NackCallback) {
	if cb == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nackCallbacks = append(m.nackCallbacks, cb)
}

// CallAcknowledgements fires every ack callback exactly once. A second call
// (from either CallAcknowledgements or CallNegativeAcknowledgements) is a
// no-op, guaranteeing the ack-exactly-once invariant.
func (m *Message) CallAcknowledgements() {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return
	}
	m.settled = true
	callbacks := m.ackCallbacks
	m.ackCallbacks = nil
	m.nackCallbacks = nil
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// CallNegativeAcknowledgements fires every nack callback exactly once with
// the given outcome. A prior settlement makes this a no-op.
func (m *Message) CallNegativeAcknowledgements(outcome NackOutcome) {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return
	}
	m.settled = true
	callbacks := m.nackCallbacks
	m.ackCallbacks = nil
	m.nackCallbacks = nil
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(outcome)
	}
}

// Settled reports whether the message has already been acked or nacked.
func (m *Message) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

// CombineWithMessage transfers this message's ack/nack responsibility onto
// other: other's eventual settlement will also fire this message's
// callbacks. Used when a component synthesizes a new Message but the
// original must still be settled through it.
func (m *Message) CombineWithMessage(other *Message) {
	m.mu.Lock()
	acks := append([]AckCallback(nil), m.ackCallbacks...)
	nacks := append([]NackCallback(nil), m.nackCallbacks...)
	m.ackCallbacks = nil
	m.nackCallbacks = nil
	m.settled = true
	m.mu.Unlock()

	for _, cb := range acks {
		other.AddAcknowledgement(cb)
	}
	for _, cb := range nacks {
		other.AddNegativeAcknowledgement(cb)
	}
}

// TopicLevels splits Topic by TopicDelimiter, matching input.topic_levels.
func (m *Message) TopicLevels() []string {
	delim := m.TopicDelimiter
	if delim == "" {
		delim = "/"
	}
	if m.Topic == "" {
		return nil
	}
	return splitTopic(m.Topic, delim)
}

func splitTopic(topic, delim string) []string {
	var parts []string
	start := 0
	for i := 0; i+len(delim) <= len(topic); i++ {
		if topic[i:i+len(delim)] == delim {
			parts = append(parts, topic[start:i])
			start = i + len(delim)
			i += len(delim) - 1
		}
	}
	parts = append(parts, topic[start:])
	return parts
}
