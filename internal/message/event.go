package message

// EventType tags the three kinds of event a component's input queue may
// carry.
type EventType int

const (
	EventMessage EventType = iota
	EventTimer
	EventCacheExpiry
)

func (t EventType) String() string {
	switch t {
	case EventTimer:
		return "timer"
	case EventCacheExpiry:
		return "cache_expiry"
	default:
		return "message"
	}
}

// TimerPayload is the data carried by an EventTimer event.
type TimerPayload struct {
	TimerID string
	Payload any
}

// CacheExpiryPayload is the data carried by an EventCacheExpiry event.
type CacheExpiryPayload struct {
	Key         string
	Metadata    any
	ExpiredData any
}

// Event is the tagged variant pushed through every component input queue.
type Event struct {
	Type        EventType
	Message     *Message
	Timer       *TimerPayload
	CacheExpiry *CacheExpiryPayload
}

// NewMessageEvent wraps a Message as a Message-typed Event.
func NewMessageEvent(msg *Message) Event {
	return Event{Type: EventMessage, Message: msg}
}

// NewTimerEvent wraps a fired timer as a Timer-typed Event.
func NewTimerEvent(timerID string, payload any) Event {
	return Event{Type: EventTimer, Timer: &TimerPayload{TimerID: timerID, Payload: payload}}
}

// NewCacheExpiryEvent wraps an expired cache entry as a CacheExpiry-typed
// Event.
func NewCacheExpiryEvent(key string, metadata, expiredData any) Event {
	return Event{Type: EventCacheExpiry, CacheExpiry: &CacheExpiryPayload{
		Key: key, Metadata: metadata, ExpiredData: expiredData,
	}}
}
