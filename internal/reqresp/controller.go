// Package reqresp implements the broker request/response controller: it
// lets any component send a request on a broker topic and receive one or
// more correlated replies as if the broker were a synchronous RPC
// transport, including gateway-style nesting through a JSON metadata stack
// carried in user-properties.
package reqresp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/cache"
	"github.com/flowbroker/connector/internal/codec"
	"github.com/flowbroker/connector/internal/message"
)

// Default reserved user-properties keys, overridable per Config so a
// deployment can avoid colliding with an upstream gateway using the same
// convention.
const (
	DefaultTopicKey    = "__solace_ai_connector_broker_request_response_topic__"
	DefaultMetadataKey = "__solace_ai_connector_broker_request_reply_metadata__"
)

const pollTimeout = time.Second

// Config configures one Controller instance.
type Config struct {
	ResponseTopicPrefix string // e.g. "reply"
	ResponseTopicSuffix string // e.g. "res"
	RequestExpiry       time.Duration
	Codec               codec.Codec

	// ResponseTopicInsertionExpression, if set, writes the response topic
	// into the outgoing payload at this expression (e.g. so a downstream
	// service with no user-property access still learns where to reply).
	ResponseTopicInsertionExpression string

	TopicKey    string
	MetadataKey string
}

func (c Config) topicKey() string {
	if c.TopicKey != "" {
		return c.TopicKey
	}
	return DefaultTopicKey
}

func (c Config) metadataKey() string {
	if c.MetadataKey != "" {
		return c.MetadataKey
	}
	return DefaultMetadataKey
}

// metadataFrame is one entry of the JSON-encoded metadata stack threaded
// through user-properties, supporting nested request/response through
// gateways.
type metadataFrame struct {
	RequestID     string `json:"request_id"`
	ResponseTopic string `json:"response_topic"`
}

// Reply is delivered to the caller of Do for every chunk received (exactly
// one chunk for a non-streaming request).
type Reply struct {
	Message *message.Message
	Err     error
}

// pendingMeta is what gets stored in the shared cache for a pending
// request.
type pendingMeta struct {
	Stream                bool
	StreamingCompleteExpr string
}

// replyChannelDepth bounds how many undrained chunks a pending request's
// channel buffers before further chunks are dropped. Deliveries never
// block, so a caller that abandons its channel can stall neither the
// controller's reader goroutine nor the cache's expiry dispatcher.
const replyChannelDepth = 64

// pendingChannel is the Go-only half of a pending request: the channel a
// caller reads replies from. Channels cannot round-trip through a
// SQL-backed cache, so this lives in the controller's own map, keyed
// identically to the cache entry. All sends and the close are serialized
// under mu so the reader goroutine, the caller, and the cache expiry
// dispatcher can settle the same request without racing a send against a
// close.
type pendingChannel struct {
	mu     sync.Mutex
	ch     chan Reply
	closed bool
}

func newPendingChannel() *pendingChannel {
	return &pendingChannel{ch: make(chan Reply, replyChannelDepth)}
}

// deliver pushes one Reply without blocking. Returns false if the request
// is already settled or the caller has stopped draining the channel.
func (p *pendingChannel) deliver(r Reply) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- r:
		return true
	default:
		return false
	}
}

// finish optionally delivers a final Reply, then closes the channel.
// Idempotent.
func (p *pendingChannel) finish(final *Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if final != nil {
		select {
		case p.ch <- *final:
		default:
		}
	}
	p.closed = true
	close(p.ch)
}

// Controller is one request/response facility: a dedicated reply
// subscription plus the bookkeeping that correlates replies with
// outstanding requests.
type Controller struct {
	cfg     Config
	adapter broker.Adapter
	cache   *cache.Service
	logger  *slog.Logger

	requestorID   string
	responseTopic string
	queueName     string

	mu      sync.Mutex
	pending map[string]*pendingChannel
}

// New builds a Controller around an already-connected broker adapter,
// picking a requestor UUID and binding a temporary queue to its response
// topic.
func New(adapter broker.Adapter, cfg Config, cacheSvc *cache.Service, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	responseTopic := cfg.ResponseTopicPrefix + "/" + id + "/" + cfg.ResponseTopicSuffix
	queueName := "reqresp-" + id

	c := &Controller{
		cfg:           cfg,
		adapter:       adapter,
		cache:         cacheSvc,
		logger:        logger,
		requestorID:   id,
		responseTopic: responseTopic,
		queueName:     queueName,
		pending:       map[string]*pendingChannel{},
	}

	if err := adapter.BindToQueue(broker.QueueBinding{
		QueueName:     queueName,
		Subscriptions: []string{responseTopic, responseTopic + "/>"},
		Temporary:     true,
		CreateOnStart: true,
	}); err != nil {
		return nil, fmt.Errorf("reqresp: bind response queue: %w", err)
	}

	return c, nil
}

// ResponseTopic is the subscription this controller's replies arrive on.
func (c *Controller) ResponseTopic() string { return c.responseTopic }

// Run pulls reply messages until stop fires. Intended to run in its own
// goroutine, playing the role a dedicated internal reply flow would.
func (c *Controller) Run(ctx context.Context, stop interface{ Done() <-chan struct{} }) {
	for {
		select {
		case <-stop.Done():
			return
		default:
		}

		bmsg, err := c.adapter.ReceiveMessage(ctx, pollTimeout, c.queueName)
		if err != nil {
			c.logger.Warn("reqresp: receive failed", slog.String("error", err.Error()))
			continue
		}
		if bmsg == nil {
			continue
		}
		c.handleReply(ctx, bmsg)
	}
}

// Do issues a request on destinationTopic and returns a channel of replies.
// The channel is closed once a non-streaming reply arrives, the reply's
// streamingCompleteExpr evaluates true, or the request times out. A
// timed-out request delivers exactly one Reply carrying a
// context.DeadlineExceeded-wrapped error before the channel closes. The
// caller must keep draining the channel: deliveries never block, so chunks
// beyond an undrained backlog of replyChannelDepth are dropped with a
// warning rather than stalling the controller.
func (c *Controller) Do(ctx context.Context, destinationTopic string, msg *message.Message, stream bool, streamingCompleteExpr string) (<-chan Reply, error) {
	requestID := uuid.NewString()

	if err := c.pushMetadataFrame(msg, requestID); err != nil {
		return nil, err
	}

	if c.cfg.ResponseTopicInsertionExpression != "" {
		if err := message.SetData(msg, c.cfg.ResponseTopicInsertionExpression, c.responseTopic); err != nil {
			return nil, fmt.Errorf("reqresp: response_topic_insertion_expression: %w", err)
		}
	}

	payload, err := c.cfg.Codec.Encode(msg.Previous)
	if err != nil {
		return nil, fmt.Errorf("reqresp: encode request: %w", err)
	}

	pc := newPendingChannel()
	c.mu.Lock()
	c.pending[requestID] = pc
	c.mu.Unlock()

	if err := c.cache.AddData(requestID, pendingMeta{Stream: stream, StreamingCompleteExpr: streamingCompleteExpr}, c.cfg.RequestExpiry, requestID, c); err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return nil, fmt.Errorf("reqresp: track pending request: %w", err)
	}

	if err := c.adapter.SendMessage(ctx, destinationTopic, payload, msg.UserProperties, nil); err != nil {
		c.failPending(requestID, err)
		return nil, fmt.Errorf("reqresp: publish request: %w", err)
	}

	return pc.ch, nil
}

// pushMetadataFrame pushes {request_id, response_topic} onto the stack
// stored at metadataKey and points topicKey at this controller's response
// topic, preserving any enclosing frame already present (nested
// request/response through gateways).
func (c *Controller) pushMetadataFrame(msg *message.Message, requestID string) error {
	var stack []metadataFrame
	if raw, ok := msg.UserProperties[c.cfg.metadataKey()]; ok {
		if s, ok := raw.(string); ok && s != "" {
			if err := json.Unmarshal([]byte(s), &stack); err != nil {
				return fmt.Errorf("reqresp: malformed metadata stack: %w", err)
			}
		}
	}
	stack = append(stack, metadataFrame{RequestID: requestID, ResponseTopic: c.responseTopic})

	encoded, err := json.Marshal(stack)
	if err != nil {
		return err
	}
	msg.UserProperties[c.cfg.metadataKey()] = string(encoded)
	msg.UserProperties[c.cfg.topicKey()] = c.responseTopic
	return nil
}

// handleReply decodes one reply, pops its metadata frame, and delivers it
// to the matching pending request.
func (c *Controller) handleReply(ctx context.Context, bmsg *broker.Message) {
	payload, err := c.cfg.Codec.Decode(bmsg.Payload)
	if err != nil {
		c.logger.Warn("reqresp: decode reply failed", slog.String("error", err.Error()))
		_ = c.adapter.Ack(bmsg)
		return
	}

	// Pop the frame from a copy: the broker message's property map may be
	// shared with other replies (a streaming responder reuses it per chunk).
	props := make(map[string]any, len(bmsg.UserProperties))
	for k, v := range bmsg.UserProperties {
		props[k] = v
	}
	replyMsg := message.New(payload, bmsg.Topic, props)

	requestID, stackEmpty, err := c.popMetadataFrame(replyMsg)
	if err != nil {
		c.logger.Warn("reqresp: malformed reply metadata", slog.String("error", err.Error()))
		_ = c.adapter.Ack(bmsg)
		return
	}
	_ = stackEmpty

	c.mu.Lock()
	pc, found := c.pending[requestID]
	c.mu.Unlock()
	if !found {
		c.logger.Debug("reqresp: late reply dropped", slog.String("request_id", requestID))
		_ = c.adapter.Ack(bmsg)
		return
	}

	rawMeta, cacheFound, err := c.cache.Get(requestID)
	if err != nil || !cacheFound {
		c.logger.Debug("reqresp: reply for expired request dropped", slog.String("request_id", requestID))
		_ = c.adapter.Ack(bmsg)
		return
	}
	meta, _ := rawMeta.(pendingMeta)

	complete := !meta.Stream
	if meta.Stream && meta.StreamingCompleteExpr != "" {
		v, err := message.GetData(replyMsg, meta.StreamingCompleteExpr)
		if err == nil {
			complete, _ = v.(bool)
		}
	}

	if !pc.deliver(Reply{Message: replyMsg}) {
		c.logger.Warn("reqresp: caller not draining replies, chunk dropped", slog.String("request_id", requestID))
	}

	if complete {
		c.finishPending(requestID)
		pc.finish(nil)
	} else if err := c.cache.RefreshExpiry(requestID, c.cfg.RequestExpiry); err != nil {
		c.logger.Warn("reqresp: refresh expiry failed", slog.String("error", err.Error()))
	}

	_ = c.adapter.Ack(bmsg)
}

// popMetadataFrame pops this controller's frame off the stack and rewrites
// user-properties so the next hop (if any) sees the enclosing frame.
func (c *Controller) popMetadataFrame(msg *message.Message) (requestID string, stackEmpty bool, err error) {
	raw, _ := msg.UserProperties[c.cfg.metadataKey()].(string)
	var stack []metadataFrame
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &stack); err != nil {
			return "", false, err
		}
	}
	if len(stack) == 0 {
		return "", true, fmt.Errorf("reqresp: reply carries an empty metadata stack")
	}

	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]

	if len(stack) == 0 {
		delete(msg.UserProperties, c.cfg.metadataKey())
		delete(msg.UserProperties, c.cfg.topicKey())
		return top.RequestID, true, nil
	}

	encoded, err := json.Marshal(stack)
	if err != nil {
		return "", false, err
	}
	msg.UserProperties[c.cfg.metadataKey()] = string(encoded)
	msg.UserProperties[c.cfg.topicKey()] = stack[len(stack)-1].ResponseTopic
	return top.RequestID, false, nil
}

func (c *Controller) finishPending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
	_ = c.cache.Delete(requestID)
}

func (c *Controller) failPending(requestID string, cause error) {
	c.mu.Lock()
	pc, found := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if found {
		pc.finish(&Reply{Err: cause})
	}
	_ = c.cache.Delete(requestID)
}

// Enqueue implements cache.Owner: the cache's expiry dispatcher calls this
// when a pending request's entry ages out with no (or an incomplete)
// reply, surfacing a timeout to the caller.
func (c *Controller) Enqueue(_ context.Context, evt message.Event) error {
	if evt.Type != message.EventCacheExpiry {
		return nil
	}
	requestID, _ := evt.CacheExpiry.Metadata.(string)
	if requestID == "" {
		return nil
	}

	c.mu.Lock()
	pc, found := c.pending[requestID]
	delete(c.pending, requestID)
	c.mu.Unlock()
	if !found {
		return nil
	}

	pc.finish(&Reply{Err: fmt.Errorf("reqresp: request %s: %w", requestID, context.DeadlineExceeded)})
	return nil
}
