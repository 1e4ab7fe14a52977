package component

import (
	"context"
	"strconv"

	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/codec"
	"github.com/flowbroker/connector/internal/message"
)

// BrokerOutputConfig is the decoded component_config for a broker_output.
type BrokerOutputConfig struct {
	DestinationExpression     string // expression resolving the publish destination, defaults to "input.topic:"
	Codec                     codec.Codec
	CopyUserProperties        bool
	DecrementTTL              bool
	DiscardOnTTLExpiration    bool
	PropagateAcknowledgements bool
}

// brokerOutput is the terminal sink at the tail of a flow: it serialises
// previous, applies the ttl policy, and publishes. On success Invoke
// returns (nil, nil), taking ownership of the message's ack/nack itself per
// the terminal-sink contract (a nil result tells the worker loop not to
// forward or settle the message); a ttl, destination, encoding or send
// failure is returned as an error.
type brokerOutput struct {
	adapter broker.Adapter
	cfg     BrokerOutputConfig
}

// NewBrokerOutput wires a broker_output component around an
// already-connected adapter.
func NewBrokerOutput(adapter broker.Adapter, cfg BrokerOutputConfig) (Component, error) {
	return &brokerOutput{adapter: adapter, cfg: cfg}, nil
}

func (b *brokerOutput) Invoke(ctx context.Context, msg *message.Message, _ any) (any, error) {
	ttlOutcome, drop, err := b.applyTTL(msg)
	if err != nil {
		return nil, err
	}
	if drop {
		msg.CallAcknowledgements()
		return nil, nil
	}

	destExpr := b.cfg.DestinationExpression
	if destExpr == "" {
		destExpr = "input.topic:"
	}
	destAny, err := message.GetData(msg, destExpr)
	if err != nil {
		return nil, err
	}
	destination, _ := destAny.(string)
	if destination == "" {
		destination = msg.Topic
	}

	payload, err := b.cfg.Codec.Encode(msg.Previous)
	if err != nil {
		return nil, err
	}

	userProps := map[string]any{}
	if b.cfg.CopyUserProperties {
		for k, v := range msg.UserProperties {
			userProps[k] = v
		}
	}
	if ttlOutcome != nil {
		userProps["ttl"] = *ttlOutcome
	}

	var ackCB broker.SendAckCallback
	if b.cfg.PropagateAcknowledgements {
		ackCB = func(err error) {
			if err != nil {
				msg.CallNegativeAcknowledgements(message.NackFailed)
				return
			}
			msg.CallAcknowledgements()
		}
	} else {
		ackCB = func(err error) {
			if err != nil {
				msg.CallNegativeAcknowledgements(message.NackFailed)
			}
		}
	}

	if err := b.adapter.SendMessage(ctx, destination, payload, userProps, ackCB); err != nil {
		return nil, err
	}
	if !b.cfg.PropagateAcknowledgements {
		// Fire-and-forget semantics: ack as soon as the publish is accepted
		// rather than waiting for the broker's confirm. A synchronous send
		// failure already settled this message as a nack via ackCB above
		// (SendMessage invokes ackCB before returning its error), so this is
		// a no-op in that case and never overrides a nack with an ack.
		msg.CallAcknowledgements()
	}
	return nil, nil
}

// applyTTL implements the ttl user-property handling: decrement,
// and optionally discard when exhausted. Returns the (possibly decremented)
// ttl to set on the outgoing message, and whether the message should be
// dropped instead of published.
func (b *brokerOutput) applyTTL(msg *message.Message) (ttl *int, drop bool, err error) {
	raw, ok := msg.UserProperties["ttl"]
	if !ok {
		return nil, false, nil
	}
	current, convErr := toInt(raw)
	if convErr != nil {
		return nil, false, convErr
	}

	if b.cfg.DiscardOnTTLExpiration && current <= 0 {
		return nil, true, nil
	}
	if b.cfg.DecrementTTL {
		current--
	}
	return &current, false, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, nil
	}
}

func (b *brokerOutput) GetConnectionStatus() string {
	return b.adapter.Status().String()
}
