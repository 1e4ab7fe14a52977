package component

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/flowbroker/connector/internal/message"
)

// RoutedTarget is anything that can accept an Event directly onto its own
// input queue, bypassing the chain (a *Group, in practice).
type RoutedTarget interface {
	Enqueue(ctx context.Context, evt message.Event) error
}

// subscriptionRoute pairs a compiled topic-matcher with the group it routes
// matching messages to.
type subscriptionRoute struct {
	pattern *regexp.Regexp
	target  RoutedTarget
	name    string
}

// SubscriptionRouter implements the simplified-app routing component:
// given an incoming message's topic, it finds the first user
// component (declaration order) whose subscriptions match and enqueues the
// event directly onto that component's input queue, bypassing the
// intervening chain. No match: the message is discarded (and acked).
type SubscriptionRouter struct {
	routes []subscriptionRoute
}

// NewSubscriptionRouter compiles subscriptions (component name ->
// Solace-style wildcard subscription list, in declaration order) once at
// construction.
func NewSubscriptionRouter(order []string, subscriptions map[string][]string, targets map[string]RoutedTarget) (*SubscriptionRouter, error) {
	router := &SubscriptionRouter{}
	for _, name := range order {
		for _, sub := range subscriptions[name] {
			re, err := compileSubscription(sub)
			if err != nil {
				return nil, fmt.Errorf("subscription_router: %s: %w", name, err)
			}
			router.routes = append(router.routes, subscriptionRoute{pattern: re, target: targets[name], name: name})
		}
	}
	return router, nil
}

// compileSubscription turns a Solace-style wildcard subscription ("*" = one
// level, ">" = tail match) into a compiled regex, matched once at
// construction instead of per message.
func compileSubscription(sub string) (*regexp.Regexp, error) {
	levels := strings.Split(sub, "/")
	var b strings.Builder
	b.WriteString("^")
	for i, lvl := range levels {
		if i > 0 {
			b.WriteString("/")
		}
		switch lvl {
		case ">":
			b.WriteString(".*")
		case "*":
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexp.QuoteMeta(lvl))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Invoke implements Component for completeness (SubscriptionRouter is
// driven from the worker loop like any other component, but routes instead
// of forwarding to a fixed next component, so it never returns a result the
// default enqueue-to-next logic should act on).
func (r *SubscriptionRouter) Invoke(ctx context.Context, msg *message.Message, _ any) (any, error) {
	for _, route := range r.routes {
		if route.pattern.MatchString(msg.Topic) {
			if err := route.target.Enqueue(ctx, message.NewMessageEvent(msg)); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
	// No match: discard and ack.
	msg.CallAcknowledgements()
	return nil, nil
}
