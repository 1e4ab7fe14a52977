// Package transform implements the per-component input rewriters applied to
// a Message before its owning component's Invoke runs: copy, append, map,
// filter, reduce, and the deprecated copy_list_item.
package transform

import (
	"fmt"

	"github.com/flowbroker/connector/internal/message"
)

// Evaluator is a deferred function closure resolved from an "invoke:"
// config directive (see internal/configvalue; the flow package resolves
// the target when it builds a component). It is called with the message's
// keyword_args already populated for the current iteration.
type Evaluator func(msg *message.Message) (any, error)

// Transform is one rewrite step in a component's input-transform list.
type Transform interface {
	// Invoke applies the transform to msg in place.
	Invoke(msg *message.Message) error
}

// Config describes one transform entry as it appears in a component's
// input_transforms list.
type Config struct {
	Type string

	SourceExpression     string
	DestExpression       string
	SourceListExpression string
	DestListExpression   string
	InitialValue         any

	ProcessingFunction  Evaluator
	FilterFunction      Evaluator
	AccumulatorFunction Evaluator
}

// Build constructs the concrete Transform for a Config.
func Build(cfg Config) (Transform, error) {
	switch cfg.Type {
	case "copy":
		return &copyTransform{cfg}, nil
	case "append":
		return &appendTransform{cfg}, nil
	case "map":
		return &mapTransform{cfg}, nil
	case "filter":
		return &filterTransform{cfg}, nil
	case "reduce":
		return &reduceTransform{cfg}, nil
	case "copy_list_item":
		return &copyListItemTransform{cfg}, nil
	default:
		return nil, fmt.Errorf("unknown transform type %q", cfg.Type)
	}
}

// Chain applies an ordered list of transforms to a Message, stopping at the
// first error.
type Chain struct {
	steps []Transform
}

// NewChain builds a Chain from a list of transform configs, in declaration
// order.
func NewChain(configs []Config) (*Chain, error) {
	chain := &Chain{}
	for i, cfg := range configs {
		t, err := Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		chain.steps = append(chain.steps, t)
	}
	return chain, nil
}

// Apply runs every transform in the chain against msg, in order.
func (c *Chain) Apply(msg *message.Message) error {
	for i, t := range c.steps {
		if err := t.Invoke(msg); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return nil
}

func requireExpr(name, expr string) error {
	if expr == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return nil
	default:
		return []any{t}
	}
}
