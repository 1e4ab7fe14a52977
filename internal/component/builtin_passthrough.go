package component

import (
	"context"

	"github.com/flowbroker/connector/internal/message"
)

// passThrough is the simplest possible component: it forwards whatever
// input_selection resolved to (by default msg.Previous) as its output
// unchanged.
type passThrough struct{}

func (passThrough) Invoke(_ context.Context, _ *message.Message, data any) (any, error) {
	return data, nil
}

func init() {
	Register("pass_through", func(_ map[string]any, _ Dependencies) (Component, error) {
		return passThrough{}, nil
	})
}
