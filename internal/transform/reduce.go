package transform

import "github.com/flowbroker/connector/internal/message"

// reduceTransform iterates source_list_expression with an accumulator
// seeded by InitialValue; AccumulatorFunction sees keyword_args:{index,
// accumulated_value, current_value, source_list}; the final value is
// written to DestExpression.
type reduceTransform struct{ cfg Config }

func (t *reduceTransform) Invoke(msg *message.Message) error {
	if err := requireExpr("source_list_expression", t.cfg.SourceListExpression); err != nil {
		return err
	}
	if err := requireExpr("dest_expression", t.cfg.DestExpression); err != nil {
		return err
	}
	if t.cfg.AccumulatorFunction == nil {
		return requireExpr("accumulator_function", "")
	}
	source, err := message.GetData(msg, t.cfg.SourceListExpression)
	if err != nil {
		return err
	}
	items := asList(source)
	accumulated := t.cfg.InitialValue

	savedKwargs := msg.KeywordArgs
	defer func() { msg.KeywordArgs = savedKwargs }()

	for i, item := range items {
		msg.KeywordArgs = map[string]any{
			"index":             i,
			"accumulated_value": accumulated,
			"current_value":     item,
			"source_list":       items,
		}
		accumulated, err = t.cfg.AccumulatorFunction(msg)
		if err != nil {
			return err
		}
	}
	return message.SetData(msg, t.cfg.DestExpression, accumulated)
}
