package transform

import "github.com/flowbroker/connector/internal/message"

// mapTransform iterates source_list_expression; for each element it
// optionally runs ProcessingFunction (seeing keyword_args:{index,
// current_value, source_list}) and writes the result into the same index of
// dest_list_expression.
type mapTransform struct{ cfg Config }

func (t *mapTransform) Invoke(msg *message.Message) error {
	if err := requireExpr("source_list_expression", t.cfg.SourceListExpression); err != nil {
		return err
	}
	if err := requireExpr("dest_list_expression", t.cfg.DestListExpression); err != nil {
		return err
	}
	source, err := message.GetData(msg, t.cfg.SourceListExpression)
	if err != nil {
		return err
	}
	items := asList(source)
	result := make([]any, len(items))

	savedKwargs := msg.KeywordArgs
	defer func() { msg.KeywordArgs = savedKwargs }()

	for i, item := range items {
		msg.KeywordArgs = map[string]any{
			"index":         i,
			"current_value": item,
			"source_list":   items,
		}
		if t.cfg.ProcessingFunction == nil {
			result[i] = item
			continue
		}
		value, err := t.cfg.ProcessingFunction(msg)
		if err != nil {
			return err
		}
		result[i] = value
	}
	return message.SetData(msg, t.cfg.DestListExpression, result)
}

// filterTransform is like mapTransform but keeps only elements for which
// FilterFunction returns a truthy value; destination indices are
// contiguous.
type filterTransform struct{ cfg Config }

func (t *filterTransform) Invoke(msg *message.Message) error {
	if err := requireExpr("source_list_expression", t.cfg.SourceListExpression); err != nil {
		return err
	}
	if err := requireExpr("dest_list_expression", t.cfg.DestListExpression); err != nil {
		return err
	}
	if t.cfg.FilterFunction == nil {
		return requireExpr("filter_function", "")
	}
	source, err := message.GetData(msg, t.cfg.SourceListExpression)
	if err != nil {
		return err
	}
	items := asList(source)
	result := make([]any, 0, len(items))

	savedKwargs := msg.KeywordArgs
	defer func() { msg.KeywordArgs = savedKwargs }()

	for i, item := range items {
		msg.KeywordArgs = map[string]any{
			"index":         i,
			"current_value": item,
			"source_list":   items,
		}
		keep, err := t.cfg.FilterFunction(msg)
		if err != nil {
			return err
		}
		if truthy(keep) {
			result = append(result, item)
		}
	}
	return message.SetData(msg, t.cfg.DestListExpression, result)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case int:
		return b != 0
	case float64:
		return b != 0
	case string:
		return b != ""
	default:
		return true
	}
}
