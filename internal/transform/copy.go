package transform

import "github.com/flowbroker/connector/internal/message"

// copyTransform reads source_expression and writes it verbatim to
// dest_expression.
type copyTransform struct{ cfg Config }

func (t *copyTransform) Invoke(msg *message.Message) error {
	if err := requireExpr("source_expression", t.cfg.SourceExpression); err != nil {
		return err
	}
	if err := requireExpr("dest_expression", t.cfg.DestExpression); err != nil {
		return err
	}
	value, err := message.GetData(msg, t.cfg.SourceExpression)
	if err != nil {
		return err
	}
	return message.SetData(msg, t.cfg.DestExpression, value)
}

// appendTransform reads source_expression and appends it to the list found
// at dest_expression, creating the list if absent.
type appendTransform struct{ cfg Config }

func (t *appendTransform) Invoke(msg *message.Message) error {
	if err := requireExpr("source_expression", t.cfg.SourceExpression); err != nil {
		return err
	}
	if err := requireExpr("dest_expression", t.cfg.DestExpression); err != nil {
		return err
	}
	value, err := message.GetData(msg, t.cfg.SourceExpression)
	if err != nil {
		return err
	}
	existing, err := message.GetData(msg, t.cfg.DestExpression)
	if err != nil {
		return err
	}
	list := append(asList(existing), value)
	return message.SetData(msg, t.cfg.DestExpression, list)
}

// copyListItemTransform is the deprecated single-field form of map: for
// every element of source_list_expression, copy one field (named by
// SourceExpression, relative to the element via "item:") to the same index
// of dest_list_expression.
type copyListItemTransform struct{ cfg Config }

func (t *copyListItemTransform) Invoke(msg *message.Message) error {
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

	savedItem := msg.IterationData["item"]
	savedIndex := msg.IterationData["index"]
	defer func() {
		msg.IterationData["item"] = savedItem
		msg.IterationData["index"] = savedIndex
	}()

	for i, item := range items {
		msg.IterationData["item"] = item
		msg.IterationData["index"] = i
		if t.cfg.SourceExpression == "" {
			result[i] = item
			continue
		}
		value, err := message.GetData(msg, t.cfg.SourceExpression)
		if err != nil {
			return err
		}
		result[i] = value
	}
	return message.SetData(msg, t.cfg.DestListExpression, result)
}
