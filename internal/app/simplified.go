package app

import (
	"fmt"

	"github.com/flowbroker/connector/config"
	"github.com/flowbroker/connector/internal/broker"
	"github.com/flowbroker/connector/internal/codec"
	"github.com/flowbroker/connector/internal/component"
	"github.com/flowbroker/connector/internal/flow"
)

// buildSimplifiedFlow synthesises the implicit flow a simplified app
// describes: [BrokerInput] -> [SubscriptionRouter if >=2
// components] -> user components -> [BrokerOutput]. The broker config map
// carries an "input" and an "output" sub-map, each shaped like the
// corresponding built-in component's component_config.
func buildSimplifiedFlow(appName string, cfg config.AppConfig, bc flow.BuildContext, adapter broker.Adapter) (*flow.Flow, error) {
	services := component.NewFlowServices()

	inputGroup, err := buildBrokerInputGroup(appName, cfg.Broker, adapter, bc)
	if err != nil {
		return nil, fmt.Errorf("app %s: broker input: %w", appName, err)
	}

	outputGroup, err := buildBrokerOutputGroup(appName, len(cfg.Components)+2, cfg.Broker, adapter, bc)
	if err != nil {
		return nil, fmt.Errorf("app %s: broker output: %w", appName, err)
	}

	userGroups := make([]*component.Group, 0, len(cfg.Components))
	order := make([]string, 0, len(cfg.Components))
	subscriptions := map[string][]string{}
	targets := map[string]component.RoutedTarget{}

	for i, compCfg := range cfg.Components {
		g, err := flow.BuildGroup(appName, i+1, compCfg, services, bc, nil)
		if err != nil {
			return nil, fmt.Errorf("app %s: component %d (%s): %w", appName, i, compCfg.ComponentName, err)
		}
		g.Next = outputGroup
		userGroups = append(userGroups, g)

		name := compCfg.ComponentName
		if name == "" {
			name = fmt.Sprintf("component-%d", i)
		}
		order = append(order, name)
		subscriptions[name] = compCfg.Subscriptions
		targets[name] = g
	}

	f := &flow.Flow{Name: appName, Services: services}
	f.Groups = append(f.Groups, inputGroup)

	if len(userGroups) >= 2 {
		router, err := component.NewSubscriptionRouter(order, subscriptions, targets)
		if err != nil {
			return nil, fmt.Errorf("app %s: subscription_router: %w", appName, err)
		}
		routerGroup, err := component.NewGroup("subscription_router", appName, 0, component.DefaultQueueDepth, 1, func() (component.Component, error) { return router, nil }, component.InstanceOptions{}, groupDeps(bc))
		if err != nil {
			return nil, err
		}
		inputGroup.Next = routerGroup
		f.Groups = append(f.Groups, routerGroup)
		f.Groups = append(f.Groups, userGroups...)
	} else if len(userGroups) == 1 {
		inputGroup.Next = userGroups[0]
		f.Groups = append(f.Groups, userGroups...)
	} else {
		inputGroup.Next = outputGroup
	}

	f.Groups = append(f.Groups, outputGroup)
	return f, nil
}

func groupDeps(bc flow.BuildContext) component.Dependencies {
	return component.Dependencies{
		Logger:  bc.Logger,
		Timers:  bc.Timers,
		Cache:   bc.Cache,
		Metrics: bc.Metrics,
	}
}

func buildBrokerInputGroup(appName string, brokerCfg map[string]any, adapter broker.Adapter, bc flow.BuildContext) (*component.Group, error) {
	inputRaw, _ := brokerCfg["input"].(map[string]any)
	cfg := component.BrokerInputConfig{
		QueueName:     stringField(inputRaw, "queue_name"),
		Subscriptions: stringSliceField(inputRaw, "subscriptions"),
		Temporary:     boolField(inputRaw, "temporary"),
		MaxRedelivery: intField(inputRaw, "max_redelivery"),
		CreateOnStart: boolField(inputRaw, "create_on_start"),
		Codec:         codecField(inputRaw),
	}
	build := func() (component.Component, error) {
		return component.NewBrokerInput(adapter, cfg)
	}
	return component.NewGroup("broker_input", appName, 0, component.DefaultQueueDepth, 1, build, component.InstanceOptions{}, groupDeps(bc))
}

func buildBrokerOutputGroup(appName string, index int, brokerCfg map[string]any, adapter broker.Adapter, bc flow.BuildContext) (*component.Group, error) {
	outputRaw, _ := brokerCfg["output"].(map[string]any)
	cfg := component.BrokerOutputConfig{
		DestinationExpression:     stringField(outputRaw, "destination_expression"),
		Codec:                     codecField(outputRaw),
		CopyUserProperties:        boolField(outputRaw, "copy_user_properties"),
		DecrementTTL:              boolField(outputRaw, "decrement_ttl"),
		DiscardOnTTLExpiration:    boolField(outputRaw, "discard_on_ttl_expiration"),
		PropagateAcknowledgements: boolField(outputRaw, "propagate_acknowledgements"),
	}
	build := func() (component.Component, error) {
		return component.NewBrokerOutput(adapter, cfg)
	}
	return component.NewGroup("broker_output", appName, index, component.DefaultQueueDepth, 1, build, component.InstanceOptions{}, groupDeps(bc))
}

func codecField(raw map[string]any) codec.Codec {
	return codec.Codec{
		Encoding: codec.Encoding(stringField(raw, "encoding")),
		Format:   codec.Format(stringField(raw, "format")),
	}
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func boolField(raw map[string]any, key string) bool {
	b, _ := raw[key].(bool)
	return b
}

func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceField(raw map[string]any, key string) []string {
	v, _ := raw[key].([]any)
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
