package connector

import (
	"time"

	"github.com/flowbroker/connector/internal/broker"
)

// buildAdapter constructs the broker.Adapter an app's flows share, from the
// "broker" config map every app (standard or simplified) may carry. An
// absent or "dev"-typed map falls back to an in-process DevAdapter wired to
// the connector-wide Hub, so apps within one connector process can talk to
// each other without a real broker; "nats" builds a production
// NATSAdapter against brokerCfg["url"].
func (c *Connector) buildAdapter(brokerCfg map[string]any) broker.Adapter {
	brokerType, _ := brokerCfg["type"].(string)
	switch brokerType {
	case "nats":
		url, _ := brokerCfg["url"].(string)
		return broker.NewNATSAdapter(url, c.retryStrategy(brokerCfg), c.logger)
	default:
		return broker.NewDevAdapter(c.devHub)
	}
}

// retryStrategy builds the reconnect RetryStrategy a broker's "type: nats"
// config describes: forever_retry (default) or parametrized_retry with an
// attempt count and interval.
func (c *Connector) retryStrategy(brokerCfg map[string]any) broker.RetryStrategy {
	maxInterval := 60 * time.Second
	if v, ok := brokerCfg["max_reconnect_interval_ms"]; ok {
		if ms, ok := toInt(v); ok {
			maxInterval = time.Duration(ms) * time.Millisecond
		}
	}

	count, hasCount := toInt(brokerCfg["reconnect_attempts"])
	if !hasCount || count <= 0 {
		return broker.NewForeverRetry(maxInterval)
	}
	interval := time.Second
	if v, ok := toInt(brokerCfg["reconnect_interval_ms"]); ok {
		interval = time.Duration(v) * time.Millisecond
	}
	return broker.NewParametrizedRetry(count, interval)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
