// Package config provides configuration loading and management for the
// connector.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level connector configuration.
type Config struct {
	InstanceName string           `yaml:"instance_name"`
	Log          LogConfig        `yaml:"log"`
	Trace        TraceConfig      `yaml:"trace"`
	Cache        CacheConfig      `yaml:"cache"`
	Monitoring   MonitoringConfig `yaml:"monitoring"`
	Metrics      MetricsConfig    `yaml:"metrics"`
	Management   ManagementConfig `yaml:"management"`

	// Apps is the preferred way to describe deployable units. Flows is the
	// deprecated top-level shorthand: a config with only Flows is treated as
	// a single implicit app wrapping them.
	Apps  []AppConfig  `yaml:"apps"`
	Flows []FlowConfig `yaml:"flows"`

	// ErrorFlow, if set, is built once by the connector and shared by every
	// app: a flow whose components any app with
	// put_errors_in_error_queue=true on one of its flows delivers
	// ErrorRecord messages into. Unset means processing
	// errors are only logged, never routed anywhere.
	ErrorFlow *FlowConfig `yaml:"error_flow"`
}

// LogConfig configures the stdout and file log sinks.
type LogConfig struct {
	StdoutLogLevel string `yaml:"stdout_log_level"`
	LogFileLevel   string `yaml:"log_file_level"`
	LogFile        string `yaml:"log_file"`
	LogFormat      string `yaml:"log_format"`
}

// TraceConfig configures the optional file-based message trace sink.
type TraceConfig struct {
	TraceFile string `yaml:"trace_file"`
}

// CacheConfig configures the shared cache service's storage backend.
type CacheConfig struct {
	BackendType      string `yaml:"backend_type"` // "memory" (default) or "sql"
	ConnectionString string `yaml:"connection_string"`
	TableName        string `yaml:"table_name"`
}

// MonitoringConfig configures the metrics reporting interval.
type MonitoringConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig configures the Prometheus HTTP exposition server the
// connector serves /metrics on.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ManagementConfig configures the operator-facing HTTP management surface.
type ManagementConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// AppConfig describes one deployable app, in either standard or simplified
// shape. IsSimplified reports which shape was actually populated.
type AppConfig struct {
	Name         string `yaml:"name"`
	AppModule    string `yaml:"app_module"`
	NumInstances int    `yaml:"num_instances"`

	// Standard shape.
	Flows            []FlowConfig `yaml:"flows"`
	PutErrorsInQueue bool         `yaml:"put_errors_in_error_queue"`

	// Simplified shape.
	Broker     map[string]any    `yaml:"broker"`
	Components []ComponentConfig `yaml:"components"`
}

// IsSimplified reports whether this app uses the simplified broker+flat
// component-list shape rather than an explicit flow list.
func (a AppConfig) IsSimplified() bool {
	return len(a.Flows) == 0 && (a.Broker != nil || len(a.Components) > 0)
}

// FlowConfig describes one ordered chain of components.
type FlowConfig struct {
	Name                  string            `yaml:"name"`
	PutErrorsInErrorQueue bool              `yaml:"put_errors_in_error_queue"`
	Components            []ComponentConfig `yaml:"components"`
}

// ComponentConfig describes one component instance (or sibling pool) within
// a flow.
type ComponentConfig struct {
	ComponentName         string            `yaml:"component_name"`
	ComponentModule       string            `yaml:"component_module"`
	ComponentClass        string            `yaml:"component_class"`
	NumInstances          int               `yaml:"num_instances"`
	ComponentConfig       map[string]any    `yaml:"component_config"`
	InputTransforms       []TransformConfig `yaml:"input_transforms"`
	InputSelection        map[string]any    `yaml:"input_selection"`
	BrokerRequestResponse map[string]any    `yaml:"broker_request_response"`

	// Subscriptions is only meaningful for a simplified app's flat component
	// list: the Solace-style wildcard topics the SubscriptionRouter matches
	// against to route a message to this component.
	Subscriptions []string `yaml:"subscriptions"`
}

// TransformConfig mirrors internal/transform.Config at the YAML layer; it
// is decoded again by the transform package once expressions need
// evaluating against a live message.
type TransformConfig struct {
	Type                 string `yaml:"type"`
	SourceExpression     string `yaml:"source_expression"`
	DestExpression       string `yaml:"dest_expression"`
	SourceListExpression string `yaml:"source_list_expression"`
	DestListExpression   string `yaml:"dest_list_expression"`
	InitialValue         any    `yaml:"initial_value"`
	ProcessingFunction   string `yaml:"processing_function"`
	FilterFunction       string `yaml:"filter_function"`
	AccumulatorFunction  string `yaml:"accumulator_function"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		InstanceName: "connector",
		Log: LogConfig{
			StdoutLogLevel: "INFO",
			LogFileLevel:   "DEBUG",
			LogFormat:      "text",
		},
		Cache: CacheConfig{
			BackendType: "memory",
		},
		Monitoring: MonitoringConfig{
			Interval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Management: ManagementConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Validate checks that the configuration is structurally sound.
func (c *Config) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("instance_name is required")
	}
	if len(c.Apps) == 0 && len(c.Flows) == 0 {
		return fmt.Errorf("at least one app (or top-level flow) is required")
	}
	for i, app := range c.Apps {
		if app.Name == "" {
			return fmt.Errorf("apps[%d].name is required", i)
		}
		if !app.IsSimplified() && len(app.Flows) == 0 {
			return fmt.Errorf("apps[%d] (%s) has neither flows nor simplified components", i, app.Name)
		}
	}
	switch c.Cache.BackendType {
	case "", "memory", "sql":
	default:
		return fmt.Errorf("cache.backend_type %q is not recognized", c.Cache.BackendType)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one; other takes precedence for
// any field it sets to a non-zero value. Apps and top-level Flows are
// replaced wholesale rather than element-merged, matching how the
// connector treats a flow list as belonging to a single authoritative file.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.InstanceName != "" {
		c.InstanceName = other.InstanceName
	}

	if other.Log.StdoutLogLevel != "" {
		c.Log.StdoutLogLevel = other.Log.StdoutLogLevel
	}
	if other.Log.LogFileLevel != "" {
		c.Log.LogFileLevel = other.Log.LogFileLevel
	}
	if other.Log.LogFile != "" {
		c.Log.LogFile = other.Log.LogFile
	}
	if other.Log.LogFormat != "" {
		c.Log.LogFormat = other.Log.LogFormat
	}

	if other.Trace.TraceFile != "" {
		c.Trace.TraceFile = other.Trace.TraceFile
	}

	if other.Cache.BackendType != "" {
		c.Cache.BackendType = other.Cache.BackendType
	}
	if other.Cache.ConnectionString != "" {
		c.Cache.ConnectionString = other.Cache.ConnectionString
	}
	if other.Cache.TableName != "" {
		c.Cache.TableName = other.Cache.TableName
	}

	if other.Monitoring.Interval != 0 {
		c.Monitoring.Interval = other.Monitoring.Interval
	}

	if other.Metrics.Port != 0 {
		c.Metrics.Port = other.Metrics.Port
	}
	c.Metrics.Enabled = other.Metrics.Enabled || c.Metrics.Enabled

	if other.Management.Port != 0 {
		c.Management.Port = other.Management.Port
	}
	c.Management.Enabled = other.Management.Enabled || c.Management.Enabled

	if len(other.Apps) > 0 {
		c.Apps = other.Apps
	}
	if len(other.Flows) > 0 {
		c.Flows = other.Flows
	}
	if other.ErrorFlow != nil {
		c.ErrorFlow = other.ErrorFlow
	}
}
