// Package config provides configuration types and loading for fabrix.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Gateway, Store, ToolBus, Tools, Policy, Telemetry.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	ToolBus   ToolBusConfig   `json:"toolBus"`
	Tools     ToolsConfig     `json:"tools"`
	Policy    PolicyConfig    `json:"policy"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP surface
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP API server.
type GatewayConfig struct {
	Host        string        `json:"host" envconfig:"HOST"`
	Port        int           `json:"port" envconfig:"PORT"`
	AuthToken   string        `json:"authToken" envconfig:"AUTH_TOKEN"`
	TurnTimeout time.Duration `json:"turnTimeout" envconfig:"TURN_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Store – persistence of policy events, tool runs and UI state
// ---------------------------------------------------------------------------

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// StoreConfig selects the journal backend.
type StoreConfig struct {
	Driver string `json:"driver" envconfig:"DRIVER"`
	// Path is the sqlite file; empty means <dataDir>/fabrix.db.
	Path string `json:"path" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// ToolBus – Kafka path to the external tool executor
// ---------------------------------------------------------------------------

// ToolBusConfig configures the Kafka tool-run transport.
type ToolBusConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers       string `json:"brokers" envconfig:"BROKERS"`
	RequestsTopic string `json:"requestsTopic" envconfig:"REQUESTS_TOPIC"`
	ResultsTopic  string `json:"resultsTopic" envconfig:"RESULTS_TOPIC"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
	SenderID      string `json:"senderId" envconfig:"SENDER_ID"`
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolsConfig configures tool request defaults.
type ToolsConfig struct {
	DefaultGridID string `json:"defaultGridId" envconfig:"DEFAULT_GRID_ID"`
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

// PolicyConfig points at an optional YAML rule file replacing the built-in rules.
type PolicyConfig struct {
	RulesFile string `json:"rulesFile" envconfig:"RULES_FILE"`
}

// ---------------------------------------------------------------------------
// Telemetry – metrics and tracing
// ---------------------------------------------------------------------------

// TelemetryConfig configures metrics exposure and tracing.
type TelemetryConfig struct {
	ServiceName string `json:"serviceName" envconfig:"SERVICE_NAME"`
	TraceStdout bool   `json:"traceStdout" envconfig:"TRACE_STDOUT"`
	Metrics     bool   `json:"metrics" envconfig:"METRICS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.fabrix/data",
		},
		Gateway: GatewayConfig{
			Host:        "127.0.0.1", // Secure default
			Port:        18800,
			TurnTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
		ToolBus: ToolBusConfig{
			Enabled:       false,
			Brokers:       "localhost:9092",
			RequestsTopic: "fabrix.tool-run.requests",
			ResultsTopic:  "fabrix.tool-run.results",
			ConsumerGroup: "fabrix",
			SenderID:      "fabrix",
		},
		Tools: ToolsConfig{
			DefaultGridID: "main",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "fabrix",
			Metrics:     true,
		},
	}
}
