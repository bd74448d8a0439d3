package config

import "time"

// Config represents the complete agentbridge configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service" envPrefix:"SERVICE_"`
	Agent       AgentConfig       `yaml:"agent" envPrefix:"AGENT_"`
	Coordinator CoordinatorConfig `yaml:"coordinator" envPrefix:"COORDINATOR_"`
	Replies     RepliesConfig     `yaml:"replies" envPrefix:"REPLIES_"`
	WhatsApp    WhatsAppConfig    `yaml:"whatsapp" envPrefix:"WHATSAPP_"`
	Console     ConsoleConfig     `yaml:"console" envPrefix:"CONSOLE_"`
	Journal     JournalConfig     `yaml:"journal" envPrefix:"JOURNAL_"`
	API         APIConfig         `yaml:"api,omitempty" envPrefix:"API_"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-" env:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name" env:"NAME"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT"`
	DataDir         string        `yaml:"data_dir" env:"DATA_DIR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// AgentConfig describes the external agent executable spawned once per message.
type AgentConfig struct {
	// Command is the executable. Args are placed before the conversation id and
	// message text on every invocation.
	Command        string            `yaml:"command" env:"COMMAND"`
	Args           []string          `yaml:"args,omitempty" env:"ARGS" envSeparator:","`
	WorkDir        string            `yaml:"workdir,omitempty" env:"WORKDIR"`
	Env            map[string]string `yaml:"env,omitempty" env:"-"`
	Timeout        time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	KillGrace      time.Duration     `yaml:"kill_grace" env:"KILL_GRACE"`
	MaxOutputBytes int               `yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
	Integrity      IntegrityConfig   `yaml:"integrity,omitempty" envPrefix:"INTEGRITY_"`
}

// IntegrityConfig pins the agent file to a BLAKE3 hash.
type IntegrityConfig struct {
	// File defaults to the resolved agent command.
	File   string `yaml:"file,omitempty" env:"FILE"`
	Blake3 string `yaml:"blake3,omitempty" env:"BLAKE3"`
}

// CoordinatorConfig controls request scheduling.
type CoordinatorConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// RepliesConfig holds the fixed texts sent back to users.
type RepliesConfig struct {
	Apology string        `yaml:"apology" env:"APOLOGY"`
	Empty   string        `yaml:"empty" env:"EMPTY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WhatsAppConfig defines the websocket connection to the WhatsApp web bridge.
type WhatsAppConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	BridgeURL      string        `yaml:"bridge_url" env:"BRIDGE_URL"`
	BridgeToken    string        `yaml:"bridge_token,omitempty" env:"BRIDGE_TOKEN"`
	AllowFrom      []string      `yaml:"allow_from,omitempty" env:"ALLOW_FROM" envSeparator:","`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
}

// ConsoleConfig defines the interactive console channel used by `agentbridge chat`.
type ConsoleConfig struct {
	ConversationID string `yaml:"conversation_id" env:"CONVERSATION_ID"`
	Prompt         string `yaml:"prompt" env:"PROMPT"`
	HistoryFile    string `yaml:"history_file,omitempty" env:"HISTORY_FILE"`
}

// JournalConfig defines the optional request journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	Path          string        `yaml:"path" env:"PATH"`
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	PruneSchedule string        `yaml:"prune_schedule" env:"PRUNE_SCHEDULE"`
}

// APIConfig defines the ops HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Listen  string `yaml:"listen" env:"LISTEN"`
	APIKey  string `yaml:"api_key,omitempty" env:"API_KEY"`
}

// Default reply texts.
const (
	DefaultApology = "Sorry, something went wrong. Please try again."
	DefaultEmpty   = "No response from agent"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "agentbridge",
			LogLevel:        "info",
			LogFormat:       "json",
			DataDir:         "./data",
			ShutdownTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			Command:        "python3",
			Args:           []string{"agent_cli.py"},
			Timeout:        120 * time.Second,
			KillGrace:      2 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent: 4,
		},
		Replies: RepliesConfig{
			Apology: DefaultApology,
			Empty:   DefaultEmpty,
			Timeout: 30 * time.Second,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:        true,
			BridgeURL:      "ws://localhost:3001",
			ReconnectDelay: 5 * time.Second,
		},
		Console: ConsoleConfig{
			ConversationID: "console",
			Prompt:         "you> ",
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          "./data/agentbridge.db",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@hourly",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8787",
		},
	}
}
