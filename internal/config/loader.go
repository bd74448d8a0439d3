package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AGENTBRIDGE_AGENT_COMMAND.
const EnvPrefix = "AGENTBRIDGE_"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by Discover when no config file exists in any standard location.
var ErrNoConfig = errors.New("no config found")

// Load reads a YAML config file (or a directory containing config.yaml) on top of
// Defaults, applies environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	return finish(cfg)
}

// LoadDefaults returns Defaults with environment overrides applied and validated.
// Used when no config file exists, e.g. a quick `agentbridge chat`.
func LoadDefaults() (*Config, error) {
	return finish(Defaults())
}

// Resolve loads the config named by an explicit flag value, or discovers one.
// With no flag and nothing discovered it falls back to LoadDefaults.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return Load(flagPath)
	}
	path, err := Discover()
	if errors.Is(err, ErrNoConfig) {
		return LoadDefaults()
	}
	if err != nil {
		return nil, err
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply %s* environment overrides: %w", EnvPrefix, err)
	}
	return nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $AGENTBRIDGE_CONFIG_DIR, ~/.config/agentbridge, /etc/agentbridge, ./config.yaml
func Discover() (string, error) {
	var candidates []string
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "agentbridge", "config.yaml"))
	}
	candidates = append(candidates, "/etc/agentbridge/config.yaml", "./config.yaml")

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w (checked: $%sCONFIG_DIR, ~/.config/agentbridge, /etc/agentbridge, ./config.yaml)", ErrNoConfig, EnvPrefix)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// UnresolvedEnvVar returns the name of the first ${VAR} left in s, or "".
func UnresolvedEnvVar(s string) string {
	if m := envVarPattern.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.ShutdownTimeout < 0 {
		return fmt.Errorf("service.shutdown_timeout must not be negative")
	}

	if strings.TrimSpace(cfg.Agent.Command) == "" {
		return fmt.Errorf("agent.command is required")
	}
	if name := UnresolvedEnvVar(cfg.Agent.Command); name != "" {
		return fmt.Errorf("agent.command: environment variable ${%s} is not set", name)
	}
	if cfg.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if cfg.Agent.KillGrace < 0 {
		return fmt.Errorf("agent.kill_grace must not be negative")
	}
	if cfg.Agent.MaxOutputBytes <= 0 {
		return fmt.Errorf("agent.max_output_bytes must be positive")
	}

	if cfg.Coordinator.MaxConcurrent < 1 {
		return fmt.Errorf("coordinator.max_concurrent must be at least 1 (got %d)", cfg.Coordinator.MaxConcurrent)
	}

	if strings.TrimSpace(cfg.Replies.Apology) == "" {
		return fmt.Errorf("replies.apology must not be empty")
	}
	if strings.TrimSpace(cfg.Replies.Empty) == "" {
		return fmt.Errorf("replies.empty must not be empty")
	}
	if cfg.Replies.Timeout <= 0 {
		return fmt.Errorf("replies.timeout must be positive")
	}

	if cfg.WhatsApp.Enabled {
		if cfg.WhatsApp.BridgeURL == "" {
			return fmt.Errorf("whatsapp.bridge_url is required when whatsapp is enabled")
		}
		if !strings.HasPrefix(cfg.WhatsApp.BridgeURL, "ws://") && !strings.HasPrefix(cfg.WhatsApp.BridgeURL, "wss://") {
			return fmt.Errorf("whatsapp.bridge_url must be a ws:// or wss:// URL (got %q)", cfg.WhatsApp.BridgeURL)
		}
		if name := UnresolvedEnvVar(cfg.WhatsApp.BridgeToken); name != "" {
			return fmt.Errorf("whatsapp.bridge_token: environment variable ${%s} is not set", name)
		}
		if cfg.WhatsApp.ReconnectDelay <= 0 {
			return fmt.Errorf("whatsapp.reconnect_delay must be positive")
		}
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return fmt.Errorf("journal.path is required when the journal is enabled")
		}
		if cfg.Journal.Retention < 0 {
			return fmt.Errorf("journal.retention must not be negative")
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the api is enabled")
		}
		if name := UnresolvedEnvVar(cfg.API.APIKey); name != "" {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", name)
		}
		if cfg.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required when the api is enabled")
		}
	}

	return nil
}
