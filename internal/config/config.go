// Package config handles AgentCore configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/agentcore/config.yaml, /etc/agentcore/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentcore", "config.yaml"))
	}

	paths = append(paths, "/etc/agentcore/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no file exists in any of
// the default search paths. Callers may fall back to Default().
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all AgentCore configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	AGUI     AGUIConfig     `yaml:"agui"`
	Models   ModelsConfig   `yaml:"models"`
	Agent    AgentConfig    `yaml:"agent"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	CORS     CORSConfig     `yaml:"cors"`
	DataDir  string         `yaml:"data_dir"`
	DBPath   string         `yaml:"db_path"`
	Logging  LoggingConfig  `yaml:"logging"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// ListenConfig defines the main API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AGUIConfig defines the agentic-UI protocol server. It runs on its own
// port and shares only the agent with the main API.
type AGUIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	AgentPath string `yaml:"agent_path"`
}

// ModelsConfig defines the language model backend.
type ModelsConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Default   string `yaml:"default"`
}

// AgentConfig tunes the agent and the worker pool that runs it.
type AgentConfig struct {
	// SystemPrompt replaces the built-in persona when non-empty.
	SystemPrompt string `yaml:"system_prompt"`
	// SystemPromptFile is read at startup and wins over SystemPrompt.
	SystemPromptFile string `yaml:"system_prompt_file"`
	// Workers bounds concurrent agent calls (default 4).
	Workers int `yaml:"workers"`
	// MaxIterations caps model/tool round trips per call (default 8).
	MaxIterations int `yaml:"max_iterations"`
	// TimeoutSec bounds a single agent call (default 300).
	TimeoutSec int `yaml:"timeout_sec"`
	// Timezone is used by the current_time tool (default: local).
	Timezone string `yaml:"timezone"`
}

// Timeout returns the agent call timeout as a duration.
func (c AgentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MQTTConfig configures the optional activity publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig selects log level, format and an optional file sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrDefault loads the config at explicit (or the first file found in
// the search paths). When nothing is found and no explicit path was
// given, it returns Default() and an empty path.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := FindConfig(explicit)
	if err != nil {
		if explicit == "" && errors.Is(err, ErrNoConfig) {
			return Default(), "", nil
		}
		return nil, "", err
	}

	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, path, fmt.Errorf("config file not found: %s", path)
		}
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// Default returns a configuration with defaults and environment
// overrides applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// applyEnv honours the environment variables of the container image:
// OLLAMA_HOST, OLLAMA_MODEL, AGENT_PATH, AGENT_PORT and DB_PATH.
func (c *Config) applyEnv() {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Models.OllamaURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		c.Models.Default = v
	}
	if v := os.Getenv("AGENT_PATH"); v != "" {
		c.AGUI.AgentPath = v
	}
	if v := os.Getenv("AGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.AGUI.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.AGUI.Port == 0 {
		c.AGUI.Port = 8001
	}
	if c.AGUI.AgentPath == "" {
		c.AGUI.AgentPath = "/invocations"
	}
	if !strings.HasPrefix(c.AGUI.AgentPath, "/") {
		c.AGUI.AgentPath = "/" + c.AGUI.AgentPath
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:8b"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "conversations.db")
	}
	if c.Agent.Workers <= 0 {
		c.Agent.Workers = 4
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.TimeoutSec <= 0 {
		c.Agent.TimeoutSec = 300
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "agentcore"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "agentcore"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 10
	}
}

// Validate checks the configuration for values that would fail at
// runtime. It is called once at startup, after Load.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.Logging.Format)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.AGUI.Port < 1 || c.AGUI.Port > 65535 {
		return fmt.Errorf("agui.port %d out of range", c.AGUI.Port)
	}
	if c.AGUI.Enabled && c.AGUI.Port == c.Listen.Port && c.AGUI.Address == c.Listen.Address {
		return fmt.Errorf("agui.port %d collides with listen.port", c.AGUI.Port)
	}
	if c.Agent.Timezone != "" {
		if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
			return fmt.Errorf("agent.timezone: %w", err)
		}
	}
	if c.MQTT.Configured() && !strings.Contains(c.MQTT.Broker, "://") {
		return fmt.Errorf("mqtt.broker %q must be a URL (mqtt://host:port)", c.MQTT.Broker)
	}
	return nil
}
