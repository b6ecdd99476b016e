package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up by LoadWithDefaults
const FileName = "relay.yaml"

// Config represents the complete relay configuration
type Config struct {
	Oracle   OracleConfig `yaml:"oracle"`
	Toolsets []string     `yaml:"toolsets"`
	MCP      MCPConfig    `yaml:"mcp"`
	Hooks    HooksConfig  `yaml:"hooks"`
	Log      LogConfig    `yaml:"log"`

	// Path is the file the configuration was read from, empty for defaults
	Path string `yaml:"-"`
}

// OracleConfig selects and tunes the hosted language model
type OracleConfig struct {
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"` // OpenAI-compatible endpoint, ${VAR} expanded
	APIKey      string        `yaml:"api_key"`  // ${VAR} expanded
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`      // e.g. "30s"
	NativeTools bool          `yaml:"native_tools"` // advertise tools via function calling
}

// HooksConfig contains hook-related settings
type HooksConfig struct {
	// ToolConfirm enables user confirmation before the listed tools
	ToolConfirm []string `yaml:"tool_confirm"`
	// ConfirmAll asks before every tool call
	ConfirmAll bool `yaml:"confirm_all"`
}

type LogConfig struct {
	Level   string `yaml:"level"` // debug, info, tool, warn, error, silent
	NoColor bool   `yaml:"no_color"`
}

// MCPConfig contains MCP-specific settings
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig defines a single MCP server
type MCPServerConfig struct {
	Name      string            `yaml:"name"`      // Unique server identifier, prefixes its tool names
	Transport string            `yaml:"transport"` // "stdio" (only supported transport)
	Command   string            `yaml:"command"`   // Executable to run
	Args      []string          `yaml:"args"`      // Command arguments
	Env       map[string]string `yaml:"env"`       // Environment variables with ${VAR} support
	Disabled  bool              `yaml:"disabled"`  // Skip this server if true
}

// Defaults used when the file leaves a value unset
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 30 * time.Second
)

// Default returns the configuration used when no file is found
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes, expands, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.expand()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Locations returns the files LoadWithDefaults checks, in order
func Locations() []string {
	locations := []string{
		"./" + FileName,
		filepath.Join(".", "configs", FileName),
	}

	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "relay", FileName))
	}

	return append(locations, filepath.Join("/etc", "relay", FileName))
}

// LoadWithDefaults loads the first config file found in Locations, or the
// defaults when there is none
func LoadWithDefaults() (*Config, error) {
	for _, loc := range Locations() {
		if _, err := os.Stat(loc); err == nil {
			return Load(loc)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// No config found - defaults are not an error
	return Default(), nil
}

func (c *Config) expand() {
	c.Oracle.APIKey = ExpandEnv(c.Oracle.APIKey)
	c.Oracle.BaseURL = ExpandEnv(c.Oracle.BaseURL)
	for i := range c.MCP.Servers {
		c.MCP.Servers[i].Env = ExpandEnvMap(c.MCP.Servers[i].Env)
	}
}

func (c *Config) applyDefaults() {
	if c.Oracle.Model == "" {
		c.Oracle.Model = DefaultModel
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = DefaultTimeout
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].Transport == "" {
			c.MCP.Servers[i].Transport = "stdio"
		}
	}
}

// Validate checks config correctness
func (c *Config) Validate() error {
	if c.Oracle.Timeout < 0 {
		return fmt.Errorf("oracle.timeout must not be negative")
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return fmt.Errorf("oracle.temperature must be between 0 and 2, got %v", c.Oracle.Temperature)
	}

	seen := make(map[string]bool)
	for _, ts := range c.Toolsets {
		if seen[ts] {
			return fmt.Errorf("duplicate toolset: %s", ts)
		}
		seen[ts] = true
	}

	// Check for duplicate server names
	names := make(map[string]bool)
	for i, server := range c.MCP.Servers {
		if server.Name == "" {
			return fmt.Errorf("server #%d: name cannot be empty", i+1)
		}

		if names[server.Name] {
			return fmt.Errorf("duplicate server name: %s", server.Name)
		}
		names[server.Name] = true

		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %s: %w", server.Name, err)
		}
	}

	return nil
}

// Validate checks a single server config
func (s *MCPServerConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	// Server names prefix tool names, which must match ^[a-zA-Z0-9_-]+$
	for _, ch := range s.Name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-') {
			return fmt.Errorf("server name '%s' contains invalid character '%c' (only alphanumeric, underscore, and hyphen allowed)", s.Name, ch)
		}
	}

	if s.Transport != "stdio" {
		return fmt.Errorf("unsupported transport: %s (only 'stdio' is supported)", s.Transport)
	}

	if s.Command == "" {
		return fmt.Errorf("command is required")
	}

	return nil
}

// EnabledServers returns the servers that are not disabled, in file order
func (c *Config) EnabledServers() []MCPServerConfig {
	var servers []MCPServerConfig
	for _, s := range c.MCP.Servers {
		if !s.Disabled {
			servers = append(servers, s)
		}
	}
	return servers
}
