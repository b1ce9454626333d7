// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	Agent           AgentConfig               `toml:"agent"`
}

// AgentConfig holds agent-loop defaults not tied to any one provider.
type AgentConfig struct {
	SystemPrompt  string `toml:"system_prompt"`
	SubAgentsDir  string `toml:"subagents_dir"`
	ContextWindow int    `toml:"context_window"`
}

// SubAgentsDirOrDefault returns the configured subagent config directory,
// defaulting to <data dir>/subagents.
func (a AgentConfig) SubAgentsDirOrDefault(dataDir string) string {
	if a.SubAgentsDir != "" {
		return a.SubAgentsDir
	}
	return filepath.Join(dataDir, "subagents")
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	// Type selects the backend wire protocol: "anthropic" (Anthropic
	// Messages), "openai" (OpenAI/OpenRouter/Groq/Moonshot/Ollama Chat
	// Completions), "openai-responses" (ChatGPT subscription/Codex
	// Responses API), "gemini" (Google Gemini Code Assist), or "zen"
	// (the unified opencode.ai backend, which auto-detects the wire
	// shape per request). Defaults to "zen" when unset.
	Type        string  `toml:"type"`
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	Temperature float64 `toml:"temperature"`

	// Thinking enables provider-side extended reasoning where the backend
	// supports it (currently only the "anthropic" type).
	Thinking bool `toml:"thinking"`
}

// TypeOrDefault returns the configured backend type, defaulting to "zen".
func (p ProviderConfig) TypeOrDefault() string {
	if p.Type == "" {
		return "zen"
	}
	return p.Type
}

// MCPServerConfig describes one entry in the mcpServers table of a
// .mcp.json file: a command to launch as a stdio MCP server.
type MCPServerConfig struct {
	Command string            `toml:"command" json:"command"`
	Args    []string          `toml:"args" json:"args"`
	Env     map[string]string `toml:"env" json:"env"`
}

// MCPConfig holds MCP server settings, loaded either from the TOML
// config (`[mcp.servers.<name>]`) or merged with a project-local
// `.mcp.json` file (`{ "mcpServers": { "<name>": { "command", "args",
// "env" } } }`).
type MCPConfig struct {
	Servers map[string]MCPServerConfig `toml:"servers"`
}

// mcpJSONFile mirrors the on-disk .mcp.json shape.
type mcpJSONFile struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// LoadMCPServersFile reads a .mcp.json file and merges its entries into
// cfg.MCP.Servers, with the TOML config taking precedence on conflicts.
func (c *Config) LoadMCPServersFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var parsed mcpJSONFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if c.MCP.Servers == nil {
		c.MCP.Servers = make(map[string]MCPServerConfig)
	}
	for name, srv := range parsed.MCPServers {
		if _, exists := c.MCP.Servers[name]; !exists {
			c.MCP.Servers[name] = srv
		}
	}
	return nil
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// ION_<PROVIDER>_API_KEY overrides providers.<name>.api_key so a key
	// never has to live in the TOML file on disk.
	for name, providerCfg := range cfg.Providers {
		env := "ION_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		if v := os.Getenv(env); v != "" {
			providerCfg.APIKey = v
			cfg.Providers[name] = providerCfg
		}
	}
}

// DataDir returns the path to ion's data directory (~/.config/ion).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ion"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
