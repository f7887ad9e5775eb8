package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the full rivalscope configuration.
type AppConfig struct {
	Listen  string `yaml:"listen"`
	DBPath  string `yaml:"db_path"`
	ObsPath string `yaml:"observability_db_path"`

	// AuthPasswordHash is a bcrypt hash gating the HTTP API with Basic
	// auth. Empty disables auth (local development).
	AuthPasswordHash string `yaml:"auth_password_hash"`

	LogLevel string `yaml:"log_level"`

	Analysis AnalysisConfig `yaml:"analysis"`
	Browser  BrowserConfig  `yaml:"browser"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// AnalysisConfig configures the AI analysis provider.
type AnalysisConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// BrowserConfig configures the rendered-capture tier.
type BrowserConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RemoteURL string `yaml:"remote_url"` // empty = launch local headless Chrome
	Sessions  int    `yaml:"sessions"`
}

// MCPConfig configures the MCP transport.
type MCPConfig struct {
	Transport string `yaml:"transport"` // "" (off) | quic
	QUICAddr  string `yaml:"quic_addr"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
}

// DefaultAppConfig returns sane defaults.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Listen:   ":8086",
		DBPath:   "db/rivalscope.db",
		ObsPath:  "db/observability.db",
		LogLevel: "info",
		MCP: MCPConfig{
			QUICAddr: ":9444",
		},
	}
}

// LoadAppConfig reads a YAML config file over the defaults, then applies
// environment overrides so containers can configure without a file.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("OBS_DB_PATH"); v != "" {
		c.ObsPath = v
	}
	if v := os.Getenv("AUTH_PASSWORD_HASH"); v != "" {
		c.AuthPasswordHash = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Analysis.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.Analysis.Model = v
	}
	if v := os.Getenv("BROWSER_URL"); v != "" {
		c.Browser.Enabled = true
		c.Browser.RemoteURL = v
	}
	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		c.MCP.Transport = v
	}
	if v := os.Getenv("MCP_QUIC_ADDR"); v != "" {
		c.MCP.QUICAddr = v
	}
}
