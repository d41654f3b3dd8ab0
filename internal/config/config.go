package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigline.yml.
type Config struct {
	Marketplace struct {
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"marketplace"`
	Limits struct {
		MessageMaxChars      int `yaml:"message_max_chars"`
		CoverMessageMaxChars int `yaml:"cover_message_max_chars"`
		PageSize             int `yaml:"page_size"`
	} `yaml:"limits"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        bool     `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.Name == "" {
		return fmt.Errorf("config.marketplace.name is required")
	}
	if c.Marketplace.Currency == "" {
		return fmt.Errorf("config.marketplace.currency is required")
	}
	if len(c.Marketplace.Currency) != 3 {
		return fmt.Errorf("config.marketplace.currency must be a 3-letter code")
	}
	if c.Limits.MessageMaxChars <= 0 {
		return fmt.Errorf("config.limits.message_max_chars must be positive")
	}
	if c.Limits.CoverMessageMaxChars <= 0 {
		return fmt.Errorf("config.limits.cover_message_max_chars must be positive")
	}
	if c.Limits.PageSize <= 0 || c.Limits.PageSize > 200 {
		return fmt.Errorf("config.limits.page_size must be between 1 and 200")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		for _, evt := range wh.Events {
			if evt == "" {
				return fmt.Errorf("webhook %d has empty event filter", i)
			}
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a marketplace.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, name)), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `marketplace:
  name: %s
  currency: EUR

limits:
  message_max_chars: 5000
  cover_message_max_chars: 2000
  page_size: 50

webhooks: []
`
