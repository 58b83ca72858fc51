package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models codeblue.yml. Credentials (carrier account, callback signing
// secret) are deliberately not part of the file; they come from the
// environment.
type Config struct {
	Hotline struct {
		Prompt     string `yaml:"prompt"`
		Voice      string `yaml:"voice"`
		AcceptSay  string `yaml:"accept_say"`
		DeclineSay string `yaml:"decline_say"`
		InvalidSay string `yaml:"invalid_say"`
	} `yaml:"hotline"`
	Escalation struct {
		// RetryWaits holds the wait before each voice re-dispatch tier;
		// tier count = len(retry_waits) + 1.
		RetryWaits  []string `yaml:"retry_waits"`
		MessageWait string   `yaml:"message_wait"`
		ReportWait  string   `yaml:"report_wait"`
	} `yaml:"escalation"`
	Telephony struct {
		From               string `yaml:"from"`
		MessagingFrom      string `yaml:"messaging_from"`
		MessageTemplateSID string `yaml:"message_template_sid"`
		OpsContact         string `yaml:"ops_contact"`
	} `yaml:"telephony"`
	Callbacks struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"callbacks"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with cb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Hotline.Prompt == "" {
		return fmt.Errorf("config.hotline.prompt is required")
	}
	if c.Telephony.From == "" {
		return fmt.Errorf("config.telephony.from is required")
	}
	if c.Telephony.OpsContact == "" {
		return fmt.Errorf("config.telephony.ops_contact is required")
	}
	if c.Callbacks.BaseURL == "" {
		return fmt.Errorf("config.callbacks.base_url is required")
	}
	if len(c.Escalation.RetryWaits) == 0 {
		return fmt.Errorf("config.escalation.retry_waits is required")
	}
	for i, w := range c.Escalation.RetryWaits {
		if _, err := time.ParseDuration(w); err != nil {
			return fmt.Errorf("config.escalation.retry_waits[%d]: %w", i, err)
		}
	}
	for name, w := range map[string]string{
		"message_wait": c.Escalation.MessageWait,
		"report_wait":  c.Escalation.ReportWait,
	} {
		if w == "" {
			return fmt.Errorf("config.escalation.%s is required", name)
		}
		if _, err := time.ParseDuration(w); err != nil {
			return fmt.Errorf("config.escalation.%s: %w", name, err)
		}
	}
	return nil
}

// RetryWaits returns the parsed wait interval before each voice retry tier.
func (c *Config) RetryWaits() []time.Duration {
	waits := make([]time.Duration, 0, len(c.Escalation.RetryWaits))
	for _, w := range c.Escalation.RetryWaits {
		d, _ := time.ParseDuration(w)
		waits = append(waits, d)
	}
	return waits
}

// MessageWait returns the parsed wait before the secondary-channel dispatch.
func (c *Config) MessageWait() time.Duration {
	d, _ := time.ParseDuration(c.Escalation.MessageWait)
	return d
}

// ReportWait returns the parsed wait before the final report.
func (c *Config) ReportWait() time.Duration {
	d, _ := time.ParseDuration(c.Escalation.ReportWait)
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "codeblue.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `hotline:
  prompt: >-
    Attention: Code Blue. This is an emergency alert from the medical center.
    If you are available to respond immediately, please press 1; if not,
    press 2.
  voice: alice
  accept_say: "Emergency call accepted. Goodbye."
  decline_say: "Emergency call declined. Goodbye."
  invalid_say: "Invalid input. Goodbye."

escalation:
  retry_waits: ["120s", "240s"]
  message_wait: "90s"
  report_wait: "60s"

telephony:
  from: "+15550100000"
  messaging_from: "whatsapp:+15550100000"
  message_template_sid: ""
  ops_contact: "whatsapp:+15550100001"

callbacks:
  base_url: "http://localhost:3001"
`
