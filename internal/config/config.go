package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models one owner's planner settings (dayline.yml). A copy is
// persisted per owner in the database and seeded from Default on first use.
type Config struct {
	Owner struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"owner" json:"owner"`

	// Timezone is the IANA zone the owner's day windows are anchored in.
	Timezone string `yaml:"timezone" json:"timezone"`

	Window struct {
		Start string `yaml:"start" json:"start"` // "HH:MM"
		End   string `yaml:"end" json:"end"`     // "HH:MM"
	} `yaml:"window" json:"window"`

	Scheduling struct {
		// PrepMinutes is the buffer synthesized ahead of PrepKinds intervals.
		PrepMinutes int `yaml:"prep_minutes" json:"prep_minutes"`
		// PrepKinds are the template kinds that get a prep buffer.
		PrepKinds []string `yaml:"prep_kinds" json:"prep_kinds"`
		// GapThresholdMinutes is the smallest free interval the
		// auto-scheduler will place into. Shorter gaps still appear in
		// the timeline but are never assigned.
		GapThresholdMinutes int `yaml:"gap_threshold_minutes" json:"gap_threshold_minutes"`
	} `yaml:"scheduling" json:"scheduling"`

	Reminders struct {
		LeadMinutes int `yaml:"lead_minutes" json:"lead_minutes"`
	} `yaml:"reminders" json:"reminders"`

	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig is one event delivery target. Secret, when set, signs each
// delivery body with HMAC-SHA256. Events takes exact types or "prefix.*"
// patterns; empty means everything.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// ParseClock parses an "HH:MM" day offset into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return h*60 + m, nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// WindowMinutes returns the day window bounds as minutes since midnight.
func (c *Config) WindowMinutes() (start, end int, err error) {
	start, err = ParseClock(c.Window.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("window.start: %w", err)
	}
	end, err = ParseClock(c.Window.End)
	if err != nil {
		return 0, 0, fmt.Errorf("window.end: %w", err)
	}
	return start, end, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Owner.ID == "" {
		return fmt.Errorf("config.owner.id is required")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.timezone: %w", err)
	}
	start, end, err := c.WindowMinutes()
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("config.window: end %s must be after start %s", c.Window.End, c.Window.Start)
	}
	if c.Scheduling.PrepMinutes < 0 {
		return fmt.Errorf("config.scheduling.prep_minutes must not be negative")
	}
	if c.Scheduling.GapThresholdMinutes < 0 {
		return fmt.Errorf("config.scheduling.gap_threshold_minutes must not be negative")
	}
	for _, k := range c.Scheduling.PrepKinds {
		switch k {
		case "class", "work", "meal", "break", "routine":
		default:
			return fmt.Errorf("config.scheduling.prep_kinds: unknown kind %q", k)
		}
	}
	if c.Reminders.LeadMinutes < 0 {
		return fmt.Errorf("config.reminders.lead_minutes must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// NeedsPrep reports whether intervals of the given kind get a prep buffer.
func (c *Config) NeedsPrep(kind string) bool {
	for _, k := range c.Scheduling.PrepKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Default returns the default Config for an owner.
func Default(ownerID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, ownerID)), &cfg)
	cfg.Owner.ID = ownerID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(ownerID string) string {
	return fmt.Sprintf(defaultTemplate, ownerID)
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

const defaultTemplate = `owner:
  id: %s

timezone: UTC

window:
  start: "08:00"
  end: "23:00"

scheduling:
  prep_minutes: 30
  prep_kinds: [class]
  gap_threshold_minutes: 15

reminders:
  lead_minutes: 30
`
