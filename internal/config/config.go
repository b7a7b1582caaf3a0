package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level ticketd configuration. It is loaded once at
// startup, validated, and injected into components as a read-only snapshot.
type Config struct {
	Tickets TicketConfig  `json:"tickets"`
	Welcome WelcomeConfig `json:"welcome"`
	Storage StorageConfig `json:"storage"`
	Slack   *SlackConfig  `json:"slack,omitempty"`
	API     APIConfig     `json:"api"`
}

// TicketConfig holds the lifecycle settings.
type TicketConfig struct {
	CategoryID    string `json:"category_id"`
	SupportRoleID string `json:"support_role_id"`
	AdminRoleID   string `json:"admin_role_id"`
	LogChannelID  string `json:"log_channel_id,omitempty"`

	NameTemplate  string `json:"name_template,omitempty"`  // {user}, {id}; default "ticket-{user}-{id}"
	CreatePrompt  string `json:"create_prompt,omitempty"`  // ephemeral ask for a reason
	OpenMessage   string `json:"open_message,omitempty"`   // embed body posted into new tickets
	CommandPrefix string `json:"command_prefix,omitempty"` // default "!"
	Color         int    `json:"color,omitempty"`          // embed branding color

	AutoCloseDays        int    `json:"auto_close_days"`            // <= 0 disables the sweeper
	GraceSeconds         int    `json:"grace_seconds,omitempty"`    // default 60
	PromptTimeoutSeconds int    `json:"prompt_timeout_seconds,omitempty"` // default 60
	SweepInterval        string `json:"sweep_interval,omitempty"`   // default "24h"
}

// WelcomeConfig holds the member-join greeting settings. Empty channel
// disables the greeting.
type WelcomeConfig struct {
	ChannelID string `json:"channel_id,omitempty"`
	Message   string `json:"message,omitempty"` // {member} placeholder
}

// StorageConfig selects the ticket store backend.
type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "memory" (default) or "sqlite"
	Path   string `json:"path,omitempty"`   // sqlite database path
}

// SlackConfig holds Slack platform adapter settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

// APIConfig holds admin REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// GracePeriod returns the deletion grace period.
func (t TicketConfig) GracePeriod() time.Duration {
	return time.Duration(t.GraceSeconds) * time.Second
}

// PromptTimeout returns the bounded wait for the reason prompt.
func (t TicketConfig) PromptTimeout() time.Duration {
	return time.Duration(t.PromptTimeoutSeconds) * time.Second
}

// IdleThreshold returns the auto-close threshold. Zero or negative means
// the sweeper is disabled.
func (t TicketConfig) IdleThreshold() time.Duration {
	return time.Duration(t.AutoCloseDays) * 24 * time.Hour
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with TICKETD_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Tickets: TicketConfig{
			CategoryID:    os.Getenv("TICKETD_CATEGORY_ID"),
			SupportRoleID: os.Getenv("TICKETD_SUPPORT_ROLE_ID"),
			AdminRoleID:   os.Getenv("TICKETD_ADMIN_ROLE_ID"),
			LogChannelID:  os.Getenv("TICKETD_LOG_CHANNEL_ID"),
			NameTemplate:  os.Getenv("TICKETD_NAME_TEMPLATE"),
			AutoCloseDays: getenvInt("TICKETD_AUTO_CLOSE_DAYS", 0),
			GraceSeconds:  getenvInt("TICKETD_GRACE_SECONDS", 0),
		},
		Welcome: WelcomeConfig{
			ChannelID: os.Getenv("TICKETD_WELCOME_CHANNEL_ID"),
			Message:   os.Getenv("TICKETD_WELCOME_MESSAGE"),
		},
		Storage: StorageConfig{
			Driver: getenv("TICKETD_STORAGE_DRIVER", "memory"),
			Path:   os.Getenv("TICKETD_STORAGE_PATH"),
		},
		API: APIConfig{
			Host: getenv("TICKETD_API_HOST", "0.0.0.0"),
			Port: getenvInt("TICKETD_API_PORT", 8080),
			Key:  os.Getenv("TICKETD_API_KEY"),
		},
	}

	if bot := os.Getenv("TICKETD_SLACK_BOT_TOKEN"); bot != "" {
		cfg.Slack = &SlackConfig{
			BotToken: bot,
			AppToken: os.Getenv("TICKETD_SLACK_APP_TOKEN"),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	t := &c.Tickets
	if t.NameTemplate == "" {
		t.NameTemplate = "ticket-{user}-{id}"
	}
	if t.CreatePrompt == "" {
		t.CreatePrompt = "Please reply with a short reason for your ticket."
	}
	if t.OpenMessage == "" {
		t.OpenMessage = "A member of the support team will be with you shortly."
	}
	if t.CommandPrefix == "" {
		t.CommandPrefix = "!"
	}
	if t.GraceSeconds == 0 {
		t.GraceSeconds = 60
	}
	if t.PromptTimeoutSeconds == 0 {
		t.PromptTimeoutSeconds = 60
	}
	if t.SweepInterval == "" {
		t.SweepInterval = "24h"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Welcome.Message == "" {
		c.Welcome.Message = "Welcome {member}!"
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Tickets.CategoryID == "" {
		errs = append(errs, "tickets.category_id is required")
	}
	if c.Tickets.SupportRoleID == "" {
		errs = append(errs, "tickets.support_role_id is required")
	}
	if c.Tickets.AdminRoleID == "" {
		errs = append(errs, "tickets.admin_role_id is required")
	}
	if !strings.Contains(c.Tickets.NameTemplate, "{id}") {
		errs = append(errs, "tickets.name_template must contain {id}")
	}
	if c.Tickets.GraceSeconds < 0 {
		errs = append(errs, "tickets.grace_seconds must not be negative")
	}
	if _, err := time.ParseDuration(c.Tickets.SweepInterval); err != nil {
		errs = append(errs, fmt.Sprintf("tickets.sweep_interval %q is not a duration", c.Tickets.SweepInterval))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}

	if c.Slack != nil {
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
