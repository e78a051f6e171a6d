// Package config handles application configuration: typed per-subsystem
// structs loaded from an optional YAML file with environment overrides for
// secrets and paths.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MonitorConfig tunes the check cycle.
type MonitorConfig struct {
	IntervalSeconds   int     `yaml:"interval_seconds"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryDelaySeconds int     `yaml:"retry_delay_seconds"`
	AnomalyThreshold  float64 `yaml:"anomaly_threshold"`
	Confirmations     int     `yaml:"confirmations"`
	PaceSeconds       int     `yaml:"pace_seconds"`
}

// EmailConfig configures the SMTP notification channel.
type EmailConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Sender     string `yaml:"sender"`
	Password   string `yaml:"password"`
	Receiver   string `yaml:"receiver"`
}

// TelegramConfig configures the Telegram notification channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// WebhookConfig configures the chat-webhook notification channel.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// NotificationConfig holds the per-event-kind suppression toggles.
type NotificationConfig struct {
	OnAdded   bool `yaml:"notify_on_added"`
	OnRemoved bool `yaml:"notify_on_removed"`
	OnRestock bool `yaml:"notify_on_restock"`
	OnSoldOut bool `yaml:"notify_on_soldout"`
	OnError   bool `yaml:"notify_on_error"`
}

// WebConfig configures the HTTP API listener.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the SQLite state store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the application configuration.
type Config struct {
	Monitor      MonitorConfig      `yaml:"monitor"`
	Email        EmailConfig        `yaml:"email"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Notification NotificationConfig `yaml:"notification"`
	Web          WebConfig          `yaml:"web"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Default returns the built-in configuration. Sold-out notifications are off
// by default; everything else notifiable is on.
func Default() Config {
	return Config{
		Monitor: MonitorConfig{
			IntervalSeconds:   300,
			TimeoutSeconds:    30,
			RetryAttempts:     3,
			RetryDelaySeconds: 5,
			AnomalyThreshold:  0.7,
			Confirmations:     2,
			PaceSeconds:       3,
		},
		Email: EmailConfig{
			SMTPServer: "smtp.qq.com",
			SMTPPort:   465,
		},
		Notification: NotificationConfig{
			OnAdded:   true,
			OnRemoved: true,
			OnRestock: true,
			OnSoldOut: false,
			OnError:   true,
		},
		Web:      WebConfig{Addr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: "./data/stockwatch.db"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path (missing file falls back to defaults)
// and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults only
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Web.Addr = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
		cfg.Webhook.Enabled = true
	}
}

func (c *Config) validate() error {
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be positive, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Monitor.AnomalyThreshold <= 0 || c.Monitor.AnomalyThreshold >= 1 {
		return fmt.Errorf("monitor.anomaly_threshold must be in (0, 1), got %g", c.Monitor.AnomalyThreshold)
	}
	if c.Monitor.Confirmations < 1 {
		return fmt.Errorf("monitor.confirmations must be at least 1, got %d", c.Monitor.Confirmations)
	}
	if c.Email.Enabled && (c.Email.Sender == "" || c.Email.Receiver == "") {
		return fmt.Errorf("email enabled but sender or receiver is empty")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram enabled but token is empty")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook enabled but url is empty")
	}
	return nil
}
