package config

import (
	"bytes"
	"encoding/json"
)

// Config is the full daemon configuration.
//
// The file may be JSON or YAML (coerced to JSON before strict decoding).
// All durations are Go duration strings (e.g. "60s", "5m").
type Config struct {
	Basic        BasicConfig        `json:"basic"`
	Logging      LoggingConfig      `json:"logging"`
	PushPlus     PushPlusConfig     `json:"pushplus"`
	Notification NotificationConfig `json:"notification"`
	Message      MessageConfig      `json:"message"`
	Health       HealthConfig       `json:"health,omitempty"`

	// Monitors seeds the registry: source wxid -> alert recipient.
	// Recipient may be empty (deliver to the provider token owner).
	Monitors map[string]string `json:"monitors,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Ops     *OpsConfig     `json:"ops,omitempty"`
}

type BasicConfig struct {
	Enable bool `json:"enable"`
	Debug  bool `json:"debug"`
	// CurrentWxid is the bot account this deployment watches by default.
	// It is auto-added to the registry when set.
	CurrentWxid string `json:"current_wxid,omitempty"`
	// BotName is used for the {bot_name} template placeholder.
	BotName string `json:"bot_name,omitempty"`
}

// HealthConfig points at the hosting bot's liveness endpoint.
type HealthConfig struct {
	URL     string `json:"url,omitempty"`     // default "http://127.0.0.1:9000/IsRunning"
	Timeout string `json:"timeout,omitempty"` // default "5s"
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// PushPlusConfig holds provider credentials and routing defaults.
type PushPlusConfig struct {
	Token    string `json:"token"`
	Channel  string `json:"channel,omitempty"`  // default "wechat"
	Template string `json:"template,omitempty"` // default "html"
	Topic    string `json:"topic,omitempty"`    // group code; empty = token owner only
}

// NotificationConfig controls the check loop and delivery retry policy.
//
// CheckSchedule accepts either a plain interval ("2m") or a cron expression
// ("*/5 * * * *", "@every 5m").
type NotificationConfig struct {
	CheckSchedule      string `json:"check_schedule,omitempty"`      // default "5m"
	RetryTimes         int    `json:"retry_times,omitempty"`         // default 3
	RetryInterval      string `json:"retry_interval,omitempty"`      // default "60s"
	HeartbeatThreshold int    `json:"heartbeat_threshold,omitempty"` // default 3
	SendTimeout        string `json:"send_timeout,omitempty"`        // default "15s"
	RatePerSec         int    `json:"rate_per_sec,omitempty"`        // default 3

	// NotifyOnRecover sends an outward notice when an identity comes back.
	// Off by default: alert on loss, not on recovery.
	NotifyOnRecover bool `json:"notify_on_recover,omitempty"`

	// RemindInterval re-sends the offline alert while an identity stays
	// offline. "0s" (default) disables reminders entirely.
	RemindInterval string `json:"remind_interval,omitempty"`
}

// MessageConfig carries the alert and test templates.
// Placeholders: {wxid}, {time}, {date}, {hour}, {bot_name}, {bot_wxid}.
type MessageConfig struct {
	TitleTemplate     string           `json:"title_template,omitempty"`
	TestTitleTemplate string           `json:"test_title_template,omitempty"`
	NotificationText  NotificationText `json:"notification_text,omitempty"`
	TestText          TestText         `json:"test_text,omitempty"`
}

type NotificationText struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Note    string `json:"note,omitempty"`
}

type TestText struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Account string `json:"account,omitempty"`
	Time    string `json:"time,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./wxsentry_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the optional ops HTTP server (/status, /metrics,
// /debug/pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Clone deep-copies the config via JSON round-trip. Used for snapshot
// semantics when handing configs across goroutines.
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out Config
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
