package app

import (
	"strings"
	"time"

	"wxsentry/internal/config"
	"wxsentry/internal/health"
	"wxsentry/internal/monitor"
	"wxsentry/internal/notify"
	"wxsentry/internal/ops"
	"wxsentry/internal/storage"
	logx "wxsentry/pkg/logx"
)

// Mapping helpers from the file config (string durations, JSON shapes) to
// each component's effective config. They re-parse durations so the reload
// validator can reuse them to reject bad edits before commit.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDispatcherConfig(cfg *config.Config) (notify.DispatcherConfig, error) {
	retry, err := config.ParseDurationOrDefault("notification.retry_interval", cfg.Notification.RetryInterval, 60*time.Second)
	if err != nil {
		return notify.DispatcherConfig{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("notification.send_timeout", cfg.Notification.SendTimeout, 15*time.Second)
	if err != nil {
		return notify.DispatcherConfig{}, err
	}
	return notify.DispatcherConfig{
		MaxAttempts:   cfg.Notification.RetryTimes,
		RetryInterval: retry,
		RatePerSec:    cfg.Notification.RatePerSec,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapPushPlusConfig(cfg *config.Config) notify.PushPlusConfig {
	return notify.PushPlusConfig{
		Token:    cfg.PushPlus.Token,
		Template: cfg.PushPlus.Template,
		Topic:    cfg.PushPlus.Topic,
	}
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	remind, err := config.ParseDurationOrDefault("notification.remind_interval", cfg.Notification.RemindInterval, 0)
	if err != nil {
		return monitor.Config{}, err
	}
	ch, err := notify.ParseChannel(cfg.PushPlus.Channel)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Enabled:         cfg.Basic.Enable,
		Schedule:        cfg.Notification.CheckSchedule,
		Threshold:       cfg.Notification.HeartbeatThreshold,
		Channel:         ch,
		NotifyOnRecover: cfg.Notification.NotifyOnRecover,
		RemindInterval:  remind,
		Templates:       mapTemplates(cfg),
		CurrentWxid:     cfg.Basic.CurrentWxid,
		BotName:         cfg.Basic.BotName,
	}, nil
}

// mapTemplates composes the alert body from the configured text lines.
// Empty lines drop out instead of leaving blank rows in the message.
func mapTemplates(cfg *config.Config) monitor.Templates {
	m := cfg.Message
	return monitor.Templates{
		Title:     m.TitleTemplate,
		Body:      joinLines(m.NotificationText.Title, m.NotificationText.Content, m.NotificationText.Note),
		TestTitle: m.TestTitleTemplate,
		TestBody:  joinLines(m.TestText.Title, m.TestText.Content, m.TestText.Account, m.TestText.Time),
	}
}

func joinLines(lines ...string) string {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func mapHealthConfig(cfg *config.Config) (health.Config, error) {
	timeout, err := config.ParseDurationOrDefault("health.timeout", cfg.Health.Timeout, 5*time.Second)
	if err != nil {
		return health.Config{}, err
	}
	return health.Config{URL: cfg.Health.URL, Timeout: timeout}, nil
}

// mapStorageConfig reports enabled=false when no storage block is present
// or the driver is "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	if cfg.Ops == nil {
		return ops.Config{}, nil
	}
	read, err := config.ParseDurationOrDefault("ops.read_timeout", cfg.Ops.ReadTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("ops.write_timeout", cfg.Ops.WriteTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", cfg.Ops.IdleTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
