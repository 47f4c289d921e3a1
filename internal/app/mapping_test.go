package app

import (
	"testing"
	"time"

	"wxsentry/internal/config"
	"wxsentry/internal/notify"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Basic.Enable = true
	cfg.Basic.CurrentWxid = "bot-1"
	cfg.PushPlus.Token = "tok"
	cfg.Normalize()
	return cfg
}

func TestMapMonitorConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Notification.CheckSchedule = "90s"
	cfg.Notification.HeartbeatThreshold = 5
	cfg.Notification.RemindInterval = "2h"

	got, err := mapMonitorConfig(cfg)
	if err != nil {
		t.Fatalf("mapMonitorConfig: %v", err)
	}
	if !got.Enabled || got.Threshold != 5 || got.Schedule != "90s" {
		t.Fatalf("mapped = %+v", got)
	}
	if got.Channel != notify.ChannelWeChat {
		t.Fatalf("channel = %q", got.Channel)
	}
	if got.RemindInterval != 2*time.Hour {
		t.Fatalf("remind = %v", got.RemindInterval)
	}
	if got.CurrentWxid != "bot-1" {
		t.Fatalf("current wxid = %q", got.CurrentWxid)
	}

	cfg.Notification.RemindInterval = "sometimes"
	if _, err := mapMonitorConfig(cfg); err == nil {
		t.Fatal("bad remind_interval accepted")
	}
}

func TestMapTemplatesSkipsEmptyLines(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Message.NotificationText = config.NotificationText{
		Title:   "Bot offline",
		Content: "Account {wxid} stopped responding.",
		Note:    "",
	}

	got := mapTemplates(cfg)
	want := "Bot offline\nAccount {wxid} stopped responding."
	if got.Body != want {
		t.Fatalf("body = %q, want %q", got.Body, want)
	}
}

func TestMapDispatcherConfigDefaults(t *testing.T) {
	t.Parallel()

	got, err := mapDispatcherConfig(baseConfig())
	if err != nil {
		t.Fatalf("mapDispatcherConfig: %v", err)
	}
	if got.MaxAttempts != 3 || got.RetryInterval != 60*time.Second || got.SendTimeout != 15*time.Second {
		t.Fatalf("mapped = %+v", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("no storage block: enabled=%v err=%v", enabled, err)
	}

	cfg.Storage = &config.StorageConfig{Driver: "none"}
	if _, enabled, _ := mapStorageConfig(cfg); enabled {
		t.Fatal("driver none should disable storage")
	}

	cfg.Storage = &config.StorageConfig{Driver: "File", Path: "./data/store"}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("enabled=%v err=%v", enabled, err)
	}
	if sc.Driver != "file" || sc.Path != "./data/store" {
		t.Fatalf("mapped = %+v", sc)
	}
}

func TestMapOpsConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if got, err := mapOpsConfig(cfg); err != nil || got.Enabled {
		t.Fatalf("no ops block: %+v err=%v", got, err)
	}

	cfg.Ops = &config.OpsConfig{Enabled: true, Addr: "127.0.0.1:7070", ReadTimeout: "2s"}
	got, err := mapOpsConfig(cfg)
	if err != nil {
		t.Fatalf("mapOpsConfig: %v", err)
	}
	if !got.Enabled || got.Addr != "127.0.0.1:7070" || got.ReadTimeout != 2*time.Second {
		t.Fatalf("mapped = %+v", got)
	}
}
