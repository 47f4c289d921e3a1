package config

import (
	"fmt"
	"strings"

	"wxsentry/internal/notify"
	"wxsentry/internal/render"
)

// Default message texts, applied field-by-field so a config may override
// just one of them. Placeholders follow internal/render.
var (
	DefaultTitleTemplate     = "Bot offline alert - {time}"
	DefaultTestTitleTemplate = "Test notification - {time}"

	DefaultNotificationText = NotificationText{
		Title:   "Bot account offline",
		Content: "Account {wxid} went offline at {time}.",
		Note:    "Check the device connection or log the account in again.",
	}

	DefaultTestText = TestText{
		Title:   "Test notification",
		Content: "This is a test message verifying the alert pipeline.",
		Account: "Monitored account: {wxid}",
		Time:    "Sent at: {time}",
	}
)

// Normalize fills defaults in place. Safe to call more than once.
func (c *Config) Normalize() {
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Basic.Debug {
		c.Logging.Level = "DEBUG"
	}
	if c.Basic.BotName == "" {
		c.Basic.BotName = "wxsentry"
	}
	if c.PushPlus.Channel == "" {
		c.PushPlus.Channel = string(notify.ChannelWeChat)
	}
	if c.Health.URL == "" {
		c.Health.URL = "http://127.0.0.1:9000/IsRunning"
	}
	if c.Health.Timeout == "" {
		c.Health.Timeout = "5s"
	}
	if c.PushPlus.Template == "" {
		c.PushPlus.Template = "html"
	}

	n := &c.Notification
	if strings.TrimSpace(n.CheckSchedule) == "" {
		n.CheckSchedule = "5m"
	}
	if n.RetryTimes == 0 {
		n.RetryTimes = 3
	}
	if n.RetryInterval == "" {
		n.RetryInterval = "60s"
	}
	if n.HeartbeatThreshold == 0 {
		n.HeartbeatThreshold = 3
	}
	if n.SendTimeout == "" {
		n.SendTimeout = "15s"
	}
	if n.RatePerSec == 0 {
		n.RatePerSec = 3
	}

	m := &c.Message
	if m.TitleTemplate == "" {
		m.TitleTemplate = DefaultTitleTemplate
	}
	if m.TestTitleTemplate == "" {
		m.TestTitleTemplate = DefaultTestTitleTemplate
	}
	if m.NotificationText.Title == "" {
		m.NotificationText.Title = DefaultNotificationText.Title
	}
	if m.NotificationText.Content == "" {
		m.NotificationText.Content = DefaultNotificationText.Content
	}
	if m.NotificationText.Note == "" {
		m.NotificationText.Note = DefaultNotificationText.Note
	}
	if m.TestText.Title == "" {
		m.TestText.Title = DefaultTestText.Title
	}
	if m.TestText.Content == "" {
		m.TestText.Content = DefaultTestText.Content
	}
	if m.TestText.Account == "" {
		m.TestText.Account = DefaultTestText.Account
	}
	if m.TestText.Time == "" {
		m.TestText.Time = DefaultTestText.Time
	}
}

// Validate rejects configurations the monitor must not start with.
// It assumes Normalize has run.
func (c *Config) Validate() error {
	if c.Basic.Enable && strings.TrimSpace(c.PushPlus.Token) == "" {
		return fmt.Errorf("pushplus.token is required when enabled")
	}
	if _, err := notify.ParseChannel(c.PushPlus.Channel); err != nil {
		return fmt.Errorf("pushplus.channel: %w", err)
	}

	n := c.Notification
	if n.HeartbeatThreshold < 1 {
		return fmt.Errorf("notification.heartbeat_threshold must be >= 1, got %d", n.HeartbeatThreshold)
	}
	if n.RetryTimes < 1 {
		return fmt.Errorf("notification.retry_times must be >= 1, got %d", n.RetryTimes)
	}
	if _, err := ParseDurationField("notification.retry_interval", n.RetryInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("notification.send_timeout", n.SendTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("notification.remind_interval", n.RemindInterval); err != nil {
		return err
	}

	// Malformed templates are a load-time error, not a first-alert surprise.
	for path, tmpl := range map[string]string{
		"message.title_template":            c.Message.TitleTemplate,
		"message.test_title_template":       c.Message.TestTitleTemplate,
		"message.notification_text.title":   c.Message.NotificationText.Title,
		"message.notification_text.content": c.Message.NotificationText.Content,
		"message.notification_text.note":    c.Message.NotificationText.Note,
		"message.test_text.title":           c.Message.TestText.Title,
		"message.test_text.content":         c.Message.TestText.Content,
		"message.test_text.account":         c.Message.TestText.Account,
		"message.test_text.time":            c.Message.TestText.Time,
	} {
		if err := render.Check(tmpl); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	if _, err := ParseDurationField("health.timeout", c.Health.Timeout); err != nil {
		return err
	}

	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Ops != nil {
		for path, raw := range map[string]string{
			"ops.read_timeout":  c.Ops.ReadTimeout,
			"ops.write_timeout": c.Ops.WriteTimeout,
			"ops.idle_timeout":  c.Ops.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}
	return nil
}
