package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field specs plus descriptors (@hourly,
// @every 5m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule normalizes a check schedule into a cron-ready spec.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55s", "2h30m"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		s = strings.TrimSpace(s[len("cron:"):])
		if s == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSpec(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSpec(strings.TrimSpace(s[len("every:"):]))
	default:
		// Heuristic: no whitespace and no '@' means a plain duration.
		if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
			return parseIntervalSpec(s)
		}
	}

	if _, err := cronParser.Parse(s); err != nil {
		return "", fmt.Errorf("invalid cron schedule %q: %w", raw, err)
	}
	return s, nil
}

func parseIntervalSpec(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if d < time.Second {
		return "", fmt.Errorf("interval %q too short (min 1s)", s)
	}
	return "@every " + d.String(), nil
}
