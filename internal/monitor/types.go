package monitor

import (
	"context"
	"time"

	"wxsentry/internal/heartbeat"
	"wxsentry/internal/notify"
)

// HealthChecker is the injected liveness probe for one identity.
// Implementations may probe synchronously or return a cached recent value.
// An error counts as a failed heartbeat, never as a loop failure.
type HealthChecker interface {
	CheckHealth(ctx context.Context, sourceID string) (bool, error)
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context, sourceID string) (bool, error)

func (f HealthCheckerFunc) CheckHealth(ctx context.Context, sourceID string) (bool, error) {
	return f(ctx, sourceID)
}

// LoopState is the lifecycle state of the monitor loop itself.
type LoopState int

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopStopped
)

func (s LoopState) String() string {
	switch s {
	case LoopRunning:
		return "running"
	case LoopStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Templates are the pre-validated message templates the loop renders from.
// Body templates are the composed notification text (content + note lines).
type Templates struct {
	Title     string
	Body      string
	TestTitle string
	TestBody  string
}

// Config is the monitor's effective (parsed, validated) configuration.
type Config struct {
	Enabled   bool
	Schedule  string // cron-ready spec, see ParseSchedule
	Threshold int

	Channel         notify.Channel
	NotifyOnRecover bool
	RemindInterval  time.Duration // 0 disables offline reminders

	Templates Templates

	// Template context.
	CurrentWxid string
	BotName     string

	// MaxParallelChecks bounds per-tick fan-out. 0 means one goroutine
	// per identity.
	MaxParallelChecks int
}

// IdentityStatus is one row of a Status snapshot.
type IdentityStatus struct {
	SourceID    string
	RecipientID string
	State       heartbeat.State
	LastAlertAt time.Time
}

// Snapshot is a read-only copy of the monitor's state. It shares nothing
// with the live structures; mutations after the snapshot never show up in it.
type Snapshot struct {
	Loop       LoopState
	Channel    notify.Channel
	Threshold  int
	Identities []IdentityStatus
}

// OfflineCount counts identities currently offline in the snapshot.
func (s Snapshot) OfflineCount() int {
	n := 0
	for _, id := range s.Identities {
		if id.State.Status == heartbeat.StatusOffline {
			n++
		}
	}
	return n
}
