package ops

import (
	"time"

	"wxsentry/internal/heartbeat"
	"wxsentry/internal/monitor"
)

// JSON view of the monitor snapshot served on /status.
type statusResponse struct {
	Loop       string         `json:"loop"`
	Channel    string         `json:"channel"`
	Threshold  int            `json:"threshold"`
	Offline    int            `json:"offline"`
	Identities []identityView `json:"identities"`
}

type identityView struct {
	SourceID            string     `json:"source_id"`
	RecipientID         string     `json:"recipient_id,omitempty"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	LastTransitionAt    *time.Time `json:"last_transition_at,omitempty"`
	LastAlertAt         *time.Time `json:"last_alert_at,omitempty"`
}

func statusPayload(snap monitor.Snapshot) statusResponse {
	resp := statusResponse{
		Loop:       snap.Loop.String(),
		Channel:    string(snap.Channel),
		Threshold:  snap.Threshold,
		Offline:    snap.OfflineCount(),
		Identities: make([]identityView, 0, len(snap.Identities)),
	}
	for _, id := range snap.Identities {
		v := identityView{
			SourceID:            id.SourceID,
			RecipientID:         id.RecipientID,
			Status:              statusString(id.State.Status),
			ConsecutiveFailures: id.State.ConsecutiveFailures,
			LastCheckedAt:       timePtr(id.State.LastCheckedAt),
			LastTransitionAt:    timePtr(id.State.LastTransitionAt),
			LastAlertAt:         timePtr(id.LastAlertAt),
		}
		resp.Identities = append(resp.Identities, v)
	}
	return resp
}

func statusString(s heartbeat.Status) string {
	if s == heartbeat.StatusOffline {
		return "offline"
	}
	return "online"
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
