package eventbus

import "time"

// Well-known event types published by the monitor pipeline.
const (
	TypeHeartbeatChecked = "heartbeat.checked"
	TypeWentOffline      = "monitor.went_offline"
	TypeRecovered        = "monitor.recovered"
	TypeDeliveryAttempt  = "delivery.attempt"
	TypeDeliveryResult   = "delivery.result"
)

// HeartbeatEvent accompanies heartbeat.checked and the transition types.
type HeartbeatEvent struct {
	SourceID string    `json:"source_id"`
	Healthy  bool      `json:"healthy"`
	Failures int       `json:"failures"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// DeliveryEvent accompanies delivery.attempt and delivery.result.
// Attempt is 1-based; for delivery.result it is the total attempts used.
type DeliveryEvent struct {
	SourceID string    `json:"source_id"`
	Channel  string    `json:"channel"`
	Attempt  int       `json:"attempt"`
	Success  bool      `json:"success"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
