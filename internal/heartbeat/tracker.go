// Package heartbeat implements the per-identity liveness state machine.
//
// The tracker is pure bookkeeping: callers feed it check results and it
// reports edge transitions. It performs no I/O and knows nothing about
// how signals are obtained or what happens on a transition.
package heartbeat

import (
	"fmt"
	"time"
)

// Status is the liveness state of a monitored identity.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
)

func (s Status) String() string {
	if s == StatusOffline {
		return "offline"
	}
	return "online"
}

// Transition reports the edge produced by a recorded signal, if any.
type Transition int

const (
	// TransitionNone: the signal changed counters but not status.
	TransitionNone Transition = iota
	// TransitionWentOffline fires exactly once per outage, on the failure
	// that makes the consecutive count reach the threshold.
	TransitionWentOffline
	// TransitionRecovered fires on the first success while offline.
	TransitionRecovered
)

func (t Transition) String() string {
	switch t {
	case TransitionWentOffline:
		return "went_offline"
	case TransitionRecovered:
		return "recovered"
	default:
		return "none"
	}
}

// State is the tracked heartbeat state for one identity.
type State struct {
	ConsecutiveFailures int
	Status              Status
	LastTransitionAt    time.Time
	LastCheckedAt       time.Time
}

// Tracker holds heartbeat state for a set of identities.
//
// Not safe for concurrent use on the same identity; the monitor serializes
// access per identity. The zero threshold is rejected in New so the
// offline condition (failures >= threshold) is always meaningful.
type Tracker struct {
	threshold int
	states    map[string]*State
}

// New returns a tracker that declares an identity offline after threshold
// consecutive failed checks. Thresholds below 1 are a configuration error.
func New(threshold int) (*Tracker, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("heartbeat threshold must be >= 1, got %d", threshold)
	}
	return &Tracker{
		threshold: threshold,
		states:    map[string]*State{},
	}, nil
}

func (t *Tracker) Threshold() int { return t.threshold }

// Record feeds one check result for an identity and returns the resulting
// transition. Unknown identities are created lazily in the online state.
func (t *Tracker) Record(sourceID string, healthy bool, now time.Time) Transition {
	st := t.states[sourceID]
	if st == nil {
		st = &State{}
		t.states[sourceID] = st
	}
	st.LastCheckedAt = now

	if healthy {
		st.ConsecutiveFailures = 0
		if st.Status == StatusOffline {
			st.Status = StatusOnline
			st.LastTransitionAt = now
			return TransitionRecovered
		}
		return TransitionNone
	}

	st.ConsecutiveFailures++
	if st.Status == StatusOnline && st.ConsecutiveFailures >= t.threshold {
		st.Status = StatusOffline
		st.LastTransitionAt = now
		return TransitionWentOffline
	}
	// Already offline, or still under threshold: no edge.
	return TransitionNone
}

// State returns a copy of the state for sourceID and whether it exists.
func (t *Tracker) State(sourceID string) (State, bool) {
	st := t.states[sourceID]
	if st == nil {
		return State{}, false
	}
	return *st, true
}

// Forget drops all state for sourceID.
func (t *Tracker) Forget(sourceID string) {
	delete(t.states, sourceID)
}

// Snapshot returns a copy of all tracked states keyed by source ID.
func (t *Tracker) Snapshot() map[string]State {
	out := make(map[string]State, len(t.states))
	for id, st := range t.states {
		out[id] = *st
	}
	return out
}
