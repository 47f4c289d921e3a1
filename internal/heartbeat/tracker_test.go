package heartbeat

import (
	"testing"
	"time"
)

func TestNewRejectsBadThreshold(t *testing.T) {
	t.Parallel()
	for _, v := range []int{0, -1, -3} {
		if _, err := New(v); err == nil {
			t.Fatalf("New(%d): expected error", v)
		}
	}
	if _, err := New(1); err != nil {
		t.Fatalf("New(1): %v", err)
	}
}

func TestOfflineFiresExactlyOnceAtThreshold(t *testing.T) {
	t.Parallel()
	tr, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	signals := []bool{false, false, false, false, false}
	var offline int
	for i, ok := range signals {
		trans := tr.Record("wxid_a", ok, now.Add(time.Duration(i)*time.Second))
		if trans == TransitionWentOffline {
			offline++
			if i != 2 {
				t.Fatalf("went offline on signal %d, want 2", i)
			}
		}
	}
	if offline != 1 {
		t.Fatalf("WentOffline fired %d times, want 1", offline)
	}

	st, ok := tr.State("wxid_a")
	if !ok || st.Status != StatusOffline {
		t.Fatalf("state = %+v, want offline", st)
	}
	if st.ConsecutiveFailures != 5 {
		t.Fatalf("failures = %d, want 5", st.ConsecutiveFailures)
	}
}

func TestSuccessBelowThresholdResetsWithoutEvent(t *testing.T) {
	t.Parallel()
	tr, _ := New(3)
	now := time.Now()

	// F, F, S: counter resets, no event anywhere.
	for i, ok := range []bool{false, false, true} {
		if trans := tr.Record("wxid_a", ok, now); trans != TransitionNone {
			t.Fatalf("signal %d: transition = %v, want none", i, trans)
		}
	}
	st, _ := tr.State("wxid_a")
	if st.ConsecutiveFailures != 0 || st.Status != StatusOnline {
		t.Fatalf("state after reset = %+v", st)
	}

	// Then F, F, F crosses the threshold on the last signal only.
	var events []Transition
	for _, ok := range []bool{false, false, false} {
		events = append(events, tr.Record("wxid_a", ok, now))
	}
	want := []Transition{TransitionNone, TransitionNone, TransitionWentOffline}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestRecoveredResetsOutage(t *testing.T) {
	t.Parallel()
	tr, _ := New(2)
	now := time.Now()

	tr.Record("wxid_a", false, now)
	if trans := tr.Record("wxid_a", false, now); trans != TransitionWentOffline {
		t.Fatalf("transition = %v, want went_offline", trans)
	}
	if trans := tr.Record("wxid_a", true, now.Add(time.Minute)); trans != TransitionRecovered {
		t.Fatalf("transition = %v, want recovered", trans)
	}
	st, _ := tr.State("wxid_a")
	if st.Status != StatusOnline || st.ConsecutiveFailures != 0 {
		t.Fatalf("state after recovery = %+v", st)
	}

	// A fresh outage alerts again.
	tr.Record("wxid_a", false, now)
	if trans := tr.Record("wxid_a", false, now); trans != TransitionWentOffline {
		t.Fatalf("second outage transition = %v, want went_offline", trans)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	t.Parallel()
	tr, _ := New(2)
	now := time.Now()

	tr.Record("wxid_a", false, now)
	tr.Record("wxid_b", false, now)
	if trans := tr.Record("wxid_a", false, now); trans != TransitionWentOffline {
		t.Fatalf("wxid_a transition = %v", trans)
	}
	if st, _ := tr.State("wxid_b"); st.Status != StatusOnline {
		t.Fatalf("wxid_b leaked offline state: %+v", st)
	}
}

func TestForgetDropsState(t *testing.T) {
	t.Parallel()
	tr, _ := New(2)
	tr.Record("wxid_a", false, time.Now())
	tr.Forget("wxid_a")
	if _, ok := tr.State("wxid_a"); ok {
		t.Fatal("state survived Forget")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	tr, _ := New(2)
	now := time.Now()
	tr.Record("wxid_a", false, now)

	snap := tr.Snapshot()
	tr.Record("wxid_a", false, now)

	if snap["wxid_a"].ConsecutiveFailures != 1 {
		t.Fatalf("snapshot mutated after later Record: %+v", snap["wxid_a"])
	}
}
