package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wxsentry/internal/heartbeat"
	"wxsentry/internal/notify"
	logx "wxsentry/pkg/logx"
)

// fakeChecker reports scripted health per identity. Unknown identities
// are healthy.
type fakeChecker struct {
	mu   sync.Mutex
	down map[string]bool
	errs map[string]error
}

func (f *fakeChecker) CheckHealth(_ context.Context, sourceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[sourceID]; err != nil {
		return false, err
	}
	return !f.down[sourceID], nil
}

func (f *fakeChecker) setDown(sourceID string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down == nil {
		f.down = map[string]bool{}
	}
	f.down[sourceID] = down
}

// captureSender records every delivery request and always succeeds.
type captureSender struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (c *captureSender) Deliver(_ context.Context, req notify.Request) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return false, nil
}

func (c *captureSender) requests() []notify.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Request, len(c.reqs))
	copy(out, c.reqs)
	return out
}

func testConfig(threshold int) Config {
	return Config{
		Enabled:   true,
		Schedule:  "1s",
		Threshold: threshold,
		Channel:   notify.ChannelWeChat,
		Templates: Templates{
			Title:     "offline {wxid}",
			Body:      "account {wxid} is down",
			TestTitle: "test {bot_name}",
			TestBody:  "test from {bot_wxid}",
		},
		CurrentWxid: "bot-1",
		BotName:     "sentry",
	}
}

// newTestService builds a Service primed for direct tick() calls, without
// starting the scheduler.
func newTestService(t *testing.T, cfg Config, checker HealthChecker, sender notify.Sender) *Service {
	t.Helper()
	d := notify.NewDispatcher(notify.DispatcherConfig{
		MaxAttempts:   1,
		RetryInterval: time.Millisecond,
		RatePerSec:    1000,
		SendTimeout:   time.Second,
	}, notify.Senders{cfg.Channel: sender}, logx.Nop(), nil)

	s, err := New(cfg, checker, d, logx.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.state = LoopRunning
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	t.Cleanup(s.runCancel)
	return s
}

func TestAddMonitorRejectsDuplicates(t *testing.T) {
	t.Parallel()

	s := newTestService(t, testConfig(3), &fakeChecker{}, &captureSender{})

	if err := s.AddMonitor("acct-a", "admin-wxid"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := s.AddMonitor("acct-a", "other-recipient")
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("duplicate add: got %v, want ErrDuplicateIdentity", err)
	}

	// The failed add must not clobber the original binding.
	got := s.Monitors()
	if len(got) != 1 || got["acct-a"] != "admin-wxid" {
		t.Fatalf("registry after failed add = %v", got)
	}

	if err := s.AddMonitor("  ", "x"); err == nil {
		t.Fatal("blank source id accepted")
	}
}

func TestRemoveMonitorUnknown(t *testing.T) {
	t.Parallel()

	s := newTestService(t, testConfig(3), &fakeChecker{}, &captureSender{})
	if err := s.RemoveMonitor("ghost"); !errors.Is(err, ErrUnknownIdentity) {
		t.Fatalf("got %v, want ErrUnknownIdentity", err)
	}
}

func TestTickAlertsOnceAtThreshold(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	checker.setDown("acct-a", true)
	sender := &captureSender{}
	s := newTestService(t, testConfig(2), checker, sender)
	s.Restore(map[string]string{"acct-a": "admin"})

	// Three failing rounds with threshold 2: the alert fires on round
	// two and never again while the outage persists.
	for i := 0; i < 3; i++ {
		s.tick()
	}
	s.dispatchWG.Wait()

	reqs := sender.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d alerts, want exactly 1", len(reqs))
	}
	if reqs[0].Title != "offline acct-a" {
		t.Fatalf("title = %q", reqs[0].Title)
	}
	if reqs[0].Recipient != "admin" {
		t.Fatalf("recipient = %q", reqs[0].Recipient)
	}

	snap := s.Status()
	if snap.OfflineCount() != 1 {
		t.Fatalf("offline count = %d", snap.OfflineCount())
	}
}

func TestTickSuccessResetsWithoutAlert(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	sender := &captureSender{}
	s := newTestService(t, testConfig(3), checker, sender)
	s.Restore(map[string]string{"acct-a": ""})

	// Two failures, then a success, then two more failures: the counter
	// reset means the threshold is never reached.
	checker.setDown("acct-a", true)
	s.tick()
	s.tick()
	checker.setDown("acct-a", false)
	s.tick()
	checker.setDown("acct-a", true)
	s.tick()
	s.tick()
	s.dispatchWG.Wait()

	if n := len(sender.requests()); n != 0 {
		t.Fatalf("got %d alerts, want 0", n)
	}
}

func TestRecoveryNotification(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	cfg.NotifyOnRecover = true
	checker := &fakeChecker{}
	checker.setDown("acct-a", true)
	sender := &captureSender{}
	s := newTestService(t, cfg, checker, sender)
	s.Restore(map[string]string{"acct-a": ""})

	s.tick() // offline alert
	checker.setDown("acct-a", false)
	s.tick() // recovery notice
	s.dispatchWG.Wait()

	reqs := sender.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d deliveries, want 2 (alert + recovery)", len(reqs))
	}

	snap := s.Status()
	if snap.OfflineCount() != 0 {
		t.Fatalf("offline count after recovery = %d", snap.OfflineCount())
	}
}

func TestCheckerErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{errs: map[string]error{"acct-a": errors.New("connection refused")}}
	sender := &captureSender{}
	s := newTestService(t, testConfig(1), checker, sender)
	s.Restore(map[string]string{"acct-a": ""})

	s.tick()
	s.dispatchWG.Wait()

	if n := len(sender.requests()); n != 1 {
		t.Fatalf("got %d alerts, want 1", n)
	}
}

func TestOfflineReminder(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	cfg.RemindInterval = time.Nanosecond // every tick re-reminds
	checker := &fakeChecker{}
	checker.setDown("acct-a", true)
	sender := &captureSender{}
	s := newTestService(t, cfg, checker, sender)
	s.Restore(map[string]string{"acct-a": ""})

	s.tick()
	s.dispatchWG.Wait()
	time.Sleep(time.Millisecond)
	s.tick()
	s.dispatchWG.Wait()

	if n := len(sender.requests()); n != 2 {
		t.Fatalf("got %d deliveries, want 2 (alert + reminder)", n)
	}
}

func TestRemovedMonitorSkippedAtRecord(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	checker.setDown("acct-a", true)
	sender := &captureSender{}
	s := newTestService(t, testConfig(1), checker, sender)
	s.Restore(map[string]string{"acct-a": ""})

	// An identity removed between fan-out and record must leave no state
	// and trigger no alert.
	if err := s.RemoveMonitor("acct-a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	s.recordResult(context.Background(), s.cfg, checkResult{sourceID: "acct-a"}, time.Now())
	s.dispatchWG.Wait()

	if _, ok := s.tracker.State("acct-a"); ok {
		t.Fatal("removed identity still tracked")
	}
	if n := len(sender.requests()); n != 0 {
		t.Fatalf("got %d alerts for a removed identity, want 0", n)
	}
}

func TestStatusSnapshotIsolation(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	checker.setDown("acct-a", true)
	s := newTestService(t, testConfig(2), checker, &captureSender{})
	s.Restore(map[string]string{"acct-a": ""})

	s.tick()
	snap := s.Status()
	if len(snap.Identities) != 1 {
		t.Fatalf("identities = %d", len(snap.Identities))
	}
	before := snap.Identities[0].State.ConsecutiveFailures

	s.tick()
	s.dispatchWG.Wait()

	if snap.Identities[0].State.ConsecutiveFailures != before {
		t.Fatal("snapshot mutated by later tick")
	}
	if snap.Identities[0].State.Status != heartbeat.StatusOnline {
		t.Fatal("one failure below threshold should still read online")
	}
}

func TestTestNotificationLeavesTrackerAlone(t *testing.T) {
	t.Parallel()

	sender := &captureSender{}
	s := newTestService(t, testConfig(3), &fakeChecker{}, sender)
	s.Restore(map[string]string{"bot-1": ""})

	res, err := s.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if !res.Success {
		t.Fatalf("test delivery failed: %v", res.LastErr)
	}

	reqs := sender.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(reqs))
	}
	if reqs[0].Title != "test sentry" || reqs[0].Body != "test from bot-1" {
		t.Fatalf("rendered test message = %q / %q", reqs[0].Title, reqs[0].Body)
	}
	if _, ok := s.tracker.State("bot-1"); ok {
		t.Fatal("test notification must not touch heartbeat state")
	}
}

func TestSetChannelAndTemplateValidation(t *testing.T) {
	t.Parallel()

	s := newTestService(t, testConfig(3), &fakeChecker{}, &captureSender{})

	if err := s.SetChannel("sms"); err != nil {
		t.Fatalf("SetChannel(sms): %v", err)
	}
	if err := s.SetChannel("pigeon"); err == nil {
		t.Fatal("unknown channel accepted")
	}
	if got := s.Status().Channel; got != notify.ChannelSMS {
		t.Fatalf("channel = %q after rejected update", got)
	}

	if err := s.SetTemplate("title", "down: {wxid} at {time}"); err != nil {
		t.Fatalf("SetTemplate: %v", err)
	}
	if err := s.SetTemplate("title", "broken {"); err == nil {
		t.Fatal("malformed template accepted")
	}
	if err := s.SetTemplate("footer", "x"); err == nil {
		t.Fatal("unknown template name accepted")
	}
}

func TestSetCurrentIdentitySwapsRegistry(t *testing.T) {
	t.Parallel()

	s := newTestService(t, testConfig(3), &fakeChecker{}, &captureSender{})
	s.Restore(map[string]string{"bot-1": ""})

	if err := s.SetCurrentIdentity("bot-2"); err != nil {
		t.Fatalf("SetCurrentIdentity: %v", err)
	}
	got := s.Monitors()
	if _, old := got["bot-1"]; old {
		t.Fatal("previous identity still registered")
	}
	if _, ok := got["bot-2"]; !ok {
		t.Fatal("new identity not registered")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig(3)
	cfg.Schedule = "1h" // never actually ticks during the test
	d := notify.NewDispatcher(notify.DispatcherConfig{}, notify.Senders{}, logx.Nop(), nil)
	s, err := New(cfg, &fakeChecker{}, d, logx.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop: got %v, want ErrStopped", err)
	}
}

func TestStartDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(3)
	cfg.Enabled = false
	d := notify.NewDispatcher(notify.DispatcherConfig{}, notify.Senders{}, logx.Nop(), nil)
	s, err := New(cfg, &fakeChecker{}, d, logx.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("got %v, want ErrDisabled", err)
	}
}
