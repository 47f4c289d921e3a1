// Package monitor owns the identity registry and the periodic check loop.
//
// The loop is the only writer of heartbeat state. Per-identity probes fan
// out concurrently within a tick; ticks themselves never overlap (a tick
// that overruns the schedule makes the next one skip). Alert dispatch runs
// detached so one identity's retry backoff never stalls checks for the rest.
package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/robfig/cron/v3"

	"wxsentry/internal/eventbus"
	"wxsentry/internal/heartbeat"
	"wxsentry/internal/notify"
	"wxsentry/internal/render"
	"wxsentry/internal/storage"
	logx "wxsentry/pkg/logx"
)

type Service struct {
	log        logx.Logger
	bus        eventbus.Bus
	store      storage.Store
	dispatcher *notify.Dispatcher
	checker    HealthChecker

	mu          sync.Mutex
	cfg         Config
	state       LoopState
	registry    map[string]string // sourceID -> recipientID
	tracker     *heartbeat.Tracker
	lastAlertAt map[string]time.Time // last successfully delivered offline alert

	c       *cron.Cron
	entryID cron.EntryID

	runCtx     context.Context
	runCancel  context.CancelFunc
	dispatchWG sync.WaitGroup
}

func New(cfg Config, checker HealthChecker, dispatcher *notify.Dispatcher, log logx.Logger, bus eventbus.Bus, store storage.Store) (*Service, error) {
	if checker == nil {
		return nil, fmt.Errorf("monitor: health checker is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("monitor: dispatcher is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	tracker, err := heartbeat.New(cfg.Threshold)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	return &Service{
		log:         log,
		bus:         bus,
		store:       store,
		dispatcher:  dispatcher,
		checker:     checker,
		cfg:         cfg,
		registry:    map[string]string{},
		tracker:     tracker,
		lastAlertAt: map[string]time.Time{},
	}, nil
}

// Restore seeds the registry without duplicate checks or persistence.
// Used at startup for config-declared monitors and store recovery.
func (s *Service) Restore(monitors map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, recipient := range monitors {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		s.registry[id] = recipient
	}
}

// Start transitions the loop to running and begins periodic ticking.
// It is idempotent while running; a stopped loop reports ErrStopped.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case LoopRunning:
		return nil
	case LoopStopped:
		return ErrStopped
	}
	if !s.cfg.Enabled {
		return ErrDisabled
	}

	spec, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}

	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	// SkipIfStillRunning enforces the no-overlap rule: an overrunning tick
	// makes the scheduler drop the next firing instead of stacking them.
	s.c = cron.New(cron.WithParser(cronParser), cron.WithChain(
		cron.Recover(cronLogAdapter{s.log}),
		cron.SkipIfStillRunning(cronLogAdapter{s.log}),
	))
	id, err := s.c.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("monitor: register schedule: %w", err)
	}
	s.entryID = id
	s.c.Start()
	s.state = LoopRunning

	s.log.Info("monitor started",
		logx.String("schedule", spec),
		logx.Int("threshold", s.cfg.Threshold),
		logx.Int("monitors", len(s.registry)))
	return nil
}

// Stop halts ticking. The in-flight tick completes; in-flight dispatches
// finish their current attempt but schedule no further ones. Waits for
// detached work best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.state != LoopRunning {
		s.state = LoopStopped
		s.mu.Unlock()
		return nil
	}
	s.state = LoopStopped
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.mu.Unlock()

	// No further attempts / reminders get scheduled past this point.
	if cancel != nil {
		cancel()
	}

	if c != nil {
		stopped := c.Stop() // resolves when running jobs finish
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.dispatchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached with dispatches still in flight")
	}

	s.log.Info("monitor stopped")
	return nil
}

// Apply swaps configuration at runtime (config reload). A changed schedule
// re-registers the cron entry; a changed threshold resets heartbeat state
// (counters restart from a clean slate).
func (s *Service) Apply(cfg Config) error {
	tracker, err := heartbeat.New(cfg.Threshold)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Threshold != s.cfg.Threshold {
		s.log.Warn("heartbeat threshold changed; resetting heartbeat state",
			logx.Int("old", s.cfg.Threshold), logx.Int("new", cfg.Threshold))
		s.tracker = tracker
	}

	scheduleChanged := cfg.Schedule != s.cfg.Schedule
	s.cfg = cfg

	if scheduleChanged && s.state == LoopRunning && s.c != nil {
		s.c.Remove(s.entryID)
		id, err := s.c.AddFunc(spec, s.tick)
		if err != nil {
			return fmt.Errorf("monitor: register schedule: %w", err)
		}
		s.entryID = id
		s.log.Info("check schedule updated", logx.String("schedule", spec))
	}
	return nil
}

// ---- Registry operations ----

func (s *Service) AddMonitor(sourceID, recipientID string) error {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return fmt.Errorf("source id required")
	}

	s.mu.Lock()
	if _, exists := s.registry[sourceID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, sourceID)
	}
	s.registry[sourceID] = recipientID
	s.mu.Unlock()

	s.persistRegistry()
	s.log.Info("monitor added", logx.String("source", sourceID))
	return nil
}

func (s *Service) RemoveMonitor(sourceID string) error {
	sourceID = strings.TrimSpace(sourceID)

	s.mu.Lock()
	if _, exists := s.registry[sourceID]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, sourceID)
	}
	delete(s.registry, sourceID)
	s.tracker.Forget(sourceID)
	delete(s.lastAlertAt, sourceID)
	s.mu.Unlock()

	s.persistRegistry()
	s.log.Info("monitor removed", logx.String("source", sourceID))
	return nil
}

// Monitors returns a copy of the registry.
func (s *Service) Monitors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.registry))
	for id, r := range s.registry {
		out[id] = r
	}
	return out
}

// SetCurrentIdentity swaps the default watched account: the previous
// current identity leaves the registry, the new one joins it.
func (s *Service) SetCurrentIdentity(sourceID string) error {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return fmt.Errorf("source id required")
	}

	s.mu.Lock()
	old := s.cfg.CurrentWxid
	if old != "" && old != sourceID {
		delete(s.registry, old)
		s.tracker.Forget(old)
		delete(s.lastAlertAt, old)
	}
	s.cfg.CurrentWxid = sourceID
	if _, exists := s.registry[sourceID]; !exists {
		s.registry[sourceID] = "" // deliver to the token owner
	}
	s.mu.Unlock()

	s.persistRegistry()
	s.log.Info("current identity changed",
		logx.String("old", old), logx.String("new", sourceID))
	return nil
}

func (s *Service) SetChannel(channel string) error {
	ch, err := notify.ParseChannel(channel)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cfg.Channel
	s.cfg.Channel = ch
	s.mu.Unlock()
	s.log.Info("alert channel changed",
		logx.String("old", string(old)), logx.String("new", string(ch)))
	return nil
}

// SetTemplate replaces one named template after validating its grammar.
// Names: "title", "body", "test_title", "test_body".
func (s *Service) SetTemplate(name, tmpl string) error {
	if err := render.Check(tmpl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "title":
		s.cfg.Templates.Title = tmpl
	case "body":
		s.cfg.Templates.Body = tmpl
	case "test_title":
		s.cfg.Templates.TestTitle = tmpl
	case "test_body":
		s.cfg.Templates.TestBody = tmpl
	default:
		return fmt.Errorf("unknown template %q (title, body, test_title, test_body)", name)
	}
	return nil
}

// ---- Read-only / diagnostic operations ----

// Status returns a deep-copied snapshot; later mutations never leak into it.
func (s *Service) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := s.tracker.Snapshot()
	ids := make([]IdentityStatus, 0, len(s.registry))
	for id, recipient := range s.registry {
		ids = append(ids, IdentityStatus{
			SourceID:    id,
			RecipientID: recipient,
			State:       states[id],
			LastAlertAt: s.lastAlertAt[id],
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].SourceID < ids[j].SourceID })

	return Snapshot{
		Loop:       s.state,
		Channel:    s.cfg.Channel,
		Threshold:  s.cfg.Threshold,
		Identities: ids,
	}
}

// TestNotification renders the test template and dispatches it right away.
// It bypasses the tracker entirely and mutates no heartbeat state; use it
// to verify credentials and channel routing.
func (s *Service) TestNotification(ctx context.Context) (notify.Result, error) {
	s.mu.Lock()
	cfg := s.cfg
	recipient := s.registry[cfg.CurrentWxid]
	s.mu.Unlock()

	vars := s.templateVars(cfg, cfg.CurrentWxid)
	title, err := render.Render(cfg.Templates.TestTitle, vars)
	if err != nil {
		return notify.Result{}, err
	}
	body, err := render.Render(cfg.Templates.TestBody, vars)
	if err != nil {
		return notify.Result{}, err
	}

	res := s.dispatcher.Dispatch(ctx, notify.Request{
		SourceID:  cfg.CurrentWxid,
		Channel:   cfg.Channel,
		Title:     title,
		Body:      body,
		Recipient: recipient,
	})
	s.audit(storage.AuditEntry{
		At:       time.Now(),
		SourceID: cfg.CurrentWxid,
		Kind:     "test",
		Channel:  string(cfg.Channel),
		Attempt:  res.AttemptsUsed,
		OK:       res.Success,
		Error:    errString(res.LastErr),
	})
	return res, nil
}

// TestHeartbeat probes one identity immediately, without recording the
// result. Empty sourceID means the current identity.
func (s *Service) TestHeartbeat(ctx context.Context, sourceID string) (bool, error) {
	s.mu.Lock()
	if sourceID == "" {
		sourceID = s.cfg.CurrentWxid
	}
	if sourceID == "" && len(s.registry) == 1 {
		for id := range s.registry {
			sourceID = id
		}
	}
	s.mu.Unlock()

	if sourceID == "" {
		return false, fmt.Errorf("no identity to probe")
	}
	return s.checker.CheckHealth(ctx, sourceID)
}

// ---- Tick ----

type checkResult struct {
	sourceID  string
	recipient string
	healthy   bool
	err       error
}

// tick runs one full check round. Invoked by cron; never concurrently
// with itself (SkipIfStillRunning).
func (s *Service) tick() {
	s.mu.Lock()
	if s.state != LoopRunning {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	cfg := s.cfg
	targets := make([]checkResult, 0, len(s.registry))
	for id, recipient := range s.registry {
		targets = append(targets, checkResult{sourceID: id, recipient: recipient})
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	// Fan out probes; heartbeat state mutation stays serialized below.
	workers := cfg.MaxParallelChecks
	if workers <= 0 || workers > len(targets) {
		workers = len(targets)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range targets {
		if ctx.Err() != nil {
			return
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(r *checkResult) {
			defer wg.Done()
			defer func() { <-sem }()
			r.healthy, r.err = s.checkOne(ctx, r.sourceID)
		}(&targets[i])
	}
	wg.Wait()

	now := time.Now()
	for _, r := range targets {
		s.recordResult(ctx, cfg, r, now)
	}
}

// checkOne asks the injected checker about one identity. Checker errors
// and panics both degrade to an unhealthy signal: the loop must survive
// arbitrary collaborator misbehavior.
func (s *Service) checkOne(ctx context.Context, sourceID string) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			err = fmt.Errorf("health checker panic: %v", r)
			s.log.Error("health checker panicked",
				logx.String("source", sourceID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	return s.checker.CheckHealth(ctx, sourceID)
}

// recordResult feeds one probe outcome to the tracker and reacts to the
// transition, if any.
func (s *Service) recordResult(ctx context.Context, cfg Config, r checkResult, now time.Time) {
	healthy := r.healthy && r.err == nil
	outcome := "ok"
	if !healthy {
		outcome = "fail"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`wxsentry_heartbeat_checks_total{outcome=%q}`, outcome)).Inc()

	s.mu.Lock()
	// The identity may have been removed while probes were in flight.
	if _, still := s.registry[r.sourceID]; !still {
		s.mu.Unlock()
		return
	}
	trans := s.tracker.Record(r.sourceID, healthy, now)
	state, _ := s.tracker.State(r.sourceID)
	lastAlert := s.lastAlertAt[r.sourceID]
	s.mu.Unlock()

	s.publishCheck(r, state, now)

	switch trans {
	case heartbeat.TransitionWentOffline:
		metrics.GetOrCreateCounter(`wxsentry_transitions_total{kind="went_offline"}`).Inc()
		s.log.Warn("identity went offline",
			logx.String("source", r.sourceID),
			logx.Int("failures", state.ConsecutiveFailures),
			logx.Err(r.err))
		s.publishTransition(eventbus.TypeWentOffline, r, state, now)
		s.audit(storage.AuditEntry{At: now, SourceID: r.sourceID, Kind: "went_offline", Error: errString(r.err)})
		s.sendOfflineAlert(ctx, cfg, r.sourceID, r.recipient)

	case heartbeat.TransitionRecovered:
		metrics.GetOrCreateCounter(`wxsentry_transitions_total{kind="recovered"}`).Inc()
		s.log.Info("identity recovered", logx.String("source", r.sourceID))
		s.publishTransition(eventbus.TypeRecovered, r, state, now)
		s.audit(storage.AuditEntry{At: now, SourceID: r.sourceID, Kind: "recovered", OK: true})
		if cfg.NotifyOnRecover {
			s.sendRecoveryNotice(ctx, cfg, r.sourceID, r.recipient)
		}

	default:
		// Opt-in reminder while an outage persists. The once-per-outage
		// rule still holds: this only re-sends the alert, never re-fires
		// the transition.
		if cfg.RemindInterval > 0 &&
			state.Status == heartbeat.StatusOffline &&
			(lastAlert.IsZero() || now.Sub(lastAlert) >= cfg.RemindInterval) {
			s.log.Info("re-sending offline reminder", logx.String("source", r.sourceID))
			s.sendOfflineAlert(ctx, cfg, r.sourceID, r.recipient)
		}
	}
}

// ---- Alert dispatch ----

func (s *Service) sendOfflineAlert(ctx context.Context, cfg Config, sourceID, recipient string) {
	vars := s.templateVars(cfg, sourceID)
	title, err := render.Render(cfg.Templates.Title, vars)
	if err != nil {
		s.log.Error("offline title render failed", logx.Err(err))
		return
	}
	body, err := render.Render(cfg.Templates.Body, vars)
	if err != nil {
		s.log.Error("offline body render failed", logx.Err(err))
		return
	}
	s.dispatchAsync(ctx, notify.Request{
		SourceID:  sourceID,
		Channel:   cfg.Channel,
		Title:     title,
		Body:      body,
		Recipient: recipient,
	}, true)
}

func (s *Service) sendRecoveryNotice(ctx context.Context, cfg Config, sourceID, recipient string) {
	vars := s.templateVars(cfg, sourceID)
	title, err := render.Render("Bot back online - {time}", vars)
	if err != nil {
		return
	}
	body, err := render.Render("Account {wxid} recovered at {time}.", vars)
	if err != nil {
		return
	}
	s.dispatchAsync(ctx, notify.Request{
		SourceID:  sourceID,
		Channel:   cfg.Channel,
		Title:     title,
		Body:      body,
		Recipient: recipient,
	}, false)
}

// dispatchAsync runs the retrying dispatch on its own goroutine so backoff
// for one identity never blocks checks or alerts for the others.
func (s *Service) dispatchAsync(ctx context.Context, req notify.Request, isOfflineAlert bool) {
	s.dispatchWG.Add(1)
	go func() {
		defer s.dispatchWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in alert dispatch",
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()

		res := s.dispatcher.Dispatch(ctx, req)
		now := time.Now()
		s.audit(storage.AuditEntry{
			At:       now,
			SourceID: req.SourceID,
			Kind:     "delivery",
			Channel:  string(req.Channel),
			Attempt:  res.AttemptsUsed,
			OK:       res.Success,
			Error:    errString(res.LastErr),
		})
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryResult, Time: now, Data: eventbus.DeliveryEvent{
				SourceID: req.SourceID,
				Channel:  string(req.Channel),
				Attempt:  res.AttemptsUsed,
				Success:  res.Success,
				At:       now,
				Error:    errString(res.LastErr),
			}})
		}
		if res.Success && isOfflineAlert {
			s.mu.Lock()
			s.lastAlertAt[req.SourceID] = now
			s.mu.Unlock()
		}
		if !res.Success {
			s.log.Error("alert delivery failed",
				logx.String("source", req.SourceID),
				logx.String("channel", string(req.Channel)),
				logx.Int("attempts", res.AttemptsUsed),
				logx.Err(res.LastErr))
		}
	}()
}

// ---- Helpers ----

func (s *Service) templateVars(cfg Config, sourceID string) map[string]string {
	return map[string]string{
		"wxid":     sourceID,
		"bot_wxid": cfg.CurrentWxid,
		"bot_name": cfg.BotName,
	}
}

func (s *Service) publishCheck(r checkResult, state heartbeat.State, now time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeHeartbeatChecked, Time: now, Data: eventbus.HeartbeatEvent{
		SourceID: r.sourceID,
		Healthy:  r.healthy && r.err == nil,
		Failures: state.ConsecutiveFailures,
		At:       now,
		Error:    errString(r.err),
	}})
}

func (s *Service) publishTransition(evType string, r checkResult, state heartbeat.State, now time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: evType, Time: now, Data: eventbus.HeartbeatEvent{
		SourceID: r.sourceID,
		Healthy:  state.Status == heartbeat.StatusOnline,
		Failures: state.ConsecutiveFailures,
		At:       now,
		Error:    errString(r.err),
	}})
}

func (s *Service) persistRegistry() {
	if s.store == nil {
		return
	}
	monitors := s.Monitors()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveMonitors(ctx, monitors); err != nil {
		s.log.Warn("registry persist failed", logx.Err(err))
	}
}

func (s *Service) audit(e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// cronLogAdapter bridges cron's logger to logx.
type cronLogAdapter struct{ log logx.Logger }

func (a cronLogAdapter) Info(msg string, kv ...interface{}) {
	a.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (a cronLogAdapter) Error(err error, msg string, kv ...interface{}) {
	a.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
