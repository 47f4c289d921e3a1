package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"golang.org/x/time/rate"

	"wxsentry/internal/eventbus"
	logx "wxsentry/pkg/logx"
)

// DispatcherConfig controls retry behavior for a single dispatch.
//
// Backoff between attempts is fixed (RetryInterval), not exponential: a
// periodic monitor pushes a handful of alerts, so the provider never sees
// enough traffic to need spacing out.
type DispatcherConfig struct {
	MaxAttempts   int           // default 3
	RetryInterval time.Duration // default 60s
	RatePerSec    int           // default 3
	SendTimeout   time.Duration // per-attempt bound, default 15s
}

// Dispatcher performs delivery attempts against a channel sender with
// bounded retry. It is stateless across calls apart from the shared rate
// limiter; each Dispatch owns its Request for the duration of the call.
//
// Safe for concurrent use.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     DispatcherConfig
	limiter *rate.Limiter

	senders Senders
	log     logx.Logger
	bus     eventbus.Bus
}

func NewDispatcher(cfg DispatcherConfig, senders Senders, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{senders: senders, log: log, bus: bus}
	d.Apply(cfg)
	return d
}

// Apply swaps the retry policy at runtime (config reload).
func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 60 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	d.mu.Lock()
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// SetSenders swaps the channel senders, e.g. after a provider credential
// change. In-flight dispatches keep the sender they started with.
func (d *Dispatcher) SetSenders(senders Senders) {
	d.mu.Lock()
	d.senders = senders
	d.mu.Unlock()
}

// Dispatch delivers req through the sender for its channel, retrying
// transient failures up to MaxAttempts with a fixed pause in between.
// A non-retriable failure stops immediately. Cancellation of ctx stops
// scheduling further attempts; the attempt in flight runs to completion
// under its own timeout.
//
// Dispatch never panics or escalates on delivery failure: the outcome,
// whatever it is, comes back in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	senders := d.senders
	d.mu.Unlock()

	sender, ok := senders[req.Channel]
	if !ok {
		err := fmt.Errorf("no sender for channel %q", req.Channel)
		d.observe(req, 1, false, err)
		return Result{Success: false, AttemptsUsed: 0, LastErr: err}
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = err
				}
				return Result{Success: false, AttemptsUsed: attempt - 1, LastErr: lastErr}
			}
		}

		// Bound per-send call. The attempt itself is atomic from the
		// caller's perspective: Stop() never interrupts it mid-flight.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
		retriable, err := sender.Deliver(callCtx, req)
		cancel()

		d.observe(req, attempt, err == nil, err)

		if err == nil {
			d.log.Info("notification delivered",
				logx.String("source", req.SourceID),
				logx.String("channel", string(req.Channel)),
				logx.Int("attempt", attempt))
			return Result{Success: true, AttemptsUsed: attempt}
		}
		lastErr = err
		d.log.Warn("delivery attempt failed",
			logx.String("source", req.SourceID),
			logx.String("channel", string(req.Channel)),
			logx.Int("attempt", attempt),
			logx.Int("max", cfg.MaxAttempts),
			logx.Bool("retriable", retriable),
			logx.Err(err))

		if !retriable {
			metrics.GetOrCreateCounter(`wxsentry_delivery_fatal_total`).Inc()
			return Result{Success: false, AttemptsUsed: attempt, LastErr: err}
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		// Fixed pause before the next attempt; give up on cancellation.
		t := time.NewTimer(cfg.RetryInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return Result{Success: false, AttemptsUsed: attempt, LastErr: lastErr}
		}
	}

	return Result{Success: false, AttemptsUsed: cfg.MaxAttempts, LastErr: lastErr}
}

// observe makes every attempt independently visible: eventbus for live
// subscribers (status/audit), metrics for the ops endpoint.
func (d *Dispatcher) observe(req Request, attempt int, success bool, err error) {
	outcome := "ok"
	if !success {
		outcome = "fail"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(
		`wxsentry_delivery_attempts_total{channel=%q,outcome=%q}`, req.Channel, outcome)).Inc()

	if d.bus == nil {
		return
	}
	now := time.Now()
	ev := eventbus.DeliveryEvent{
		SourceID: req.SourceID,
		Channel:  string(req.Channel),
		Attempt:  attempt,
		Success:  success,
		At:       now,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryAttempt, Time: now, Data: ev})
}
