// Package app wires configuration, logging, storage, delivery, and the
// monitor loop into one process, and keeps them in sync across config
// reloads.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wxsentry/internal/config"
	"wxsentry/internal/eventbus"
	"wxsentry/internal/health"
	"wxsentry/internal/monitor"
	"wxsentry/internal/notify"
	"wxsentry/internal/ops"
	"wxsentry/internal/storage"
	logx "wxsentry/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store

	dispatcher *notify.Dispatcher
	mon        *monitor.Service
	opsSrv     *ops.Server

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	cfgm.Commit(cfg)

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ppClient, err := notify.NewPushPlusClient(mapPushPlusConfig(cfg), log.With(logx.String("comp", "pushplus")))
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(dcfg, notify.PushPlusSenders(ppClient),
		log.With(logx.String("comp", "dispatch")), bus)

	hcfg, err := mapHealthConfig(cfg)
	if err != nil {
		return nil, err
	}
	checker, err := health.NewHTTPChecker(hcfg, log.With(logx.String("comp", "health")))
	if err != nil {
		return nil, err
	}

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon, err := monitor.New(mcfg, checker, dispatcher,
		log.With(logx.String("comp", "monitor")), bus, store)
	if err != nil {
		return nil, err
	}
	seedRegistry(mon, cfg, store, log)

	opsSrv := ops.NewServer(mon.Status, log)

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		dispatcher: dispatcher,
		mon:        mon,
		opsSrv:     opsSrv,
	}, nil
}

// seedRegistry merges persisted monitors with the config-declared ones.
// Config wins on conflicting recipients; the current identity is always
// watched.
func seedRegistry(mon *monitor.Service, cfg *config.Config, store storage.Store, log logx.Logger) {
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		saved, err := store.LoadMonitors(ctx)
		cancel()
		if err != nil {
			log.Warn("monitor registry restore failed", logx.Err(err))
		} else if len(saved) > 0 {
			mon.Restore(saved)
			log.Info("monitor registry restored", logx.Int("monitors", len(saved)))
		}
	}
	if len(cfg.Monitors) > 0 {
		mon.Restore(cfg.Monitors)
	}
	if cfg.Basic.CurrentWxid != "" {
		mon.Restore(map[string]string{cfg.Basic.CurrentWxid: ""})
	}
}

// Monitor exposes the monitor service for operational callers (tests,
// embedding hosts).
func (a *App) Monitor() *monitor.Service { return a.mon }

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		cfg.Normalize()
		if err := cfg.Validate(); err != nil {
			return err
		}
		// Component mappings double as reload validation.
		if _, err := mapDispatcherConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMonitorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHealthConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	cfg := a.cfgm.Get()

	if err := a.mon.Start(a.runCtx); err != nil {
		if err == monitor.ErrDisabled {
			a.log.Warn("monitoring disabled in config; running idle")
		} else {
			return err
		}
	}

	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.opsSrv.Apply(a.runCtx, ocfg); err != nil {
		return err
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(a.runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil && a.runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	// Debug visibility into bus traffic.
	events, unsub := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-a.runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	a.log.Info("wxsentry started")
	return nil
}

// reloadLoop applies committed config updates to the live components.
// Bursts coalesce to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(ctx, newCfg)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	// Logging first so the rest of the reload logs at the new level.
	a.logs.Apply(mapLoggingConfig(cfg))

	if dcfg, err := mapDispatcherConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.Apply(dcfg)
	}

	if client, err := notify.NewPushPlusClient(mapPushPlusConfig(cfg), a.log.With(logx.String("comp", "pushplus"))); err != nil {
		a.log.Warn("invalid pushplus config; keeping previous", logx.Err(err))
	} else {
		a.dispatcher.SetSenders(notify.PushPlusSenders(client))
	}

	if mcfg, err := mapMonitorConfig(cfg); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	} else if err := a.mon.Apply(mcfg); err != nil {
		a.log.Warn("monitor reload failed; keeping previous", logx.Err(err))
	}

	if ocfg, err := mapOpsConfig(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if err := a.opsSrv.Apply(ctx, ocfg); err != nil {
		a.log.Warn("ops reload failed", logx.Err(err))
	}

	if _, enabled, _ := mapStorageConfig(cfg); enabled != (a.store != nil) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

// Reload re-reads the config file on demand and applies it, same path as
// the fsnotify-triggered reload. Invalid files are rejected and the running
// config stays in effect.
func (a *App) Reload(ctx context.Context) error {
	cfg, err := a.cfgm.Parse()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	a.cfgm.Commit(cfg)
	a.applyConfig(ctx, cfg)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if a.runCancel != nil {
		a.runCancel()
	}

	// Monitor first: it stops producing work for the dispatcher.
	if err := a.mon.Stop(ctx); err != nil {
		a.log.Warn("monitor stop", logx.Err(err))
	}

	a.opsSrv.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("stop deadline reached with background loops still running")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
