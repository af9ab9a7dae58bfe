// Package app wires the engine together: config, logging, storage,
// the dispatch pipeline and the intake surfaces.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"safetynotify/internal/channel"
	"safetynotify/internal/compose"
	"safetynotify/internal/config"
	"safetynotify/internal/dispatch"
	"safetynotify/internal/escalate"
	"safetynotify/internal/httpapi"
	"safetynotify/internal/recipient"
	"safetynotify/internal/storage"
	"safetynotify/internal/trigger"
	"safetynotify/internal/webhook"
	"safetynotify/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     storage.Store
	locker    interface{ Close() error }
	directory *recipient.StaticDirectory
	providers atomic.Value // channel.Providers

	coordinator *dispatch.Coordinator
	scheduler   *escalate.Scheduler
	httpSrv     *httpapi.Server
	nats        *trigger.NatsSubscriber

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	a := &App{}

	a.cfgMgr = config.NewManager(cfgPath)
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", cfgPath, err)
	}

	a.logSvc, a.log = logx.New(cfg.Logging.Build())
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))

	storeCfg, err := cfg.Storage.Build()
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(storeCfg, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rules, people, err := cfg.Directory.Build()
	if err != nil {
		return nil, err
	}
	a.directory = recipient.NewStaticDirectory(rules, people)

	providers, err := cfg.Providers.Build()
	if err != nil {
		return nil, err
	}
	a.providers.Store(providers)

	var locker dispatch.Locker = dispatch.NopLocker{}
	if cfg.Redis != nil {
		rl := storage.NewRedisLocker(cfg.Redis.Build())
		locker = rl
		a.locker = rl
	}

	dispatchCfg, err := cfg.Dispatch.Build()
	if err != nil {
		return nil, err
	}
	router := channel.NewRouter(a.snapshotProviders, a.log.With(logx.String("comp", "router")))
	resolver := recipient.NewResolver(a.directory, a.log.With(logx.String("comp", "resolver")))
	a.coordinator = dispatch.New(dispatchCfg, resolver, a.directory, compose.New(), router,
		a.store, locker, a.log.With(logx.String("comp", "dispatch")))

	escCfg, err := cfg.Escalation.Build()
	if err != nil {
		return nil, err
	}
	a.scheduler = escalate.NewScheduler(escCfg, a.store, a.coordinator,
		a.log.With(logx.String("comp", "escalate")))

	serverCfg, err := cfg.Server.Build()
	if err != nil {
		return nil, err
	}
	processor := webhook.NewProcessor(a.store, a.log.With(logx.String("comp", "webhook")))
	a.httpSrv = httpapi.NewServer(serverCfg, processor, a.coordinator, a.store,
		a.log.With(logx.String("comp", "http")))

	if cfg.Nats != nil && cfg.Nats.Build().Configured() {
		a.nats = trigger.NewNatsSubscriber(cfg.Nats.Build(), a.coordinator,
			a.log.With(logx.String("comp", "nats")))
	}
	return a, nil
}

func (a *App) snapshotProviders() channel.Providers {
	v, _ := a.providers.Load().(channel.Providers)
	return v
}

func (a *App) Start(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	if a.nats != nil {
		if err := a.nats.Start(); err != nil {
			return err
		}
	}

	go func() {
		if err := a.httpSrv.Start(); err != nil {
			a.log.Error("http server stopped", logx.Err(err))
		}
	}()

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	updates := a.cfgMgr.Subscribe(1)
	go func() {
		defer close(a.watchDone)
		for {
			select {
			case <-watchCtx.Done():
				a.cfgMgr.Unsubscribe(updates)
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()
	go func() { _ = a.cfgMgr.Watch(watchCtx) }()

	a.log.Info("dispatch engine started")
	return nil
}

// applyReload swaps the hot-swappable parts: log output, provider
// credentials and the recipient directory. Storage, schedules and
// server addresses stay as booted; those need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(cfg.Logging.Build())

	providers, err := cfg.Providers.Build()
	if err != nil {
		a.log.Warn("reload: providers rejected", logx.Err(err))
	} else {
		a.providers.Store(providers)
	}

	rules, people, err := cfg.Directory.Build()
	if err != nil {
		a.log.Warn("reload: directory rejected", logx.Err(err))
		return
	}
	a.directory.Replace(rules, people)
	a.log.Info("config applied",
		logx.Int("matrix_rules", len(rules)),
		logx.Int("people", len(people)))
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	if a.nats != nil {
		a.nats.Stop()
	}
	a.scheduler.Stop()

	if a.locker != nil {
		_ = a.locker.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	_ = a.logSvc.Close()
	return nil
}
