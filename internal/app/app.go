// Package app wires the services together and owns the process lifecycle:
// config manager, log service, store, whitelist, stats, broadcast, transport
// adapter and command router.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"megabuddies/internal/broadcast"
	"megabuddies/internal/config"
	"megabuddies/internal/router"
	"megabuddies/internal/stats"
	"megabuddies/internal/store"
	"megabuddies/internal/transport"
	"megabuddies/internal/transport/telegram"
	"megabuddies/internal/whitelist"
	logx "megabuddies/pkg/logx"
)

// tokenEnv overrides telegram.token from the config file.
const tokenEnv = "MEGABUDDIES_TOKEN"

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store   *store.Store
	wl      *whitelist.Service
	tracker *stats.Tracker
	bc      *broadcast.Service
	adapter transport.Adapter
	router  *router.Router

	cron    *cron.Cron
	updates chan transport.Update

	cancel     context.CancelFunc
	routerDone chan struct{}

	// storagePath pins the path the store was opened with; changing it via
	// hot reload requires a restart.
	storagePath string
}

func NewApp(cfgPath string) (*App, error) {
	// The config file decides the logging setup, so it is loaded before the
	// manager gets a real logger.
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logs, err := logx.NewService(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	log := logs.Logger().With(logx.String("comp", "app"))

	cfgm, err := config.NewManager(cfgPath, logs.Logger().With(logx.String("comp", "config")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	busyTimeout, err := config.ParseDuration(cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		logs.Close()
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "store")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	pollTimeout, err := config.ParseDuration(cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       resolveToken(cfg),
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}

	wl := whitelist.New(whitelist.Config{
		PageSizeMax: cfg.Limits.PageSizeMax,
		ValueMaxLen: cfg.Limits.ValueMaxLen,
	}, st, logs.Logger().With(logx.String("comp", "whitelist")))

	tracker := stats.New(st, logs.Logger().With(logx.String("comp", "stats")))

	bcCfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}
	bc := broadcast.New(bcCfg, st, ad, logs.Logger().With(logx.String("comp", "broadcast")))

	r := router.New(router.Deps{
		Config:    cfgm.Current,
		Whitelist: wl,
		Stats:     tracker,
		Broadcast: bc,
		Adapter:   ad,
		Log:       logs.Logger().With(logx.String("comp", "router")),
	})

	return &App{
		cfgm:        cfgm,
		logs:        logs,
		log:         log,
		store:       st,
		wl:          wl,
		tracker:     tracker,
		bc:          bc,
		adapter:     ad,
		router:      r,
		updates:     make(chan transport.Update, 256),
		storagePath: cfg.Storage.Path,
	}, nil
}

func resolveToken(cfg *config.Config) string {
	if t := strings.TrimSpace(os.Getenv(tokenEnv)); t != "" {
		return t
	}
	return strings.TrimSpace(cfg.Telegram.Token)
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	sendTimeout, err := config.ParseDuration(cfg.Broadcast.SendTimeout, 0)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Workers:     cfg.Broadcast.Workers,
		RatePerSec:  cfg.Broadcast.RatePerSec,
		SendTimeout: sendTimeout,
		PageSize:    cfg.Broadcast.PageSize,
		MaxTextLen:  cfg.Broadcast.MessageMaxLen,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startRecountJob(runCtx); err != nil {
		cancel()
		return err
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	// Best-effort command menu sync.
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		mctx, mcancel := context.WithTimeout(runCtx, 10*time.Second)
		if err := mu.UpdateMenuCommands(mctx, a.router.BotCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		mcancel()
	}

	a.routerDone = make(chan struct{})
	go func() {
		defer close(a.routerDone)
		a.router.Run(runCtx, a.updates)
	}()

	a.cfgm.OnReload(a.applyReload)
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.String("storage", a.storagePath))
	return nil
}

// startRecountJob schedules the nightly counter recompute.
func (a *App) startRecountJob(ctx context.Context) error {
	spec := a.cfgm.Current().Maintenance.RecountSchedule
	if strings.TrimSpace(spec) == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		jctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := a.tracker.Recompute(jctx); err != nil {
			a.log.Warn("scheduled recount failed", logx.Err(err))
			return
		}
		a.log.Info("scheduled recount done")
	})
	if err != nil {
		return fmt.Errorf("maintenance.recount_schedule: %w", err)
	}
	c.Start()
	a.cron = c
	return nil
}

// applyReload pushes a hot-reloaded config into the running services. The
// admin set needs no push: the router reads it through the manager on every
// command.
func (a *App) applyReload(cfg *config.Config) {
	if err := a.logs.SetLevel(cfg.Logging.Level); err != nil {
		a.log.Warn("log level not applied", logx.Err(err))
	}

	if bcCfg, err := mapBroadcastConfig(cfg); err != nil {
		a.log.Warn("broadcast config not applied", logx.Err(err))
	} else {
		a.bc.Apply(bcCfg)
	}

	if cfg.Storage.Path != a.storagePath {
		a.log.Warn("storage.path changed; restart required for it to take effect")
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.cron != nil {
		// Stop returns a context that is done when running jobs finish.
		jobs := a.cron.Stop()
		select {
		case <-jobs.Done():
		case <-ctx.Done():
			a.log.Warn("recount job still running at shutdown")
		}
	}

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop error", logx.Err(err))
	}

	if a.routerDone != nil {
		select {
		case <-a.routerDone:
		case <-ctx.Done():
			a.log.Warn("router did not drain before deadline")
		}
	}

	// The store closes last: broadcast jobs and late handlers may still
	// touch it while unwinding.
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close error", logx.Err(err))
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
