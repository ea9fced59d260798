package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"marketchat/internal/sweeper"
	"marketchat/pkg/api/auth"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/config"
	"marketchat/pkg/directory"
	"marketchat/pkg/gateway"
	"marketchat/pkg/logger"
	"marketchat/pkg/messages"
	"marketchat/pkg/outbox"
	"marketchat/pkg/readstate"
	"marketchat/pkg/registry"
	"marketchat/pkg/state"
	"marketchat/pkg/store"
	"marketchat/pkg/store/locks"
	"marketchat/pkg/telemetry"
)

// App groups server state and components.
type App struct {
	eff     config.EffectiveConfigResult
	version string
	paths   state.Paths

	ctx    context.Context
	cancel context.CancelFunc

	st      *store.Store
	dir     *directory.PebbleDirectory
	reg     *registry.Registry
	msgs    *messages.Store
	reads   *readstate.Tracker
	queue   *outbox.Queue
	hub     *gateway.Hub
	broker  gateway.Broker
	gw      *gateway.Gateway
	sweeper *sweeper.Sweeper
	gate    *auth.Gate

	srv          *fasthttp.Server
	stopStreams  chan struct{}
	shutdownOnce sync.Once
}

// New opens storage and wires the messaging core. It does not start
// workers or the HTTP server; Run does.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	a := &App{eff: eff, version: version, paths: state.PathsFor(eff.DBPath), stopStreams: make(chan struct{})}
	if err := state.Ensure(a.paths); err != nil {
		return nil, fmt.Errorf("state directories under %s: %w", eff.DBPath, err)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	config.SetRuntime(config.NewRuntime(cfg))

	if cfg.Logging.Audit.Enabled {
		maxMB := int(cfg.Logging.Audit.MaxSize.Int64() / (1024 * 1024))
		if maxMB < 1 {
			maxMB = 1
		}
		if err := logger.AttachAuditFileSink(a.paths.Logs, logger.AuditOptions{
			MaxSizeMB:  maxMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		}); err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}

	tc := cfg.Telemetry
	if err := telemetry.Init(telemetry.Options{
		Dir:           a.paths.Telemetry,
		BufferSize:    int(tc.BufferSize.Int64()),
		QueueCapacity: tc.QueueCapacity,
		FlushInterval: tc.FlushInterval.Duration(),
		MaxFileSize:   tc.FileMaxSize.Int64(),
		SampleRate:    tc.SampleRate,
		SlowThreshold: tc.SlowThreshold.Duration(),
	}); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	st, err := store.Open(a.paths.Store, store.Options{DisableWAL: cfg.Store.DisableWAL})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", a.paths.Store, err)
	}
	a.st = st

	if err := a.wire(); err != nil {
		_ = st.Close()
		return nil, err
	}
	a.logDurabilitySummary()
	return a, nil
}

func (a *App) wire() error {
	cfg := a.eff.Config
	lk := locks.New()
	a.dir = directory.NewPebble(a.st)
	a.reg = registry.New(a.st, a.dir, a.dir, lk)
	a.msgs = messages.New(a.st, a.reg, a.dir, a.dir, directory.PublicFiles{BaseURL: cfg.Files.BaseURL}, lk, messages.Options{
		MaxBodyBytes:    int(cfg.Messages.MaxBodyBytes.Int64()),
		DefaultPageSize: cfg.Messages.DefaultPageSize,
		MaxPageSize:     cfg.Messages.MaxPageSize,
		RouteToAgent:    cfg.Routing.RouteToAgent,
	})
	a.reads = readstate.New(a.st, a.reg, lk)

	d := cfg.Delivery
	a.queue = outbox.NewQueue(d.QueueCapacity)
	telemetry.SetQueueSource(a.queue)
	a.hub = gateway.NewHub(d.HubBuffer)
	switch d.Broker {
	case "redis":
		rb, err := gateway.NewRedisBroker(a.ctx, gateway.RedisOptions{
			Addr:     d.Redis.Addr,
			Password: d.Redis.Password,
			DB:       d.Redis.DB,
			Prefix:   d.Redis.Prefix,
		}, a.hub)
		if err != nil {
			return err
		}
		a.broker = rb
	default:
		a.broker = gateway.HubBroker{Hub: a.hub}
	}
	a.gw = gateway.New(a.st, a.reg, a.msgs, a.reads, a.dir, a.queue, a.broker, gateway.Options{
		Workers:        d.Workers,
		MaxAttempts:    d.MaxAttempts,
		RetryBackoff:   d.RetryBackoff.Duration(),
		ReadReceipts:   d.ReadReceipts,
		PublishTimeout: d.PublishTimeout.Duration(),
	})
	a.msgs.SetPublisher(a.gw)
	a.reads.SetNotifier(a.gw)
	a.reg.SetNotifier(a.gw)

	sw := cfg.Sweeper
	s, err := sweeper.New(a.st, a.queue, sweeper.Options{
		Cron:      sw.Cron,
		MinAge:    sw.MinAge.Duration(),
		BatchSize: sw.BatchSize,
		LockTTL:   sw.LockTTL.Duration(),
		LockDir:   a.paths.Sweeper,
	})
	if err != nil {
		return err
	}
	a.sweeper = s
	a.gate = auth.NewGate(auth.NewSecConfig(cfg))
	return nil
}

// services exposes the wired core to the HTTP layer.
func (a *App) services() *common.Services {
	return &common.Services{
		Store:     a.st,
		Directory: a.dir,
		Registry:  a.reg,
		Messages:  a.msgs,
		Reads:     a.reads,
		Gateway:   a.gw,
		Hub:       a.hub,
		Queue:     a.queue,
		Sweep:     a.sweeper.RunOnce,
		Version:   a.version,
		Stop:      a.stopStreams,
	}
}

func (a *App) logDurabilitySummary() {
	cfg := a.eff.Config
	items := []string{
		fmt.Sprintf("queue_capacity: %s", humanize.Comma(int64(cfg.Delivery.QueueCapacity))),
		fmt.Sprintf("delivery_workers: %d", cfg.Delivery.Workers),
		fmt.Sprintf("max_attempts: %d", cfg.Delivery.MaxAttempts),
		fmt.Sprintf("broker: %s", cfg.Delivery.Broker),
		fmt.Sprintf("sweeper: %v (%s, min age %s)", cfg.Sweeper.Enabled, cfg.Sweeper.Cron, cfg.Sweeper.MinAge),
		fmt.Sprintf("pebble_wal_disabled: %v", cfg.Store.DisableWAL),
	}
	if cfg.Store.DisableWAL {
		items = append(items, "warning: acknowledged sends may be lost on crash")
	}
	logger.LogConfigSummary("config_durability_summary", items)
}

// Run recovers pending deliveries, starts workers, the sweeper and the HTTP
// server, and blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.gw.Start()
	n, err := outbox.Recover(a.st, a.queue)
	if err != nil {
		return fmt.Errorf("outbox recovery: %w", err)
	}
	logger.Info("outbox_recovery_done", "requeued", n)

	if a.eff.Config.Sweeper.Enabled {
		a.sweeper.Start(a.ctx)
	} else {
		logger.Info("sweeper_disabled")
	}

	errCh := a.startHTTP()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting requests, drains delivery and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	a.shutdownOnce.Do(func() {
		logger.Info("shutdown_requested")
		close(a.stopStreams)
		if a.srv != nil {
			if err := a.srv.Shutdown(); err != nil {
				logger.Error("http_shutdown_error", "error", err)
			}
		}
		a.cancel()
		a.sweeper.Wait()
		if a.gate != nil {
			a.gate.Close()
		}
		if err := a.gw.Shutdown(ctx); err != nil {
			logger.Error("gateway_shutdown_error", "error", err)
			firstErr = err
		}
		if err := a.broker.Close(); err != nil {
			logger.Error("broker_close_error", "error", err)
		}
		if err := a.st.Flush(); err != nil {
			logger.Error("store_flush_error", "error", err)
		}
		if err := a.st.Close(); err != nil {
			logger.Error("store_close_error", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		telemetry.Close()
		logger.Info("shutdown_complete")
	})
	return firstErr
}
