package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cybercyphers/cyphbeta/internal/api"
	"github.com/cybercyphers/cyphbeta/internal/auth"
	"github.com/cybercyphers/cyphbeta/internal/backend"
	"github.com/cybercyphers/cyphbeta/internal/backoff"
	"github.com/cybercyphers/cyphbeta/internal/cache"
	"github.com/cybercyphers/cyphbeta/internal/command"
	"github.com/cybercyphers/cyphbeta/internal/config"
	"github.com/cybercyphers/cyphbeta/internal/connection"
	"github.com/cybercyphers/cyphbeta/internal/delivery"
	"github.com/cybercyphers/cyphbeta/internal/gate"
	"github.com/cybercyphers/cyphbeta/internal/gateway"
	"github.com/cybercyphers/cyphbeta/internal/logging"
	"github.com/cybercyphers/cyphbeta/internal/observability"
	"github.com/cybercyphers/cyphbeta/internal/periodic"
	"github.com/cybercyphers/cyphbeta/internal/scheduler"
	"github.com/cybercyphers/cyphbeta/internal/settings"
)

const shutdownTimeout = 10 * time.Second

func runBot(ctx context.Context) error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}
	logger, err := logging.Init("cyphbot", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup_failed", "error", err.Error())
		return err
	}
	defer a.close()

	logger.Info("cyphbot_starting",
		"addr", cfg.Server.Address,
		"gateway", cfg.Gateway.URL,
		"schedules", cfg.Paths.Schedules,
		"redis", a.redis != nil,
	)
	return a.run(ctx)
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	settings   *settings.Store
	allow      *settings.AllowList
	conn       *connection.Controller
	sender     *delivery.Sender
	sched      *scheduler.Scheduler
	dispatcher *command.Dispatcher
	sweeper    *periodic.Loop
	server     *http.Server
	redis      *redis.Client

	armed atomic.Bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := settings.Open(cfg.Paths.Settings)
	if err != nil {
		return nil, err
	}
	snap := st.Snapshot()
	if err := settings.ValidatePhone(snap.Phone); err != nil {
		return nil, fmt.Errorf("%s: phone_number: %w", cfg.Paths.Settings, err)
	}

	allow, err := settings.LoadAllowList(cfg.Paths.AllowList, logger.With("component", "allowlist"))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, settings: st, allow: allow}

	creds := auth.NewStore(cfg.Paths.AuthDir)
	dialer := gateway.NewDialer(cfg.Gateway.URL, cfg.Gateway.DialTimeout, creds, logger.With("component", "gateway"))

	policy := backoff.DefaultPolicy()
	policy.Base = cfg.Reconnect.Base
	policy.Step = cfg.Reconnect.Step
	policy.Cap = cfg.Reconnect.Cap
	policy.Budget = cfg.Reconnect.Budget
	policy.Fallback = cfg.Reconnect.Fallback

	a.conn = connection.New(dialer, creds, connection.Options{
		Phone:     snap.Phone,
		Policy:    policy,
		Online:    st.Online,
		OnOpen:    a.onOpen,
		OnMessage: a.onMessage,
		Logger:    logger,
	})

	sendLog := logger.With("component", "delivery")
	a.sender = delivery.NewSender(a.conn, delivery.Options{
		ContentMax:    cfg.Delivery.ContentMax,
		RatePerSecond: cfg.Delivery.RatePerSecond,
		Burst:         cfg.Delivery.Burst,
	}, sendLog).WithHooks(
		func(ctx context.Context, chat, remoteID string) {
			sendLog.Debug("message_sent", "chat", chat, "remote_id", remoteID)
		},
		func(ctx context.Context, chat, reason string) {
			sendLog.Warn("message_send_failed", "chat", chat, "reason", reason)
		},
	)

	schedOpts := []scheduler.Option{scheduler.WithLogger(logger.With("component", "scheduler"))}
	if cfg.Redis.Enabled {
		if rc := a.connectRedis(ctx); rc != nil {
			schedOpts = append(schedOpts, scheduler.WithReceipts(rc))
		}
	}
	a.sched = scheduler.New(scheduler.NewFileStore(cfg.Paths.Schedules), a.sender, schedOpts...)

	registry := command.NewRegistry()
	for name, h := range map[string]command.Handler{
		"schedule": command.NewSchedule(a.sched),
		"online":   command.NewOnline(st, a.conn),
		"creator": command.NewCreator(command.CreatorInfo{
			Name:     cfg.Creator.Name,
			Phone:    cfg.Creator.Phone,
			Telegram: cfg.Creator.Telegram,
		}),
	} {
		if err := registry.Register(name, h); err != nil {
			return nil, err
		}
	}
	a.dispatcher = command.NewDispatcher(registry, a.sender, a.gateConfig, logger)

	a.sweeper, err = periodic.New("schedule-retention", cfg.Schedule.SweepInterval, a.sweep, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	observability.Register(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := api.Router(
		api.NewHandler(a.conn, a.sched, a.sweeper),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
	a.server = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.LoggingMiddleware(logger.With("component", "http"), router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// connectRedis returns nil when Redis is unreachable; the bot then runs
// without delivery receipts.
func (a *app) connectRedis(ctx context.Context) cache.ReceiptCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	rc := cache.NewRedisCache(rdb, a.cfg.Redis.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		a.logger.Warn("redis_unavailable", "addr", a.cfg.Redis.Address, "error", err.Error())
		_ = rdb.Close()
		return nil
	}
	a.redis = rdb
	return rc
}

func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.sweeper.Start()

	g.Go(func() error {
		if err := a.allow.Watch(gctx); err != nil {
			a.logger.Warn("allowlist_watch_disabled", "error", err.Error())
		}
		return nil
	})

	g.Go(func() error {
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := a.conn.Run(gctx)
		var fatal *connection.FatalError
		if errors.As(err, &fatal) {
			a.logger.Error("connection_fatal", "status", fatal.StatusCode)
		}
		return err
	})

	err := g.Wait()
	a.logger.Info("cyphbot_stopped")
	return err
}

func (a *app) close() {
	a.sweeper.Stop()
	a.sched.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// onOpen arms persisted schedules the first time a session opens. A failed
// load is retried on the next open.
func (a *app) onOpen(ctx context.Context) {
	if !a.armed.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if _, _, err := a.sched.LoadAndArm(ctx); err != nil {
			a.logger.Error("schedules_load_failed", "error", err.Error())
			a.armed.Store(false)
		}
	}()
}

func (a *app) onMessage(ctx context.Context, msg backend.Message) {
	a.dispatcher.Handle(ctx, msg)
}

func (a *app) gateConfig() gate.Config {
	return gate.Config{
		Mode:    gate.ParseMode(a.settings.Snapshot().Mode),
		Owner:   a.conn.Owner(),
		Allowed: a.allow,
	}
}

// sweep prunes records past the retention horizon; the loop reports the count.
func (a *app) sweep(ctx context.Context) (int, error) {
	return a.sched.Cleanup(ctx, a.cfg.Schedule.Retention)
}
