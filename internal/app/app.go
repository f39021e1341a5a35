// Package app wires configuration, transport, storage, the command surface
// and the background services into one supervised runtime.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"grabbot/internal/bot"
	"grabbot/internal/broadcast"
	"grabbot/internal/config"
	"grabbot/internal/extract"
	"grabbot/internal/ratelimit"
	"grabbot/internal/relay"
	"grabbot/internal/router"
	rtsup "grabbot/internal/runtime/supervisor"
	"grabbot/internal/stats"
	"grabbot/internal/storage"
	"grabbot/internal/transport/telegram"
	"grabbot/internal/web"
	"grabbot/pkg/logx"

	kit "grabbot/internal/transport"
)

const updateBuffer = 256

// Run builds the full application from the config file at path and blocks
// until ctx is cancelled or a component fails.
func Run(ctx context.Context, configPath string) error {
	cfgMgr := config.NewManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	log = log.With(logx.String("app", "grabbot"))
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))
	cfgMgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("creating telegram adapter: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	agg := stats.New(reg)

	gate := ratelimit.NewGate(cfg.CooldownWindow())
	client := extract.NewClient(cfg.API.BaseURL, cfg.CallTimeout(), log.With(logx.String("comp", "extract")))
	rel := relay.New(adapter, cfg.FetchTimeout(), log.With(logx.String("comp", "relay")))
	bcast := broadcast.New(adapter, cfg.Broadcast.RatePerSec, log.With(logx.String("comp", "broadcast")))

	b := bot.New(bot.Deps{
		Logger:    log.With(logx.String("comp", "bot")),
		Adapter:   adapter,
		Gate:      gate,
		Stats:     agg,
		Extract:   client,
		Relay:     rel,
		Broadcast: bcast,
		Store:     store,
	})

	rtr := router.NewManager(log.With(logx.String("comp", "router")), adapter, cfg.Telegram.AdminUserIDs)

	sup := rtsup.New(ctx,
		rtsup.WithLogger(log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)

	updates := make(chan kit.Update, updateBuffer)
	if err := adapter.Start(sup.Context(), updates); err != nil {
		sup.Cancel()
		return fmt.Errorf("starting telegram adapter: %w", err)
	}
	rtr.Register(sup.Context(), b.Commands()...)

	sup.Go("router.dispatch", func(ctx context.Context) error {
		return rtr.DispatchLoop(ctx, updates)
	})
	sup.Go("config.watch", cfgMgr.Watch)
	startReloadLoop(sup, cfgMgr, logSvc, gate, rtr, bcast, log)
	startWeb(sup, cfg, agg, reg, log)
	stopDigest := startDigest(cfg, adapter, b, log)

	log.Info("bot started",
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
		logx.Bool("storage", store != nil),
		logx.Bool("web", cfg.Web.Enabled))

	<-sup.Context().Done()
	log.Info("shutting down")
	stopDigest()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adapter.Stop(stopCtx); err != nil {
		log.Warn("adapter stop failed", logx.Err(err))
	}
	if err := sup.Wait(stopCtx); err != nil {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	if err := sup.Err(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// startReloadLoop applies config changes that are safe to swap at runtime:
// admin list, cooldown window, broadcast rate and log settings.
func startReloadLoop(sup *rtsup.Supervisor, cfgMgr *config.Manager, logSvc *logx.Service,
	gate *ratelimit.Gate, rtr *router.Manager, bcast *broadcast.Service, log logx.Logger) {

	ch := cfgMgr.Subscribe(4)
	sup.Go0("config.reload", func(ctx context.Context) {
		defer cfgMgr.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok {
					return
				}
				rtr.SetAdmins(cfg.Telegram.AdminUserIDs)
				gate.SetWindow(cfg.CooldownWindow())
				bcast.SetRate(cfg.Broadcast.RatePerSec)
				logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				log.Info("config reloaded",
					logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
					logx.Duration("cooldown", cfg.CooldownWindow()))
			}
		}
	})
}

func startWeb(sup *rtsup.Supervisor, cfg *config.Config, agg *stats.Aggregator,
	reg *prometheus.Registry, log logx.Logger) {

	if !cfg.Web.Enabled {
		return
	}
	addr := cfg.Web.Addr
	if addr == "" {
		addr = config.DefaultWebAddr
	}
	srv := web.New(addr, agg, reg, log.With(logx.String("comp", "web")))
	sup.Go("web.serve", func(context.Context) error {
		return srv.Run()
	})
	sup.Go0("web.shutdown", func(ctx context.Context) {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Warn("web shutdown failed", logx.Err(err))
		}
	})
}

// startDigest schedules the periodic stats digest to all admins. The
// returned func stops the scheduler.
func startDigest(cfg *config.Config, adapter kit.Adapter, b *bot.Bot, log logx.Logger) func() {
	if !cfg.Digest.Enabled || len(cfg.Telegram.AdminUserIDs) == 0 {
		return func() {}
	}
	spec := cfg.Digest.Spec
	if spec == "" {
		spec = config.DefaultDigestSpec
	}
	admins := append([]int64(nil), cfg.Telegram.AdminUserIDs...)

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		text := b.StatsDigest()
		for _, id := range admins {
			if _, err := adapter.SendText(ctx, kit.ChatTarget{ChatID: id}, text, &kit.SendOptions{ParseMode: kit.ParseHTML}); err != nil {
				log.Warn("digest send failed", logx.Int64("admin_id", id), logx.Err(err))
			}
		}
	})
	if err != nil {
		log.Warn("invalid digest schedule", logx.String("spec", spec), logx.Err(err))
		return func() {}
	}
	c.Start()
	log.Info("stats digest scheduled", logx.String("spec", spec))
	return func() { <-c.Stop().Done() }
}
