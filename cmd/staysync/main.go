package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"

	"staysync/internal/availability"
	"staysync/internal/config"
	"staysync/internal/ics"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/occupancy"
	"staysync/internal/pms"
	"staysync/internal/reconcile"
	"staysync/internal/scheduler"
	"staysync/internal/store"
	"staysync/internal/syncer"
	"staysync/internal/web"
)

var version = "0.1.0-dev"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       string
	fullResync bool
	logLevel   string
}

// app bundles the wired components.
type app struct {
	cfg          *config.Config
	clock        model.Clock
	store        *store.Store
	redis        *redis.Client
	availability *availability.Service
	resolver     *occupancy.Resolver
	inbound      *syncer.Inbound
	ical         *syncer.ICalSync
	lifecycle    *syncer.Lifecycle
	reconciler   *reconcile.Reconciler
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("staysync starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"db_driver", conf.Database.Driver,
		"pms_configured", conf.PMS.Configured(),
		"token_cache", conf.PMS.TokenCache,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(conf)
	if err != nil {
		appLog.Error("startup failed", err)
		os.Exit(1)
	}
	defer a.close()

	if flags.once != "" {
		if err := a.runOnce(ctx, flags.once, flags.fullResync); err != nil {
			appLog.Error("job failed", err, "job", flags.once)
			os.Exit(1)
		}
		return
	}

	sched := scheduler.New(ctx, a.clock.Location, 30*time.Minute)
	if err := a.registerJobs(sched); err != nil {
		appLog.Error("scheduler setup failed", err)
		os.Exit(1)
	}
	sched.Start()

	srv := web.NewServer(conf, web.Services{
		Store:        a.store,
		Availability: a.availability,
		Occupancy:    a.resolver,
		Inbound:      a.inbound,
		ICal:         a.ical,
		Lifecycle:    a.lifecycle,
		Reconciler:   a.reconciler,
		Clock:        a.clock,
	})
	if err := srv.Run(ctx); err != nil {
		appLog.Error("http server failed", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	appLog.Info("staysync exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/staysync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.once, "once", "", "Run one job and exit: inbound, snapshot, ical, expire, reconcile, backfill")
	flag.BoolVar(&cfg.fullResync, "full", false, "With -once inbound: ignore the modifiedFrom watermark")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level (overrides config if set)")

	flag.Parse()

	return cfg
}

func build(conf *config.Config) (*app, error) {
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", conf.Timezone, err)
	}
	a := &app{cfg: conf, clock: model.SystemClock(loc)}

	a.store, err = store.Open(conf.Database.Driver, conf.Database.DSN)
	if err != nil {
		return nil, err
	}

	var tokens pms.TokenCache = pms.NewMemoryTokenCache()
	if conf.PMS.TokenCache == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		tokens = pms.NewRedisTokenCache(a.redis, "")
	}

	client := pms.New(pms.Config{
		BaseURL:           conf.PMS.BaseURL,
		RefreshToken:      conf.PMS.RefreshToken,
		Timeout:           time.Duration(conf.PMS.TimeoutSeconds) * time.Second,
		RequestsPerSecond: conf.PMS.RequestsPerSecond,
		Burst:             conf.PMS.Burst,
	}, tokens, a.store)
	if !client.Configured() {
		appLog.Warn("PMS credentials not configured; API-connected units will report UNKNOWN")
	}

	feeds := ics.NewFetcher(time.Duration(conf.ICal.TimeoutSeconds) * time.Second)

	a.availability = availability.New(a.store, a.clock)
	a.resolver = occupancy.NewResolver(a.store, feeds, a.clock)
	a.inbound = syncer.NewInbound(a.store, client, a.availability, a.resolver, a.clock,
		time.Duration(conf.Sync.InboundWindowHours)*time.Hour)
	a.ical = syncer.NewICalSync(a.store, feeds, a.clock)
	a.lifecycle = syncer.NewLifecycle(a.store, a.availability, syncer.NewOutbound(a.store, client))
	a.reconciler = reconcile.New(a.store, client, a.clock, conf.Sync.ReconcileDays)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			appLog.Error("store close failed", err)
		}
	}
}

func (a *app) jobs(fullResync bool) map[string]scheduler.Job {
	return map[string]scheduler.Job{
		"inbound": func(ctx context.Context) error {
			_, err := a.inbound.SyncInbound(ctx, syncer.InboundOptions{FullResync: fullResync})
			return err
		},
		"snapshot": func(ctx context.Context) error {
			_, err := a.resolver.GenerateDailySnapshot(ctx, nil)
			return err
		},
		"ical": func(ctx context.Context) error {
			_, err := a.ical.SyncAll(ctx)
			return err
		},
		"expire": func(ctx context.Context) error {
			_, err := a.availability.ExpireSweep(ctx)
			return err
		},
		"reconcile": func(ctx context.Context) error {
			rep, err := a.reconciler.Reconcile(ctx, reconcile.Options{})
			if err == nil && len(rep.Mismatches) > 0 {
				appLog.Warn("reconciliation found mismatches", "count", len(rep.Mismatches), "run_id", rep.RunID)
			}
			return err
		},
		"backfill": func(ctx context.Context) error {
			_, err := a.availability.BackfillFromBookings(ctx)
			return err
		},
	}
}

func (a *app) registerJobs(s *scheduler.Scheduler) error {
	jobs := a.jobs(false)
	sc := a.cfg.Schedule
	specs := []struct{ name, spec string }{
		{"inbound", sc.InboundSync},
		{"snapshot", sc.DailySnapshot},
		{"ical", sc.ICalSync},
		{"expire", sc.ExpireSweep},
		{"reconcile", sc.Reconcile},
	}
	for _, j := range specs {
		if err := s.Add(j.name, j.spec, jobs[j.name]); err != nil {
			return err
		}
	}
	return nil
}

// runOnce runs a single job and prints its result as JSON.
func (a *app) runOnce(ctx context.Context, name string, fullResync bool) error {
	var (
		out any
		err error
	)
	switch name {
	case "inbound":
		out, err = a.inbound.SyncInbound(ctx, syncer.InboundOptions{FullResync: fullResync})
	case "snapshot":
		out, err = a.resolver.GenerateDailySnapshot(ctx, nil)
	case "ical":
		out, err = a.ical.SyncAll(ctx)
	case "expire":
		var n int64
		n, err = a.availability.ExpireSweep(ctx)
		out = map[string]int64{"expired": n}
	case "reconcile":
		out, err = a.reconciler.Reconcile(ctx, reconcile.Options{})
	case "backfill":
		out, err = a.availability.BackfillFromBookings(ctx)
	default:
		return errors.New("unknown job " + name)
	}

	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
	return err
}
