package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"evcal/internal/cache"
	"evcal/internal/calendar"
	"evcal/internal/config"
	"evcal/internal/i18n"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/query"
	"evcal/internal/store"
	"evcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		os.Exit(hashPassword(os.Args[2:]))
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := appLog.ParseLevel(conf.Log.Level)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.Configure(os.Stderr, conf.Log.Format, level)

	appLog.Info("evcal starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database.Path,
		"cache", conf.Cache.Backend,
		"feeds", len(conf.Feeds),
		"refresh", conf.RefreshCron,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("evcal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("evcal exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, err := store.OpenSQLite(conf.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	importer := ics.NewImporter(ics.NewFetcher(conf.ICSCacheDir), st, feeds(conf.Feeds), ics.ImporterOptions{
		Horizon: time.Duration(conf.HorizonDays) * 24 * time.Hour,
	})
	if flags.once {
		_, err := importer.Run(ctx)
		return err
	}

	respCache, closeCache, err := openCache(ctx, conf.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	resolver := i18n.NewResolver(conf.Locales, conf.SkipEmptyTranslationTitle)
	engine := query.NewEngine(st, resolver)
	mode, err := calendar.ParseBucketMode(conf.BucketMode)
	if err != nil {
		return err
	}
	asm := calendar.NewAssembler(engine, calendar.Options{
		WeekStart:     conf.WeekStartDay(),
		BucketMode:    mode,
		FeaturedLimit: conf.FeaturedLimit,
	})
	srv := web.NewServer(conf, web.Deps{
		Querier:   engine,
		Assembler: asm,
		Resolver:  resolver,
		Cache:     respCache,
	}, flags.debug)

	refresh := newRefresher(ctx, func(ctx context.Context) error {
		_, err := importer.Run(ctx)
		return err
	}, srv.PurgeCache)
	// Imports must finish before the deferred cache and store closes run.
	defer refresh.Wait()

	sched := cron.New(cron.WithLocation(conf.Location()))
	if _, err := sched.AddFunc(conf.RefreshCron, refresh.Job); err != nil {
		return fmt.Errorf("refresh schedule: %w", err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if len(conf.Feeds) > 0 {
		refresh.Start()
	}
	return srv.ListenAndServe(ctx)
}

func feeds(cfgs []config.FeedConfig) []ics.Feed {
	out := make([]ics.Feed, 0, len(cfgs))
	for _, f := range cfgs {
		out = append(out, ics.Feed{
			ID:           f.ID,
			URL:          f.URL,
			Category:     f.Category,
			CategoryName: f.CategoryName,
			Organizer:    f.Organizer,
			Online:       f.Online,
			Timezone:     f.Timezone,
		})
	}
	return out
}

func openCache(ctx context.Context, c config.CacheConfig) (cache.Cache, func(), error) {
	switch c.Backend {
	case "none":
		return cache.Nop{}, func() {}, nil
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			TTL:      c.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return cache.NewMemory(c.TTL), func() {}, nil
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/evcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one feed import and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()
	return cfg
}
