package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
	"github.com/cptspacemanspiff/activity-defender/internal/config"
	dbussvc "github.com/cptspacemanspiff/activity-defender/internal/dbus"
	"github.com/cptspacemanspiff/activity-defender/internal/httpapi"
	"github.com/cptspacemanspiff/activity-defender/internal/logging"
	"github.com/cptspacemanspiff/activity-defender/internal/metrics"
	"github.com/cptspacemanspiff/activity-defender/internal/service"
	"github.com/cptspacemanspiff/activity-defender/internal/storage"
)

const defaultConfigPath = "/etc/activity-defender/config.toml"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "path to the TOML config file")
	verbose := flag.Bool("verbose", false, "enable all verbose logging (equivalent to -log=all)")
	logFlag := flag.String("log", "", "comma-separated log topics: process,events,scheduler,storage,http (or 'all')")
	resetDB := flag.Bool("reset-db", false, "delete the database and exit")
	idle := flag.Bool("idle", false, "do not start detection until requested over D-Bus")
	flag.Parse()

	topics := logging.ParseTopics(*logFlag)
	if *verbose {
		topics = append(topics, "all")
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		return 1
	}

	logger, logCloser := logging.New(logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Topics:     topics,
	})
	defer logCloser.Close()

	dbPath := cfg.Storage.DBPath
	if *resetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Error("delete database", "err", err)
				return 1
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return 0
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		logger.Error("create data dir", "err", err)
		return 1
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Warn("register metrics", "err", err)
	}

	store, err := storage.Open(dbPath, storage.WithLogger(logging.Topic(logger, "storage")))
	if err != nil {
		logger.Error("open database", "err", err)
		return 1
	}
	defer store.Close()

	svc, err := service.New(store, service.Options{
		Tick:                time.Duration(cfg.Collection.TickSeconds) * time.Second,
		ProcessEverySeconds: cfg.Collection.ProcessIntervalSeconds,
		RetentionDays:       cfg.Cleanup.RetentionDays,
		CleanupEverySeconds: cfg.Cleanup.IntervalHours * 60 * 60,
		OpenEvents:          eventOpener(cfg.Events, logging.Topic(logger, "events")),
		Logger:              logger,
	})
	if err != nil {
		logger.Error("create service", "err", err)
		return 1
	}
	defer svc.Close()

	conn, err := dbussvc.NewService(svc, store, logger).Export(cfg.DBus.Bus)
	if err != nil {
		logger.Error("export dbus service", "err", err)
		return 1
	}
	defer conn.Close()
	logger.Info("D-Bus service registered", "name", dbussvc.BusName, "bus", cfg.DBus.Bus)

	if !*idle {
		if err := svc.StartDetection(); err != nil {
			logger.Error("start detection", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Enabled {
		hcfg := httpapi.DefaultConfig()
		hcfg.Addr = cfg.HTTP.Addr
		hcfg.CORSOrigins = cfg.HTTP.CORSOrigins
		srv := httpapi.New(hcfg, store, svc, logging.Topic(logger, "http"))
		g.Go(func() error { return srv.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	logger.Info("activity-defender started",
		"db", dbPath,
		"tick_seconds", cfg.Collection.TickSeconds,
		"process_interval_seconds", cfg.Collection.ProcessIntervalSeconds)

	if err := g.Wait(); err != nil {
		logger.Error("daemon stopped", "err", err)
		return 1
	}
	logger.Info("shutting down")
	return 0
}

// eventOpener returns a SourceOpener that connects every enabled event source
// and merges them. Sources that cannot connect are skipped.
func eventOpener(cfg config.EventsConfig, logger *slog.Logger) service.SourceOpener {
	return func() (collector.EventSource, error) {
		var (
			sources []collector.EventSource
			errs    []error
		)
		add := func(name string, src collector.EventSource, err error) {
			if err != nil {
				logger.Warn("event source unavailable", "source", name, "err", err)
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			sources = append(sources, src)
		}
		if cfg.ScreenSaver {
			src, err := collector.NewScreenSaverMonitor(logger)
			add("screensaver", src, err)
		}
		if cfg.Logind {
			src, err := collector.NewSleepMonitor(logger)
			add("logind", src, err)
		}
		if cfg.DPMS {
			src, err := collector.NewDPMSMonitor(time.Duration(cfg.DPMSPollSeconds)*time.Second, logger)
			add("dpms", src, err)
		}
		if len(sources) == 0 {
			if len(errs) == 0 {
				return nil, errors.New("no event sources enabled")
			}
			return nil, errors.Join(errs...)
		}
		return collector.Merge(sources...), nil
	}
}
