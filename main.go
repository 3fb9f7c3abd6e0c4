package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gexflow/config"
	"gexflow/internal/archive"
	"gexflow/internal/feed"
	"gexflow/internal/market"
	"gexflow/internal/pacing"
	"gexflow/internal/store"
	"gexflow/internal/upstream"
	"gexflow/internal/webapi"
	"gexflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Gexflow.Name,
		"version": cfg.Gexflow.Version,
	}).Info("starting gexflow")

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.StartReport(ctx, log, 30*time.Second)

	clock, err := market.NewClock(cfg.Session.Timezone, cfg.Session.StartMinute, cfg.Session.EndMinute)
	if err != nil {
		log.WithError(err).Error("failed to build session clock")
		os.Exit(1)
	}

	var snapshots store.Store
	if cfg.Storage.Postgres.Enabled {
		snapshots, err = store.NewPostgres(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			log.WithError(err).Error("failed to connect to postgres")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Warn("postgres disabled; using in-memory snapshot store")
		snapshots = store.NewMemory()
	}
	defer snapshots.Close()

	var archiver *archive.Writer
	if cfg.Storage.S3.Enabled {
		archiver, err = archive.NewWriter(cfg.Storage.S3)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
		snapshots = archive.NewArchivingStore(snapshots, archiver)
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping cold archive")
	}

	gate := pacing.NewGate(cfg.Pacing.GlobalGap, cfg.Pacing.QueueGaps)
	client := upstream.NewClient(cfg.Upstream, gate)

	loops := make(map[string]*feed.Loop)

	if cfg.Feeds.Chain.Enabled {
		chain := feed.NewChainFeed(cfg.Feeds.Chain, client, snapshots, clock)
		loops[chain.ID()] = feed.NewLoop(chain, clock, scheduleFor(cfg, cfg.Feeds.Chain.FeedScheduleConfig, true), cfg.Feeds.Chain.ExpiryOverride)
	}
	if cfg.Feeds.Breadth.Enabled {
		breadth := feed.NewBreadthFeed(cfg.Feeds.Breadth, client, snapshots)
		loops[breadth.ID()] = feed.NewLoop(breadth, clock, scheduleFor(cfg, cfg.Feeds.Breadth.FeedScheduleConfig, false), "")
	}

	for id, loop := range loops {
		if err := loop.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"feed": id}).Warn("poll loop failed to start")
		}
	}

	web := webapi.NewServer(cfg.Web, loops, client, cfg.Feeds.Chain.MaxAttempts)
	if web != nil {
		web.Start()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if web != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		web.Stop(shutdownCtx)
		shutdownCancel()
	}

	for id, loop := range loops {
		log.WithFields(logger.Fields{"feed": id}).Info("stopping poll loop")
		loop.Stop()
	}

	if archiver != nil {
		log.Info("stopping archive writer")
		archiver.Stop()
	}

	log.Info("gexflow stopped")
}

// scheduleFor maps the config surface onto a loop schedule. Chain records are
// minute-aligned so each in-session minute bucket receives one snapshot.
func scheduleFor(cfg *config.Config, sched config.FeedScheduleConfig, alignMinute bool) feed.Schedule {
	return feed.Schedule{
		BaseInterval:    sched.BaseInterval,
		MinInterval:     sched.MinInterval,
		BackoffStep:     sched.BackoffStep,
		MaxBackoffSteps: sched.MaxBackoffSteps,
		JitterCeiling:   sched.JitterCeiling,
		GateBySession:   cfg.Session.GateEnabled,
		ClosedSleep:     cfg.Session.ClosedSleep,
		AlignMinute:     alignMinute,
	}
}
