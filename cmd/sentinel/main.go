package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/internal/catalog"
	"sentinel/internal/config"
	"sentinel/internal/emit"
	"sentinel/internal/engine"
	"sentinel/internal/ingest"
	"sentinel/internal/logging"
	"sentinel/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sentinel:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	dumpConfig := flag.String("dump-config", "", "write the effective config to a path and exit")
	flag.Parse()

	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()
	if *dumpConfig != "" {
		if err := config.Save(*dumpConfig, cfg); err != nil {
			return fmt.Errorf("dump config: %w", err)
		}
		return nil
	}
	logger := logging.NewLogger(cfg.LogLevel)

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog loaded", "path", cfg.Catalog.Path, "products", cat.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}

	sink, err := emit.NewFileSink(cfg.Sink.Path)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	emitter := emit.NewEmitter(sink, cfg.Sink, emit.NewStore(cfg.Events.StoreLimit), store, logger)

	eng := engine.NewEngine(cfg, cat, emitter, store, logger)

	queue := ingest.NewQueue(cfg.Ingest, logger)
	parser := ingest.NewParser()
	streamErrs := ingest.StartStream(ctx, cfg.Ingest.Stream, parser, queue, logger)
	ingest.StartFileReplay(ctx, cfg.Ingest.FileReplay, parser, queue, logger)
	ingest.StartKafka(ctx, cfg.Ingest.Kafka, parser, queue, logger)
	if err := ingest.StartNATS(ctx, cfg.Ingest.NATS, parser, queue, logger); err != nil {
		return fmt.Errorf("start nats ingest: %w", err)
	}

	eng.Start(ctx, queue.Records())

	if mgr.Path() != "" {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		go mgr.Watch(3*time.Second,
			func(next *config.Config) {
				logger.Info("config reloaded")
				eng.UpdateConfig(next)
			},
			func(err error) { logger.Warn("config reload failed", "err", err) },
			stopWatch)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigs:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-streamErrs:
		logger.Error("stream ingest failed", "err", err)
		runErr = err
	case err := <-eng.Errs():
		logger.Error("engine failed", "err", err)
		runErr = err
	}

	cancel()
	// The engine drains in-flight records and runs its final sweep before
	// Done closes; the sink must not close underneath it.
	<-eng.Done()
	if err := emitter.Close(); err != nil {
		logger.Warn("sink close failed", "err", err)
	}
	stats := queue.Stats()
	logger.Info("ingest totals",
		"received", stats.Received.Load(),
		"dropped", stats.Dropped.Load(),
		"unparseable", stats.UnknownLabels.Load(),
	)
	return runErr
}
