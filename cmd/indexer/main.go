package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/neuroswish/verse-indexer/internal/chain"
	"github.com/neuroswish/verse-indexer/internal/config"
	"github.com/neuroswish/verse-indexer/internal/modules/core"
	"github.com/neuroswish/verse-indexer/internal/modules/verse"
	"github.com/neuroswish/verse-indexer/internal/processor"
	"github.com/neuroswish/verse-indexer/internal/realtime"
	"github.com/neuroswish/verse-indexer/internal/scheduler"
	"github.com/neuroswish/verse-indexer/internal/store"
)

func main() {
	var configPath string
	var manifestPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&manifestPath, "manifest", "manifests/verse.yaml", "Path to module manifest")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", "0.1.0").
		Str("config", configPath).
		Str("chain", cfg.Chain.Name).
		Msg("Starting Verse Indexer")

	ctx := context.Background()

	st, err := store.NewPostgres(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to entity store")
	}
	defer st.Close()

	reader, err := chain.NewEthReader(cfg.Chain.RPCEndpoint, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create chain reader")
	}
	defer reader.Close()

	verseModule, err := verse.NewVerseModule(manifestPath, &cfg.Protocol, reader, reader, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create verse module")
	}

	registry := core.NewModuleRegistry(st, logger)
	verseModule.SetRegistrar(registry)

	var publisher *realtime.Publisher
	if cfg.Realtime.Enabled {
		publisher = realtime.NewPublisher(realtime.PublishConfig{
			APIURL: cfg.Realtime.APIURL,
			APIKey: cfg.Realtime.APIKey,
		}, st, logger)
		defer publisher.Close()
		verseModule.SetPublisher(publisher)
	}

	if err := registry.RegisterModule(verseModule); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register verse module")
	}

	priceScheduler, err := scheduler.NewPriceMetricsScheduler(st.Pool(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create price scheduler")
	}
	if err := priceScheduler.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start price scheduler")
	}
	defer priceScheduler.Stop()

	proc, err := processor.New(cfg, st, registry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create processor")
	}
	if publisher != nil {
		proc.SetBlockObserver(publisher)
	}
	if err := proc.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start processor")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	proc.Stop()
	logger.Info().Msg("Indexer shutdown complete")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}

	return logger
}
