package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/jittakal/kaftimeline/internal/config"
	"github.com/jittakal/kaftimeline/internal/config/dto"
	"github.com/jittakal/kaftimeline/internal/encoder"
	"github.com/jittakal/kaftimeline/internal/generator"
	"github.com/jittakal/kaftimeline/internal/ingest"
	"github.com/jittakal/kaftimeline/internal/kafka"
	"github.com/jittakal/kaftimeline/internal/observability"
	"github.com/jittakal/kaftimeline/internal/recorder"
	"github.com/jittakal/kaftimeline/internal/registry"
	"github.com/jittakal/kaftimeline/internal/server"
	"github.com/jittakal/kaftimeline/internal/storage"
	"github.com/jittakal/kaftimeline/internal/validator"
	"github.com/jittakal/kaftimeline/pkg/consumer"
	"github.com/jittakal/kaftimeline/pkg/notify"
	"github.com/jittakal/kaftimeline/pkg/timeline"
)

const sweepInterval = time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := "config/application.yaml"
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting timeline daemon",
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
		zap.Int("timelines", len(cfg.Timelines)),
	)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(promRegistry)

	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		logger.Debug("registered cleanup", zap.String("component", name))
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", zap.Error(err))
			}
		}
	}()

	// Registered first so it closes after the dispatcher has drained.
	var producer *kafka.Producer
	needsProducer := cfg.Kafka.Publish.Enabled || (cfg.Generator.Enabled && cfg.Generator.Target == "kafka")
	if needsProducer {
		producer, err = kafka.NewProducer(cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		addCleanup("kafka-producer", producer.Close)
	}

	dispatcher := notify.New(notify.WithLogger(logger))
	addCleanup("dispatcher", dispatcher.Close)
	promRegistry.MustRegister(observability.NewDispatcherCollector(dispatcher))

	reg := registry.New(timeline.MultiSink{dispatcher, metrics.Sink()}, logger)
	for _, tc := range cfg.Timelines {
		if _, err := reg.GetOrCreate(tc); err != nil {
			return fmt.Errorf("failed to create timeline %s: %w", tc.Name, err)
		}
	}
	addCleanup("registry", reg.Close)
	promRegistry.MustRegister(observability.NewTimelineCollector(reg))

	health := server.NewHealth()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	if cfg.Kafka.Publish.Enabled {
		if err := startPublisher(producer, dispatcher, cfg.Kafka.Publish, logger, metrics); err != nil {
			return err
		}
		health.Set("publisher", server.StatusHealthy)
	}

	processor, err := newProcessor(cfg, reg, logger, metrics, addCleanup)
	if err != nil {
		return err
	}

	if cfg.Kafka.Ingest.Enabled {
		health.Set("consumer", server.StatusStarting)
		if err := startConsumer(ctx, cfg.Kafka, processor, health, logger, metrics, addCleanup, errChan); err != nil {
			return err
		}
	}

	if cfg.Generator.Enabled {
		startGenerator(ctx, cfg, processor, producer, logger, metrics)
	}

	if cfg.Recorder.Enabled {
		rec, err := newRecorder(ctx, cfg.Recorder, reg, logger, metrics, addCleanup)
		if err != nil {
			return err
		}
		if _, err := rec.Subscribe(dispatcher); err != nil {
			return fmt.Errorf("failed to subscribe recorder: %w", err)
		}
		health.Set("recorder", server.StatusHealthy)
		done := make(chan struct{})
		go func() {
			defer close(done)
			rec.Run(ctx)
		}()
		addCleanup("recorder-flush", func() error {
			select {
			case <-done:
				return nil
			case <-time.After(cfg.Shutdown.GracePeriod()):
				return errors.New("grace period elapsed before pending records were written")
			}
		})
	}

	go sweep(ctx, reg, logger, metrics)

	httpServer := server.NewServer(cfg.Observability, health, server.NewAPI(reg, dispatcher, logger), promRegistry, logger)
	httpServer.Start()
	addCleanup("http-server", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("application started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("ingest stopped", zap.Error(err))
		cancel()
		return err
	}

	logger.Info("initiating graceful shutdown", zap.Duration("grace_period", cfg.Shutdown.GracePeriod()))
	health.SetAlive(false)
	cancel()

	return nil
}

func startPublisher(producer *kafka.Producer, dispatcher *notify.Dispatcher, cfg dto.PublishConfig, logger *zap.Logger, metrics *observability.Metrics) error {
	publisher, err := kafka.NewPublisher(producer, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	if _, err := publisher.Subscribe(dispatcher, cfg.QueueSize); err != nil {
		return fmt.Errorf("failed to subscribe publisher: %w", err)
	}
	logger.Info("publishing timeline notifications", zap.String("topic", cfg.Topic))
	return nil
}

func newProcessor(cfg *dto.ApplicationConfig, reg *registry.Registry, logger *zap.Logger, metrics *observability.Metrics, addCleanup func(string, func() error)) (*ingest.Processor, error) {
	var dlq consumer.DLQPublisher
	if cfg.Kafka.Ingest.Enabled {
		publisher, err := kafka.NewDLQPublisher(cfg.Kafka, logger, metrics, cfg.Application.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create DLQ publisher: %w", err)
		}
		addCleanup("dlq-publisher", publisher.Close)
		dlq = publisher
	}
	return ingest.NewProcessor(reg, validator.NewSampleValidator(), dlq, logger, metrics), nil
}

func startConsumer(
	ctx context.Context,
	cfg dto.KafkaConfig,
	processor *ingest.Processor,
	health *server.Health,
	logger *zap.Logger,
	metrics *observability.Metrics,
	addCleanup func(string, func() error),
	errChan chan<- error,
) error {
	c, err := kafka.NewSaramaConsumer(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	addCleanup("kafka-consumer", c.Close)

	if err := c.Subscribe(ctx, cfg.Ingest.Topics); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}
	events, errs, err := c.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	health.Set("consumer", server.StatusHealthy)

	go func() {
		if err := processor.Run(ctx, events, errs); err != nil {
			health.Set("consumer", server.StatusStopped)
			errChan <- err
		}
	}()
	return nil
}

func startGenerator(ctx context.Context, cfg *dto.ApplicationConfig, processor *ingest.Processor, producer *kafka.Producer, logger *zap.Logger, metrics *observability.Metrics) {
	var target generator.Target = generator.NewLocalTarget(processor)
	if cfg.Generator.Target == "kafka" {
		target = generator.NewKafkaTarget(producer, cfg.Generator.Topic)
	}

	var timelines []dto.TimelineConfig
	if len(cfg.Generator.Timelines) == 0 {
		timelines = cfg.Timelines
	}
	for _, name := range cfg.Generator.Timelines {
		if tc, ok := cfg.Timeline(name); ok {
			timelines = append(timelines, tc)
		}
	}

	go generator.NewGenerator(cfg.Generator, timelines, target, logger, metrics).Run(ctx)
}

func newRecorder(ctx context.Context, cfg dto.RecorderConfig, reg *registry.Registry, logger *zap.Logger, metrics *observability.Metrics, addCleanup func(string, func() error)) (*recorder.Recorder, error) {
	enc, err := encoder.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	writer, err := storage.New(ctx, cfg.Storage, enc, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage writer: %w", err)
	}
	addCleanup("storage-writer", writer.Close)

	return recorder.New(recorder.Config{
		Interval:  cfg.Interval(),
		Timelines: cfg.Timelines,
		Format:    enc.Format(),
	}, reg, writer, storage.NewRouterFor(cfg.Storage), storage.NewPolicy(cfg.Rotation), logger, metrics), nil
}

// sweep applies retention windows until ctx is done.
func sweep(ctx context.Context, reg *registry.Registry, logger *zap.Logger, metrics *observability.Metrics) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := reg.Sweep(); n > 0 {
				metrics.AddSwept(n)
				logger.Debug("retention sweep", zap.Int("erased", n))
			}
		}
	}
}
