package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/callback"
	"github.com/aescanero/dago-stream-watcher/internal/config"
	"github.com/aescanero/dago-stream-watcher/internal/events"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/aescanero/dago-stream-watcher/internal/supervisor"
	"github.com/aescanero/dago-stream-watcher/internal/worker"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "stream-watcher",
		Usage:   "supervise stream ingestion workers and rebuild the ones that die",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workers-file",
				Aliases: []string{"f"},
				Usage:   "YAML file with worker definitions (overrides WORKERS_FILE)",
			},
		},
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the supervisor (default)",
				Action: runCommand,
			},
			{
				Name:   "child",
				Usage:  "serve one process-isolated worker over stdin/stdout",
				Hidden: true,
				Action: childCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("workers-file") {
		cfg.WorkersFile = c.String("workers-file")
	}

	// Initialize logger
	logger, err := initLogger(cfg.LogLevel, "stdout")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting stream watcher",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("instance_id", cfg.InstanceID),
	)

	// Log configuration (without sensitive data)
	logger.Info("configuration loaded", zap.String("config", cfg.String()))

	defs, err := config.LoadWorkers(cfg.WorkersFile, cfg)
	if err != nil {
		return err
	}

	// Event sinks: log always, Redis and MQTT when configured
	sinks := []events.Sink{events.NewLogSink(logger)}

	var redisClient *redis.Client
	if cfg.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("failed to connect to redis, events will be retried", zap.Error(err))
		} else {
			logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
		cancel()

		sinks = append(sinks, events.NewRedisSink(redisClient, cfg.EventStream, cfg.EventStreamMaxLen, logger))
	}

	var mqttClient mqtt.Client
	if cfg.MQTTEnabled() {
		mqttClient, err = events.ConnectMQTT(cfg.MQTTBroker, cfg.InstanceID, logger)
		if err != nil {
			logger.Warn("mqtt events disabled", zap.Error(err))
		} else {
			sinks = append(sinks, events.NewMQTTSink(mqttClient, cfg.MQTTTopic, logger))
		}
	}

	factory := worker.NewFactory(worker.Deps{
		Opener:       source.Default(),
		Catalog:      callback.Default(),
		Logger:       logger,
		ChildEnv:     []string{"LOG_LEVEL=" + cfg.LogLevel},
		StartTimeout: cfg.ChildStartTimeout,
	})

	sup := supervisor.New(supervisor.NewRegistry(), factory, supervisor.Options{
		CheckCycle:    cfg.CheckCycle(),
		ShutdownGrace: cfg.ShutdownGrace,
		InstanceID:    cfg.InstanceID,
	}, events.NewMulti(logger, sinks...), logger)
	sup.Start()

	for _, def := range defs {
		if _, err := sup.Register(def.Name, def.Config); err != nil && !worker.IsOpenError(err) && !errors.Is(err, worker.ErrStartTimeout) {
			logger.Error("failed to register worker", zap.String("worker", def.Name), zap.Error(err))
		}
	}
	logger.Info("workers registered", zap.Int("count", sup.Registry().Len()))

	// Start health server
	healthServer := supervisor.NewHealthServer(cfg.HealthPort, sup, redisClient, logger)
	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("stream watcher running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutdown signal received, stopping workers")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer shutdownCancel()

	// Stop health server
	if err := healthServer.Stop(); err != nil {
		logger.Error("failed to stop health server", zap.Error(err))
	}

	// Stop supervisor and workers
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("workers did not stop cleanly", zap.Error(err))
	}

	if mqttClient != nil && mqttClient.IsConnected() {
		mqttClient.Disconnect(250)
	}

	// Close Redis connection
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis connection", zap.Error(err))
		}
	}

	logger.Info("stream watcher stopped")
	return nil
}

// childCommand serves a process-isolated worker. Logs go to stderr so stdout
// carries only protocol messages.
func childCommand(c *cli.Context) error {
	level := os.Getenv("LOG_LEVEL")
	logger, err := initLogger(level, "stderr")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM)
	defer stop()

	return worker.RunChild(ctx, os.Stdin, os.Stdout, worker.Deps{
		Opener:  source.Default(),
		Catalog: callback.Default(),
		Logger:  logger,
	})
}

// initLogger initializes the logger
func initLogger(level, output string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
