package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/expirebin/auth"
	"github.com/INLOpen/expirebin/config"
	"github.com/INLOpen/expirebin/engine"
	"github.com/INLOpen/expirebin/hooks"
	"github.com/INLOpen/expirebin/hooks/listeners"
	"github.com/INLOpen/expirebin/server"
	"github.com/INLOpen/expirebin/store"
	"github.com/INLOpen/expirebin/sweep"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider configures an OTLP span exporter when tracing is
// enabled; otherwise it returns a provider that records nothing.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}
	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	default:
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("expirebin")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider.", "error", err)
		}
	}
	return tp, cleanup, nil
}

func buildStore(cfg config.StoreConfig, logger *slog.Logger) (store.RecordStore, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("Using in-memory record store.")
		return store.NewMemStore(), nil
	case "badger":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("store data_dir must be specified for the badger backend")
		}
		logger.Info("Using badger record store.", "data_dir", cfg.DataDir, "compression", cfg.Compression)
		return store.NewBadgerStore(store.BadgerOptions{
			DataDir:     cfg.DataDir,
			Compression: cfg.Compression,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("invalid store backend: %s", cfg.Backend)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", *configPath, err)
	}
	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	tracerProvider, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer tracerCleanup()

	recordStore, err := buildStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	hookManager := hooks.NewHookManager(logger)
	for _, event := range []hooks.EventType{hooks.EventPostSweep, hooks.EventSweepRecord} {
		hookManager.Register(event, listeners.NewLoggingListener(logger))
	}

	eng, err := engine.NewEngine(engine.Options{
		Store:          recordStore,
		Logger:         logger,
		HookManager:    hookManager,
		TracerProvider: tracerProvider,
	})
	if err != nil {
		return err
	}
	sweeper, err := sweep.NewSweeper(sweep.Options{
		Store:       recordStore,
		Logger:      logger,
		Clock:       eng.Clock(),
		HookManager: hookManager,
	})
	if err != nil {
		return err
	}

	var authenticator *auth.Authenticator
	if cfg.Server.Security.Enabled {
		authenticator, err = auth.NewAuthenticator(cfg.Server.Security.UserFilePath, logger)
		if err != nil {
			return err
		}
		logger.Info("API authentication enabled.", "user_file", cfg.Server.Security.UserFilePath)
	}

	apiServer := server.NewAPIServer(cfg, eng, sweeper, authenticator, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiServer.Start)

	var metricsServer *server.MetricsServer
	if cfg.Debug.Enabled {
		metricsServer = server.NewMetricsServer(&cfg.Debug, logger)
		g.Go(metricsServer.Start)
	}

	if badgerStore, ok := recordStore.(*store.BadgerStore); ok {
		interval := config.ParseDuration(cfg.Store.GCInterval, 5*time.Minute, logger)
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := badgerStore.GC(); err != nil {
						logger.Warn("Badger value log GC failed.", "error", err)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("Debug server shutdown failed.", "error", err)
			}
		}
		return apiServer.Stop(shutdownCtx)
	})

	logger.Info("expirebin server started.")
	if err := g.Wait(); err != nil && !isShutdownErr(err) {
		return err
	}
	logger.Info("expirebin server stopped.")
	return nil
}

func isShutdownErr(err error) bool {
	return errors.Is(err, context.Canceled)
}

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error.", "error", err)
		os.Exit(1)
	}
}
