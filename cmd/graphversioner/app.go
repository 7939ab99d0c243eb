package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"graphversioner/internal/blob"
	"graphversioner/internal/config"
	"graphversioner/internal/core"
	"graphversioner/internal/infra/lock/redis"
	"graphversioner/internal/logging"
)

// app holds the wired dependencies of one command invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	svc      *core.Service
	registry *prometheus.Registry
	closers  []io.Closer
}

type globalFlags struct {
	configPath  string
	logLevel    string
	output      string
	metricsFile string
}

// openApp loads configuration and wires the store, observability and the
// optional distributed lock.
func openApp(ctx context.Context, flags *globalFlags, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, usageError{err}
	}
	levelName := cfg.Log.Level
	if flags.logLevel != "" {
		levelName = flags.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, usageError{err}
	}
	logger := logging.NewWriter(stderr, level)

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	store, closer, err := core.OpenPersistentStore(ctx, cfg.Storage, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.closers = append(a.closers, closer)

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(a.registry)),
		core.WithTracer(core.NewOTelTracer(nil)),
		core.WithAuditRecorder(slogAuditRecorder{logger: logger}),
	}
	if cfg.Lock.RedisAddr != "" {
		client, err := redis.Dial(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, redisCloser{client})
		opts = append(opts, core.WithDistributedLocker(redis.NewLocker(client, cfg.Lock.Prefix), cfg.Lock.TTL))
	}
	a.svc = core.NewService(store, opts...)
	logger.Debug("store opened", "driver", cfg.Storage.Driver)
	return a, nil
}

func (a *app) archiveStore(ctx context.Context) (blob.Store, error) {
	return core.OpenArchiveStore(ctx, a.cfg.Blob)
}

// flushMetrics writes the registry in text exposition format when path is
// set.
func (a *app) flushMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type redisCloser struct {
	client *goredis.Client
}

func (c redisCloser) Close() error { return c.client.Close() }

// slogAuditRecorder writes audit entries as structured log records.
type slogAuditRecorder struct {
	logger *slog.Logger
}

func (r slogAuditRecorder) Record(ctx context.Context, entry core.AuditEntry) {
	attrs := []any{
		"operation", entry.Operation,
		"action", string(entry.Action),
		"entity", entry.EntityID,
		"status", string(entry.Status),
		"duration", entry.Duration,
	}
	if entry.StateID != nil {
		attrs = append(attrs, "state", *entry.StateID)
	}
	if entry.Error != "" {
		attrs = append(attrs, "error", entry.Error)
	}
	r.logger.InfoContext(ctx, "audit", attrs...)
}
