package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mihaimyh/quotawatch/config"
	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
	zerologadapter "github.com/mihaimyh/quotawatch/pkg/quotawatch/logger/zerolog"
	"github.com/mihaimyh/quotawatch/probe/claude"
	"github.com/mihaimyh/quotawatch/probe/codex"
	"github.com/mihaimyh/quotawatch/probe/minimax"
	"github.com/mihaimyh/quotawatch/runner"
	"github.com/mihaimyh/quotawatch/storage/memory"
	"github.com/mihaimyh/quotawatch/storage/postgres"
	redisstore "github.com/mihaimyh/quotawatch/storage/redis"
	"github.com/mihaimyh/quotawatch/storage/sqlite"
	"github.com/mihaimyh/quotawatch/storage/tiered"
)

// app bundles the wired collaborators a command works with.
type app struct {
	store   *config.Store
	cfg     *config.Config
	logger  quotawatch.Logger
	repo    *quotawatch.Repository
	monitor *quotawatch.Monitor
	history quotawatch.HistoryStore
}

// buildApp loads the configuration and assembles the providers, the
// history backend and the monitor. metrics may be nil for commands that
// do not export them.
func buildApp(metrics quotawatch.Metrics) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	store := config.NewStore(cfg, path)

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Settings.ProbeTimeout
	proc := runner.New(logger)
	locator := runner.NewLocator()
	httpClient := quotawatch.NewHTTPClient(timeout)

	claudeProvider, err := claude.New(claude.Deps{
		HTTP:     httpClient,
		Runner:   proc,
		Locator:  locator,
		Settings: store,
		Logger:   logger,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build claude provider: %w", err)
	}
	codexProvider, err := codex.New(codex.Deps{
		Runner:   proc,
		Locator:  locator,
		Settings: store,
		Logger:   logger,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build codex provider: %w", err)
	}
	minimaxProvider, err := minimax.New(minimax.Deps{
		HTTP:     httpClient,
		Settings: store,
		Logger:   logger,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build minimax provider: %w", err)
	}

	repo, err := quotawatch.NewRepository(claudeProvider, codexProvider, minimaxProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider repository: %w", err)
	}

	history, err := openHistory(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("failed to open history backend: %w", err)
	}

	monitor, err := quotawatch.NewMonitor(quotawatch.MonitorConfig{
		Repository: repo,
		Settings:   store,
		History:    history,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		if history != nil {
			_ = history.Close()
		}
		return nil, fmt.Errorf("failed to build monitor: %w", err)
	}

	return &app{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		monitor: monitor,
		history: history,
	}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	a.monitor.StopMonitoring()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("failed to close history store",
				quotawatch.Field{Key: "error", Value: err.Error()})
		}
	}
}

// newLogger builds the process logger: a console writer on stderr, plus a
// size-rotated file when one is configured. The --log-level flag overrides
// the configured level.
func newLogger(cfg config.LogConfig) (quotawatch.Logger, error) {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	if level == "" {
		level = "info"
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	// Logs go to stderr so table and JSON output stay parseable.
	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.File != "" {
		writer = zerolog.MultiLevelWriter(writer, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}

	zlog := zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
	return zerologadapter.NewLogger(zlog), nil
}

// openHistory builds the configured snapshot history backend. The "none"
// backend (and an empty one) yields a nil store, which disables history.
// With cache set, the durable backends are fronted by an in-memory tier.
func openHistory(cfg config.HistoryConfig) (quotawatch.HistoryStore, error) {
	var durable quotawatch.HistoryStore
	var err error
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.New(memory.Config{MaxEntries: cfg.Keep}), nil
	case "sqlite":
		durable, err = sqlite.New(sqlite.Config{Path: cfg.Path, MaxEntries: cfg.Keep})
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
		durable, err = redisstore.New(client, redisstore.Config{MaxEntries: cfg.Keep})
	case "postgres":
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DSN
		durable, err = postgres.New(context.Background(), pgConfig)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.Cache {
		return durable, nil
	}
	return tiered.New(tiered.Config{
		Hot:  memory.New(memory.Config{MaxEntries: cfg.Keep}),
		Cold: durable,
	})
}
