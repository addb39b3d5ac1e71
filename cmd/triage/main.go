package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mantelhq/triage/internal/conversation"
	"github.com/mantelhq/triage/internal/expressions"
	"github.com/mantelhq/triage/internal/inference"
	"github.com/mantelhq/triage/internal/logging"
	"github.com/mantelhq/triage/internal/nodes"
	"github.com/mantelhq/triage/internal/scheduler"
	"github.com/mantelhq/triage/internal/session"
	"github.com/mantelhq/triage/internal/store"
	"github.com/mantelhq/triage/internal/tracker"
	"github.com/mantelhq/triage/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "triage:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(triageDir(), 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "create data dir: %s", err.Error()).WithCause(err)
	}

	db, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	mgr, err := tracker.NewManager(tracker.Config{
		Transport: cfg.TrackerTransport,
		Command:   cfg.TrackerCommand,
		Args:      cfg.TrackerArgs,
		URL:       cfg.TrackerURL,
	}, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	inf, err := inference.NewHTTPClient(inference.Config{
		BaseURL: cfg.InferenceBaseURL,
		APIKey:  cfg.InferenceAPIKey,
		Model:   cfg.InferenceModel,
	})
	if err != nil {
		return err
	}

	validator, err := schema.NewAnalysisValidator()
	if err != nil {
		return err
	}

	tempDir := filepath.Join(cfg.TempDir, "triage-attachments")
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "create temp dir: %s", err.Error()).WithCause(err)
	}

	runner := nodes.NewRunner(inf, mgr, validator,
		expressions.NewGoJQEngine(), expressions.NewExprEngine(),
		nodes.RunnerConfig{FilterExpr: cfg.FilterExpr, TempDir: tempDir},
		db, logger)

	sessions := session.NewStore(cfg.sessionTTL())
	messenger := newConsoleMessenger(os.Stdout)
	bot := conversation.NewBot(runner, mgr, sessions, messenger, db, logger)

	sweeper, err := scheduler.NewSweeper(db, cfg.SweepCron, cfg.eventRetention(), logger)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	logger.Info("triage assistant started",
		slog.String("tracker_transport", cfg.TrackerTransport),
		slog.String("model", cfg.InferenceModel))

	return runConsole(ctx, bot, os.Stdin)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
