package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/bounce-engine/internal/config"
	"github.com/kursadbilgin/bounce-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	modeRunOnce = "run-once"
	modeRetry   = "retry"
	modeSummary = "summary"
	modeServe   = "serve"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: bouncer <mode>

Modes:
  run-once   process the inbox once
  retry      attempt every pending retry task once
  summary    mail the 24h summary to the notify list
  serve      run passes on PASS_INTERVAL and serve the admin API (default)

Configuration is read from the environment.
`)
}

func main() {
	mode := modeServe
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case modeRunOnce, modeRetry, modeSummary, modeServe:
	case "help", "--help", "-h":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, cfg, logger); err != nil {
		logger.Error("bouncer failed", zap.String("mode", mode), zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, cfg *config.Config, logger *zap.Logger) error {
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	switch mode {
	case modeRunOnce:
		summary, err := deps.runner.RunInbox(ctx)
		if err != nil {
			return err
		}
		logger.Info("inbox pass complete",
			zap.String("passId", summary.PassID),
			zap.Int("listed", summary.Listed),
			zap.Int("records", summary.Records),
			zap.Int("errors", summary.Errors),
		)
		return nil

	case modeRetry:
		summary, err := deps.runner.RunRetry(ctx)
		if err != nil {
			return err
		}
		logger.Info("retry pass complete",
			zap.Int("scanned", summary.Scanned),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("exhausted", summary.Exhausted),
		)
		return nil

	case modeSummary:
		summary, err := deps.summary.Send(ctx)
		if err != nil {
			return err
		}
		logger.Info("summary sent", zap.Int64("total", summary.Total))
		return nil

	default:
		return serve(ctx, cfg, deps, logger)
	}
}
