package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/bounce-engine/internal/config"
	"github.com/kursadbilgin/bounce-engine/internal/handler"
	"github.com/kursadbilgin/bounce-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// serve runs the pass loop and the admin API until ctx is canceled or either fails.
func serve(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) error {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(deps.metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(deps.metrics.Handler()))
	handler.RegisterHealthRoutes(app, deps.sqlDB, deps.rdb)
	if err := handler.RegisterRecordRoutes(app, deps.records, deps.summary); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.runner.Start(groupCtx)
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("admin api listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("admin api stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Warn("admin api shutdown failed", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	logger.Info("bouncer stopped")
	return err
}
