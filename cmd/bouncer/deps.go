package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kursadbilgin/bounce-engine/internal/classifier"
	"github.com/kursadbilgin/bounce-engine/internal/config"
	"github.com/kursadbilgin/bounce-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/bounce-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/bounce-engine/internal/infra/redis"
	"github.com/kursadbilgin/bounce-engine/internal/mailbox"
	"github.com/kursadbilgin/bounce-engine/internal/mailparse"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
	"github.com/kursadbilgin/bounce-engine/internal/observability"
	"github.com/kursadbilgin/bounce-engine/internal/queue"
	"github.com/kursadbilgin/bounce-engine/internal/ratelimit"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"github.com/kursadbilgin/bounce-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type dependencies struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	sqlDB     *sql.DB
	rdb       *redis.Client
	publisher queue.Publisher

	runner  *service.Runner
	summary *service.SummaryService
	records *service.RecordService
}

func newDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{logger: logger, metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	if deps.sqlDB, err = db.DB(); err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	var (
		lock    service.PassLocker
		limiter ratelimit.RateLimiter
	)
	if cfg.RedisURL != "" {
		if deps.rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
		if lock, err = infraredis.NewPassLock(deps.rdb, cfg.PassLockTTL); err != nil {
			return nil, err
		}
		if limiter, err = infraredis.NewSendLimiter(deps.rdb, cfg.NotifyRatePerSec); err != nil {
			return nil, err
		}
	} else {
		logger.Info("redis not configured, using in-process pass lock and send limiter")
		if limiter, err = ratelimit.NewLocalRateLimiter(float64(cfg.NotifyRatePerSec), 1); err != nil {
			return nil, err
		}
	}

	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("notifier initialization failed: %w", err)
	}
	guarded, err := notifier.NewGuarded(cfg.Notifier, transport, limiter, logger)
	if err != nil {
		return nil, err
	}
	guarded.SetMetrics(deps.metrics)

	rules, err := classifier.LoadRuleSet(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	store := repository.NewGormRecordRepo(db)
	passCfg := passConfig(cfg)

	retries, err := service.NewRetryQueue(repository.NewGormRetryRepo(db), guarded, passCfg, logger)
	if err != nil {
		return nil, err
	}
	retries.SetMetrics(deps.metrics)

	pipeline, err := service.NewOrchestrator(passCfg, mailparse.DefaultChain(), classifier.New(rules), retries, logger)
	if err != nil {
		return nil, err
	}
	pipeline.SetMetrics(deps.metrics)

	if cfg.RabbitMQURL != "" {
		client, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		deps.publisher = queue.NewRabbitMQPublisher(client)
		pipeline.SetPublisher(deps.publisher)
	}

	if deps.runner, err = service.NewRunner(pipeline, retries, sourceOpener(cfg, logger), guarded, store, lock, cfg.PassInterval, logger); err != nil {
		return nil, err
	}
	deps.runner.SetMetrics(deps.metrics)

	if deps.summary, err = service.NewSummaryService(store, guarded, passCfg, logger); err != nil {
		return nil, err
	}
	if deps.records, err = service.NewRecordService(store, retries, logger); err != nil {
		return nil, err
	}

	logger.Info("dependencies ready",
		zap.String("notifier", cfg.Notifier),
		zap.Bool("redis", deps.rdb != nil),
		zap.Bool("events", deps.publisher != nil),
		zap.Bool("testMode", cfg.TestMode),
		zap.String("inbox", passCfg.InboxFolder),
	)
	return deps, nil
}

func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notifier.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierWebhook:
		return notifier.NewWebhookNotifier(cfg.WebhookURL)
	case config.NotifierSES:
		return notifier.NewSESNotifier(ctx, notifier.SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretKey,
			From:            cfg.NotifyFrom,
		})
	default:
		return notifier.NewSMTPNotifier(notifier.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.NotifyFrom,
			Security: cfg.SMTPSecurity,
		}, logger)
	}
}

// passConfig resolves the folder set and notification policy of the configured mode.
func passConfig(cfg *config.Config) service.PassConfig {
	folders := cfg.ActiveFolders()
	return service.PassConfig{
		InboxFolder:     folders.Inbox,
		ProcessedFolder: folders.Processed,
		SkippedFolder:   folders.Skipped,
		ProblemFolder:   folders.Problem,
		TestMode:        cfg.TestMode,
		TestRecipients:  cfg.TestRecipients,
		NotifyAlways:    cfg.NotifyAlways,
		MaxAttempts:     cfg.MaxAttempts,
		PersistAttempts: cfg.PersistAttempts,
	}
}

// sourceOpener prefers IMAP and falls back to the mbox directory.
func sourceOpener(cfg *config.Config, logger *zap.Logger) service.SourceOpener {
	if cfg.IMAPAddr != "" {
		imapCfg := mailbox.IMAPConfig{
			Addr:     cfg.IMAPAddr,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			TLS:      cfg.IMAPTLS,
		}
		return func(ctx context.Context) (mailbox.Source, error) {
			return mailbox.DialIMAP(ctx, imapCfg, logger)
		}
	}

	dir := cfg.MboxDir
	return func(ctx context.Context) (mailbox.Source, error) {
		return mailbox.NewMboxSource(dir, logger)
	}
}

func (d *dependencies) Close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if d.rdb != nil {
		if err := d.rdb.Close(); err != nil {
			d.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if d.sqlDB != nil {
		if err := d.sqlDB.Close(); err != nil {
			d.logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
}
