package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partner-bot/internal/cache"
	"partner-bot/internal/chat"
	"partner-bot/internal/config"
	"partner-bot/internal/convo"
	"partner-bot/internal/httpserver"
	"partner-bot/internal/keylock"
	"partner-bot/internal/ledger"
	"partner-bot/internal/logging"
	"partner-bot/internal/metrics"
	"partner-bot/internal/notify"
	"partner-bot/internal/quiz"
	"partner-bot/internal/repo"
	"partner-bot/internal/scheduler"
	"partner-bot/internal/session"
	"partner-bot/internal/tg"
	"partner-bot/internal/wa"
	"partner-bot/internal/withdrawal"
	"partner-bot/migrations"

	"github.com/joho/godotenv"
)

const sweepInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// transport is the chat client selected by configuration.
type transport interface {
	chat.Messenger
	SetHandler(handler chat.Handler)
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting partner-bot", "env", cfg.AppEnv, "transport", cfg.ChatTransport, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	checks := map[string]httpserver.Pinger{"store": repository}

	var (
		sessions      session.Store
		memSessions   *session.MemoryStore
		redisSessions *session.RedisStore
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
			Prefix:   cfg.MetricsNamespace + ":",
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		redisSessions = session.NewRedisStore(redisClient, cfg.SessionTTL)
		sessions = redisSessions
		checks["redis"] = redisClient
		logger.Info("sessions stored in redis", "ttl", cfg.SessionTTL.String())
	} else {
		memSessions = session.NewMemoryStore(cfg.SessionTTL)
		sessions = memSessions
		logger.Info("sessions stored in memory", "ttl", cfg.SessionTTL.String())
	}

	var client transport
	switch cfg.ChatTransport {
	case config.TransportWhatsApp:
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		client = waClient
	default:
		tgClient, err := tg.New(tg.Config{
			Token:   cfg.TelegramToken,
			Debug:   cfg.TelegramDebug,
			Metrics: metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init telegram client: %w", err)
		}
		client = tgClient
	}

	dispatcher := notify.New(client, cfg.AdminIDs, logger, metricRegistry)
	partnerLocks := keylock.New()

	quizService, err := quiz.New(repository, quiz.DefaultQuestions, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init quiz: %w", err)
	}
	withdrawals := withdrawal.New(repository, dispatcher, partnerLocks, cfg.MinWithdrawal, logger, metricRegistry)

	engine := convo.New(
		repository,
		sessions,
		quizService,
		ledger.New(repository, dispatcher, partnerLocks, logger, metricRegistry),
		ledger.NewRegistrar(repository, dispatcher, partnerLocks, logger, metricRegistry),
		withdrawals,
		client,
		metricRegistry,
		logger,
		convo.EngineConfig{
			Admins:         cfg.AdminIDs,
			ProgramName:    cfg.ProgramName,
			SupportContact: cfg.SupportContact,
			MaterialsURL:   cfg.MaterialsURL,
			StarterPackURL: cfg.StarterPackURL,
			InfoURL:        cfg.InfoURL,
			QuickCredit:    cfg.QuickCredit,
		},
	)
	client.SetHandler(engine)

	jobs, err := scheduler.New(logger, metricRegistry)
	if err != nil {
		return err
	}
	if err := jobs.Every("pending_digest", cfg.PendingDigestInterval, func(ctx context.Context) error {
		_, err := withdrawals.Digest(ctx)
		return err
	}); err != nil {
		return err
	}
	if memSessions != nil {
		if err := jobs.Every("session_sweep", sweepInterval, func(context.Context) error {
			if dropped := memSessions.Sweep(); dropped > 0 {
				logger.Info("abandoned sessions dropped", "count", dropped)
			}
			metricRegistry.ActiveSessions.Set(float64(memSessions.Len()))
			return nil
		}); err != nil {
			return err
		}
	}
	if redisSessions != nil {
		if err := jobs.Every("session_gauge", sweepInterval, func(ctx context.Context) error {
			n, err := redisSessions.Count(ctx)
			if err != nil {
				return err
			}
			metricRegistry.ActiveSessions.Set(float64(n))
			return nil
		}); err != nil {
			return err
		}
	}
	jobs.Start()
	defer func() {
		if err := jobs.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown error", "error", err)
		}
	}()

	switch c := client.(type) {
	case *wa.Client:
		go func() {
			if err := c.Start(ctx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	case *tg.Client:
		go c.Run(ctx)
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, checks, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	if cfg.StoreDriver == config.DriverPostgres {
		repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres repository: %w", err)
		}
		return repository, nil
	}
	repository, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	if err != nil {
		return nil, fmt.Errorf("init sqlite repository: %w", err)
	}
	return repository, nil
}
