package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/labourconnect/backend/internal/auth"
	"github.com/labourconnect/backend/internal/config"
	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/jobs"
	"github.com/labourconnect/backend/internal/ledger"
	"github.com/labourconnect/backend/internal/notify"
	"github.com/labourconnect/backend/internal/providers"
	"github.com/labourconnect/backend/internal/ratelimit"
	"github.com/labourconnect/backend/internal/router"
	"github.com/labourconnect/backend/internal/scheduler"
	"github.com/labourconnect/backend/internal/storage"
	"github.com/labourconnect/backend/internal/storage/memory"
	"github.com/labourconnect/backend/internal/storage/postgres"
	"github.com/labourconnect/backend/internal/unlock"
	"github.com/labourconnect/backend/internal/validate"
	"github.com/labourconnect/backend/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Outbound SMS: gateway when configured, otherwise codes go to the log.
	var sms notify.Sender = notify.LogSender{Log: logger}
	if cfg.SMSGatewayURL != "" {
		sms = notify.NewHTTPSender(cfg.SMSGatewayURL)
	}

	var (
		store       storage.Store
		riverClient *river.Client[pgx.Tx]
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database")

		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("Schema migration failed", "error", err)
			os.Exit(1)
		}

		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Migrations applied")
		store = pg

		if cfg.SMSAsync {
			sms, riverClient = asyncSMS(pool, sms)
		}
	default:
		slog.Warn("Using in-memory storage; data is lost on restart")
		store = memory.New()
	}

	pub := publisher(cfg, logger)
	defer pub.Close()

	limiter := otpLimiter(ctx, cfg)

	v, err := validate.New()
	if err != nil {
		slog.Error("Failed to compile request schemas", "error", err)
		os.Exit(1)
	}

	// Services
	otp := auth.NewAuthenticator(store, sms, logger, auth.WithTTL(cfg.OTPTTL))
	authSvc := auth.NewService(store, otp, auth.Config{Secret: []byte(cfg.JWTSecret), SessionTTL: cfg.SessionTTL}, logger)
	ledgerSvc := ledger.NewService(store)
	walletSvc := wallet.NewService(store, ledgerSvc, pub, logger)
	transactor := unlock.NewTransactor(store, walletSvc, pub, logger)
	providerSvc := providers.NewService(store, transactor, pub, logger)
	jobsSvc := jobs.NewService(store, pub, logger)

	handler := router.New(router.Handlers{
		Auth:      auth.NewHandler(authSvc, v, limiter, cfg.EchoOTP(), logger),
		Wallet:    wallet.NewHandler(walletSvc, v, logger),
		Providers: providers.NewHandler(providerSvc, v, logger),
		Unlock:    unlock.NewHandler(transactor, logger),
		Jobs:      jobs.NewHandler(jobsSvc, store, v, logger),
	}, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}).Handler(handler)

	// Maintenance jobs
	sched := scheduler.New(
		scheduler.NewJobs(otp, store, ledgerSvc, cfg.OTPRetention, logger),
		scheduler.Config{SweepSchedule: cfg.OTPSweepSchedule, ReconcileSchedule: cfg.ReconcileSchedule},
		logger,
	)
	sched.Start()

	if riverClient != nil {
		go func() {
			if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("River client stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "env", cfg.AppEnv, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	<-sched.Stop().Done()
	if riverClient != nil {
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River shutdown failed", "error", err)
		}
	}
}

// asyncSMS moves delivery onto a river queue. The worker retries with the
// direct sender; the returned sender only enqueues.
func asyncSMS(pool *pgxpool.Pool, direct notify.Sender) (notify.Sender, *river.Client[pgx.Tx]) {
	workers := river.NewWorkers()
	river.AddWorker(workers, notify.NewSendSMSWorker(direct))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	slog.Info("SMS delivery runs through the job queue")
	return notify.NewAsyncSender(func(ctx context.Context, args notify.SendSMSArgs) error {
		_, err := client.Insert(ctx, args, nil)
		return err
	}), client
}

func publisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if cfg.NATSURL == "" {
		return events.NoopPublisher{}
	}
	p, err := events.NewNATSPublisher(cfg.NATSURL, logger)
	if err != nil {
		slog.Warn("NATS unavailable, domain events disabled", "error", err)
		return events.NoopPublisher{}
	}
	slog.Info("Publishing domain events to NATS")
	return p
}

func otpLimiter(ctx context.Context, cfg *config.Config) ratelimit.Limiter {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("Invalid REDIS_URL, using in-process rate limiting", "error", err)
		} else {
			client := redis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				slog.Warn("Redis unreachable, using in-process rate limiting", "error", err)
				_ = client.Close()
			} else {
				return ratelimit.NewRedisLimiter(client, "ratelimit", cfg.OTPSendLimit, cfg.OTPSendWindow)
			}
		}
	}
	return ratelimit.NewMemoryLimiter(cfg.OTPSendLimit, cfg.OTPSendWindow)
}
