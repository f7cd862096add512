package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/campus/internal/api"
	"github.com/eldtechnologies/campus/internal/api/middleware"
	"github.com/eldtechnologies/campus/internal/config"
	"github.com/eldtechnologies/campus/internal/crypto"
	"github.com/eldtechnologies/campus/internal/handlers"
	"github.com/eldtechnologies/campus/internal/jobs"
	"github.com/eldtechnologies/campus/internal/listing"
	"github.com/eldtechnologies/campus/internal/mail"
	"github.com/eldtechnologies/campus/internal/media"
	"github.com/eldtechnologies/campus/internal/messaging"
	"github.com/eldtechnologies/campus/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relational store: PostgreSQL when configured, SQLite otherwise.
	var ds store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		ds = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		ds = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer ds.Close()

	seedUniversities(ctx, ds, cfg.SeedUniversities, logger)

	// Mail delivery
	var mailer mail.Mailer
	if cfg.SMTPAddr != "" {
		mailer = mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}, logger)
	} else {
		logger.Warn().Msg("SMTP_ADDR not set, e-mails are logged instead of sent")
		mailer = mail.NewLogMailer(logger)
	}
	taskHandlers := jobs.NewHandlers(mailer, logger)

	// Redis-backed cache, live feed and job queue, with in-process fallbacks.
	deps := handlers.Deps{
		Store:           ds,
		Logger:          logger,
		CodeTTL:         cfg.VerificationCodeTTL,
		BootstrapAdmins: cfg.BootstrapAdmins,
	}
	var feed messaging.Feed
	workerDone := make(chan struct{})
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")

		enqueuer, err := jobs.NewAsynqEnqueuer(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("job queue setup failed")
		}
		defer enqueuer.Close()

		worker, err := jobs.NewWorker(cfg.RedisURL, cfg.WorkerConcurrency, taskHandlers, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("job worker setup failed")
		}
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("job worker stopped")
			}
		}()

		deps.Redis = redisStore
		deps.Cache = redisStore
		deps.Jobs = enqueuer
		feed = redisStore
	} else {
		logger.Warn().Msg("REDIS_URL not set, using in-process cache, feed and inline jobs")
		close(workerDone)
		deps.Cache = store.NewMemoryCache()
		deps.Jobs = jobs.NewInline(taskHandlers)
		feed = messaging.NewLocalFeed(logger)
	}

	// Access tokens
	secret := cfg.JWTSecret
	if secret == "" {
		raw, err := crypto.NewSecret(32)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to generate JWT secret")
		}
		secret = hex.EncodeToString(raw)
		logger.Warn().Msg("JWT_SECRET not set, using an ephemeral secret; sessions end on restart")
	}
	tokens, err := crypto.NewTokenIssuer(secret, cfg.AccessTokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid JWT_SECRET")
	}
	deps.Tokens = tokens

	// Object storage
	var objects media.ObjectStore
	if cfg.S3Bucket != "" {
		s3Store, err := media.NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Endpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage setup failed")
		}
		objects = s3Store
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("object storage configured")
	} else {
		logger.Warn().Msg("S3_BUCKET not set, uploads are disabled")
	}
	deps.Uploads = media.NewUploader(objects, media.NewProcessor())

	deps.Messages = messaging.NewService(ds, feed, logger)
	deps.Listings = listing.NewService(ds, logger)

	// Create router
	router := api.NewRouter(logger, deps, api.Options{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// WriteTimeout is left unset: it would cut hijacked inbox sockets.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting campus server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	<-workerDone

	logger.Info().Msg("server stopped")
}

// seedUniversities creates the "domain=Name" entries that do not exist yet.
func seedUniversities(ctx context.Context, ds store.DataStore, entries []string, logger zerolog.Logger) {
	for _, entry := range entries {
		domain, name, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(domain) == "" || strings.TrimSpace(name) == "" {
			logger.Warn().Str("entry", entry).Msg("invalid SEED_UNIVERSITIES entry, expected domain=Name")
			continue
		}
		_, err := ds.CreateUniversity(ctx, strings.TrimSpace(name), strings.TrimSpace(domain), "")
		switch {
		case errors.Is(err, store.ErrConflict):
		case err != nil:
			logger.Error().Err(err).Str("domain", domain).Msg("failed to seed university")
		default:
			logger.Info().Str("domain", domain).Msg("university seeded")
		}
	}
}
