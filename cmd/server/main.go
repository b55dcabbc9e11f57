package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/discovery"
	"github.com/stemsi/exstem-attempt/internal/events"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/storage"
	"github.com/stemsi/exstem-attempt/internal/upstream"
	"github.com/stemsi/exstem-attempt/internal/validator"
	"github.com/stemsi/exstem-attempt/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("upload_backend", cfg.UploadBackend).
		Str("proctor_policy", cfg.ProctorPolicy).
		Msg("Starting ExStem Attempt Gateway")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Service Discovery ─────────────────────────────────────────────
	var registry *discovery.ServiceRegistry
	if cfg.ConsulAddr != "" {
		registry, err = discovery.NewServiceRegistry(cfg.ConsulAddr, cfg.ServiceName, cfg.ServiceID, cfg.ServiceHost, cfg.ServerPort, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Consul client")
		}
		if err := registry.Register(); err != nil {
			log.Fatal().Err(err).Msg("Failed to register with Consul")
		}
		defer registry.Deregister()
	}

	upstreamURL := cfg.UpstreamURL
	if registry != nil {
		upstreamURL, err = registry.ResolveURL(cfg.UpstreamURL)
		if err != nil {
			log.Fatal().Err(err).Str("upstream", cfg.UpstreamURL).Msg("Failed to resolve exam backend")
		}
	}

	// ─── Exam Backend & Recording Storage ──────────────────────────────
	client := upstream.New(upstreamURL, cfg.UpstreamTimeout, log)
	log.Info().Str("upstream", upstreamURL).Msg("Exam backend configured")

	var uploader attempt.Uploader
	switch cfg.UploadBackend {
	case "local":
		uploader = storage.Instrument("local", storage.NewLocalUploader(cfg.UploadDir, cfg.PublicBaseURL, cfg.MaxRecordingBytes))
	case "minio":
		mu, err := storage.NewMinioUploader(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MinIO")
		}
		uploader = storage.Instrument("minio", mu)
	case "upstream":
		// Recordings go through each student's upstream session.
	default:
		log.Fatal().Str("upload_backend", cfg.UploadBackend).Msg("Unknown UPLOAD_BACKEND")
	}

	// ─── Event Publishing ──────────────────────────────────────────────
	publisher, err := events.NewEventPublisher(cfg.AMQPURL, cfg.EventsExchange, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer publisher.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewRedisAttemptRepository(rdb, cfg.AttemptTTL)
	store := repository.NewResilientStore(attemptRepo, cfg.StoreTimeout, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	journal := service.NewJournal(rdb, 0, log)
	eventHooks := events.NewHooks(publisher, 0, log)

	attemptService := service.NewAttemptService(cfg, service.AttemptServiceDeps{
		Store: store,
		Backends: func(token string) service.StudentBackend {
			return client.ForStudent(token)
		},
		Uploader: uploader,
		Hooks:    service.MultiHooks{service.MetricsHooks{}, service.NewJournalHooks(journal), eventHooks},
		Sink:     service.NewProctorJournal(journal),
		Tickers:  attempt.RealTickers{},
		Log:      log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, log),
		Media:   handler.NewMediaHandler(attemptService, cfg.MaxRecordingBytes, log),
		WS:      handler.NewWSHandler(attemptService, cfg.MaxRecordingBytes, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(
			rdb,
			map[string]handler.Pinger{
				"postgres": pool,
				"redis": handler.PingFunc(func(ctx context.Context) error {
					return rdb.Ping(ctx).Err()
				}),
			},
			store.Degraded,
			attemptService.Len,
			log,
		),
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute)
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	g, gctx := errgroup.WithContext(workerCtx)

	g.Go(func() error { journal.Run(gctx); return nil })
	g.Go(func() error { eventHooks.Run(gctx); return nil })
	g.Go(func() error { attemptService.RunJanitor(gctx); return nil })
	if limiter != nil {
		g.Go(func() error { limiter.Run(gctx); return nil })
	}

	proctorWorker := worker.NewProctorWorker(pool, rdb, log)
	answerWorker := worker.NewAnswerWorker(pool, rdb, log)
	resultWorker := worker.NewResultWorker(pool, rdb, log)
	g.Go(func() error { proctorWorker.Start(gctx); return nil })
	g.Go(func() error { answerWorker.Start(gctx); return nil })
	g.Go(func() error { resultWorker.Start(gctx); return nil })

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Pause every live attempt clock and persist its state.
	attemptService.Shutdown()

	// 3. Flush the journal and let the workers drain their buffers.
	workerCancel()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Background worker error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
