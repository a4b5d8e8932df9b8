package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicq/checkin-service/internal/cache"
	"clinicq/checkin-service/internal/checkin"
	"clinicq/checkin-service/internal/config"
	"clinicq/checkin-service/internal/events"
	"clinicq/checkin-service/internal/httpapi"
	"clinicq/checkin-service/internal/store"
	"clinicq/checkin-service/internal/store/postgres"
	"clinicq/checkin-service/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "checkin-service").Logger()

	shutdownTracing := telemetry.Setup("checkin-service", logger)

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	var queueCache cache.QueueCache = cache.Noop{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		queueCache = cache.NewRedis(client)
		defer client.Close()
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		publisher = natsPublisher
		defer natsPublisher.Close()
	}

	resolver := store.NewBucketResolver(cfg.TherapyTypes)
	coordinator := checkin.NewService(postgres.NewStore(pool), queueCache, publisher, resolver, checkin.Config{
		GeneralVisitDuration: cfg.GeneralVisitDuration,
		TherapyVisitDuration: cfg.TherapyVisitDuration,
		CacheTTL:             cfg.CacheTTL,
		StoreTimeout:         cfg.StoreTimeout,
		RetryMaxTries:        uint(cfg.RetryMaxTries),
	}, logger)

	handler := httpapi.NewHandler(coordinator, resolver)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
		ClinicBurst:     cfg.ClinicRateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(handler.Routes())), "checkin-service")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("checkin-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown error")
	}
}
