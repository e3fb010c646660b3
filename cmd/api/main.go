package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"meeting-insights-go/internal/command"
	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/extractor"
	"meeting-insights-go/internal/httpclient"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/media"
	"meeting-insights-go/internal/pipeline"
	"meeting-insights-go/internal/processor"
	"meeting-insights-go/internal/queue"
	"meeting-insights-go/internal/server"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/transcription"
	"meeting-insights-go/internal/workerpool"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "meeting-insights-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redisClient(cfg)
	st, err := openStore(ctx, cfg, rdb, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open record store")
	}
	log.WithField("backend", cfg.StoreBackend).Info("record store ready")

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create upload dir")
	}

	// shared resources, closed on shutdown
	hc := &http.Client{}
	pool := workerpool.New(cfg.InferenceWorkers)
	runner := command.ExecRunner{}

	var clients []*httpclient.Client
	newClient := func(provider, key string) *httpclient.Client {
		c := httpclient.New(provider, hc, key, cfg.ProviderMaxRetryTime, log)
		c.Timeout = cfg.ProviderTimeout
		clients = append(clients, c)
		return c
	}

	var transcriber transcription.Provider
	switch cfg.TranscribeMode {
	case config.TranscribeRemote:
		transcriber = transcription.NewRemote(cfg.WhisperAPIURL, newClient("whisper", cfg.WhisperAPIKey), log)
	default:
		transcriber = transcription.NewLocal(transcription.LocalConfig{
			WhisperBin: cfg.WhisperBin,
			ModelPath:  cfg.WhisperModel,
			Language:   cfg.WhisperLanguage,
			FFmpegPath: cfg.FFmpegPath,
			Timeout:    cfg.ProviderTimeout,
		}, pool, runner, log)
	}
	log.WithField("mode", cfg.TranscribeMode).Info("transcription provider configured")

	params := extractor.Params{Temperature: cfg.LLMTemperature, MaxTokens: cfg.LLMMaxTokens}
	var primary extractor.Primary
	if cfg.OllamaURL != "" {
		primary = extractor.NewOllama(cfg.OllamaURL, cfg.OllamaModel, params, newClient("ollama", ""), pool, log)
	}
	var fallback extractor.Provider
	if cfg.LLMAPIURL != "" {
		fallback = extractor.NewRemote(cfg.LLMAPIURL, params, newClient("llm", cfg.LLMAPIKey), log)
	}
	analyzer := extractor.NewSelector(primary, fallback, cfg.ProbeTimeout, log)

	hub := server.NewHub(cfg.AllowedOrigins, log)
	q := queue.New(cfg.QueueSize, log)
	pipe := pipeline.New(pipeline.Deps{
		Store:          st,
		Transcriber:    transcriber,
		Analyzer:       analyzer,
		Extractor:      media.NewExtractor(cfg.FFmpegPath, cfg.FFprobePath, runner, log),
		Notifier:       hub,
		ExtractTimeout: cfg.ProviderTimeout,
		Log:            log,
	})
	q.Start(ctx, cfg.PipelineWorkers, pipe.Run)

	svc := processor.NewService(processor.Config{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, st, q, hub, log)
	if _, err := svc.Recover(ctx); err != nil {
		log.WithError(err).Error("startup recovery failed")
	}

	var limiter *server.RateLimiter
	if cfg.RateLimitRPM > 0 {
		limiter = server.NewRateLimiter(cfg.RateLimitRPM, rdb, cfg.TrustedProxies, log)
	}
	api := server.New(server.Deps{
		Meetings:       svc,
		Hub:            hub,
		Limiter:        limiter,
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            log,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	hub.Close()
	if err := q.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).WithField("pending", q.Pending()).Warn("pipeline drain incomplete")
	}
	for _, c := range clients {
		c.CloseIdle()
	}
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("store close failed")
	}
	if rdb != nil && cfg.StoreBackend != config.StoreRedis {
		_ = rdb.Close()
	}
	log.Info("stopped")
}

func redisClient(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// openStore connects the configured backend, retrying the first ping while
// the dependency comes up.
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *logger.Logger) (store.Store, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	notify := func(err error, d time.Duration) {
		log.WithError(err).WithField("retry_in", d.String()).Warn("store not reachable yet")
	}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres config: %w", err)
		}
		if err := backoff.RetryNotify(func() error { return pool.Ping(ctx) }, backoff.WithContext(bo, ctx), notify); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	case config.StoreRedis:
		if err := backoff.RetryNotify(func() error { return rdb.Ping(ctx).Err() }, backoff.WithContext(bo, ctx), notify); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedis(rdb), nil
	default:
		return store.NewMemory(), nil
	}
}
