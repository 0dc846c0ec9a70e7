package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/oriade/ragserve/internal/auth"
	"github.com/oriade/ragserve/internal/config"
	"github.com/oriade/ragserve/internal/db"
	dbRedis "github.com/oriade/ragserve/internal/db/redis"
	"github.com/oriade/ragserve/internal/domain"
	logpkg "github.com/oriade/ragserve/internal/logger"
	"github.com/oriade/ragserve/internal/metrics"
	"github.com/oriade/ragserve/internal/repository/embcache"
	"github.com/oriade/ragserve/internal/repository/passage"
	chiTransport "github.com/oriade/ragserve/internal/transport/chi"
	"github.com/oriade/ragserve/internal/transport/hfgen"
	openaiEmb "github.com/oriade/ragserve/internal/transport/openai"
	answeruc "github.com/oriade/ragserve/internal/usecase/answer"
	healthuc "github.com/oriade/ragserve/internal/usecase/health"
	"github.com/oriade/ragserve/internal/version"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragserve API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	embedder := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator := hfgen.NewGenerator(&hfgen.Config{
		Endpoint: cfg.Generation.Endpoint,
		APIKey:   cfg.Generation.APIKey,
		Timeout:  time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		Logger:   logger,
	})

	passages := passage.New(store, cfg.Database.KeyPrefix, cfg.Retrieval.IndexName).
		WithHNSW(passage.HNSWConfig{
			M:           cfg.Retrieval.HNSWM,
			EFConstruct: cfg.Retrieval.HNSWEFConstruct,
		})
	if cfg.Embedding.Dimensions > 0 {
		if err := passages.EnsureIndex(ctx, cfg.Embedding.Dimensions); err != nil {
			logger.Fatal("Failed to ensure passage index", zap.Error(err))
		}
	}

	// Credential strategy — local token issuance or remote introspection.
	var verifier answeruc.CredentialVerifier
	var login chiTransport.LoginProvider
	var exchanger chiTransport.Exchanger
	switch cfg.Auth.Mode {
	case config.AuthModeLocal:
		local := auth.NewLocalVerifier(
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.TokenTTLMin)*time.Minute,
			cfg.Auth.Users,
			logger,
		)
		verifier = local
		login = local
	case config.AuthModeOAuth:
		verifier = auth.NewIntrospectionVerifier(
			cfg.Auth.OAuth.IntrospectionURL,
			cfg.Auth.OAuth.ClientID,
			cfg.Auth.OAuth.ClientSecret,
			logger,
		)
		exchanger = auth.NewCodeExchanger(
			cfg.Auth.OAuth.ClientID,
			cfg.Auth.OAuth.ClientSecret,
			cfg.Auth.OAuth.AuthURL,
			cfg.Auth.OAuth.TokenURL,
			cfg.Auth.OAuth.RedirectURL,
		)
	default:
		logger.Fatal("Unknown auth mode", zap.String("mode", cfg.Auth.Mode))
	}

	pipeline := answeruc.NewService(
		verifier,
		embedder,
		passages,
		generator,
		time.Duration(cfg.Pipeline.StageTimeoutSec)*time.Second,
		logger,
	)

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(embedder), generator)

	server := chiTransport.NewServer(pipeline, login, exchanger, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	if store == nil {
		return base
	}
	return embcache.New(
		base,
		store,
		cfg.Database.KeyPrefix,
		time.Duration(cfg.Embedding.CacheTTLSec)*time.Second,
		metrics.EmbeddingCacheTotal,
		logger,
	)
}

// embeddingHealthChecker unwraps the cache decorator for health probing.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
