package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/api"
	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/config"
	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/presigned"
)

type serverEnv struct {
	Port            string `env:"PORT" env-default:"8080"`
	Environment     string `env:"ENVIRONMENT" env-default:"development"`
	JWTSecret       string `env:"JWT_SECRET" env-default:"dev-jwt-secret"`
	PresignSecret   string `env:"PRESIGN_SECRET" env-default:"dev-presign-secret"`
	ExternalBaseURL string `env:"EXTERNAL_BASE_URL" env-default:"http://localhost:8080"`
	LogLevel        string `env:"LOG_LEVEL" env-default:"info"`
}

func main() {
	var env serverEnv
	if err := cleanenv.ReadEnv(&env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(env.LogLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(
		config.WithEnv(""),
		config.WithPort(env.Port),
		config.WithPresignSecret(env.PresignSecret),
		config.WithTransferBaseURL(env.ExternalBaseURL+"/transfer"),
	)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, provisioner, store, err := cfg.BuildServices(ctx)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	tokenAuth := jwtauth.New("HS256", []byte(env.JWTSecret), nil)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Use(api.RequireOwner(tokenAuth))
		r.Mount("/submissions", api.NewSubmissionHandler(svc, logger).Routes())
		r.Mount("/grants", api.NewGrantHandler(provisioner, logger).Routes())
	})

	// The transfer endpoints carry their own per-URL signatures; grant
	// URLs for the memory backend point here.
	if cfg.DefaultStorageBackend == "memory" {
		signer := presigned.NewSigner(cfg.PresignSecret, presigned.WithDefaultTTL(cfg.GrantWriteTTL))
		r.Mount("/transfer", presigned.NewHandlers(store, signer, presigned.WithHandlersLogger(logger)).Routes())
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: r,
	}

	go func() {
		logger.Info("server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"database", cfg.DatabaseType,
			"storage", cfg.DefaultStorageBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
