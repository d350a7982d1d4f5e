package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/creditportal/internal/backend"
	"github.com/blockadesystems/creditportal/internal/config"
	"github.com/blockadesystems/creditportal/internal/onboarding"
	"github.com/blockadesystems/creditportal/internal/pagerender"
	"github.com/blockadesystems/creditportal/internal/server"
)

var (
	logger    *zap.Logger
	zapConfig zap.Config
)

func init() {
	zapConfig = zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	logger = l.With(zap.String("package", "main"))
}

func main() {
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapConfig.Level.SetLevel(level)
	} else {
		logger.Warn("unknown log level, keeping default", zap.String("log_level", cfg.LogLevel))
	}
	logger.Info("Credit portal starting...",
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.String("envelope_scheme", cfg.EnvelopeScheme),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
		zap.Bool("payments_configured", cfg.PaymentsConfigured()),
	)
	for _, problem := range cfg.Problems() {
		logger.Warn("configuration problem", zap.String("problem", problem))
	}

	api, err := backend.New(cfg.APIBaseURL, cfg.APITimeout)
	if err != nil {
		// Keep serving pages; every API call reports the banner's problem.
		logger.Error("invalid API base URL, backend disabled", zap.Error(err))
		api, _ = backend.New("", cfg.APITimeout)
	}
	svc := onboarding.NewService(api, cfg.Scheme(), cfg.MaxUploadBytes)
	renderer, err := pagerender.New()
	if err != nil {
		logger.Fatal("failed to parse page templates", zap.Error(err))
	}

	e := echo.New()
	server.ApplyCommonMiddleware(e, cfg, api, svc, renderer, zap.L())
	server.SetupRouter(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		address := cfg.ListenAddress()
		logger.Info("listening on address", zap.String("address", address), zap.Bool("tls", cfg.TLSEnabled))
		var err error
		if cfg.TLSEnabled {
			certFile, keyFile, certErr := server.EnsureHTTPSCertificates(cfg)
			if certErr != nil {
				logger.Fatal("failed to ensure HTTPS certificates", zap.Error(certErr))
			}
			err = e.StartTLS(address, certFile, keyFile)
		} else {
			err = e.Start(address)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("error starting server", zap.Error(err), zap.String("address", address))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
