// Command trader runs the Breeze options trading API: it authenticates
// against ICICI Direct with the user's daily session token and serves the
// JSON endpoints any front end can drive.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/arjunvk/breeze-trader/internal/broker"
	"github.com/arjunvk/breeze-trader/internal/config"
	"github.com/arjunvk/breeze-trader/internal/server"
	"github.com/arjunvk/breeze-trader/internal/trading"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env carries the Breeze credentials locally; absence is fine when
	// the environment is set some other way.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("could not load .env")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.Info("Starting Breeze options trader")

	api := broker.NewBreezeAPIWithBaseURL(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.APIEndpoint)
	brk := broker.NewCircuitBreakerBroker(api, logger)

	service := trading.NewService(brk, logger, trading.Options{
		ChainTTL:          cfg.OptionChainTTL(),
		FundsTTL:          cfg.FundsTTL(),
		StaleSessionAfter: cfg.StaleSessionAfter(),
	})

	// A session token in config (or env) connects immediately; otherwise
	// the user connects through POST /api/session once they have their
	// daily token.
	if token := cfg.Broker.SessionToken; token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := service.Connect(ctx, token); err != nil {
			logger.WithError(err).Warn("initial broker connect failed; connect via the API with a fresh token")
		}
		cancel()
	}

	srv := server.NewServer(server.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, service, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping server...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	logger.Info("Server stopped")
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}
