// rivretrieve-api command serves gauge catalogues and series over HTTP.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/timgluz/rivretrieve/config"
	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/log"
	"github.com/timgluz/rivretrieve/provider"
	"github.com/timgluz/rivretrieve/secret"
	"github.com/timgluz/rivretrieve/server"
	"github.com/timgluz/rivretrieve/transport"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("component", "api")

	srv, err := newServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize API", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		logger.Error("API server stopped", "error", err)
		os.Exit(1)
	}
}

func newServer(cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	httpClient := &http.Client{Timeout: cfg.HTTP.RequestTimeout}
	client := transport.NewClient(httpClient, logger.With("component", "transport"),
		transport.WithUserAgent(cfg.HTTP.UserAgent),
		transport.WithRetries(cfg.HTTP.Retries, cfg.HTTP.Backoff),
	)

	deps := provider.Dependencies{
		Client:    client,
		Secrets:   cfg.SecretStore(),
		Logger:    logger,
		SitesDir:  cfg.SitesDir,
		DataDir:   cfg.DataDir,
		Endpoints: cfg.Endpoints,
	}

	fetchers := make([]gauge.Fetcher, 0, len(provider.Names()))
	for _, name := range provider.Names() {
		f, err := provider.New(name, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", name, err)
		}
		fetchers = append(fetchers, f)
	}

	var apiKeys secret.Store
	if len(cfg.Server.APIKeys) > 0 {
		apiKeys = cfg.APIKeyStore()
	} else {
		logger.Warn("No API keys configured, the API is open")
	}

	return server.New(fetchers, apiKeys, logger), nil
}
