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

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/schrute_ledger/internal/broker"
	"github.com/eddiefleurent/schrute_ledger/internal/cache"
	"github.com/eddiefleurent/schrute_ledger/internal/config"
	"github.com/eddiefleurent/schrute_ledger/internal/dashboard"
	"github.com/eddiefleurent/schrute_ledger/internal/gateway"
	"github.com/eddiefleurent/schrute_ledger/internal/mock"
	"github.com/eddiefleurent/schrute_ledger/internal/service"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting position ledger in %s mode", cfg.Environment.Mode)

	upstream, feed := buildUpstream(cfg, logger)

	var gw *gateway.Gateway
	if upstream != nil {
		gw = gateway.New(upstream, gateway.Config{
			FailureThreshold: cfg.GetFailureThreshold(),
			RecoveryTimeout:  cfg.RecoveryTimeoutDuration(),
			RequestTimeout:   cfg.RequestTimeoutDuration(),
			QuoteTTL:         cfg.QuoteTTLDuration(),
			SweepInterval:    cfg.SweepIntervalDuration(),
		}, logger)
	} else {
		logger.Warn("Broker credentials missing, serving in not-configured mode")
	}

	ledger := service.New(gw, feed, cache.NewMemoryBook(), service.Config{
		ThrottleInterval: cfg.ThrottleIntervalDuration(),
		QueueCapacity:    cfg.GetQueueCapacity(),
		SubscriberBuffer: cfg.GetSubscriberBuffer(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger.Start(ctx)

	server := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
	}, ledger, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		logger.WithError(err).Error("Dashboard server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Dashboard shutdown failed")
	}

	cancel()
	ledger.Stop()
	logger.Info("Shutdown complete")
}

// buildUpstream wires the broker client and quote feed for the configured
// mode. Missing credentials yield a nil upstream rather than an error so the
// HTTP API can still answer with an explicit unavailable status.
func buildUpstream(cfg *config.Config, logger *logrus.Logger) (broker.Broker, broker.QuoteFeed) {
	if cfg.Environment.Mode == "mock" {
		b := mock.NewBroker()
		return b, mock.NewFeed(b, time.Second)
	}

	if !cfg.IsConfigured() {
		return nil, nil
	}

	client := broker.NewTradierClient(
		cfg.Broker.APIKey,
		cfg.Broker.AccountID,
		cfg.IsSandbox(),
		cfg.Broker.APIEndpoint,
		logger,
	)

	var feed broker.QuoteFeed
	if cfg.Broker.StreamEndpoint != "" {
		wsFeed, err := broker.NewWSFeed(cfg.Broker.StreamEndpoint, cfg.Broker.APIKey, logger)
		if err != nil {
			logger.WithError(err).Warn("Quote feed unavailable, continuing without streaming")
		} else {
			feed = wsFeed
		}
	}

	return client, feed
}
