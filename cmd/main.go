// cmd/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/devid-org/github-attestation-bot/internal/attestation"
	"github.com/devid-org/github-attestation-bot/internal/bot"
	"github.com/devid-org/github-attestation-bot/internal/config"
	"github.com/devid-org/github-attestation-bot/internal/db"
	"github.com/devid-org/github-attestation-bot/internal/github"
	"github.com/devid-org/github-attestation-bot/internal/kvlock"
	"github.com/devid-org/github-attestation-bot/internal/logging"
	"github.com/devid-org/github-attestation-bot/internal/notifications"
	"github.com/devid-org/github-attestation-bot/internal/obyte"
	"github.com/devid-org/github-attestation-bot/internal/payments"
	"github.com/devid-org/github-attestation-bot/internal/proof"
	"github.com/devid-org/github-attestation-bot/internal/texts"
	"github.com/devid-org/github-attestation-bot/internal/web"
	"go.uber.org/zap"
)

const (
	pollInterval    = 10 * time.Second
	retryInterval   = time.Minute
	consolidateEach = time.Hour
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(cfg.Debug)

	if err := db.Init(cfg.DatabaseURL, "migrations"); err != nil {
		log.Fatalf("Failed to connect to the database: %v", err)
	}
	defer db.Close()
	if err := db.CheckSchema(); err != nil {
		log.Fatalf("Database schema check failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := db.NewStore(db.DB)
	locks := kvlock.New()
	alerter := notifications.LogAlerter{}
	wallet := obyte.NewClient(cfg.WalletRPCURL)

	attestorAddress, err := wallet.FirstAddress(ctx)
	if err != nil {
		log.Fatalf("Failed to read the attestor address from the wallet: %v", err)
	}
	logging.Info("attestor address", zap.String("address", attestorAddress))

	orchestrator := bot.NewOrchestrator(store, wallet, nil, locks, bot.OrchestratorConfig{
		Site:                cfg.Site,
		PriceInBytes:        cfg.PriceInBytes,
		AllowProofByPayment: cfg.AllowProofByPayment,
	})

	b, err := bot.NewBot(cfg.TelegramToken, texts.Greeting(cfg.AllowProofByPayment, cfg.PriceInBytes), orchestrator)
	if err != nil {
		log.Fatalf("Failed to create the bot: %v", err)
	}

	issuer := attestation.NewIssuer(store, wallet, b, alerter, locks, attestation.Config{
		AttestorAddress: attestorAddress,
		AttestationAA:   cfg.AttestationAA,
		ExplorerURL:     cfg.ExplorerURL,
		Salt:            cfg.Salt,
		PostTimestamp:   cfg.PostTimestamp,
	})
	watcher := payments.NewWatcher(store, wallet, issuer, b, payments.WatcherConfig{
		AllowProofByPayment:       cfg.AllowProofByPayment,
		AcceptUnconfirmedPayments: cfg.AcceptUnconfirmedPayments,
	})
	consolidator := payments.NewConsolidator(store, wallet, alerter, locks, attestorAddress, cfg.MaxAuthorsPerUnit)
	validator := proof.NewValidator(store, wallet, issuer)
	orchestrator.SetProofHandler(validator)

	gh := github.NewClient(cfg.GithubClientID, cfg.GithubClientSecret)
	server := web.NewServer(store, gh, b, orchestrator, web.Config{
		Port:               strconv.Itoa(cfg.WebPort),
		ExplorerURL:        cfg.ExplorerURL,
		FetchOrganizations: cfg.FetchOrganizations,
	})

	poller := obyte.NewPoller(wallet, store, watcher, pollInterval)
	go poller.Run(ctx)

	go every(ctx, retryInterval, issuer.RetryUnposted)
	go every(ctx, consolidateEach, consolidator.Sweep)

	go func() {
		if err := server.Start(); err != nil {
			logging.Error("web server stopped", zap.Error(err))
		}
	}()

	go b.Start()

	<-ctx.Done()
	logging.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("web server shutdown failed", zap.Error(err))
	}
	b.Stop()
}

func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
