package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"feeseller/config"
	auditchannel "feeseller/internal/channel/audit"
	"feeseller/internal/chain"
	"feeseller/internal/pricefeed"
	"feeseller/internal/seller"
	"feeseller/internal/venue"
	binancevenue "feeseller/internal/venue/binance"
	kucoinvenue "feeseller/internal/venue/kucoin"
	uniswapvenue "feeseller/internal/venue/uniswap"
	"feeseller/logger"
	"feeseller/notifier"
	"feeseller/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	// The tuning file path comes from FEE_SELLER_CONFIG; the process takes
	// no CLI flags.
	cfg, err := config.Load("")
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	// Non-secret env values only; the account key must never reach the log.
	log.WithEnv(
		config.EnvEthNetwork,
		config.EnvMaxLiquidationFeePercent,
		config.EnvMaxLiquidationFeeSlippage,
		config.EnvEthTransferThreshold,
		config.EnvTuningPath,
	).Info("environment contract")

	appEnv := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.FeeSeller.Name,
		"version":     cfg.FeeSeller.Version,
		"environment": appEnv,
		"network":     cfg.Env.Network,
		"accumulator": cfg.Env.Accumulator.Hex(),
	}).Info("starting fee seller")

	if config.IsProductionLike(appEnv) && !cfg.Audit.S3.Enabled {
		log.WithComponent("main").Warn("audit trail disabled in a production-like environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if region := os.Getenv("AWS_REGION"); region != "" {
		logger.InitCloudWatch(region, "")
	}
	if strings.ToLower(cfg.Logging.Level) == "debug" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.Worker.CallTimeout)
	chainClient, err := chain.Dial(dialCtx, cfg.Env.Web3URL, cfg.Env.Network, cfg.Env.PrivateKey, cfg.Worker.ConfirmationWait)
	dialCancel()
	if err != nil {
		log.WithError(err).Error("failed to connect to chain RPC")
		os.Exit(1)
	}
	defer chainClient.Close()

	if chainClient.FeeAccount() != cfg.Env.Accumulator {
		log.WithComponent("main").WithFields(logger.Fields{
			"fee_account": chainClient.FeeAccount().Hex(),
			"accumulator": cfg.Env.Accumulator.Hex(),
		}).Warn("fee account key does not control the accumulator address")
	}

	sellVenue, err := buildVenue(cfg, chainClient)
	if err != nil {
		log.WithError(err).Error("failed to initialise venue")
		os.Exit(1)
	}

	prices := pricefeed.NewBybitSource(cfg.Pricefeed)
	webhook := notifier.Webhook_NewNotifier(cfg)

	var auditChannels *auditchannel.Channels
	var auditWriter *writer.AuditWriter
	if cfg.Audit.S3.Enabled {
		auditChannels = auditchannel.NewChannels(cfg.Audit.S3.Buffer)
		defer auditChannels.Close()

		auditWriter, err = writer.NewAuditWriter(cfg, auditChannels)
		if err != nil {
			log.WithError(err).Error("failed to create audit writer")
			os.Exit(1)
		}
		if err := auditWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start audit writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 audit trail disabled; skipping writer")
	}

	worker := seller.Seller_NewWorker(cfg, chainClient, prices, sellVenue, webhook, auditChannels)
	if err := worker.Seller_Start(ctx); err != nil {
		log.WithError(err).Error("failed to start seller worker")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Seller_Stop()
		if auditWriter != nil {
			auditWriter.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("fee seller stopped")
}

func buildVenue(cfg *config.Config, chainClient chain.Client) (venue.Venue, error) {
	switch strings.ToLower(cfg.Venue.Name) {
	case "binance":
		return binancevenue.Binance_NewVenue(cfg), nil
	case "kucoin":
		return kucoinvenue.Kucoin_NewVenue(cfg), nil
	case "uniswap":
		return uniswapvenue.Uniswap_NewVenue(cfg, chainClient), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", cfg.Venue.Name)
	}
}
