package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tkhamidov/surge/api"
	"github.com/tkhamidov/surge/internal/config"
	"github.com/tkhamidov/surge/pkg/exchange/binance"
	"github.com/tkhamidov/surge/pkg/notify"
	"github.com/tkhamidov/surge/pkg/trader"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "surge",
		Short: "Momentum spot-trading bot",
		Long:  `Ranks pairs by short-term momentum, spreads a capital budget across slots and exits each position at its target price`,
		Run:   runTrader,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runTrader(cmd *cobra.Command, args []string) {
	// Credentials may live in a .env next to the binary
	_ = godotenv.Load()

	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := binance.NewClient(
		cfg.Binance.APIKey,
		cfg.Binance.APISecret,
		cfg.Binance.Testnet,
		cfg.Binance.RequestsPerSecond,
		logger,
	)

	var notifier notify.Notifier
	var telegram *notify.TelegramNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		telegram = notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		notifier = telegram
	} else {
		logger.Warn("Telegram not configured, notifications go to the log only")
		notifier = &notify.LogNotifier{Logger: logger}
	}

	book := trader.NewPositionBook()
	ranker := trader.NewMomentumRanker(client, cfg.Trading.QuoteAsset, cfg.Trading.TopK, cfg.Trading.VolumeWeighted, logger)
	controller := trader.NewController(trader.CycleConfig{
		QuoteAsset:        cfg.Trading.QuoteAsset,
		Slots:             cfg.Trading.Slots,
		CapitalFraction:   cfg.Trading.CapitalFraction,
		ProfitFraction:    cfg.Trading.ProfitFraction,
		BuySlippage:       cfg.Trading.BuySlippage,
		SellSlippage:      cfg.Trading.SellSlippage,
		SellRetries:       cfg.Trading.SellRetries,
		SellRetryDelay:    cfg.Trading.SellRetryDelayDuration(),
		Replacement:       cfg.Trading.Replacement,
		ReconcileInterval: cfg.Trading.ReconcileIntervalDuration(),
	}, client, client, ranker, book, notifier, logger)

	if err := controller.StartCycle(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start trade cycle")
	}

	apiServer := api.NewServer(controller, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	if telegram != nil {
		go telegram.StartPolling(ctx, func(ctx context.Context, command string) string {
			switch strings.ToLower(command) {
			case "/stop", "/sellall":
				if err := controller.ForceLiquidateAll(ctx); err != nil {
					return fmt.Sprintf("⚠️ Liquidation finished with errors: %v", err)
				}
				return "✅ All positions sold, bot stopped"
			case "/status":
				return fmt.Sprintf("📊 Open positions: %d, realized profit: %.4f %s",
					len(controller.Positions()), controller.RealizedProfit(), cfg.Trading.QuoteAsset)
			default:
				return ""
			}
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Surge is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	controller.Stop()
	cancel()

	logger.Info("Surge stopped")
}
