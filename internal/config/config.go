package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tkhamidov/surge/pkg/secrets"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type BinanceConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	APISecret         string  `mapstructure:"api_secret"`
	Testnet           bool    `mapstructure:"testnet"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type TradingConfig struct {
	QuoteAsset        string  `mapstructure:"quote_asset"`
	Slots             int     `mapstructure:"slots"`
	CapitalFraction   float64 `mapstructure:"capital_fraction"`
	ProfitFraction    float64 `mapstructure:"profit_fraction"`
	BuySlippage       float64 `mapstructure:"buy_slippage"`
	SellSlippage      float64 `mapstructure:"sell_slippage"`
	SellRetries       int     `mapstructure:"sell_retries"`
	SellRetryDelay    int     `mapstructure:"sell_retry_delay_seconds"`
	Replacement       bool    `mapstructure:"replacement"`
	TopK              int     `mapstructure:"top_k"`
	VolumeWeighted    bool    `mapstructure:"volume_weighted"`
	ReconcileInterval int     `mapstructure:"reconcile_interval_seconds"`
}

func (t TradingConfig) SellRetryDelayDuration() time.Duration {
	return time.Duration(t.SellRetryDelay) * time.Second
}

func (t TradingConfig) ReconcileIntervalDuration() time.Duration {
	return time.Duration(t.ReconcileInterval) * time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID   string              `mapstructure:"project_id"`
	UseSecrets  bool                `mapstructure:"use_secrets"`
	SecretNames secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/surge")
	}

	v.SetEnvPrefix("SURGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
		return fmt.Errorf("binance api_key and api_secret are required")
	}
	if c.Trading.Slots <= 0 {
		return fmt.Errorf("trading.slots must be positive")
	}
	if c.Trading.CapitalFraction <= 0 || c.Trading.CapitalFraction > 1 {
		return fmt.Errorf("trading.capital_fraction must be in (0, 1]")
	}
	if c.Trading.ProfitFraction <= 0 {
		return fmt.Errorf("trading.profit_fraction must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)

	// Binance defaults
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.requests_per_second", 10)

	// Trading defaults
	v.SetDefault("trading.quote_asset", "USDT")
	v.SetDefault("trading.slots", 4)
	v.SetDefault("trading.capital_fraction", 0.9)
	v.SetDefault("trading.profit_fraction", 0.002)
	v.SetDefault("trading.buy_slippage", 0.001)
	v.SetDefault("trading.sell_slippage", 0.001)
	v.SetDefault("trading.sell_retries", 3)
	v.SetDefault("trading.sell_retry_delay_seconds", 2)
	v.SetDefault("trading.replacement", false)
	v.SetDefault("trading.top_k", 10)
	v.SetDefault("trading.volume_weighted", false)
	v.SetDefault("trading.reconcile_interval_seconds", 60)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	// Secret name defaults
	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.binance_api_key", secretNames.BinanceAPIKey)
	v.SetDefault("gcp.secret_names.binance_api_secret", secretNames.BinanceAPISecret)
	v.SetDefault("gcp.secret_names.telegram_bot_token", secretNames.TelegramBotToken)
	v.SetDefault("gcp.secret_names.telegram_chat_id", secretNames.TelegramChatID)
}

func overrideFromEnv(config *Config) {
	// Exchange credentials from environment
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		config.Binance.APIKey = apiKey
	}
	if apiSecret := os.Getenv("BINANCE_API_SECRET"); apiSecret != "" {
		config.Binance.APISecret = apiSecret
	}

	// Telegram credentials from environment
	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		config.Telegram.BotToken = botToken
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		config.Telegram.ChatID = chatID
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that aren't already set
	if config.Binance.APIKey == "" {
		config.Binance.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.BinanceAPIKey, "")
	}
	if config.Binance.APISecret == "" {
		config.Binance.APISecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.BinanceAPISecret, "")
	}
	if config.Telegram.BotToken == "" {
		config.Telegram.BotToken = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.TelegramBotToken, "")
	}
	if config.Telegram.ChatID == "" {
		config.Telegram.ChatID = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.TelegramChatID, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
