package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine.
type Config struct {
	// Broker
	BrokerWSURL string
	BrokerAppID string

	// Store
	DatabaseURL string // Postgres DSN; when empty the engine falls back to sqlite
	SQLitePath  string

	// Optional Redis for dispatch dedupe
	RedisAddr     string
	RedisPassword string

	// Telegram ops notifications
	TelegramToken  string
	TelegramChatID int64

	// Scheduling
	Timezone        string
	Location        *time.Location
	SleepInterval   time.Duration // orchestrator cadence
	MonitorInterval time.Duration // eligibility monitor cadence
	BalanceInterval time.Duration // balance snapshot cadence

	// Candle ingestion
	SymbolsToTables map[string]string
	LookbackHours   int
	IngestRetries   int
	IngestRetryWait time.Duration

	// Strategies
	Strategies []string

	// Risk / strategy constants
	PipValue          decimal.Decimal
	RiskPercentage    decimal.Decimal
	RewardToRiskRatio decimal.Decimal
	DefaultBufferPips decimal.Decimal
	HighRiskRatio     decimal.Decimal
	LowRiskRatio      decimal.Decimal
	ATRPeriod         int
	ADXThreshold      decimal.Decimal
	ADXGateEnabled    bool
	MAPeriods         MAPeriods

	// Dispatch
	Multiplier     decimal.Decimal
	Currency       string
	TPBrokerFactor decimal.Decimal // take_profit adapter into broker limit-order space
	SLBrokerOffset decimal.Decimal // stop_loss adapter into broker limit-order space

	// Mode
	Debug bool
}

// MAPeriods are the moving-average window lengths used by the crossover strategy.
type MAPeriods struct {
	Short    int
	Mid      int
	Long     int
	VeryLong int
}

// DefaultSymbols maps Deriv symbols to their candle tables.
var DefaultSymbols = map[string]string{
	"frxEURUSD": "eurousd_candles",
	"frxGBPUSD": "gbpusd_candles",
	"OTC_AS51":  "austraila200_candles",
	"frxUSDJPY": "usdjpy_candles",
	"OTC_SPC":   "us500_candles",
	"R_75":      "v75_candles",
	"frxXAUUSD": "gold_candles",
}

// Strategy names accepted in the STRATEGIES env var.
const (
	StrategyMalaysian     = "Malaysian"
	StrategyMovingAverage = "MovingAverage"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	appID := getEnv("BROKER_APP_ID", "65102")

	cfg := &Config{
		BrokerWSURL: getEnv("BROKER_WS_URL", "wss://ws.binaryws.com/websockets/v3?app_id="+appID),
		BrokerAppID: appID,

		DatabaseURL: storeDSN(),
		SQLitePath:  getEnv("SQLITE_PATH", "data/derivbot.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		Timezone:        getEnv("TIMEZONE", "Africa/Harare"),
		SleepInterval:   getEnvSeconds("SLEEP_INTERVAL_SECONDS", 14400),
		MonitorInterval: getEnvSeconds("MONITOR_INTERVAL_SECONDS", 300),
		BalanceInterval: getEnvSeconds("BALANCE_INTERVAL_SECONDS", 7200),

		SymbolsToTables: parseSymbolMap(os.Getenv("SYMBOLS_TO_TABLES")),
		// The crossover strategy needs 200 four-hour bars of warm-up before
		// it can emit anything, so the lookback must cover well past 800h.
		LookbackHours: getEnvInt("LOOKBACK_HOURS", 1000),
		IngestRetries:   getEnvInt("INGEST_RETRIES", 3),
		IngestRetryWait: getEnvSeconds("INGEST_RETRY_WAIT_SECONDS", 2),

		Strategies: parseStrategies(os.Getenv("STRATEGIES")),

		PipValue:          getEnvDecimal("PIP_VALUE", decimal.NewFromFloat(0.0001)),
		RiskPercentage:    getEnvDecimal("RISK_PERCENTAGE", decimal.NewFromFloat(0.02)),
		RewardToRiskRatio: getEnvDecimal("REWARD_TO_RISK_RATIO", decimal.NewFromInt(1)),
		DefaultBufferPips: getEnvDecimal("DEFAULT_BUFFER_PIPS", decimal.NewFromInt(5)),
		HighRiskRatio:     getEnvDecimal("HIGH_RISK_RATIO", decimal.NewFromInt(2)),
		LowRiskRatio:      getEnvDecimal("LOW_RISK_RATIO", decimal.NewFromInt(2)),
		ATRPeriod:         getEnvInt("ATR_PERIOD", 14),
		ADXThreshold:      getEnvDecimal("ADX_THRESHOLD", decimal.NewFromInt(20)),
		ADXGateEnabled:    getEnvBool("ADX_GATE_ENABLED", false),
		MAPeriods: MAPeriods{
			Short:    getEnvInt("MA_PERIOD_SHORT", 7),
			Mid:      getEnvInt("MA_PERIOD_MID", 14),
			Long:     getEnvInt("MA_PERIOD_LONG", 89),
			VeryLong: getEnvInt("MA_PERIOD_VERY_LONG", 200),
		},

		Multiplier:     getEnvDecimal("MULTIPLIER", decimal.NewFromInt(30)),
		Currency:       getEnv("CURRENCY", "USD"),
		TPBrokerFactor: getEnvDecimal("TP_BROKER_FACTOR", decimal.NewFromInt(3)),
		SLBrokerOffset: getEnvDecimal("SL_BROKER_OFFSET", decimal.NewFromFloat(2.49)),

		Debug: getEnvBool("DEBUG", false),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if len(cfg.SymbolsToTables) == 0 {
		cfg.SymbolsToTables = DefaultSymbols
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []string{StrategyMalaysian, StrategyMovingAverage}
	}
	for _, s := range cfg.Strategies {
		if s != StrategyMalaysian && s != StrategyMovingAverage {
			return nil, fmt.Errorf("unknown strategy %q in STRATEGIES", s)
		}
	}
	if cfg.PipValue.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("PIP_VALUE must be positive")
	}

	return cfg, nil
}

// storeDSN builds a Postgres DSN from DATABASE_URL or the STORE_* parts.
func storeDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := os.Getenv("STORE_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host,
		getEnv("STORE_PORT", "5432"),
		getEnv("STORE_USER", "postgres"),
		os.Getenv("STORE_PASSWORD"),
		getEnv("STORE_DATABASE", "derivbot"),
	)
}

// parseSymbolMap parses "frxEURUSD:eurousd_candles,R_75:v75_candles".
func parseSymbolMap(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func parseStrategies(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
