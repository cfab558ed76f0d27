package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fxguy0/derivbot/bot"
	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/cache"
	"github.com/fxguy0/derivbot/config"
	"github.com/fxguy0/derivbot/core"
	"github.com/fxguy0/derivbot/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	log.Info().Str("timezone", cfg.Timezone).Int("symbols", len(cfg.SymbolsToTables)).
		Strs("strategies", cfg.Strategies).Msg("derivbot starting")

	store, err := storage.Open(cfg.DatabaseURL, cfg.SQLitePath, cfg.SymbolsToTables)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dedupe := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
	defer dedupe.Close()

	telegram, err := bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram init failed")
	}
	var notifier core.Notifier = core.NopNotifier{}
	if telegram != nil {
		notifier = telegram
	}

	dialer := &broker.WSDialer{URL: cfg.BrokerWSURL}
	engine := core.NewEngine(cfg, dialer, store, dedupe, notifier)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("🛑 shutting down")
		cancel()
	}()

	if err := engine.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine failed")
	}
	log.Info().Msg("👋 goodbye")
}
