package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// TelegramBot pushes operational trade events to a chat. It implements the
// engine's notifier; a nil *TelegramBot drops every event so callers never
// need to branch on whether Telegram is configured.
type TelegramBot struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramBot connects to the Telegram API. Returns nil with no error
// when token is empty: notifications are optional.
func NewTelegramBot(token string, chatID int64) (*TelegramBot, error) {
	if token == "" || chatID == 0 {
		log.Info().Msg("telegram not configured, notifications disabled")
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot: create telegram api: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 telegram bot connected")
	return &TelegramBot{api: api, chatID: chatID}, nil
}

// TradeOpened announces a freshly bought contract.
func (b *TelegramBot) TradeOpened(email, symbol, kind string, contractID int64, stake decimal.Decimal) {
	b.send(fmt.Sprintf("🚀 Opened %s %s for %s\nContract: %d\nStake: %s",
		kind, symbol, email, contractID, stake.StringFixed(2)))
}

// TradeSettled announces a settled contract with its realized P/L.
func (b *TelegramBot) TradeSettled(email, symbol string, contractID int64, profit decimal.Decimal) {
	icon := "✅"
	if profit.IsNegative() {
		icon = "🔻"
	}
	b.send(fmt.Sprintf("%s Settled %s for %s\nContract: %d\nP/L: %s",
		icon, symbol, email, contractID, profit.StringFixed(2)))
}

// Alert sends a free-form operational warning.
func (b *TelegramBot) Alert(message string) {
	b.send("⚠️ " + message)
}

func (b *TelegramBot) send(text string) {
	if b == nil {
		return
	}
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
	}
}
