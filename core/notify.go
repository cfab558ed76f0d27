package core

import (
	"github.com/shopspring/decimal"
)

// Notifier receives operational trade events. The Telegram bot implements
// it; NopNotifier is used when no bot is configured.
type Notifier interface {
	TradeOpened(email, symbol, kind string, contractID int64, stake decimal.Decimal)
	TradeSettled(email, symbol string, contractID int64, profit decimal.Decimal)
	Alert(message string)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) TradeOpened(string, string, string, int64, decimal.Decimal) {}
func (NopNotifier) TradeSettled(string, string, int64, decimal.Decimal)        {}
func (NopNotifier) Alert(string)                                               {}
