package storage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade status values. A trade is created active and settles to complete
// exactly once; rows are never deleted.
const (
	TradeActive   = "active"
	TradeComplete = "complete"
)

// User mirrors the userdetails table owned by the admin surface. The engine
// only mutates the trading flags and balance columns.
type User struct {
	Email        string          `gorm:"primaryKey"`
	Token        string
	Strategy     string          // comma-separated subset of the known strategies
	Trading      bool
	TradingToday bool
	Balance      decimal.Decimal `gorm:"type:decimal(18,2)"`
	BalanceToday decimal.Decimal `gorm:"type:decimal(18,2)"`
	CreatedAt    time.Time
	StartedAt    time.Time
}

func (User) TableName() string { return "userdetails" }

// Strategies splits the strategy column into its set members.
func (u User) Strategies() []string {
	var out []string
	for _, s := range strings.Split(u.Strategy, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasStrategy reports whether the user subscribed to the named strategy.
func (u User) HasStrategy(name string) bool {
	for _, s := range u.Strategies() {
		if s == name {
			return true
		}
	}
	return false
}

// UserSymbol is one instrument subscription.
type UserSymbol struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"index"`
	Token     string `gorm:"index"`
	Symbol    string
	CreatedAt time.Time
}

func (UserSymbol) TableName() string { return "symbols" }

// Risk holds the per-user risk percentages. PerTrade defaults to 1 when
// absent; PerDay / PerTrade bounds the trades per day.
type Risk struct {
	Email    string          `gorm:"primaryKey"`
	PerTrade decimal.Decimal `gorm:"type:decimal(8,4)"`
	PerDay   decimal.Decimal `gorm:"type:decimal(8,4)"`
}

func (Risk) TableName() string { return "risk_table" }

// Window is the user's lifecycle window with its P/L caps, all percentages
// of balance. Daily caps apply to BalanceToday, overall caps to Balance.
type Window struct {
	Email       string          `gorm:"primaryKey"`
	StartDate   time.Time
	StopDate    time.Time
	LossPerDay  decimal.Decimal `gorm:"type:decimal(8,4)"`
	OverallLoss decimal.Decimal `gorm:"type:decimal(8,4)"`
	WinPerDay   decimal.Decimal `gorm:"type:decimal(8,4)"`
	OverallWin  decimal.Decimal `gorm:"type:decimal(8,4)"`
}

func (Window) TableName() string { return "start_stop_table" }

// Trade is one multiplier contract. Settlement fields stay nil until the
// monitor records the terminal state.
type Trade struct {
	ContractID   int64            `gorm:"primaryKey"`
	Email        string           `gorm:"index"`
	Token        string
	Symbol       string
	Timestamp    time.Time
	TradeStatus  string           `gorm:"index"`
	Amount       decimal.Decimal  `gorm:"type:decimal(18,2)"`
	Multiplier   decimal.Decimal  `gorm:"type:decimal(10,2)"`
	ContractType string
	Currency     string
	TakeProfit   decimal.Decimal  `gorm:"type:decimal(18,5)"`
	StopLoss     decimal.Decimal  `gorm:"type:decimal(18,5)"`
	BuyPrice     *decimal.Decimal `gorm:"type:decimal(18,2)"`
	SellPrice    *decimal.Decimal `gorm:"type:decimal(18,2)"`
	SellTime     *time.Time
	ProfitLoss   *decimal.Decimal `gorm:"type:decimal(18,2)"`
}

func (Trade) TableName() string { return "trades" }

// SignalRecord is the audit row written for every emitted signal.
type SignalRecord struct {
	ID        string          `gorm:"primaryKey"`
	Timestamp time.Time
	Pair      string
	Signal    string
	Entry     decimal.Decimal `gorm:"type:decimal(18,5)"`
	SL        decimal.Decimal `gorm:"type:decimal(18,5)"`
	TP        decimal.Decimal `gorm:"type:decimal(18,5)"`
	Strategy  string
}

func (SignalRecord) TableName() string { return "trading_signals" }

// BalanceSnapshot is one append-only balance observation.
type BalanceSnapshot struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time
	Email     string          `gorm:"index"`
	Balance   decimal.Decimal `gorm:"type:decimal(18,2)"`
}

func (BalanceSnapshot) TableName() string { return "balances" }

// CandleRow is the schema shared by every per-symbol candle table; the table
// name is bound at query time from the configured whitelist.
type CandleRow struct {
	Timestamp time.Time       `gorm:"primaryKey"`
	Open      decimal.Decimal `gorm:"type:decimal(18,5)"`
	High      decimal.Decimal `gorm:"type:decimal(18,5)"`
	Low       decimal.Decimal `gorm:"type:decimal(18,5)"`
	Close     decimal.Decimal `gorm:"type:decimal(18,5)"`
}
