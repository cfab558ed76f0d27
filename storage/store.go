package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps the SQL backend with typed accessors. Mutations are single
// statements; there are no multi-statement transactions anywhere, so every
// write must be self-consistent on its own.
type Store struct {
	db           *gorm.DB
	candleTables map[string]bool // whitelist, from the symbol->table config
}

// Open connects to Postgres when dsn is set, else falls back to a local
// sqlite file, and idempotently creates all tables including the whitelisted
// candle tables.
func Open(dsn, sqlitePath string, candleTables map[string]string) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if dsn != "" {
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	} else {
		if dir := filepath.Dir(sqlitePath); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("storage: create %s: %w", dir, mkErr)
			}
		}
		log.Warn().Str("path", sqlitePath).Msg("no Postgres DSN, using sqlite")
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	s := &Store{db: db, candleTables: make(map[string]bool, len(candleTables))}

	if err := db.AutoMigrate(
		&User{}, &UserSymbol{}, &Risk{}, &Window{},
		&Trade{}, &SignalRecord{}, &BalanceSnapshot{},
	); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	for _, table := range candleTables {
		if err := db.Table(table).AutoMigrate(&CandleRow{}); err != nil {
			return nil, fmt.Errorf("storage: migrate candle table %s: %w", table, err)
		}
		s.candleTables[table] = true
	}

	log.Info().Int("candle_tables", len(s.candleTables)).Msg("store ready")
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// ─── users ───

// TradingUsers returns users with both enable flags set.
func (s *Store) TradingUsers() ([]User, error) {
	var users []User
	err := s.db.Where("trading = ? AND trading_today = ?", true, true).Find(&users).Error
	return users, err
}

// UsersWithMasterEnable returns users with trading=true regardless of the
// soft flag; the eligibility monitor sweeps these.
func (s *Store) UsersWithMasterEnable() ([]User, error) {
	var users []User
	err := s.db.Where("trading = ?", true).Find(&users).Error
	return users, err
}

// AllUsers returns every user row.
func (s *Store) AllUsers() ([]User, error) {
	var users []User
	err := s.db.Find(&users).Error
	return users, err
}

// SetTradingToday flips the soft enable only.
func (s *Store) SetTradingToday(email string, enabled bool) error {
	return s.db.Model(&User{}).Where("email = ?", email).
		Update("trading_today", enabled).Error
}

// SetTrading sets both flags in one statement. trading_today=true with
// trading=false is never written; the caller upholds the invariant.
func (s *Store) SetTrading(email string, trading, tradingToday bool) error {
	return s.db.Model(&User{}).Where("email = ?", email).
		Updates(map[string]any{"trading": trading, "trading_today": tradingToday}).Error
}

// EnableTradingTodayForActive re-enables the soft flag for everyone whose
// master flag is on (the daily reset's clearing pass).
func (s *Store) EnableTradingTodayForActive() error {
	return s.db.Model(&User{}).Where("trading = ?", true).
		Update("trading_today", true).Error
}

// UpdateBalanceToday writes the day-start balance snapshot column.
func (s *Store) UpdateBalanceToday(email string, balance decimal.Decimal) error {
	return s.db.Model(&User{}).Where("email = ?", email).
		Update("balance_today", balance).Error
}

// UpdateLifecycleBalance resets the lifecycle-start balance. Only done when
// the user's start_date is today.
func (s *Store) UpdateLifecycleBalance(email string, balance decimal.Decimal) error {
	return s.db.Model(&User{}).Where("email = ?", email).
		Update("balance", balance).Error
}

// ─── subscriptions, risk, windows ───

// UserSymbols lists the instruments a user subscribed to.
func (s *Store) UserSymbols(email string) ([]string, error) {
	var rows []UserSymbol
	if err := s.db.Where("email = ?", email).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Symbol)
	}
	return out, nil
}

// GetRisk fetches the user's risk row; found=false when absent.
func (s *Store) GetRisk(email string) (Risk, bool, error) {
	var r Risk
	err := s.db.Where("email = ?", email).First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return Risk{}, false, nil
	}
	return r, err == nil, err
}

// GetWindow fetches the user's start/stop window; found=false when absent.
func (s *Store) GetWindow(email string) (Window, bool, error) {
	var w Window
	err := s.db.Where("email = ?", email).First(&w).Error
	if err == gorm.ErrRecordNotFound {
		return Window{}, false, nil
	}
	return w, err == nil, err
}

// AllWindows returns every start/stop row, for the daily reset sweep.
func (s *Store) AllWindows() ([]Window, error) {
	var windows []Window
	err := s.db.Find(&windows).Error
	return windows, err
}

// ─── trades ───

// InsertTrade records a freshly bought contract in active state.
func (s *Store) InsertTrade(t Trade) error {
	return s.db.Create(&t).Error
}

// ActiveTrades returns every trade still awaiting settlement.
func (s *Store) ActiveTrades() ([]Trade, error) {
	var trades []Trade
	err := s.db.Where("trade_status = ?", TradeActive).Find(&trades).Error
	return trades, err
}

// CompleteTrade writes the settlement exactly once: the guard on
// trade_status makes a repeated write a no-op, which keeps the
// active→complete transition monotone.
func (s *Store) CompleteTrade(contractID int64, buyPrice, sellPrice, profitLoss decimal.Decimal, sellTime time.Time) error {
	return s.db.Model(&Trade{}).
		Where("contract_id = ? AND trade_status = ?", contractID, TradeActive).
		Updates(map[string]any{
			"trade_status": TradeComplete,
			"buy_price":    buyPrice,
			"sell_price":   sellPrice,
			"profit_loss":  profitLoss,
			"sell_time":    sellTime,
		}).Error
}

// SumProfitLoss totals settled P/L for a user in [from, to).
func (s *Store) SumProfitLoss(email string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.db.Model(&Trade{}).
		Where("email = ? AND timestamp >= ? AND timestamp < ? AND trade_status = ?",
			email, from, to, TradeComplete).
		Select("SUM(profit_loss)").Scan(&total).Error
	if err != nil || !total.Valid {
		return decimal.Zero, err
	}
	return total.Decimal, nil
}

// CountTrades counts a user's trades placed in [from, to).
func (s *Store) CountTrades(email string, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&Trade{}).
		Where("email = ? AND timestamp >= ? AND timestamp < ?", email, from, to).
		Count(&n).Error
	return n, err
}

// ─── signals and balances ───

// PersistSignals writes audit rows for a batch of emitted signals.
func (s *Store) PersistSignals(records []SignalRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
		if records[i].Timestamp.IsZero() {
			records[i].Timestamp = time.Now().UTC()
		}
	}
	return s.db.Create(&records).Error
}

// InsertBalanceSnapshot appends one balance observation.
func (s *Store) InsertBalanceSnapshot(email string, balance decimal.Decimal, at time.Time) error {
	return s.db.Create(&BalanceSnapshot{
		Timestamp: at.UTC(),
		Email:     email,
		Balance:   balance,
	}).Error
}

// ─── candle tables ───

// UpsertCandle writes a minute candle into its symbol table, overwriting any
// row already keyed on the same timestamp (idempotent catch-up).
func (s *Store) UpsertCandle(table string, c CandleRow) error {
	if !s.candleTables[table] {
		return fmt.Errorf("storage: candle table %q not in whitelist", table)
	}
	return s.db.Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close"}),
	}).Create(&c).Error
}

// ReadCandles returns a symbol table's minute candles since the given time,
// ordered by timestamp.
func (s *Store) ReadCandles(table string, since time.Time) ([]CandleRow, error) {
	if !s.candleTables[table] {
		return nil, fmt.Errorf("storage: candle table %q not in whitelist", table)
	}
	var rows []CandleRow
	err := s.db.Table(table).
		Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}
