package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/storage"
)

var hundredPct = decimal.NewFromInt(100)

// FlagStore is the slice of the store the evaluator reads and mutates.
type FlagStore interface {
	GetRisk(email string) (storage.Risk, bool, error)
	GetWindow(email string) (storage.Window, bool, error)
	SetTradingToday(email string, enabled bool) error
	SetTrading(email string, trading, tradingToday bool) error
	UsersWithMasterEnable() ([]storage.User, error)
}

// ProfitSource supplies realized trade statistics for a user over [from, to).
// net is the signed sum of realized P/L.
type ProfitSource interface {
	Stats(ctx context.Context, user storage.User, from, to time.Time) (count int64, net decimal.Decimal, err error)
}

// StoreProfitSource reads statistics from settled trade rows. Used by the
// periodic sweep, where a broker round trip per user would be wasteful.
type StoreProfitSource struct {
	Store *storage.Store
}

func (s *StoreProfitSource) Stats(ctx context.Context, user storage.User, from, to time.Time) (int64, decimal.Decimal, error) {
	count, err := s.Store.CountTrades(user.Email, from, to)
	if err != nil {
		return 0, decimal.Zero, err
	}
	net, err := s.Store.SumProfitLoss(user.Email, from, to)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return count, net, nil
}

// BrokerProfitSource reads statistics from the broker's profit table over a
// per-user authorized session. Used at dispatch time, where broker truth
// beats possibly stale rows.
type BrokerProfitSource struct {
	Dialer broker.Dialer
}

func (b *BrokerProfitSource) Stats(ctx context.Context, user storage.User, from, to time.Time) (int64, decimal.Decimal, error) {
	api, err := b.Dialer.Session(ctx, user.Token)
	if err != nil {
		return 0, decimal.Zero, err
	}
	defer api.Close()

	table, err := api.ProfitTable(ctx, broker.ProfitTableFilter{
		DateFrom: from,
		DateTo:   to,
		Sort:     "DESC",
	})
	if err != nil {
		return 0, decimal.Zero, err
	}
	net := decimal.Zero
	for _, tx := range table.Transactions {
		net = net.Add(tx.Profit())
	}
	return int64(table.Count), net, nil
}

// Evaluator decides whether a user may take another trade. Flag transitions
// are persisted so a disabled user stays disabled across iterations without
// re-evaluating the caps.
type Evaluator struct {
	store  FlagStore
	source ProfitSource
	loc    *time.Location
	now    func() time.Time
	alert  func(message string)
}

// NewEvaluator wires an evaluator; loc fixes the trading-day boundary.
func NewEvaluator(store FlagStore, source ProfitSource, loc *time.Location) *Evaluator {
	return &Evaluator{store: store, source: source, loc: loc, now: time.Now}
}

// OnHardStop registers a callback fired when an overall cap disables a user.
func (e *Evaluator) OnHardStop(fn func(message string)) {
	e.alert = fn
}

// Eligible applies the trade-count and P/L caps. A cap breach writes the
// flag transition before returning false; the daily caps clear the soft
// flag only, the overall caps clear both.
func (e *Evaluator) Eligible(ctx context.Context, user storage.User) (bool, error) {
	riskRow, ok, err := e.store.GetRisk(user.Email)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn().Str("email", user.Email).Msg("no risk row, user ineligible")
		return false, nil
	}
	window, ok, err := e.store.GetWindow(user.Email)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn().Str("email", user.Email).Msg("no trading window, user ineligible")
		return false, nil
	}

	now := e.now().In(e.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	countToday, netToday, err := e.source.Stats(ctx, user, dayStart, dayEnd)
	if err != nil {
		return false, err
	}

	perTrade := riskRow.PerTrade
	if !perTrade.IsPositive() {
		perTrade = decimal.NewFromInt(1)
	}
	maxTrades := riskRow.PerDay.Div(perTrade)
	if decimal.NewFromInt(countToday).GreaterThanOrEqual(maxTrades) {
		log.Info().Str("email", user.Email).Int64("count", countToday).
			Str("max", maxTrades.String()).Msg("daily trade count reached")
		return false, e.store.SetTradingToday(user.Email, false)
	}

	lossToday := decimal.Zero.Sub(netToday)
	dailyLossCap := user.BalanceToday.Mul(window.LossPerDay).Div(hundredPct)
	dailyWinCap := user.BalanceToday.Mul(window.WinPerDay).Div(hundredPct)
	if lossToday.GreaterThanOrEqual(dailyLossCap) || netToday.GreaterThanOrEqual(dailyWinCap) {
		log.Info().Str("email", user.Email).Str("net_today", netToday.String()).
			Msg("daily cap reached")
		return false, e.store.SetTradingToday(user.Email, false)
	}

	_, netAll, err := e.source.Stats(ctx, user, window.StartDate, dayEnd)
	if err != nil {
		return false, err
	}
	lossAll := decimal.Zero.Sub(netAll)
	overallLossCap := user.Balance.Mul(window.OverallLoss).Div(hundredPct)
	overallWinCap := user.Balance.Mul(window.OverallWin).Div(hundredPct)
	if lossAll.GreaterThanOrEqual(overallLossCap) || netAll.GreaterThanOrEqual(overallWinCap) {
		log.Warn().Str("email", user.Email).Str("net", netAll.String()).
			Msg("overall cap reached, trading stopped")
		if e.alert != nil {
			e.alert("overall cap reached, trading stopped for " + user.Email)
		}
		return false, e.store.SetTrading(user.Email, false, false)
	}
	return true, nil
}

// Sweep re-evaluates every user with the master flag on. Run periodically so
// cap breaches are enforced even for users without new signals.
func (e *Evaluator) Sweep(ctx context.Context) {
	users, err := e.store.UsersWithMasterEnable()
	if err != nil {
		log.Error().Err(err).Msg("eligibility sweep: user list failed")
		return
	}
	for _, user := range users {
		if _, err := e.Eligible(ctx, user); err != nil {
			log.Warn().Err(err).Str("email", user.Email).Msg("eligibility sweep failed for user")
		}
	}
}
