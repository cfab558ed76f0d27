package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/risk"
	"github.com/fxguy0/derivbot/storage"
	"github.com/fxguy0/derivbot/strategy"
)

// dispatchTTL covers repeated analysis of the same candles across
// orchestrator iterations: a signal keyed on the same 4h bar must not buy
// twice.
const dispatchTTL = 48 * time.Hour

// DispatchStore is the slice of the store the dispatcher needs.
type DispatchStore interface {
	TradingUsers() ([]storage.User, error)
	UserSymbols(email string) ([]string, error)
	InsertTrade(t storage.Trade) error
	SetTradingToday(email string, enabled bool) error
}

// Eligibility gates each (user, signal) pair before an order is placed.
type Eligibility interface {
	Eligible(ctx context.Context, user storage.User) (bool, error)
}

// Claimer marks a (user, signal) pair dispatched across iterations. A nil
// Claimer degrades to the in-iteration dedupe only.
type Claimer interface {
	ClaimDispatch(ctx context.Context, email, symbol string, signalTS time.Time, ttl time.Duration) bool
}

// ContractWatcher is where freshly bought contracts are handed off.
type ContractWatcher interface {
	Watch(t storage.Trade)
}

// Dispatcher turns signals into multiplier contracts, one order per
// eligible (user, signal) pair. It is the single order writer: dedupe is
// enforced in-memory per iteration and through the shared cache across
// iterations.
type Dispatcher struct {
	dialer   broker.Dialer
	store    DispatchStore
	eval     Eligibility
	sizer    *risk.Sizer
	claims   Claimer
	watcher  ContractWatcher
	notifier Notifier

	multiplier decimal.Decimal
	currency   string
	tpFactor   decimal.Decimal
	slOffset   decimal.Decimal
}

// NewDispatcher wires a dispatcher. claims may be nil; notifier must not be
// (use NopNotifier).
func NewDispatcher(dialer broker.Dialer, store DispatchStore, eval Eligibility, sizer *risk.Sizer,
	claims Claimer, watcher ContractWatcher, notifier Notifier,
	multiplier decimal.Decimal, currency string, tpFactor, slOffset decimal.Decimal) *Dispatcher {
	return &Dispatcher{
		dialer:     dialer,
		store:      store,
		eval:       eval,
		sizer:      sizer,
		claims:     claims,
		watcher:    watcher,
		notifier:   notifier,
		multiplier: multiplier,
		currency:   currency,
		tpFactor:   tpFactor,
		slOffset:   slOffset,
	}
}

// Process fans a batch of signals out to every trading user subscribed to
// the signal's symbol and strategy.
func (d *Dispatcher) Process(ctx context.Context, signals []strategy.Signal) {
	if len(signals) == 0 {
		return
	}
	users, err := d.store.TradingUsers()
	if err != nil {
		log.Error().Err(err).Msg("dispatch: user list failed")
		return
	}
	if len(users) == 0 {
		return
	}

	seen := make(map[string]bool)
	symbolsByEmail := make(map[string][]string)

	for _, sig := range signals {
		if !sig.Validate() {
			log.Warn().Str("symbol", sig.Symbol).Str("strategy", sig.Strategy).
				Msg("dispatch: malformed signal dropped")
			continue
		}
		for _, user := range users {
			if !user.HasStrategy(sig.Strategy) {
				continue
			}
			symbols, ok := symbolsByEmail[user.Email]
			if !ok {
				symbols, err = d.store.UserSymbols(user.Email)
				if err != nil {
					log.Warn().Err(err).Str("email", user.Email).Msg("dispatch: symbols lookup failed")
					continue
				}
				symbolsByEmail[user.Email] = symbols
			}
			if !contains(symbols, sig.Symbol) {
				continue
			}

			key := fmt.Sprintf("%s|%s|%d", user.Email, sig.Symbol, sig.Timestamp.Unix())
			if seen[key] {
				continue
			}
			seen[key] = true

			// Eligibility first: an ineligible user must not consume the
			// claim, or the signal stays burned if they recover within TTL.
			eligible, err := d.eval.Eligible(ctx, user)
			if err != nil {
				log.Warn().Err(err).Str("email", user.Email).Msg("dispatch: eligibility check failed")
				continue
			}
			if !eligible {
				continue
			}
			if d.claims != nil && !d.claims.ClaimDispatch(ctx, user.Email, sig.Symbol, sig.Timestamp, dispatchTTL) {
				log.Debug().Str("email", user.Email).Str("symbol", sig.Symbol).
					Msg("dispatch: already claimed")
				continue
			}
			d.dispatchOne(ctx, user, sig)
		}
	}
}

// dispatchOne opens a per-user session, sizes the stake, and buys.
func (d *Dispatcher) dispatchOne(ctx context.Context, user storage.User, sig strategy.Signal) {
	api, err := d.dialer.Session(ctx, user.Token)
	if err != nil {
		if broker.IsAuthError(err) {
			// A bad token will not fix itself; stop retrying this user
			// until the next daily reset.
			log.Error().Err(err).Str("email", user.Email).Msg("dispatch: token rejected, disabling for today")
			if serr := d.store.SetTradingToday(user.Email, false); serr != nil {
				log.Error().Err(serr).Str("email", user.Email).Msg("dispatch: flag write failed")
			}
			d.notifier.Alert("broker token rejected for " + user.Email)
			return
		}
		log.Warn().Err(err).Str("email", user.Email).Msg("dispatch: session failed")
		return
	}
	defer api.Close()

	stake := d.sizer.RiskAmount(ctx, api).Round(2)
	if !stake.IsPositive() {
		log.Warn().Str("email", user.Email).Str("symbol", sig.Symbol).
			Msg("dispatch: zero risk amount, skipping")
		return
	}

	contractType := "MULTUP"
	if sig.Kind == strategy.Sell {
		contractType = "MULTDOWN"
	}

	// Catalogue pre-check. A failed read is advisory only; a definitive
	// absence of the contract type skips the order.
	if contracts, err := api.ContractsFor(ctx, sig.Symbol); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("dispatch: contracts_for failed, proceeding")
	} else if !offersContract(contracts, contractType) {
		log.Warn().Str("symbol", sig.Symbol).Str("type", contractType).
			Msg("dispatch: contract type not offered, skipping")
		return
	}

	// Adapter into the broker's limit-order fields: the raw take-profit is
	// scaled and the raw stop-loss shifted, preserving the historical
	// operands and constants.
	takeProfit := sig.TakeProfit.Mul(d.tpFactor).Round(2)
	stopLoss := sig.StopLoss.Add(d.slOffset).Round(2)

	prop, err := api.Proposal(ctx, broker.ProposalSpec{
		ContractType: contractType,
		Symbol:       sig.Symbol,
		Currency:     d.currency,
		Amount:       stake,
		Multiplier:   d.multiplier,
		TakeProfit:   takeProfit,
		StopLoss:     stopLoss,
	})
	if err != nil {
		log.Warn().Err(err).Str("email", user.Email).Str("symbol", sig.Symbol).
			Msg("dispatch: proposal rejected")
		return
	}

	// The stake caps the buy, not the quoted ask.
	contractID, buyPrice, err := api.Buy(ctx, prop.ID, stake)
	if err != nil {
		log.Warn().Err(err).Str("email", user.Email).Str("symbol", sig.Symbol).
			Msg("dispatch: buy failed")
		return
	}

	trade := storage.Trade{
		ContractID:   contractID,
		Email:        user.Email,
		Token:        user.Token,
		Symbol:       sig.Symbol,
		Timestamp:    time.Now().UTC(),
		TradeStatus:  storage.TradeActive,
		Amount:       stake,
		Multiplier:   d.multiplier,
		ContractType: contractType,
		Currency:     d.currency,
		// The row keeps the signal-space prices; the adapted limit-order
		// values exist only on the broker side.
		TakeProfit: sig.TakeProfit,
		StopLoss:   sig.StopLoss,
		BuyPrice:   &buyPrice,
	}
	if err := d.store.InsertTrade(trade); err != nil {
		log.Error().Err(err).Int64("contract", contractID).Msg("dispatch: trade insert failed")
	}
	d.watcher.Watch(trade)
	d.notifier.TradeOpened(user.Email, sig.Symbol, sig.Kind, contractID, stake)

	log.Info().Str("email", user.Email).Str("symbol", sig.Symbol).
		Str("type", contractType).Int64("contract", contractID).
		Str("stake", stake.String()).Msg("🚀 contract opened")
}

func offersContract(contracts []broker.ContractInfo, contractType string) bool {
	for _, c := range contracts {
		if c.ContractType == contractType {
			return true
		}
	}
	return false
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
