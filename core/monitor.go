package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/storage"
)

const (
	contractPollInterval = 2 * time.Second
	transientRetryWait   = 5 * time.Second
	reconcileInterval    = 10 * time.Second
)

// MonitorStore is the slice of the store the monitor needs.
type MonitorStore interface {
	ActiveTrades() ([]storage.Trade, error)
	CompleteTrade(contractID int64, buyPrice, sellPrice, profitLoss decimal.Decimal, sellTime time.Time) error
}

// Monitor follows every active contract to settlement. One watcher goroutine
// per contract; new contracts arrive over a bounded channel from the
// dispatcher, and a periodic reconcile against the store catches anything a
// full channel dropped.
type Monitor struct {
	dialer   broker.Dialer
	store    MonitorStore
	notifier Notifier

	poll      time.Duration
	retryWait time.Duration
	reconcile time.Duration

	mu       sync.Mutex
	watching map[int64]bool

	newCh chan storage.Trade
	wg    sync.WaitGroup
}

// NewMonitor wires a monitor with the default polling cadence.
func NewMonitor(dialer broker.Dialer, store MonitorStore, notifier Notifier) *Monitor {
	return &Monitor{
		dialer:    dialer,
		store:     store,
		notifier:  notifier,
		poll:      contractPollInterval,
		retryWait: transientRetryWait,
		reconcile: reconcileInterval,
		watching:  make(map[int64]bool),
		newCh:     make(chan storage.Trade, 64),
	}
}

// Watch registers a new contract without blocking the dispatcher. A full
// channel is fine: the reconcile pass picks the trade up from the store.
func (m *Monitor) Watch(t storage.Trade) {
	select {
	case m.newCh <- t:
	default:
		log.Debug().Int64("contract", t.ContractID).Msg("monitor queue full, reconcile will pick up")
	}
}

// Run loads the active trades left over from the previous run, then serves
// new registrations and the reconcile tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.reconcileFromStore(ctx)

	ticker := time.NewTicker(m.reconcile)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return
		case t := <-m.newCh:
			m.startWatcher(ctx, t)
		case <-ticker.C:
			m.reconcileFromStore(ctx)
		}
	}
}

// reconcileFromStore starts watchers for any active trade not already
// watched.
func (m *Monitor) reconcileFromStore(ctx context.Context) {
	trades, err := m.store.ActiveTrades()
	if err != nil {
		log.Error().Err(err).Msg("monitor: active trades load failed")
		return
	}
	for _, t := range trades {
		m.startWatcher(ctx, t)
	}
}

func (m *Monitor) startWatcher(ctx context.Context, t storage.Trade) {
	m.mu.Lock()
	if m.watching[t.ContractID] {
		m.mu.Unlock()
		return
	}
	m.watching[t.ContractID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.watching, t.ContractID)
			m.mu.Unlock()
		}()
		m.watch(ctx, t)
	}()
}

// watch polls one contract to its terminal state. The settlement write is
// guarded store-side by the active status, so a second watcher racing on
// the same contract cannot double-write.
func (m *Monitor) watch(ctx context.Context, t storage.Trade) {
	api, err := m.sessionWithRetry(ctx, t.Token)
	if err != nil {
		return
	}
	defer api.Close()

	for {
		state, err := api.OpenContract(ctx, t.ContractID)
		if err != nil {
			if broker.IsAuthError(err) {
				log.Error().Err(err).Int64("contract", t.ContractID).
					Msg("monitor: watcher stopped on auth failure")
				m.notifier.Alert("contract watcher lost authorization for " + t.Email)
				return
			}
			if !sleepCtx(ctx, m.retryWait) {
				return
			}
			continue
		}

		if state.Settled() {
			if err := m.store.CompleteTrade(t.ContractID, state.BuyPrice, state.SellPrice, state.Profit, state.SellTime); err != nil {
				log.Error().Err(err).Int64("contract", t.ContractID).Msg("monitor: settlement write failed")
			} else {
				log.Info().Int64("contract", t.ContractID).Str("email", t.Email).
					Str("profit", state.Profit.String()).Msg("✅ contract settled")
				m.notifier.TradeSettled(t.Email, t.Symbol, t.ContractID, state.Profit)
			}
			return
		}

		if !sleepCtx(ctx, m.poll) {
			return
		}
	}
}

// sessionWithRetry dials until it gets a session, a permanent failure, or
// cancellation.
func (m *Monitor) sessionWithRetry(ctx context.Context, token string) (broker.API, error) {
	for {
		api, err := m.dialer.Session(ctx, token)
		if err == nil {
			return api, nil
		}
		if broker.IsAuthError(err) {
			log.Error().Err(err).Msg("monitor: session authorization failed")
			return nil, err
		}
		log.Warn().Err(err).Msg("monitor: session dial failed, retrying")
		if !sleepCtx(ctx, m.retryWait) {
			return nil, ctx.Err()
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
