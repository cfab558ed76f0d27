package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/storage"
)

type settlement struct {
	contractID int64
	profit     decimal.Decimal
}

type stubMonitorStore struct {
	mu        sync.Mutex
	active    []storage.Trade
	completed []settlement
}

func (s *stubMonitorStore) ActiveTrades() ([]storage.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *stubMonitorStore) CompleteTrade(contractID int64, _, _, profitLoss decimal.Decimal, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, settlement{contractID: contractID, profit: profitLoss})
	return nil
}

func fastMonitor(api *stubAPI, store *stubMonitorStore) *Monitor {
	m := NewMonitor(&stubDialer{api: api}, store, NopNotifier{})
	m.poll = time.Millisecond
	m.retryWait = time.Millisecond
	m.reconcile = 5 * time.Millisecond
	return m
}

func activeTrade(contractID int64) storage.Trade {
	return storage.Trade{
		ContractID:  contractID,
		Email:       "a@example.com",
		Token:       "tok-a",
		Symbol:      "frxEURUSD",
		TradeStatus: storage.TradeActive,
	}
}

func TestWatchSettlesOnce(t *testing.T) {
	api := &stubAPI{
		states: []*broker.ContractState{
			{Status: "open"},
			{Status: "open"},
			{Status: "sold", IsSold: true, Profit: d("12.5"), SellPrice: d("32.5"), BuyPrice: d("20"),
				SellTime: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		},
	}
	store := &stubMonitorStore{}
	m := fastMonitor(api, store)

	m.watch(context.Background(), activeTrade(9001))

	if len(store.completed) != 1 {
		t.Fatalf("settlement writes = %d, want exactly 1", len(store.completed))
	}
	got := store.completed[0]
	if got.contractID != 9001 || !got.profit.Equal(d("12.5")) {
		t.Errorf("settlement = %+v", got)
	}
}

func TestWatchRetriesTransientPollErrors(t *testing.T) {
	api := &stubAPI{
		states: []*broker.ContractState{
			nil,
			{Status: "sold", IsSold: true, Profit: d("-5")},
		},
		stateErrs: []error{errors.New("connection reset")},
	}
	store := &stubMonitorStore{}
	m := fastMonitor(api, store)

	m.watch(context.Background(), activeTrade(9002))
	if len(store.completed) != 1 {
		t.Fatalf("settlement writes = %d, want 1 after transient retry", len(store.completed))
	}
}

func TestStartWatcherDeduplicatesContracts(t *testing.T) {
	api := &stubAPI{
		states: []*broker.ContractState{
			{Status: "sold", IsSold: true, Profit: d("1")},
		},
	}
	store := &stubMonitorStore{}
	m := fastMonitor(api, store)

	trade := activeTrade(9003)
	m.mu.Lock()
	m.watching[trade.ContractID] = true // simulate an already-running watcher
	m.mu.Unlock()

	m.startWatcher(context.Background(), trade)
	m.wg.Wait()
	if len(store.completed) != 0 {
		t.Fatalf("duplicate watcher ran: %d settlements", len(store.completed))
	}
}

func TestRunPicksUpActiveTradesOnBoot(t *testing.T) {
	api := &stubAPI{
		states: []*broker.ContractState{
			{Status: "sold", IsSold: true, Profit: d("3")},
		},
	}
	store := &stubMonitorStore{active: []storage.Trade{activeTrade(9004)}}
	m := fastMonitor(api, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		store.mu.Lock()
		n := len(store.completed)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("boot trade never settled")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}
