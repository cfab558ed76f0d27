package core

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/storage"
)

type flagWrite struct {
	email   string
	trading bool
	today   bool
}

type stubSchedulerStore struct {
	windows map[string]storage.Window
	users   []storage.User

	flagWrites   []flagWrite
	softCleared  int
	balanceToday map[string]decimal.Decimal
	baselines    map[string]decimal.Decimal
	snapshots    int
}

func (s *stubSchedulerStore) AllWindows() ([]storage.Window, error) {
	out := make([]storage.Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w)
	}
	return out, nil
}
func (s *stubSchedulerStore) UsersWithMasterEnable() ([]storage.User, error) { return s.users, nil }
func (s *stubSchedulerStore) GetWindow(email string) (storage.Window, bool, error) {
	w, ok := s.windows[email]
	return w, ok, nil
}
func (s *stubSchedulerStore) SetTrading(email string, trading, today bool) error {
	s.flagWrites = append(s.flagWrites, flagWrite{email: email, trading: trading, today: today})
	return nil
}
func (s *stubSchedulerStore) EnableTradingTodayForActive() error {
	s.softCleared++
	return nil
}
func (s *stubSchedulerStore) UpdateBalanceToday(email string, balance decimal.Decimal) error {
	if s.balanceToday == nil {
		s.balanceToday = make(map[string]decimal.Decimal)
	}
	s.balanceToday[email] = balance
	return nil
}
func (s *stubSchedulerStore) UpdateLifecycleBalance(email string, balance decimal.Decimal) error {
	if s.baselines == nil {
		s.baselines = make(map[string]decimal.Decimal)
	}
	s.baselines[email] = balance
	return nil
}
func (s *stubSchedulerStore) InsertBalanceSnapshot(string, decimal.Decimal, time.Time) error {
	s.snapshots++
	return nil
}

func fixedScheduler(store *stubSchedulerStore, api *stubAPI, now time.Time) *Scheduler {
	s := NewScheduler(store, &stubDialer{api: api}, func(context.Context) {}, NopNotifier{},
		time.UTC, time.Hour, time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func TestSuperviseRestartsPanickedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runs := 0
	supervise(ctx, "flaky", time.Millisecond, func(context.Context) {
		runs++
		if runs == 1 {
			panic("boom")
		}
		cancel()
	})
	if runs != 2 {
		t.Fatalf("runs = %d, want the job restarted after the panic", runs)
	}
}

func TestDailyResetAppliesWindowBoundaries(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	store := &stubSchedulerStore{
		windows: map[string]storage.Window{
			"ending@example.com": {
				Email:     "ending@example.com",
				StartDate: today.AddDate(0, -1, 0),
				StopDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			},
			"starting@example.com": {
				Email:     "starting@example.com",
				StartDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
				StopDate:  today.AddDate(0, 1, 0),
			},
			"mid@example.com": {
				Email:     "mid@example.com",
				StartDate: today.AddDate(0, 0, -5),
				StopDate:  today.AddDate(0, 0, 5),
			},
		},
	}
	s := fixedScheduler(store, &stubAPI{}, today)

	s.DailyReset(context.Background())

	writes := map[string]flagWrite{}
	for _, w := range store.flagWrites {
		writes[w.email] = w
	}
	if w := writes["ending@example.com"]; w.trading || w.today {
		t.Errorf("ending user flags = %+v, want both false", w)
	}
	if w, ok := writes["starting@example.com"]; !ok || !w.trading || !w.today {
		t.Errorf("starting user flags = %+v, want both true", w)
	}
	if _, ok := writes["mid@example.com"]; ok {
		t.Error("mid-window user must not be touched")
	}
	if store.softCleared != 1 {
		t.Errorf("soft flag clear ran %d times, want 1", store.softCleared)
	}
}

func TestSnapshotBalances(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	store := &stubSchedulerStore{
		users: []storage.User{
			{Email: "fresh@example.com", Token: "tok-1"},
			{Email: "old@example.com", Token: "tok-2"},
		},
		windows: map[string]storage.Window{
			"fresh@example.com": {Email: "fresh@example.com", StartDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
			"old@example.com":   {Email: "old@example.com", StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	api := &stubAPI{balance: d("1234.56")}
	s := fixedScheduler(store, api, now)

	s.SnapshotBalances(context.Background())

	if got := store.balanceToday["fresh@example.com"]; !got.Equal(d("1234.56")) {
		t.Errorf("balance_today = %s, want 1234.56", got)
	}
	if store.snapshots != 2 {
		t.Errorf("snapshots = %d, want 2", store.snapshots)
	}
	// Only the user whose window starts today gets the baseline reset.
	if got, ok := store.baselines["fresh@example.com"]; !ok || !got.Equal(d("1234.56")) {
		t.Errorf("fresh baseline = %s (ok=%v), want 1234.56", got, ok)
	}
	if _, ok := store.baselines["old@example.com"]; ok {
		t.Error("old user's baseline must not be reset")
	}
}
