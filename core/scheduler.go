package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/storage"
)

const restartCooldown = 5 * time.Second

// SchedulerStore is the slice of the store the timed jobs touch.
type SchedulerStore interface {
	AllWindows() ([]storage.Window, error)
	UsersWithMasterEnable() ([]storage.User, error)
	GetWindow(email string) (storage.Window, bool, error)
	SetTrading(email string, trading, tradingToday bool) error
	EnableTradingTodayForActive() error
	UpdateBalanceToday(email string, balance decimal.Decimal) error
	UpdateLifecycleBalance(email string, balance decimal.Decimal) error
	InsertBalanceSnapshot(email string, balance decimal.Decimal, at time.Time) error
}

// Scheduler owns the timed jobs: the midnight reset of the trading flags,
// the periodic balance snapshot, and the eligibility sweep. Each job runs in
// its own supervised goroutine and restarts after a panic.
type Scheduler struct {
	store    SchedulerStore
	dialer   broker.Dialer
	sweep    func(ctx context.Context)
	notifier Notifier
	loc      *time.Location

	balanceInterval time.Duration
	sweepInterval   time.Duration

	now func() time.Time
}

// NewScheduler wires the timed jobs. sweep is the eligibility sweep body.
func NewScheduler(store SchedulerStore, dialer broker.Dialer, sweep func(ctx context.Context),
	notifier Notifier, loc *time.Location, balanceInterval, sweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:           store,
		dialer:          dialer,
		sweep:           sweep,
		notifier:        notifier,
		loc:             loc,
		balanceInterval: balanceInterval,
		sweepInterval:   sweepInterval,
		now:             time.Now,
	}
}

// Run starts the three job loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	go supervise(ctx, "daily-reset", restartCooldown, s.dailyLoop)
	go supervise(ctx, "balance-snapshot", restartCooldown, s.balanceLoop)
	go supervise(ctx, "eligibility-sweep", restartCooldown, s.sweepLoop)
	<-ctx.Done()
}

// supervise restarts a job that panicked or returned early, with a cooldown
// so a broken job cannot spin.
func supervise(ctx context.Context, name string, cooldown time.Duration, job func(ctx context.Context)) {
	for ctx.Err() == nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("job", name).Msg("job crashed, restarting")
				}
			}()
			job(ctx)
		}()
		if ctx.Err() == nil {
			sleepCtx(ctx, cooldown)
		}
	}
}

// dailyLoop fires the reset at each local midnight.
func (s *Scheduler) dailyLoop(ctx context.Context) {
	for {
		now := s.now().In(s.loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)
		if !sleepCtx(ctx, next.Sub(now)) {
			return
		}
		s.DailyReset(ctx)
	}
}

// DailyReset applies the window boundaries: stop users whose window ended
// today, start users whose window begins today, and clear yesterday's soft
// disables for everyone still trading.
func (s *Scheduler) DailyReset(ctx context.Context) {
	today := dateOnly(s.now().In(s.loc))

	windows, err := s.store.AllWindows()
	if err != nil {
		log.Error().Err(err).Msg("daily reset: window list failed")
		return
	}
	for _, w := range windows {
		switch {
		case sameDay(w.StopDate.In(s.loc), today):
			if err := s.store.SetTrading(w.Email, false, false); err != nil {
				log.Error().Err(err).Str("email", w.Email).Msg("daily reset: stop failed")
			} else {
				log.Info().Str("email", w.Email).Msg("trading window ended")
				s.notifier.Alert("trading window ended for " + w.Email)
			}
		case sameDay(w.StartDate.In(s.loc), today):
			if err := s.store.SetTrading(w.Email, true, true); err != nil {
				log.Error().Err(err).Str("email", w.Email).Msg("daily reset: start failed")
			} else {
				log.Info().Str("email", w.Email).Msg("trading window started")
			}
		}
	}

	if err := s.store.EnableTradingTodayForActive(); err != nil {
		log.Error().Err(err).Msg("daily reset: soft flag clear failed")
	}
	log.Info().Msg("🌅 daily reset done")
}

// balanceLoop snapshots balances on a fixed cadence.
func (s *Scheduler) balanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.balanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SnapshotBalances(ctx)
		}
	}
}

// SnapshotBalances reads every trading user's balance over their own
// session and records it. Users whose window starts today also get their
// lifecycle baseline reset to the fresh balance.
func (s *Scheduler) SnapshotBalances(ctx context.Context) {
	users, err := s.store.UsersWithMasterEnable()
	if err != nil {
		log.Error().Err(err).Msg("balance snapshot: user list failed")
		return
	}
	today := dateOnly(s.now().In(s.loc))

	for _, user := range users {
		balance, err := s.readBalance(ctx, user.Token)
		if err != nil {
			log.Warn().Err(err).Str("email", user.Email).Msg("balance snapshot: read failed")
			continue
		}
		if err := s.store.UpdateBalanceToday(user.Email, balance); err != nil {
			log.Error().Err(err).Str("email", user.Email).Msg("balance snapshot: update failed")
			continue
		}
		if err := s.store.InsertBalanceSnapshot(user.Email, balance, s.now().UTC()); err != nil {
			log.Error().Err(err).Str("email", user.Email).Msg("balance snapshot: insert failed")
		}

		if w, ok, err := s.store.GetWindow(user.Email); err == nil && ok && sameDay(w.StartDate.In(s.loc), today) {
			if err := s.store.UpdateLifecycleBalance(user.Email, balance); err != nil {
				log.Error().Err(err).Str("email", user.Email).Msg("balance snapshot: baseline reset failed")
			}
		}
	}
	log.Info().Int("users", len(users)).Msg("balance snapshot done")
}

func (s *Scheduler) readBalance(ctx context.Context, token string) (decimal.Decimal, error) {
	api, err := s.dialer.Session(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	defer api.Close()
	return api.Balance(ctx)
}

// sweepLoop runs the eligibility sweep on its cadence.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
