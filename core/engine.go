package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fxguy0/derivbot/broker"
	"github.com/fxguy0/derivbot/cache"
	"github.com/fxguy0/derivbot/config"
	"github.com/fxguy0/derivbot/feeds"
	"github.com/fxguy0/derivbot/risk"
	"github.com/fxguy0/derivbot/storage"
	"github.com/fxguy0/derivbot/strategy"
)

// Engine wires the whole pipeline:
//
//	ingest → aggregate → strategies → eligibility → sizing → dispatch → monitor
//
// and supervises the long-running tasks around it.
type Engine struct {
	cfg      *config.Config
	dialer   broker.Dialer
	store    *storage.Store
	cache    *cache.Cache
	notifier Notifier
}

// NewEngine assembles an engine; cache may be nil, notifier must not be.
func NewEngine(cfg *config.Config, dialer broker.Dialer, store *storage.Store, dedupe *cache.Cache, notifier Notifier) *Engine {
	return &Engine{cfg: cfg, dialer: dialer, store: store, cache: dedupe, notifier: notifier}
}

// buildStrategies instantiates the configured strategy set.
func (e *Engine) buildStrategies() []strategy.Strategy {
	var out []strategy.Strategy
	for _, name := range e.cfg.Strategies {
		switch name {
		case config.StrategyMalaysian:
			out = append(out, strategy.NewMalaysian(
				e.cfg.PipValue, e.cfg.DefaultBufferPips, e.cfg.LowRiskRatio, e.cfg.HighRiskRatio))
		case config.StrategyMovingAverage:
			p := e.cfg.MAPeriods
			out = append(out, strategy.NewMovingAverage(
				[4]int{p.Short, p.Mid, p.Long, p.VeryLong},
				e.cfg.ATRPeriod, e.cfg.RewardToRiskRatio, e.cfg.PipValue,
				e.cfg.ADXThreshold, e.cfg.ADXGateEnabled))
		}
	}
	return out
}

// Run starts every task and blocks until ctx is cancelled, then drains.
func (e *Engine) Run(ctx context.Context) error {
	strategies := e.buildStrategies()
	if len(strategies) == 0 {
		return fmt.Errorf("engine: no strategies configured")
	}

	// One shared unauthorized session serves market data for all symbols.
	market, err := e.dialer.Session(ctx, "")
	if err != nil {
		return fmt.Errorf("engine: market session: %w", err)
	}
	defer market.Close()

	sizer := risk.NewSizer(e.cfg.PipValue, e.cfg.RiskPercentage)
	dispatchEval := risk.NewEvaluator(e.store, &risk.BrokerProfitSource{Dialer: e.dialer}, e.cfg.Location)
	dispatchEval.OnHardStop(e.notifier.Alert)
	sweepEval := risk.NewEvaluator(e.store, &risk.StoreProfitSource{Store: e.store}, e.cfg.Location)
	sweepEval.OnHardStop(e.notifier.Alert)

	monitor := NewMonitor(e.dialer, e.store, e.notifier)
	dispatcher := NewDispatcher(e.dialer, e.store, dispatchEval, sizer, e.cache, monitor, e.notifier,
		e.cfg.Multiplier, e.cfg.Currency, e.cfg.TPBrokerFactor, e.cfg.SLBrokerOffset)

	lookback := time.Duration(e.cfg.LookbackHours) * time.Hour
	ingestor := feeds.NewIngestor(market, e.store, e.cfg.SymbolsToTables,
		e.cfg.IngestRetries, e.cfg.IngestRetryWait)
	orchestrator := NewOrchestrator(e.store, dispatcher, strategies,
		e.cfg.SymbolsToTables, lookback, e.cfg.SleepInterval)
	scheduler := NewScheduler(e.store, e.dialer, sweepEval.Sweep, e.notifier, e.cfg.Location,
		e.cfg.BalanceInterval, e.cfg.MonitorInterval)

	// Cold-start catch-up so the first iteration has series to chew on.
	ingestor.Backfill(ctx, lookback)

	var wg sync.WaitGroup
	for name, task := range map[string]func(context.Context){
		"ingestor":     ingestor.Run,
		"orchestrator": orchestrator.Run,
		"monitor":      monitor.Run,
		"scheduler":    scheduler.Run,
	} {
		wg.Add(1)
		go func(name string, task func(context.Context)) {
			defer wg.Done()
			supervise(ctx, name, restartCooldown, task)
			log.Debug().Str("task", name).Msg("task stopped")
		}(name, task)
	}

	log.Info().Int("strategies", len(strategies)).Int("symbols", len(e.cfg.SymbolsToTables)).
		Msg("⚡ engine started")

	<-ctx.Done()
	log.Info().Msg("shutdown requested, draining tasks")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("drain window expired, forcing exit")
	}
	return nil
}
