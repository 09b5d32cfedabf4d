// Package app assembles the object graph from configuration and runs
// the selected mode: a one-shot backtest sweep, a parameter
// optimization run, or the live loop with its HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"quantra/internal/backtest"
	"quantra/internal/config"
	"quantra/internal/live"
	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/optimize"
	"quantra/internal/risk"
	"quantra/internal/store"
	"quantra/internal/strategy"
	"quantra/internal/stream"
	httpapi "quantra/internal/transport/http"
)

// App owns the shared collaborators for one process lifetime.
type App struct {
	cfg      *config.Config
	registry *strategy.Registry
	candles  *store.CandleStore
	results  *store.ResultStore
	engine   *live.Engine
	server   *httpapi.Server
}

// New builds the graph for cfg.App.Mode without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	registry, err := strategy.NewRegistry(cfg.Data.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("strategy registry: %w", err)
	}
	candles, err := store.NewCandleStore(cfg.Data.CandleDBPath)
	if err != nil {
		return nil, fmt.Errorf("candle store: %w", err)
	}
	results, err := store.NewResultStore(cfg.Data.ResultDBPath)
	if err != nil {
		candles.Close()
		return nil, fmt.Errorf("result store: %w", err)
	}

	a := &App{cfg: cfg, registry: registry, candles: candles, results: results}
	if cfg.App.Mode == config.ModeLive {
		if err := a.buildLive(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) buildLive() error {
	cfg := a.cfg
	var sources []stream.Source
	if cfg.Stream.WSURL != "" {
		sources = append(sources, stream.NewSocketSource("ws", cfg.Stream.WSURL, stream.ParseTicker))
	}
	if cfg.Stream.QuoteURL != "" {
		interval := time.Duration(cfg.Stream.PollIntervalSeconds) * time.Second
		sources = append(sources, stream.NewPollSource("poll", interval, stream.NewHTTPQuote(nil, cfg.Stream.QuoteURL)))
	}
	if len(sources) == 0 {
		return fmt.Errorf("live mode requires stream.ws_url or stream.quote_url")
	}
	engine, err := live.NewEngine(live.Config{
		Symbols:        cfg.Data.Symbols,
		Interval:       cfg.Data.Interval,
		InitialCash:    cfg.Live.InitialCash,
		CommissionRate: cfg.Live.CommissionRate,
		SlippageRate:   cfg.Live.SlippageRate,
		LotStep:        cfg.Live.LotStep,
		AllowShort:     cfg.Live.AllowShort,
		StatusInterval: time.Duration(cfg.Live.StatusIntervalSeconds) * time.Second,
		PriceRefresh:   time.Duration(cfg.Live.PriceRefreshSeconds) * time.Second,
		RolloverSpec:   cfg.Live.RolloverSpec,
		StopLossPct:    cfg.Risk.StopLossPct,
		TakeProfitPct:  cfg.Risk.TakeProfitPct,
		MaxCached:      cfg.Data.MaxCached,
	}, live.Deps{
		Sources:   sources,
		Registry:  a.registry,
		Queue:     stream.NewQueue(cfg.Stream.Queue),
		Processor: stream.NewProcessor(cfg.Stream.BufferSize),
		Sizer:     risk.NewSizer(cfg.Risk.Sizer),
		Stops:     risk.NewStopManager(cfg.Risk.StopLossPct, cfg.Risk.TakeProfitPct),
		Limits:    risk.NewManager(cfg.Risk.Limits),
		Results:   a.results,
		Candles:   a.candles,
	})
	if err != nil {
		return fmt.Errorf("live engine: %w", err)
	}
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  engine,
		Results: a.results,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.engine = engine
	a.server = server
	return nil
}

// Run executes the configured mode until it finishes or ctx ends.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.App.Mode {
	case config.ModeBacktest:
		return a.runBacktest(ctx)
	case config.ModeLive:
		return a.runLive(ctx)
	case config.ModeOptimize:
		return a.runOptimize(ctx)
	default:
		return fmt.Errorf("unknown mode %q", a.cfg.App.Mode)
	}
}

func (a *App) runLive(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.server.Start(ctx) })
	group.Go(func() error { return a.engine.Run(ctx) })
	return group.Wait()
}

func (a *App) loadFrame(ctx context.Context) (*market.Frame, error) {
	start, end, err := a.cfg.Data.Window()
	if err != nil {
		return nil, fmt.Errorf("data window: %w", err)
	}
	frame, err := a.candles.Frame(ctx, a.cfg.Data.Symbols, a.cfg.Data.Interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading candles: %w", err)
	}
	return frame, nil
}

func (a *App) runBacktest(ctx context.Context) error {
	frame, err := a.loadFrame(ctx)
	if err != nil {
		return err
	}
	strats := a.registry.Strategies()
	if len(strats) == 0 {
		return fmt.Errorf("no enabled strategies in %s", a.cfg.Data.ProfilesPath)
	}

	engine, err := backtest.NewEngine(a.cfg.Backtest)
	if err != nil {
		return err
	}
	results, err := engine.RunMany(ctx, strats, frame)
	if err != nil {
		return err
	}
	for _, res := range results {
		if err := a.results.SaveRun(ctx, res); err != nil {
			logger.Warnf("persist run %s: %v", res.ID, err)
		}
		logger.Infof("%s", runSummary(res))
	}
	return nil
}

// runSummary renders one result line. The percent-valued metrics are
// already scaled to percent by the backtest engine.
func runSummary(res backtest.Result) string {
	return fmt.Sprintf("%-14s return=%7.2f%% annual=%7.2f%% sharpe=%5.2f maxdd=%6.2f%% trades=%d win=%5.1f%%",
		res.StrategyName, res.TotalReturn, res.AnnualReturn,
		res.SharpeRatio, res.MaxDrawdown, res.TotalTrades, res.WinRate)
}

// runOptimize grid-searches every enabled strategy over its parameter
// space, then stress-tests the winning parameters with walk-forward
// and Monte Carlo analyses.
func (a *App) runOptimize(ctx context.Context) error {
	frame, err := a.loadFrame(ctx)
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(a.cfg.Backtest)
	if err != nil {
		return err
	}

	strats := a.registry.Strategies()
	if len(strats) == 0 {
		return fmt.Errorf("no enabled strategies in %s", a.cfg.Data.ProfilesPath)
	}
	var optimized int
	for _, strat := range strats {
		name := strat.Name()
		space, ok := searchSpace(name)
		if !ok {
			logger.Warnf("no parameter space for strategy %s, skipping", name)
			continue
		}
		factory, ok := a.registry.Factory(name)
		if !ok {
			logger.Warnf("no factory for strategy %s, skipping", name)
			continue
		}
		if err := a.optimizeOne(ctx, engine, name, bridgeFactory(factory), space, frame); err != nil {
			return fmt.Errorf("optimizing %s: %w", name, err)
		}
		optimized++
	}
	if optimized == 0 {
		return fmt.Errorf("no strategy could be optimized")
	}
	return nil
}

func (a *App) optimizeOne(ctx context.Context, engine *backtest.Engine, name string, factory optimize.Factory, space *optimize.Space, frame *market.Frame) error {
	cfg := a.cfg.Optimizer
	opt, err := optimize.NewOptimizer(engine, factory,
		optimize.WithMetric(optimize.Metric(cfg.Metric)),
		optimize.WithWorkers(cfg.Workers))
	if err != nil {
		return err
	}

	report, err := opt.GridSearch(ctx, space, frame)
	if err != nil {
		return err
	}
	logger.Infof("%s best %s=%.4f with %v (%d evaluations, %.0f%% feasible)",
		name, report.Metric, report.Best.Score, report.Best.Params,
		len(report.Evaluations), report.SuccessRate*100)

	wf, err := opt.WalkForward(ctx, report.Best.Params, frame, cfg.WalkForward)
	switch {
	case errors.Is(err, optimize.ErrShortHistory):
		logger.Warnf("%s walk-forward skipped: %v", name, err)
	case err != nil:
		return err
	default:
		logger.Infof("%s walk-forward: %d windows, test sharpe %.2f (std %.2f), degradation %.2f, robustness %s",
			name, len(wf.Windows), wf.MeanTestSharpe, wf.StdTestSharpe, wf.MeanDegradation, wf.Tier)
	}

	mc, err := opt.MonteCarlo(ctx, report.Best.Params, frame, cfg.MonteCarlo)
	if err != nil {
		return err
	}
	logger.Infof("%s monte carlo: %d sims, return %.2f%% (std %.2f%%), P(positive)=%.2f, P(sharpe>1)=%.2f",
		name, mc.Simulations, mc.Returns.Mean, mc.Returns.Std, mc.ProbPositive, mc.ProbSharpeAbove1)
	return nil
}

// searchSpace maps a built-in strategy to the parameter grid its
// optimization sweeps.
func searchSpace(name string) (*optimize.Space, bool) {
	switch name {
	case "ma_cross":
		return optimize.NewSpace().
			Range("short_window", 5, 20, 5).
			Range("long_window", 20, 60, 10).
			Choice("position_size", 0.1, 0.2), true
	case "momentum":
		return optimize.NewSpace().
			Range("lookback", 5, 30, 5).
			Choice("threshold", 1, 2, 3).
			Choice("position_size", 0.1, 0.2), true
	case "mean_revert":
		return optimize.NewSpace().
			Range("window", 10, 40, 10).
			Choice("threshold", 1, 1.5, 2).
			Choice("position_size", 0.1, 0.2), true
	}
	return nil, false
}

// bridgeFactory adapts a registry factory to the optimizer's
// float-valued parameter maps.
func bridgeFactory(f strategy.Factory) optimize.Factory {
	return func(params map[string]float64) (strategy.Strategy, error) {
		raw := make(map[string]any, len(params))
		for k, v := range params {
			raw[k] = v
		}
		return f(raw)
	}
}

// Close releases the stores. Safe to call more than once.
func (a *App) Close() {
	if a.candles != nil {
		if err := a.candles.Close(); err != nil {
			logger.Warnf("closing candle store: %v", err)
		}
		a.candles = nil
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("closing result store: %v", err)
		}
		a.results = nil
	}
}
