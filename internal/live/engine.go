// Package live runs the real-time trading loop: market data sources
// feed a priority queue, a single consumer drives the processor,
// strategies and risk checks, and fills land on the shared ledger.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/portfolio"
	"quantra/internal/risk"
	"quantra/internal/store"
	"quantra/internal/strategy"
	"quantra/internal/stream"
)

const persistTimeout = 3 * time.Second

// Config tunes one live engine.
type Config struct {
	Symbols        []string
	Interval       string
	InitialCash    float64
	CommissionRate float64
	SlippageRate   float64
	LotStep        float64
	AllowShort     bool
	StatusInterval time.Duration
	PriceRefresh   time.Duration
	RolloverSpec   string
	StopLossPct    float64
	TakeProfitPct  float64
	MaxCached      int
}

// DefaultConfig returns a paper-trading setup for one symbol feed.
func DefaultConfig() Config {
	return Config{
		Interval:       "1d",
		InitialCash:    100000,
		CommissionRate: 0.001,
		SlippageRate:   0.0005,
		LotStep:        1,
		StatusInterval: time.Minute,
		PriceRefresh:   15 * time.Second,
		RolloverSpec:   "@midnight",
		StopLossPct:    0.05,
		TakeProfitPct:  0.10,
		MaxCached:      1000,
	}
}

// Deps are the engine's collaborators. Sources and Registry are
// required; nil queue, processor and risk components get defaults,
// nil stores disable persistence.
type Deps struct {
	Sources   []stream.Source
	Registry  *strategy.Registry
	Queue     *stream.Queue
	Processor *stream.Processor
	Sizer     *risk.Sizer
	Stops     *risk.StopManager
	Limits    *risk.Manager
	Results   *store.ResultStore
	Candles   *store.CandleStore
	Cache     *store.CandleCache
}

// Engine owns the live loop. Trades happen only on the consumer
// goroutine; the tickers and the rollover job read prices and
// snapshots but never touch positions.
type Engine struct {
	cfg      Config
	pf       *portfolio.Portfolio
	exec     *portfolio.Executor
	sources  []stream.Source
	registry *strategy.Registry
	queue    *stream.Queue
	proc     *stream.Processor
	sizer    *risk.Sizer
	stops    *risk.StopManager
	limits   *risk.Manager
	results  *store.ResultStore
	candles  *store.CandleStore
	cache    *store.CandleCache

	mu        sync.RWMutex
	halted    bool
	startedAt time.Time
}

// NewEngine validates cfg, fills missing collaborators with defaults
// and funds a fresh ledger.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("live: no symbols configured")
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("live: initial cash must be positive, got %.2f", cfg.InitialCash)
	}
	if len(deps.Sources) == 0 {
		return nil, errors.New("live: at least one market data source is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("live: strategy registry is required")
	}
	def := DefaultConfig()
	if cfg.Interval == "" {
		cfg.Interval = def.Interval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.PriceRefresh <= 0 {
		cfg.PriceRefresh = def.PriceRefresh
	}
	if cfg.RolloverSpec == "" {
		cfg.RolloverSpec = def.RolloverSpec
	}
	if cfg.MaxCached <= 0 {
		cfg.MaxCached = def.MaxCached
	}
	if deps.Queue == nil {
		deps.Queue = stream.NewQueue(stream.DefaultQueueConfig())
	}
	if deps.Processor == nil {
		deps.Processor = stream.NewProcessor(0)
	}
	if deps.Sizer == nil {
		deps.Sizer = risk.NewSizer(risk.DefaultSizerConfig())
	}
	if deps.Stops == nil {
		deps.Stops = risk.NewStopManager(cfg.StopLossPct, cfg.TakeProfitPct)
	}
	if deps.Limits == nil {
		deps.Limits = risk.NewManager(risk.DefaultManagerConfig())
	}
	if deps.Cache == nil {
		deps.Cache = store.NewCandleCache()
	}

	var opts []portfolio.Option
	if cfg.AllowShort {
		opts = append(opts, portfolio.WithShorting())
	}
	pf := portfolio.New(cfg.InitialCash, opts...)
	return &Engine{
		cfg:      cfg,
		pf:       pf,
		exec:     portfolio.NewExecutor(pf, cfg.CommissionRate, cfg.SlippageRate, cfg.LotStep),
		sources:  deps.Sources,
		registry: deps.Registry,
		queue:    deps.Queue,
		proc:     deps.Processor,
		sizer:    deps.Sizer,
		stops:    deps.Stops,
		limits:   deps.Limits,
		results:  deps.Results,
		candles:  deps.Candles,
		cache:    deps.Cache,
	}, nil
}

// Portfolio exposes the ledger for read-only callers.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }

// Run streams until ctx is cancelled: one goroutine per source, one
// queue consumer, a price-refresh ticker and a status ticker, plus the
// cron rollover job. Cancellation returns nil after a final drain.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()
	e.limits.ResetDaily(e.pf.TotalValue())

	cr := cron.New()
	if _, err := cr.AddFunc(e.cfg.RolloverSpec, func() { e.rollover(time.Now().UTC()) }); err != nil {
		return fmt.Errorf("live: bad rollover spec %q: %w", e.cfg.RolloverSpec, err)
	}
	cr.Start()
	defer func() { <-cr.Stop().Done() }()

	group, ctx := errgroup.WithContext(ctx)
	for _, src := range e.sources {
		src := src
		group.Go(func() error {
			if err := src.Connect(ctx); err != nil {
				return fmt.Errorf("live: connect %s: %w", src.Name(), err)
			}
			if err := src.Subscribe(e.cfg.Symbols); err != nil {
				return fmt.Errorf("live: subscribe %s: %w", src.Name(), err)
			}
			logger.Infof("source %s streaming %d symbols", src.Name(), len(e.cfg.Symbols))
			return src.Stream(ctx, func(msg market.Message) {
				e.queue.Enqueue(msg, stream.PriorityNormal)
			})
		})
	}
	group.Go(func() error {
		err := e.queue.Consume(ctx, e.handleMessage)
		e.queue.Drain(e.handleMessage)
		return err
	})
	group.Go(func() error { return e.refreshLoop(ctx) })
	group.Go(func() error { return e.statusLoop(ctx) })

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Infof("live engine stopped: total value %.2f, pnl %.2f", e.pf.TotalValue(), e.pf.TotalPnL())
	return nil
}

// handleMessage is the queue consumer: enrich, mark the ledger, track
// the daily bar, fire stops, check limits, then let strategies trade.
func (e *Engine) handleMessage(msg market.Message) error {
	msg.Symbol = market.NormalizeSymbol(msg.Symbol)
	if err := e.proc.Process(msg); err != nil {
		return err
	}
	e.pf.UpdatePrice(msg.Symbol, msg.Price, msg.Timestamp)
	e.trackCandle(msg)

	if sig := e.stops.Check(msg); sig != nil {
		e.applySignal(*sig, msg.Price)
	}

	metrics := e.limits.Check(e.pf, msg.Timestamp)
	if e.limits.ShouldHalt(metrics) {
		e.halt(metrics)
	}

	for _, strat := range e.registry.Strategies() {
		sig, err := strat.Analyze(msg)
		if err != nil {
			logger.Warnf("strategy %s failed on %s: %v", strat.Name(), msg.Symbol, err)
			continue
		}
		if sig == nil || !sig.Actionable() {
			continue
		}
		if e.Halted() && sig.Type == strategy.TypeBuy {
			logger.Warnf("trading halted, dropping %s buy from %s", sig.Symbol, sig.Strategy)
			continue
		}
		e.applySignal(*sig, msg.Price)
	}
	return nil
}

// applySignal turns one actionable signal into a fill. Execution
// errors are logged and swallowed: a rejected order must not poison
// the queue into retrying the market data message.
func (e *Engine) applySignal(sig strategy.Signal, quote float64) {
	if quote <= 0 {
		quote = sig.Price
	}
	switch sig.Type {
	case strategy.TypeClose:
		trade, err := e.exec.Close(sig.Symbol, quote, sig.Timestamp, sig.Strategy, sig.Reason)
		if err != nil {
			if !errors.Is(err, portfolio.ErrNoPosition) {
				logger.Warnf("close %s failed: %v", sig.Symbol, err)
			}
			return
		}
		e.stops.Remove(sig.Symbol)
		e.persistTrade(trade)

	case strategy.TypeBuy:
		qty := sig.Quantity
		if qty <= 0 {
			qty = e.sizer.Size(sig, e.pf, e.volatility(sig.Symbol))
		}
		trade, err := e.exec.Execute(sig.Symbol, qty, quote, sig.Timestamp, sig.Strategy, sig.Reason)
		if err != nil {
			logger.Warnf("buy %s failed: %v", sig.Symbol, err)
			return
		}
		e.stops.Arm(sig.Symbol, trade.Price, true, e.cfg.StopLossPct, e.cfg.TakeProfitPct, sig.Timestamp)
		e.persistTrade(trade)

	case strategy.TypeSell:
		pos, held := e.pf.Position(sig.Symbol)
		var qty float64
		switch {
		case held && pos.Quantity > 0:
			qty = -pos.Quantity
			if sig.Quantity > 0 && sig.Quantity < pos.Quantity {
				qty = -sig.Quantity
			}
		case e.cfg.AllowShort:
			qty = sig.Quantity
			if qty <= 0 {
				qty = e.sizer.Size(sig, e.pf, e.volatility(sig.Symbol))
			}
			qty = -qty
		default:
			return
		}
		trade, err := e.exec.Execute(sig.Symbol, qty, quote, sig.Timestamp, sig.Strategy, sig.Reason)
		if err != nil {
			logger.Warnf("sell %s failed: %v", sig.Symbol, err)
			return
		}
		if !e.pf.HasPosition(sig.Symbol) {
			e.stops.Remove(sig.Symbol)
		} else if !held {
			e.stops.Arm(sig.Symbol, trade.Price, false, e.cfg.StopLossPct, e.cfg.TakeProfitPct, sig.Timestamp)
		}
		e.persistTrade(trade)
	}
}

// volatility estimates the recent daily return fraction from the
// processor's rolling price window.
func (e *Engine) volatility(symbol string) float64 {
	stats, ok := e.proc.PriceStatistics(symbol, time.Hour)
	if !ok || stats.Mean <= 0 {
		return 0
	}
	return stats.StdDev / stats.Mean
}

// trackCandle folds the tick into the symbol's in-progress daily bar.
// The cache replaces the trailing bar in place until the day rolls.
func (e *Engine) trackCandle(msg market.Message) {
	day := msg.Timestamp.UTC().Truncate(24 * time.Hour)
	bar := market.Candle{
		Symbol:    msg.Symbol,
		Timestamp: day,
		Open:      msg.Price,
		High:      msg.Price,
		Low:       msg.Price,
		Close:     msg.Price,
		Volume:    msg.Volume,
	}
	if prev := e.cache.Get(bar.Symbol, e.cfg.Interval); len(prev) > 0 {
		last := prev[len(prev)-1]
		if last.Timestamp.Equal(day) {
			bar.Open = last.Open
			bar.High = max(last.High, msg.Price)
			bar.Low = min(last.Low, msg.Price)
			bar.Volume = last.Volume + msg.Volume
		}
	}
	if err := e.cache.Put(bar.Symbol, e.cfg.Interval, []market.Candle{bar}, e.cfg.MaxCached); err != nil {
		logger.Warnf("cache %s: %v", bar.Symbol, err)
	}
}

// rollover runs at the cron boundary: reset the daily risk baseline,
// lift any halt, snapshot the ledger and flush cached bars to disk.
func (e *Engine) rollover(ts time.Time) {
	e.limits.ResetDaily(e.pf.TotalValue())
	e.mu.Lock()
	wasHalted := e.halted
	e.halted = false
	e.mu.Unlock()
	if wasHalted {
		logger.Infof("daily rollover: trading halt lifted")
	}

	snap := e.pf.TakeSnapshot(ts)
	e.persistSnapshot(snap)
	e.flushCandles()
	logger.Infof("daily rollover: value %.2f, drawdown %.2f%%", snap.TotalValue, snap.Drawdown*100)
}

func (e *Engine) flushCandles() {
	if e.candles == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, symbol := range e.cache.Symbols(e.cfg.Interval) {
		bars := e.cache.Drain(symbol, e.cfg.Interval)
		if len(bars) == 0 {
			continue
		}
		if err := e.candles.SaveCandles(ctx, symbol, e.cfg.Interval, bars); err != nil {
			logger.Warnf("persist candles %s: %v", symbol, err)
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PriceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			prices := e.proc.LatestPrices()
			if len(prices) == 0 {
				continue
			}
			e.pf.UpdatePrices(prices, now.UTC())
			metrics := e.limits.Check(e.pf, now.UTC())
			if e.limits.ShouldHalt(metrics) {
				e.halt(metrics)
			}
		}
	}
}

func (e *Engine) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			snap := e.pf.TakeSnapshot(now.UTC())
			e.persistSnapshot(snap)
			stats := e.queue.Stats()
			logger.Infof("status: value=%.2f cash=%.2f positions=%d pnl=%.2f queue=%d/%d halted=%v",
				snap.TotalValue, snap.Cash, e.pf.NumPositions(), snap.TotalPnL,
				stats.NormalDepth, stats.HighDepth, e.Halted())
		}
	}
}

func (e *Engine) halt(metrics risk.Metrics) {
	e.mu.Lock()
	already := e.halted
	e.halted = true
	e.mu.Unlock()
	if !already {
		logger.Errorf("trading halted: level=%s drawdown=%.2f%% daily=%.2f%%",
			metrics.Level, metrics.Drawdown*100, metrics.DailyPnLPct*100)
	}
}

// Halted reports whether new entries are currently blocked.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

func (e *Engine) persistTrade(trade portfolio.Trade) {
	if e.results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.results.SaveTrade(ctx, trade); err != nil {
		logger.Warnf("persist trade %s: %v", trade.ID, err)
	}
}

func (e *Engine) persistSnapshot(snap portfolio.Snapshot) {
	if e.results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.results.SaveSnapshot(ctx, snap); err != nil {
		logger.Warnf("persist snapshot: %v", err)
	}
}
