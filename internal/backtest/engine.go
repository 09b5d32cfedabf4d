package backtest

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/portfolio"
	"quantra/internal/strategy"
)

// ErrNoData is returned when the frame holds no candles for the run.
var ErrNoData = errors.New("no data available for backtest")

// Engine replays a frame through a strategy. One Engine may run many
// backtests; each run gets a fresh portfolio.
type Engine struct {
	cfg Config
}

// NewEngine builds an engine with the given run configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Run replays the frame day by day: strategies see history up to and
// including the current day, fills execute at that day's close with
// slippage and commission, and the ledger is marked to market before
// the daily snapshot.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, frame *market.Frame) (Result, error) {
	if frame == nil || frame.Empty() {
		return Result{}, ErrNoData
	}
	if err := strat.ValidateParams(); err != nil {
		return Result{}, err
	}

	var opts []portfolio.Option
	if e.cfg.AllowShort {
		opts = append(opts, portfolio.WithShorting())
	}
	pf := portfolio.New(e.cfg.InitialCapital, opts...)
	exec := portfolio.NewExecutor(pf, e.cfg.CommissionRate, e.cfg.SlippageRate, e.cfg.LotStep)

	days := frame.Days()
	history := make([]DayRecord, 0, len(days))
	var benchCloses []float64
	benchOK := e.cfg.Benchmark != ""

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		prices := frame.ClosesOn(day)
		if len(prices) == 0 {
			continue
		}
		pf.UpdatePrices(prices, day)

		signals, err := strat.GenerateSignals(frame.Through(day), pf)
		if err != nil {
			logger.Warnf("signal generation failed on %s: %v", day.Format("2006-01-02"), err)
		}
		for _, sig := range signals {
			if !sig.Actionable() {
				continue
			}
			quote, ok := prices[sig.Symbol]
			if !ok {
				continue
			}
			qty := e.resolveQuantity(sig, pf, quote)
			if qty == 0 {
				continue
			}
			if _, err := exec.Execute(sig.Symbol, qty, quote, day, sig.Strategy, sig.Reason); err != nil {
				logger.Debugf("skipping fill for %s on %s: %v", sig.Symbol, day.Format("2006-01-02"), err)
			}
		}

		if benchOK {
			if px, ok := prices[e.cfg.Benchmark]; ok {
				benchCloses = append(benchCloses, px)
			} else {
				benchOK = false
			}
		}
		snap := pf.TakeSnapshot(day)
		history = append(history, DayRecord{
			Date:           day,
			PortfolioValue: snap.TotalValue,
			Cash:           snap.Cash,
			PositionsValue: snap.PositionsValue,
			NumPositions:   pf.NumPositions(),
		})
	}
	if len(history) == 0 {
		return Result{}, ErrNoData
	}

	result := computeResult(strat.Name(), e.cfg, history, pf.Trades())
	if benchOK {
		result.Alpha, result.Beta = benchmarkMetrics(history, benchCloses)
	}
	result.ID = uuid.NewString()
	logger.Infof("backtest %s finished: return %.2f%% over %d days, %d trades",
		strat.Name(), result.TotalReturn, len(history), result.TotalTrades)
	return result, nil
}

// resolveQuantity turns a signal into the signed fill quantity. Buys
// are capped so the resulting position stays within the configured
// fraction of the book; sells and closes are capped at the held
// quantity unless shorting is on.
func (e *Engine) resolveQuantity(sig strategy.Signal, pf *portfolio.Portfolio, quote float64) float64 {
	qty := sig.Quantity
	if qty == 0 && sig.SizeFraction > 0 && sig.Type == strategy.TypeBuy {
		qty = math.Floor(pf.Cash() * sig.SizeFraction / quote)
	}

	switch sig.Type {
	case strategy.TypeBuy:
		if e.cfg.MaxPositionFraction > 0 {
			room := e.cfg.MaxPositionFraction * pf.TotalValue()
			if pos, ok := pf.Position(sig.Symbol); ok {
				room -= pos.MarketValue()
			}
			if room <= 0 {
				return 0
			}
			if limit := math.Floor(room / quote); qty > limit {
				qty = limit
			}
		}
		return qty
	case strategy.TypeSell, strategy.TypeClose:
		pos, ok := pf.Position(sig.Symbol)
		if !ok {
			if e.cfg.AllowShort && qty > 0 {
				return -qty
			}
			return 0
		}
		if qty == 0 || qty > pos.Quantity {
			qty = pos.Quantity
		}
		return -qty
	}
	return 0
}

// RunMany backtests several strategies over the same frame with
// bounded parallelism. Results keep the order of strats; a failed run
// fails the batch.
func (e *Engine) RunMany(ctx context.Context, strats []strategy.Strategy, frame *market.Frame) ([]Result, error) {
	results := make([]Result, len(strats))
	g, ctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, strat := range strats {
		i, strat := i, strat
		g.Go(func() error {
			res, err := e.Run(ctx, strat, frame)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
