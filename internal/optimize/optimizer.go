package optimize

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"quantra/internal/backtest"
	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/strategy"
)

// Metric names the objective extracted from a backtest result. All
// metrics are maximized; max drawdown works because it is negative.
type Metric string

const (
	MetricSharpe       Metric = "sharpe_ratio"
	MetricTotalReturn  Metric = "total_return"
	MetricAnnualReturn Metric = "annual_return"
	MetricCalmar       Metric = "calmar_ratio"
	MetricProfitFactor Metric = "profit_factor"
	MetricWinRate      Metric = "win_rate"
	MetricMaxDrawdown  Metric = "max_drawdown"
)

var (
	ErrNoCandidates  = errors.New("optimize: no candidates to evaluate")
	ErrAllFailed     = errors.New("optimize: every evaluation failed")
	ErrUnknownMetric = errors.New("optimize: unknown metric")
)

// Factory builds a strategy from one numeric parameter set. It should
// reject infeasible combinations with an error; the optimizer records
// the failure and keeps searching.
type Factory func(params map[string]float64) (strategy.Strategy, error)

// Evaluation is the outcome of scoring one parameter set.
type Evaluation struct {
	Params map[string]float64 `json:"parameters"`
	Score  float64            `json:"score"`
	Result backtest.Result    `json:"-"`
	Err    error              `json:"-"`
}

// Report summarizes a finished search.
type Report struct {
	Metric      Metric       `json:"metric"`
	Best        Evaluation   `json:"best"`
	Evaluations []Evaluation `json:"evaluations"`
	ScoreMean   float64      `json:"score_mean"`
	ScoreStd    float64      `json:"score_std"`
	SuccessRate float64      `json:"success_rate"`
}

// Optimizer runs parameter searches against a fixed engine, factory
// and objective metric. Evaluations never share portfolio state: the
// engine builds a fresh ledger per run, so parallel scoring is safe.
type Optimizer struct {
	engine  *backtest.Engine
	factory Factory
	metric  Metric
	workers int

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithMetric sets the objective metric. Default is the Sharpe ratio.
func WithMetric(m Metric) Option {
	return func(o *Optimizer) { o.metric = m }
}

// WithWorkers caps concurrent evaluations. Default is 1.
func WithWorkers(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSeed fixes the sampling RNG for reproducible searches.
func WithSeed(seed int64) Option {
	return func(o *Optimizer) { o.rng = rand.New(rand.NewSource(seed)) }
}

// NewOptimizer returns an optimizer scoring factory-built strategies
// with engine.
func NewOptimizer(engine *backtest.Engine, factory Factory, opts ...Option) (*Optimizer, error) {
	if engine == nil {
		return nil, fmt.Errorf("optimize: nil engine")
	}
	if factory == nil {
		return nil, fmt.Errorf("optimize: nil factory")
	}
	o := &Optimizer{
		engine:  engine,
		factory: factory,
		metric:  MetricSharpe,
		workers: 1,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// GridSearch scores the full Cartesian product of the space.
func (o *Optimizer) GridSearch(ctx context.Context, space *Space, frame *market.Frame) (Report, error) {
	if err := space.validate(); err != nil {
		return Report{}, err
	}
	combos := space.Grid()
	logger.Infof("grid search: %d combinations over %d parameters", len(combos), space.Dim())
	evals, err := o.runAll(ctx, combos, frame)
	if err != nil {
		return Report{}, err
	}
	return o.summarize(evals)
}

// RandomSearch scores n independent uniform draws from the space.
func (o *Optimizer) RandomSearch(ctx context.Context, space *Space, frame *market.Frame, n int) (Report, error) {
	if err := space.validate(); err != nil {
		return Report{}, err
	}
	if n <= 0 {
		return Report{}, ErrNoCandidates
	}
	o.mu.Lock()
	combos := space.Sample(o.rng, n)
	o.mu.Unlock()
	logger.Infof("random search: %d samples over %d parameters", n, space.Dim())
	evals, err := o.runAll(ctx, combos, frame)
	if err != nil {
		return Report{}, err
	}
	return o.summarize(evals)
}

// runAll evaluates every candidate, up to workers at a time, and
// returns evaluations in candidate order.
func (o *Optimizer) runAll(ctx context.Context, combos []map[string]float64, frame *market.Frame) ([]Evaluation, error) {
	if len(combos) == 0 {
		return nil, ErrNoCandidates
	}
	evals := make([]Evaluation, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, params := range combos {
		i, params := i, params
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			evals[i] = o.evaluate(gctx, params, frame)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return evals, nil
}

// evaluate scores one parameter set. Factory or run failures are
// folded into the evaluation, not returned.
func (o *Optimizer) evaluate(ctx context.Context, params map[string]float64, frame *market.Frame) Evaluation {
	ev := Evaluation{Params: params}
	strat, err := o.factory(params)
	if err != nil {
		logger.Debugf("skipping params %v: %v", params, err)
		ev.Err = err
		return ev
	}
	res, err := o.engine.Run(ctx, strat, frame)
	if err != nil {
		logger.Warnf("run failed for params %v: %v", params, err)
		ev.Err = err
		return ev
	}
	ev.Result = res
	ev.Score, ev.Err = extractMetric(res, o.metric)
	return ev
}

func extractMetric(res backtest.Result, m Metric) (float64, error) {
	switch m {
	case MetricSharpe:
		return res.SharpeRatio, nil
	case MetricTotalReturn:
		return res.TotalReturn, nil
	case MetricAnnualReturn:
		return res.AnnualReturn, nil
	case MetricCalmar:
		return res.CalmarRatio, nil
	case MetricProfitFactor:
		return res.ProfitFactor, nil
	case MetricWinRate:
		return res.WinRate, nil
	case MetricMaxDrawdown:
		return res.MaxDrawdown, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
}

func (o *Optimizer) summarize(evals []Evaluation) (Report, error) {
	rep := Report{Metric: o.metric, Evaluations: evals}
	var scores []float64
	bestIdx := -1
	for i, ev := range evals {
		if ev.Err != nil {
			continue
		}
		scores = append(scores, ev.Score)
		if bestIdx < 0 || ev.Score > evals[bestIdx].Score {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return Report{}, ErrAllFailed
	}
	rep.Best = evals[bestIdx]
	rep.ScoreMean = stat.Mean(scores, nil)
	if len(scores) > 1 {
		rep.ScoreStd = stat.StdDev(scores, nil)
	}
	rep.SuccessRate = float64(len(scores)) / float64(len(evals))
	logger.Infof("search done: best %s=%.4f params=%v (%d/%d succeeded)",
		o.metric, rep.Best.Score, rep.Best.Params, len(scores), len(evals))
	return rep, nil
}
