package optimize

import (
	"context"
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"quantra/internal/logger"
	"quantra/internal/market"
)

// MonteCarloConfig sets the resampling count and the multiplicative
// noise applied to OHLC columns.
type MonteCarloConfig struct {
	Simulations int     `mapstructure:"simulations" json:"simulations"`
	NoiseLevel  float64 `mapstructure:"noise_level" json:"noise_level"`
}

// DefaultMonteCarloConfig runs 1000 simulations with 0.1% price noise.
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{Simulations: 1000, NoiseLevel: 0.001}
}

// Distribution summarizes one outcome column across simulations.
type Distribution struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P5   float64 `json:"percentile_5"`
	P95  float64 `json:"percentile_95"`
}

// MonteCarloReport is the outcome distribution of repeated noisy runs.
type MonteCarloReport struct {
	Simulations      int          `json:"simulations"`
	NoiseLevel       float64      `json:"noise_level"`
	Returns          Distribution `json:"returns"`
	Sharpe           Distribution `json:"sharpe"`
	Drawdown         Distribution `json:"drawdown"`
	ProbPositive     float64      `json:"probability_positive"`
	ProbSharpeAbove1 float64      `json:"probability_sharpe_gt_1"`
}

// MonteCarlo reruns one parameter set against independently perturbed
// copies of the frame. Each candle's open, high, low and close are
// scaled by 1+N(0, noise); with zero noise every simulation replays
// the unperturbed frame.
func (o *Optimizer) MonteCarlo(ctx context.Context, params map[string]float64, frame *market.Frame, cfg MonteCarloConfig) (MonteCarloReport, error) {
	if cfg.Simulations <= 0 {
		return MonteCarloReport{}, errors.New("optimize: simulations must be positive")
	}
	if cfg.NoiseLevel < 0 {
		return MonteCarloReport{}, errors.New("optimize: noise level must be non-negative")
	}
	logger.Infof("monte carlo: %d simulations, noise=%.4f", cfg.Simulations, cfg.NoiseLevel)

	noise := distuv.Normal{Mu: 0, Sigma: cfg.NoiseLevel}
	var returns, sharpes, drawdowns []float64
	for i := 0; i < cfg.Simulations; i++ {
		if err := ctx.Err(); err != nil {
			return MonteCarloReport{}, err
		}
		run := frame
		if cfg.NoiseLevel > 0 {
			run = frame.Clone()
			run.Apply(func(_ string, c *market.Candle) {
				c.Open *= 1 + noise.Rand()
				c.High *= 1 + noise.Rand()
				c.Low *= 1 + noise.Rand()
				c.Close *= 1 + noise.Rand()
			})
		}
		ev := o.evaluate(ctx, params, run)
		if ev.Err != nil {
			logger.Warnf("simulation %d failed: %v", i+1, ev.Err)
			continue
		}
		returns = append(returns, ev.Result.TotalReturn)
		sharpes = append(sharpes, ev.Result.SharpeRatio)
		drawdowns = append(drawdowns, ev.Result.MaxDrawdown)
	}
	if len(returns) == 0 {
		return MonteCarloReport{}, ErrAllFailed
	}

	rep := MonteCarloReport{
		Simulations: len(returns),
		NoiseLevel:  cfg.NoiseLevel,
		Returns:     distribution(returns),
		Sharpe:      distribution(sharpes),
		Drawdown:    distribution(drawdowns),
	}
	positive, sharpeAbove1 := 0, 0
	for i := range returns {
		if returns[i] > 0 {
			positive++
		}
		if sharpes[i] > 1 {
			sharpeAbove1++
		}
	}
	rep.ProbPositive = float64(positive) / float64(len(returns))
	rep.ProbSharpeAbove1 = float64(sharpeAbove1) / float64(len(sharpes))
	return rep, nil
}

func distribution(values []float64) Distribution {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	d := Distribution{
		Mean: stat.Mean(sorted, nil),
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		P5:   stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		d.Std = stat.StdDev(sorted, nil)
	}
	return d
}
