package optimize

import (
	"context"
	"errors"
	"time"

	"gonum.org/v1/gonum/stat"

	"quantra/internal/logger"
	"quantra/internal/market"
)

// ErrShortHistory means the frame has fewer days than one
// train+test window.
var ErrShortHistory = errors.New("optimize: not enough history for walk-forward analysis")

// Robustness tiers classified from in-sample to out-of-sample Sharpe
// degradation.
const (
	TierLow      = "low"
	TierModerate = "moderate"
	TierHigh     = "high"
)

const (
	degradationModerate = 0.15
	degradationHigh     = 0.30
)

// WalkForwardConfig sets the train/test partitioning in trading days.
type WalkForwardConfig struct {
	TrainDays int  `mapstructure:"train_days" json:"train_days"`
	TestDays  int  `mapstructure:"test_days" json:"test_days"`
	StepDays  int  `mapstructure:"step_days" json:"step_days"`
	Anchored  bool `mapstructure:"anchored" json:"anchored"`
}

// DefaultWalkForwardConfig partitions a year of training against a
// quarter of testing, stepping one month at a time.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{TrainDays: 252, TestDays: 63, StepDays: 21}
}

// WindowResult scores one train/test partition.
type WindowResult struct {
	TrainStart  time.Time `json:"train_start"`
	TrainEnd    time.Time `json:"train_end"`
	TestStart   time.Time `json:"test_start"`
	TestEnd     time.Time `json:"test_end"`
	TrainSharpe float64   `json:"train_sharpe"`
	TestSharpe  float64   `json:"test_sharpe"`
	Degradation float64   `json:"degradation"`
	Tier        string    `json:"tier"`
}

// WalkForwardReport aggregates every window of the analysis.
type WalkForwardReport struct {
	Windows          []WindowResult `json:"windows"`
	MeanTestSharpe   float64        `json:"mean_test_sharpe"`
	StdTestSharpe    float64        `json:"std_test_sharpe"`
	MeanDegradation  float64        `json:"mean_degradation"`
	ConsistencyRatio float64        `json:"consistency_ratio"`
	Tier             string         `json:"tier"`
}

// WalkForward replays a fixed parameter set across successive
// train/test partitions of the frame and measures how much the
// out-of-sample Sharpe degrades from the in-sample one. With
// cfg.Anchored the training window grows from the first day instead
// of rolling.
func (o *Optimizer) WalkForward(ctx context.Context, params map[string]float64, frame *market.Frame, cfg WalkForwardConfig) (WalkForwardReport, error) {
	if cfg.TrainDays <= 0 || cfg.TestDays <= 0 || cfg.StepDays <= 0 {
		return WalkForwardReport{}, errors.New("optimize: walk-forward windows must be positive")
	}
	days := frame.Days()
	if len(days) < cfg.TrainDays+cfg.TestDays {
		return WalkForwardReport{}, ErrShortHistory
	}
	logger.Infof("walk-forward: %d days, train=%d test=%d step=%d anchored=%v",
		len(days), cfg.TrainDays, cfg.TestDays, cfg.StepDays, cfg.Anchored)

	var rep WalkForwardReport
	var testSharpes, degradations []float64
	positive := 0

	for start := 0; start+cfg.TrainDays+cfg.TestDays <= len(days); start += cfg.StepDays {
		if err := ctx.Err(); err != nil {
			return WalkForwardReport{}, err
		}
		trainFrom := start
		if cfg.Anchored {
			trainFrom = 0
		}
		trainEnd := start + cfg.TrainDays
		testEnd := trainEnd + cfg.TestDays

		w := WindowResult{
			TrainStart: days[trainFrom],
			TrainEnd:   days[trainEnd-1],
			TestStart:  days[trainEnd],
			TestEnd:    days[testEnd-1],
		}
		trainEval := o.evaluate(ctx, params, frame.Window(w.TrainStart, w.TrainEnd))
		testEval := o.evaluate(ctx, params, frame.Window(w.TestStart, w.TestEnd))
		if trainEval.Err != nil || testEval.Err != nil {
			logger.Warnf("walk-forward window %s..%s skipped: train err=%v test err=%v",
				w.TrainStart.Format("2006-01-02"), w.TestEnd.Format("2006-01-02"), trainEval.Err, testEval.Err)
			continue
		}
		w.TrainSharpe = trainEval.Result.SharpeRatio
		w.TestSharpe = testEval.Result.SharpeRatio
		w.Degradation = sharpeDegradation(w.TrainSharpe, w.TestSharpe)
		w.Tier = classifyDegradation(w.Degradation)

		rep.Windows = append(rep.Windows, w)
		testSharpes = append(testSharpes, w.TestSharpe)
		degradations = append(degradations, w.Degradation)
		if w.TestSharpe > 0 {
			positive++
		}
	}
	if len(rep.Windows) == 0 {
		return WalkForwardReport{}, ErrAllFailed
	}
	rep.MeanTestSharpe = stat.Mean(testSharpes, nil)
	if len(testSharpes) > 1 {
		rep.StdTestSharpe = stat.StdDev(testSharpes, nil)
	}
	rep.MeanDegradation = stat.Mean(degradations, nil)
	rep.ConsistencyRatio = float64(positive) / float64(len(rep.Windows))
	rep.Tier = classifyDegradation(rep.MeanDegradation)
	return rep, nil
}

// sharpeDegradation is the fraction of in-sample Sharpe lost out of
// sample. A non-positive in-sample Sharpe cannot degrade; an
// out-of-sample improvement is reported as zero.
func sharpeDegradation(train, test float64) float64 {
	if train <= 0 || test >= train {
		return 0
	}
	return (train - test) / train
}

func classifyDegradation(d float64) string {
	switch {
	case d < degradationModerate:
		return TierLow
	case d < degradationHigh:
		return TierModerate
	default:
		return TierHigh
	}
}
