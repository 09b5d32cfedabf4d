package optimize

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"quantra/internal/logger"
	"quantra/internal/market"
)

const (
	// candidatePool is how many random candidates the surrogate ranks
	// per iteration.
	candidatePool = 256
	// failPenalty is the objective assigned to failed evaluations so
	// the surrogate steers away from them.
	failPenalty = 1e6
)

// BayesianSearch runs a model-guided search: after a random warmup it
// fits a quadratic least-squares surrogate to the negated objective,
// ranks a random candidate pool with it, and evaluates the most
// promising candidate. When the fit is singular the iteration falls
// back to a uniform random draw.
func (o *Optimizer) BayesianSearch(ctx context.Context, space *Space, frame *market.Frame, nCalls int) (Report, error) {
	if err := space.validate(); err != nil {
		return Report{}, err
	}
	if nCalls <= 0 {
		return Report{}, ErrNoCandidates
	}
	featDim := 1 + 2*space.Dim()
	warmup := 2 * featDim
	if warmup > nCalls {
		warmup = nCalls
	}
	logger.Infof("bayesian search: %d calls (%d warmup) over %d parameters", nCalls, warmup, space.Dim())

	evals := make([]Evaluation, 0, nCalls)
	for len(evals) < nCalls {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		var params map[string]float64
		if len(evals) < warmup {
			params = o.drawOne(space)
		} else if fit, ok := fitSurrogate(space, evals); ok {
			params = o.proposeBest(space, fit)
		} else {
			logger.Debugf("surrogate fit singular at call %d, sampling uniformly", len(evals)+1)
			params = o.drawOne(space)
		}
		evals = append(evals, o.evaluate(ctx, params, frame))
	}
	return o.summarize(evals)
}

func (o *Optimizer) drawOne(space *Space) map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return space.Sample(o.rng, 1)[0]
}

// surrogate is a fitted quadratic model of the negated objective.
type surrogate struct {
	names []string
	beta  *mat.VecDense
}

// features maps a parameter point to [1, x_1..x_d, x_1^2..x_d^2].
func (s surrogate) features(params map[string]float64) []float64 {
	d := len(s.names)
	row := make([]float64, 1+2*d)
	row[0] = 1
	for i, name := range s.names {
		v := params[name]
		row[1+i] = v
		row[1+d+i] = v * v
	}
	return row
}

func (s surrogate) predict(params map[string]float64) float64 {
	row := s.features(params)
	var sum float64
	for i, f := range row {
		sum += f * s.beta.AtVec(i)
	}
	return sum
}

func fitSurrogate(space *Space, evals []Evaluation) (surrogate, bool) {
	s := surrogate{names: space.Names()}
	featDim := 1 + 2*space.Dim()
	if len(evals) < featDim {
		return surrogate{}, false
	}
	a := mat.NewDense(len(evals), featDim, nil)
	y := mat.NewVecDense(len(evals), nil)
	for i, ev := range evals {
		a.SetRow(i, s.features(ev.Params))
		if ev.Err != nil {
			y.SetVec(i, failPenalty)
			continue
		}
		y.SetVec(i, -ev.Score)
	}
	s.beta = mat.NewVecDense(featDim, nil)
	if err := s.beta.SolveVec(a, y); err != nil {
		return surrogate{}, false
	}
	return s, true
}

// proposeBest draws a candidate pool and returns the point the
// surrogate predicts as the minimum of the negated objective.
func (o *Optimizer) proposeBest(space *Space, fit surrogate) map[string]float64 {
	o.mu.Lock()
	pool := space.Sample(o.rng, candidatePool)
	o.mu.Unlock()
	best := pool[0]
	bestPred := fit.predict(best)
	for _, cand := range pool[1:] {
		if pred := fit.predict(cand); pred < bestPred {
			best, bestPred = cand, pred
		}
	}
	return best
}
