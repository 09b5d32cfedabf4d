// Package optimize searches strategy parameter spaces by replaying
// each candidate through the backtest engine and scoring one metric.
package optimize

import (
	"fmt"
	"math/rand"
)

// Kind classifies how a parameter's values are enumerated and sampled.
type Kind int

const (
	// KindRange is a stepped numeric range [start, end] inclusive.
	KindRange Kind = iota
	// KindInteger is an integer interval [min, max] inclusive.
	KindInteger
	// KindReal is a continuous interval [min, max].
	KindReal
	// KindChoice is an explicit value list.
	KindChoice
)

// realGridPoints is how many evenly spaced values a continuous
// parameter contributes to a grid enumeration.
const realGridPoints = 10

// Param is one dimension of a search space.
type Param struct {
	Name    string
	Kind    Kind
	Min     float64
	Max     float64
	Step    float64
	Choices []float64
}

// Space is an ordered set of parameters to search over. Parameter
// order is the insertion order and is stable across enumerations.
type Space struct {
	params []Param
}

// NewSpace returns an empty parameter space.
func NewSpace() *Space {
	return &Space{}
}

// Range adds a stepped numeric parameter covering start..end inclusive.
func (s *Space) Range(name string, start, end, step float64) *Space {
	s.params = append(s.params, Param{Name: name, Kind: KindRange, Min: start, Max: end, Step: step})
	return s
}

// Integer adds an integer parameter covering min..max inclusive.
func (s *Space) Integer(name string, min, max int) *Space {
	s.params = append(s.params, Param{Name: name, Kind: KindInteger, Min: float64(min), Max: float64(max)})
	return s
}

// Real adds a continuous parameter over [min, max].
func (s *Space) Real(name string, min, max float64) *Space {
	s.params = append(s.params, Param{Name: name, Kind: KindReal, Min: min, Max: max})
	return s
}

// Choice adds a parameter restricted to an explicit value list.
func (s *Space) Choice(name string, choices ...float64) *Space {
	s.params = append(s.params, Param{Name: name, Kind: KindChoice, Choices: choices})
	return s
}

// Names returns the parameter names in declaration order.
func (s *Space) Names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.Name
	}
	return names
}

// Dim returns the number of parameters.
func (s *Space) Dim() int { return len(s.params) }

func (s *Space) validate() error {
	if len(s.params) == 0 {
		return fmt.Errorf("parameter space is empty")
	}
	seen := make(map[string]bool, len(s.params))
	for _, p := range s.params {
		if p.Name == "" {
			return fmt.Errorf("parameter with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case KindRange:
			if p.Step <= 0 {
				return fmt.Errorf("parameter %q: step must be positive", p.Name)
			}
			fallthrough
		case KindInteger, KindReal:
			if p.Max < p.Min {
				return fmt.Errorf("parameter %q: max %v below min %v", p.Name, p.Max, p.Min)
			}
		case KindChoice:
			if len(p.Choices) == 0 {
				return fmt.Errorf("parameter %q: no choices", p.Name)
			}
		}
	}
	return nil
}

func (p Param) gridValues() []float64 {
	switch p.Kind {
	case KindRange:
		var vals []float64
		for v := p.Min; v <= p.Max+1e-9; v += p.Step {
			vals = append(vals, v)
		}
		return vals
	case KindInteger:
		var vals []float64
		for v := p.Min; v <= p.Max; v++ {
			vals = append(vals, v)
		}
		return vals
	case KindReal:
		if p.Max == p.Min {
			return []float64{p.Min}
		}
		vals := make([]float64, realGridPoints)
		step := (p.Max - p.Min) / float64(realGridPoints-1)
		for i := range vals {
			vals[i] = p.Min + float64(i)*step
		}
		return vals
	case KindChoice:
		return append([]float64(nil), p.Choices...)
	}
	return nil
}

func (p Param) sample(rng *rand.Rand) float64 {
	switch p.Kind {
	case KindRange, KindReal:
		return p.Min + rng.Float64()*(p.Max-p.Min)
	case KindInteger:
		return p.Min + float64(rng.Intn(int(p.Max-p.Min)+1))
	case KindChoice:
		return p.Choices[rng.Intn(len(p.Choices))]
	}
	return 0
}

// Grid enumerates the full Cartesian product of every parameter's
// grid values.
func (s *Space) Grid() []map[string]float64 {
	axes := make([][]float64, len(s.params))
	total := 1
	for i, p := range s.params {
		axes[i] = p.gridValues()
		total *= len(axes[i])
	}
	combos := make([]map[string]float64, 0, total)
	idx := make([]int, len(axes))
	for {
		combo := make(map[string]float64, len(s.params))
		for i, p := range s.params {
			combo[p.Name] = axes[i][idx[i]]
		}
		combos = append(combos, combo)
		carry := len(axes) - 1
		for carry >= 0 {
			idx[carry]++
			if idx[carry] < len(axes[carry]) {
				break
			}
			idx[carry] = 0
			carry--
		}
		if carry < 0 {
			return combos
		}
	}
}

// Sample draws n independent uniform samples from the space.
func (s *Space) Sample(rng *rand.Rand, n int) []map[string]float64 {
	combos := make([]map[string]float64, n)
	for i := range combos {
		combo := make(map[string]float64, len(s.params))
		for _, p := range s.params {
			combo[p.Name] = p.sample(rng)
		}
		combos[i] = combo
	}
	return combos
}
