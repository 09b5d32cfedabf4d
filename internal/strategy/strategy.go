// Package strategy turns price history into trading signals. Each
// strategy works in two modes: GenerateSignals replays candle history
// for the backtester, Analyze reacts to a single streamed message and
// keeps its own per-symbol buffer.
package strategy

import (
	"sync"
	"time"

	"quantra/internal/market"
	"quantra/internal/portfolio"
)

// Strategy is implemented by every signal generator.
type Strategy interface {
	Name() string
	GenerateSignals(frame *market.Frame, pf *portfolio.Portfolio) ([]Signal, error)
	Analyze(msg market.Message) (*Signal, error)
	RequiredIndicators() []string
	ValidateParams() error
}

const (
	defaultBufferSize    = 1000
	defaultMinConfidence = 0.5
	defaultCooldown      = time.Minute
)

// tracker is the shared streaming state: bounded per-symbol message
// buffers plus the confidence and cooldown gates applied before any
// signal leaves a strategy.
type tracker struct {
	mu            sync.Mutex
	bufferSize    int
	minConfidence float64
	cooldown      time.Duration
	buffers       map[string][]float64
	lastEmit      map[string]time.Time
}

func newTracker() *tracker {
	return &tracker{
		bufferSize:    defaultBufferSize,
		minConfidence: defaultMinConfidence,
		cooldown:      defaultCooldown,
		buffers:       make(map[string][]float64),
		lastEmit:      make(map[string]time.Time),
	}
}

// observe appends the message price and returns a copy of the
// symbol's buffered prices, oldest first.
func (t *tracker) observe(msg market.Message) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := append(t.buffers[msg.Symbol], msg.Price)
	if len(buf) > t.bufferSize {
		buf = buf[len(buf)-t.bufferSize:]
	}
	t.buffers[msg.Symbol] = buf
	out := make([]float64, len(buf))
	copy(out, buf)
	return out
}

// admit applies the confidence and cooldown filters. Filtered signals
// are discarded, not deferred.
func (t *tracker) admit(sig *Signal) *Signal {
	if sig == nil {
		return nil
	}
	if sig.Confidence < t.minConfidence {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastEmit[sig.Symbol]; ok && sig.Timestamp.Sub(last) < t.cooldown {
		return nil
	}
	t.lastEmit[sig.Symbol] = sig.Timestamp
	return sig
}

// SetCooldown overrides the per-symbol signal cooldown.
func (t *tracker) SetCooldown(d time.Duration) { t.cooldown = d }

// SetMinConfidence overrides the emission threshold.
func (t *tracker) SetMinConfidence(c float64) { t.minConfidence = c }

func clampConfidence(c, limit float64) float64 {
	if c > limit {
		return limit
	}
	if c < 0 {
		return 0
	}
	return c
}
