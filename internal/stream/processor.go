package stream

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"quantra/internal/logger"
	"quantra/internal/market"
)

type pricePoint struct {
	value float64
	ts    time.Time
}

// Change describes the move since the previous tick.
type Change struct {
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// PriceStats summarizes recent prices for one symbol.
type PriceStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	StdDev  float64 `json:"std_dev"`
	Samples int     `json:"samples"`
}

// VolumeStats summarizes recent volume for one symbol.
type VolumeStats struct {
	Total   float64 `json:"total"`
	Mean    float64 `json:"mean"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// Processor keeps rolling per-symbol price and volume windows, a
// latest-price cache and tick-to-tick changes, and fans enriched
// messages out to handlers. Safe for concurrent use.
type Processor struct {
	bufferSize int

	mu       sync.RWMutex
	prices   map[string][]pricePoint
	volumes  map[string][]pricePoint
	latest   map[string]float64
	changes  map[string]Change
	handlers []func(market.Message)
}

// NewProcessor builds a processor with the given per-symbol window
// length.
func NewProcessor(bufferSize int) *Processor {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Processor{
		bufferSize: bufferSize,
		prices:     make(map[string][]pricePoint),
		volumes:    make(map[string][]pricePoint),
		latest:     make(map[string]float64),
		changes:    make(map[string]Change),
	}
}

// AddHandler registers a callback for every enriched message.
func (p *Processor) AddHandler(fn func(market.Message)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// Process ingests one message: updates the caches and windows, fills
// in the change fields and fans out. Implements Handler.
func (p *Processor) Process(msg market.Message) error {
	if !msg.Valid() {
		logger.Debugf("ignoring invalid message for %q", msg.Symbol)
		return nil
	}
	msg.Symbol = market.NormalizeSymbol(msg.Symbol)

	p.mu.Lock()
	old, seen := p.latest[msg.Symbol]
	if !seen {
		old = msg.Price
	}
	p.latest[msg.Symbol] = msg.Price

	change := msg.Price - old
	changePct := 0.0
	if old > 0 {
		changePct = change / old * 100
	}
	p.changes[msg.Symbol] = Change{Change: change, ChangePercent: changePct, Timestamp: msg.Timestamp}

	p.prices[msg.Symbol] = appendBounded(p.prices[msg.Symbol], pricePoint{msg.Price, msg.Timestamp}, p.bufferSize)
	p.volumes[msg.Symbol] = appendBounded(p.volumes[msg.Symbol], pricePoint{msg.Volume, msg.Timestamp}, p.bufferSize)

	msg.Change = change
	msg.ChangePercent = changePct
	handlers := append([]func(market.Message){}, p.handlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

func appendBounded(buf []pricePoint, pt pricePoint, limit int) []pricePoint {
	buf = append(buf, pt)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

// LatestPrice returns the last seen price for symbol.
func (p *Processor) LatestPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.latest[market.NormalizeSymbol(symbol)]
	return v, ok
}

// LatestPrices returns a copy of the latest-price cache.
func (p *Processor) LatestPrices() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.latest))
	for sym, v := range p.latest {
		out[sym] = v
	}
	return out
}

// LastChange returns the most recent tick-to-tick change for symbol.
func (p *Processor) LastChange(symbol string) (Change, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.changes[market.NormalizeSymbol(symbol)]
	return c, ok
}

// PriceStatistics summarizes prices seen within the lookback window.
func (p *Processor) PriceStatistics(symbol string, lookback time.Duration) (PriceStats, bool) {
	values := p.windowValues(p.prices, symbol, lookback)
	if len(values) == 0 {
		return PriceStats{}, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	st := PriceStats{
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    stat.Mean(values, nil),
		Median:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Samples: len(values),
	}
	if len(values) > 1 {
		st.StdDev = stat.StdDev(values, nil)
	}
	return st, true
}

// VolumeStatistics summarizes volume seen within the lookback window.
func (p *Processor) VolumeStatistics(symbol string, lookback time.Duration) (VolumeStats, bool) {
	values := p.windowValues(p.volumes, symbol, lookback)
	if len(values) == 0 {
		return VolumeStats{}, false
	}
	st := VolumeStats{Mean: stat.Mean(values, nil), Samples: len(values)}
	for _, v := range values {
		st.Total += v
		if v > st.Max {
			st.Max = v
		}
	}
	return st, true
}

func (p *Processor) windowValues(buffers map[string][]pricePoint, symbol string, lookback time.Duration) []float64 {
	cutoff := time.Now().Add(-lookback)
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []float64
	for _, pt := range buffers[market.NormalizeSymbol(symbol)] {
		if !pt.ts.Before(cutoff) {
			out = append(out, pt.value)
		}
	}
	return out
}
