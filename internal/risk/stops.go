package risk

import (
	"fmt"
	"sync"
	"time"

	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/strategy"
)

const stopManagerName = "stop_manager"

// stop is the per-symbol state machine. Arming sets the boundaries,
// favorable price movement ratchets the stop toward the price, a
// boundary cross triggers exactly one close and discards the state.
type stop struct {
	entryPrice  float64
	stopPrice   float64
	targetPrice float64
	stopPct     float64
	long        bool
	bestPrice   float64
	armedAt     time.Time
}

// StopManager tracks stop-loss and take-profit levels per symbol.
// Safe for concurrent use.
type StopManager struct {
	mu            sync.Mutex
	defaultStop   float64
	defaultTarget float64
	stops         map[string]*stop
}

// NewStopManager builds a manager with default stop and target
// fractions (e.g. 0.05 and 0.10).
func NewStopManager(defaultStop, defaultTarget float64) *StopManager {
	return &StopManager{
		defaultStop:   defaultStop,
		defaultTarget: defaultTarget,
		stops:         make(map[string]*stop),
	}
}

// Arm sets stop and target boundaries for a new position. Zero
// stopPct/targetPct use the manager defaults. Long positions stop
// below and target above the entry; shorts mirror.
func (m *StopManager) Arm(symbol string, entryPrice float64, long bool, stopPct, targetPct float64, ts time.Time) {
	if stopPct <= 0 {
		stopPct = m.defaultStop
	}
	if targetPct <= 0 {
		targetPct = m.defaultTarget
	}
	st := &stop{
		entryPrice: entryPrice,
		stopPct:    stopPct,
		long:       long,
		bestPrice:  entryPrice,
		armedAt:    ts,
	}
	if long {
		st.stopPrice = entryPrice * (1 - stopPct)
		st.targetPrice = entryPrice * (1 + targetPct)
	} else {
		st.stopPrice = entryPrice * (1 + stopPct)
		st.targetPrice = entryPrice * (1 - targetPct)
	}
	m.mu.Lock()
	m.stops[symbol] = st
	m.mu.Unlock()
	logger.Infof("armed stop for %s: stop=%.4f target=%.4f", symbol, st.stopPrice, st.targetPrice)
}

// Check updates the trailing stop with the latest price and returns a
// close signal when a boundary is crossed. The state is discarded on
// trigger, so a symbol fires at most once per armed position.
func (m *StopManager) Check(msg market.Message) *strategy.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stops[msg.Symbol]
	if !ok {
		return nil
	}
	price := msg.Price

	// Ratchet only in the favorable direction.
	if st.long {
		if price > st.bestPrice {
			st.bestPrice = price
			if trailing := st.bestPrice * (1 - st.stopPct); trailing > st.stopPrice {
				st.stopPrice = trailing
			}
		}
	} else {
		if price < st.bestPrice {
			st.bestPrice = price
			if trailing := st.bestPrice * (1 + st.stopPct); trailing < st.stopPrice {
				st.stopPrice = trailing
			}
		}
	}

	var reason string
	switch {
	case st.long && price <= st.stopPrice, !st.long && price >= st.stopPrice:
		reason = fmt.Sprintf("stop loss triggered at %.4f (stop %.4f)", price, st.stopPrice)
	case st.long && price >= st.targetPrice, !st.long && price <= st.targetPrice:
		reason = fmt.Sprintf("take profit triggered at %.4f (target %.4f)", price, st.targetPrice)
	default:
		return nil
	}

	delete(m.stops, msg.Symbol)
	return &strategy.Signal{
		Symbol:     msg.Symbol,
		Type:       strategy.TypeClose,
		Price:      price,
		Confidence: 1.0,
		Timestamp:  msg.Timestamp,
		Strategy:   stopManagerName,
		Reason:     reason,
		Metadata: map[string]float64{
			"entry_price": st.entryPrice,
			"stop_price":  st.stopPrice,
			"best_price":  st.bestPrice,
		},
	}
}

// Remove discards the stop state for symbol, if any.
func (m *StopManager) Remove(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stops, symbol)
}

// Active returns the symbols with an armed stop.
func (m *StopManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.stops))
	for sym := range m.stops {
		out = append(out, sym)
	}
	return out
}
