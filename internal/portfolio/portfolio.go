// Package portfolio keeps the cash-and-positions ledger shared by the
// backtest and live engines. All mutations go through ExecuteTrade so
// the accounting invariant cash + sum(position value) == total value
// holds after every fill.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInsufficientCash is returned when a buy costs more than the
	// available cash.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientShares is returned when a sell exceeds the held
	// quantity and shorting is disabled.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrZeroQuantity is returned for trades with no quantity.
	ErrZeroQuantity = errors.New("zero quantity")
	// ErrInvalidPrice is returned for non-positive execution prices.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrNoPosition is returned when closing a symbol that is not held.
	ErrNoPosition = errors.New("no position")
)

// Snapshot is a point-in-time valuation of the portfolio. PeakValue is
// monotone non-decreasing across snapshots.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalValue     float64   `json:"total_value"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	DailyPnL       float64   `json:"daily_pnl"`
	TotalPnL       float64   `json:"total_pnl"`
	PeakValue      float64   `json:"peak_value"`
	Drawdown       float64   `json:"drawdown"`
}

// Portfolio is the trade ledger. Safe for concurrent use.
type Portfolio struct {
	mu          sync.RWMutex
	initialCash float64
	cash        float64
	realized    float64
	allowShort  bool
	positions   map[string]*Position
	trades      []Trade
	snapshots   []Snapshot
	peakValue   float64
}

// Option configures a Portfolio.
type Option func(*Portfolio)

// WithShorting permits sells beyond the held quantity, opening short
// positions instead of failing.
func WithShorting() Option {
	return func(p *Portfolio) { p.allowShort = true }
}

// New creates a portfolio funded with initialCash.
func New(initialCash float64, opts ...Option) *Portfolio {
	p := &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		peakValue:   initialCash,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cash returns the free cash balance.
func (p *Portfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// InitialCash returns the starting capital.
func (p *Portfolio) InitialCash() float64 { return p.initialCash }

// TotalValue is cash plus the market value of all positions.
func (p *Portfolio) TotalValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash + p.positionsValueLocked()
}

// PositionsValue is the summed market value of open positions.
func (p *Portfolio) PositionsValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionsValueLocked()
}

func (p *Portfolio) positionsValueLocked() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// RealizedPnL is the cumulative realized profit across all fills, net
// of nothing: commissions are tracked on the trades themselves.
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// UnrealizedPnL sums the open-position P&L.
func (p *Portfolio) UnrealizedPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total float64
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL()
	}
	return total
}

// TotalPnL is total value minus initial capital.
func (p *Portfolio) TotalPnL() float64 {
	return p.TotalValue() - p.initialCash
}

// TotalReturn is the total P&L as a fraction of initial capital.
func (p *Portfolio) TotalReturn() float64 {
	if p.initialCash == 0 {
		return 0
	}
	return p.TotalPnL() / p.initialCash
}

// NumPositions returns the count of open positions.
func (p *Portfolio) NumPositions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

// Position returns a copy of the holding for symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions sorted by symbol.
func (p *Portfolio) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// HasPosition reports whether symbol is held.
func (p *Portfolio) HasPosition(symbol string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.positions[symbol]
	return ok
}

// UpdatePrice marks a single position to price.
func (p *Portfolio) UpdatePrice(symbol string, price float64, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.UpdatedAt = ts
	}
}

// UpdatePrices marks every held symbol present in prices. Symbols
// without a quote keep their last known price.
func (p *Portfolio) UpdatePrices(prices map[string]float64, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, pos := range p.positions {
		if price, ok := prices[sym]; ok {
			pos.CurrentPrice = price
			pos.UpdatedAt = ts
		}
	}
}

// CanAfford checks whether a signed trade at price with commission
// would be accepted, without applying it.
func (p *Portfolio) CanAfford(symbol string, qty, price, commission float64) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkLocked(symbol, qty, price, commission)
}

func (p *Portfolio) checkLocked(symbol string, qty, price, commission float64) error {
	if qty == 0 {
		return ErrZeroQuantity
	}
	if price <= 0 {
		return fmt.Errorf("%w: %.4f", ErrInvalidPrice, price)
	}
	if qty > 0 {
		cost := qty*price + commission
		if cost > p.cash {
			return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost, p.cash)
		}
		return nil
	}
	if p.allowShort {
		return nil
	}
	held := 0.0
	if pos, ok := p.positions[symbol]; ok {
		held = pos.Quantity
	}
	if held < math.Abs(qty) {
		return fmt.Errorf("%w: selling %.6f of %s, hold %.6f", ErrInsufficientShares, math.Abs(qty), symbol, held)
	}
	return nil
}

// ExecuteTrade applies a signed fill to the ledger. Buys debit
// qty*price + commission from cash, sells credit |qty|*price less
// commission. Growing a position reprices the average entry by
// weighted average; reducing one leaves the average untouched and
// realizes (price - avg) * closed quantity (sign-adjusted for shorts).
// A fill that reverses through zero realizes the closed leg at the old
// average and opens the remainder at the execution price. Positions
// that reach zero quantity are removed.
func (p *Portfolio) ExecuteTrade(req TradeRequest) (Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkLocked(req.Symbol, req.Quantity, req.Price, req.Commission); err != nil {
		return Trade{}, err
	}

	pos, ok := p.positions[req.Symbol]
	if !ok {
		pos = &Position{Symbol: req.Symbol}
	}

	var realized float64
	switch {
	case pos.sameDirection(req.Quantity):
		// Growing: weighted-average the entry price.
		oldAbs := math.Abs(pos.Quantity)
		addAbs := math.Abs(req.Quantity)
		pos.AvgPrice = (pos.AvgPrice*oldAbs + req.Price*addAbs) / (oldAbs + addAbs)
		pos.Quantity += req.Quantity

	case math.Abs(req.Quantity) <= math.Abs(pos.Quantity):
		// Reducing: realize the closed portion at the old average.
		closed := math.Abs(req.Quantity)
		realized = p.realizeLocked(pos, req.Price, closed)
		pos.Quantity += req.Quantity

	default:
		// Reversing: close the whole old leg, reopen the remainder
		// at the execution price.
		closed := math.Abs(pos.Quantity)
		realized = p.realizeLocked(pos, req.Price, closed)
		pos.Quantity += req.Quantity
		pos.AvgPrice = req.Price
	}

	pos.CurrentPrice = req.Price
	pos.UpdatedAt = req.Timestamp
	p.realized += realized

	p.cash -= req.Quantity*req.Price + req.Commission

	if math.Abs(pos.Quantity) < 1e-12 {
		delete(p.positions, req.Symbol)
	} else {
		p.positions[req.Symbol] = pos
	}

	trade := req.toTrade(realized)
	p.trades = append(p.trades, trade)
	return trade, nil
}

func (p *Portfolio) realizeLocked(pos *Position, price, closedAbs float64) float64 {
	if pos.Quantity > 0 {
		return (price - pos.AvgPrice) * closedAbs
	}
	return (pos.AvgPrice - price) * closedAbs
}

// ClosePosition fully exits symbol at price.
func (p *Portfolio) ClosePosition(symbol string, price, commission float64, ts time.Time, reason string) (Trade, error) {
	p.mu.RLock()
	pos, ok := p.positions[symbol]
	var qty float64
	if ok {
		qty = pos.Quantity
	}
	p.mu.RUnlock()
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	return p.ExecuteTrade(TradeRequest{
		Symbol:     symbol,
		Quantity:   -qty,
		Price:      price,
		Commission: commission,
		Timestamp:  ts,
		Reason:     reason,
	})
}

// CloseAll exits every position at the given prices. Symbols without a
// quote fall back to their last marked price. Returns the closing
// trades; the first error aborts remaining closes.
func (p *Portfolio) CloseAll(prices map[string]float64, commissionRate float64, ts time.Time, reason string) ([]Trade, error) {
	var trades []Trade
	for _, pos := range p.Positions() {
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.CurrentPrice
		}
		commission := math.Abs(pos.Quantity) * price * commissionRate
		t, err := p.ClosePosition(pos.Symbol, price, commission, ts, reason)
		if err != nil {
			return trades, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Trades returns a copy of the fill history in execution order.
func (p *Portfolio) Trades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// TakeSnapshot records a valuation at ts and returns it. DailyPnL is
// the change since the previous snapshot.
func (p *Portfolio) TakeSnapshot(ts time.Time) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.cash + p.positionsValueLocked()
	if total > p.peakValue {
		p.peakValue = total
	}
	var daily float64
	if n := len(p.snapshots); n > 0 {
		daily = total - p.snapshots[n-1].TotalValue
	}
	var drawdown float64
	if p.peakValue > 0 {
		drawdown = (p.peakValue - total) / p.peakValue
	}
	snap := Snapshot{
		Timestamp:      ts,
		TotalValue:     total,
		Cash:           p.cash,
		PositionsValue: p.positionsValueLocked(),
		DailyPnL:       daily,
		TotalPnL:       total - p.initialCash,
		PeakValue:      p.peakValue,
		Drawdown:       drawdown,
	}
	p.snapshots = append(p.snapshots, snap)
	return snap
}

// Snapshots returns a copy of the snapshot history.
func (p *Portfolio) Snapshots() []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, len(p.snapshots))
	copy(out, p.snapshots)
	return out
}

// MaxDrawdown is the largest peak-to-trough drawdown seen across
// snapshots.
func (p *Portfolio) MaxDrawdown() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var maxDD float64
	for _, s := range p.snapshots {
		if s.Drawdown > maxDD {
			maxDD = s.Drawdown
		}
	}
	return maxDD
}
