package portfolio

import (
	"math"
	"time"
)

// Position is a single signed holding: positive quantity is long,
// negative is short. AvgPrice is the weighted-average entry price.
type Position struct {
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	AvgPrice     float64   `json:"avg_price"`
	CurrentPrice float64   `json:"current_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsLong reports whether the position is long.
func (p Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports whether the position is short.
func (p Position) IsShort() bool { return p.Quantity < 0 }

// MarketValue is quantity * current price (signed for shorts).
func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// CostBasis is |quantity| * average entry price.
func (p Position) CostBasis() float64 {
	return math.Abs(p.Quantity) * p.AvgPrice
}

// UnrealizedPnL is (current-avg)*qty for longs and (avg-current)*|qty|
// for shorts.
func (p Position) UnrealizedPnL() float64 {
	if p.Quantity >= 0 {
		return (p.CurrentPrice - p.AvgPrice) * p.Quantity
	}
	return (p.AvgPrice - p.CurrentPrice) * math.Abs(p.Quantity)
}

// UnrealizedPnLPercent is the unrealized P&L as a fraction of cost basis.
func (p Position) UnrealizedPnLPercent() float64 {
	basis := p.CostBasis()
	if basis == 0 {
		return 0
	}
	return p.UnrealizedPnL() / basis
}

// sameDirection reports whether qty grows the position rather than
// reducing or reversing it.
func (p Position) sameDirection(qty float64) bool {
	if p.Quantity == 0 {
		return true
	}
	return (p.Quantity > 0) == (qty > 0)
}
