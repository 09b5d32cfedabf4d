package portfolio

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Trade side values.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade is one executed fill recorded in the portfolio's history.
type Trade struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Value       float64   `json:"value"`
	Commission  float64   `json:"commission"`
	RealizedPnL float64   `json:"realized_pnl"`
	Strategy    string    `json:"strategy,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// TradeRequest describes a fill to apply to the ledger. Quantity is
// signed: positive buys, negative sells. Price is the execution price
// after any slippage adjustment.
type TradeRequest struct {
	Symbol     string
	Quantity   float64
	Price      float64
	Commission float64
	Timestamp  time.Time
	Strategy   string
	Reason     string
}

func (r TradeRequest) side() string {
	if r.Quantity >= 0 {
		return SideBuy
	}
	return SideSell
}

func (r TradeRequest) toTrade(realized float64) Trade {
	return Trade{
		ID:          uuid.NewString(),
		Timestamp:   r.Timestamp,
		Symbol:      r.Symbol,
		Side:        r.side(),
		Quantity:    math.Abs(r.Quantity),
		Price:       r.Price,
		Value:       math.Abs(r.Quantity) * r.Price,
		Commission:  r.Commission,
		RealizedPnL: realized,
		Strategy:    r.Strategy,
		Reason:      r.Reason,
	}
}
