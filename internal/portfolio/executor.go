package portfolio

import (
	"math"
	"time"

	"quantra/internal/logger"
	"quantra/internal/pkg/trading"
)

// Executor turns quoted orders into ledger fills, applying slippage
// against the trade direction and commission on the executed notional.
type Executor struct {
	pf             *Portfolio
	commissionRate float64
	slippageRate   float64
	lotStep        float64
}

// NewExecutor wraps pf with the given friction rates. lotStep floors
// quantities to a tradable increment; zero disables flooring.
func NewExecutor(pf *Portfolio, commissionRate, slippageRate, lotStep float64) *Executor {
	return &Executor{
		pf:             pf,
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
		lotStep:        lotStep,
	}
}

// Portfolio returns the wrapped ledger.
func (e *Executor) Portfolio() *Portfolio { return e.pf }

// CommissionRate returns the configured commission fraction.
func (e *Executor) CommissionRate() float64 { return e.commissionRate }

// Execute fills a signed quantity at the quoted price. Buys execute at
// quote*(1+slippage), sells at quote*(1-slippage).
func (e *Executor) Execute(symbol string, qty, quote float64, ts time.Time, strategy, reason string) (Trade, error) {
	if e.lotStep > 0 {
		floored := trading.FloorToStep(math.Abs(qty), e.lotStep)
		qty = math.Copysign(floored, qty)
	}
	if qty == 0 {
		return Trade{}, ErrZeroQuantity
	}

	var execPrice float64
	if qty > 0 {
		execPrice = trading.SlipBuy(quote, e.slippageRate)
	} else {
		execPrice = trading.SlipSell(quote, e.slippageRate)
	}
	commission := trading.Notional(math.Abs(qty), execPrice) * e.commissionRate

	trade, err := e.pf.ExecuteTrade(TradeRequest{
		Symbol:     symbol,
		Quantity:   qty,
		Price:      execPrice,
		Commission: commission,
		Timestamp:  ts,
		Strategy:   strategy,
		Reason:     reason,
	})
	if err != nil {
		return Trade{}, err
	}
	logger.Debugf("executed %s %s %.6f @ %.4f (commission %.4f, realized %.4f)",
		trade.Side, symbol, trade.Quantity, trade.Price, trade.Commission, trade.RealizedPnL)
	return trade, nil
}

// Close fully exits symbol at the quoted price with slippage and
// commission applied.
func (e *Executor) Close(symbol string, quote float64, ts time.Time, strategy, reason string) (Trade, error) {
	pos, ok := e.pf.Position(symbol)
	if !ok {
		return Trade{}, ErrNoPosition
	}
	return e.Execute(symbol, -pos.Quantity, quote, ts, strategy, reason)
}
