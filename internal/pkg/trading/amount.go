// Package trading provides order-amount arithmetic shared by the
// executor and the position sizer. Comparisons and step rounding go
// through decimal so float noise never flips an affordability check.
package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// FloorToStep rounds qty down to a whole multiple of step. A step of
// zero or less defaults to 1 (whole units).
func FloorToStep(qty, step float64) float64 {
	if qty <= 0 {
		return 0
	}
	if step <= 0 {
		step = 1
	}
	q := decFromFloat(qty)
	s := decFromFloat(step)
	return decToFloat(q.Div(s).Floor().Mul(s))
}

// Notional returns |qty| * price.
func Notional(qty, price float64) float64 {
	return decToFloat(decFromFloat(math.Abs(qty)).Mul(decFromFloat(price)))
}

// SlipBuy returns the execution price for a buy under a fractional
// slippage rate: quoted * (1 + rate).
func SlipBuy(price, rate float64) float64 {
	return decToFloat(decFromFloat(price).Mul(decOne.Add(decFromFloat(rate))))
}

// SlipSell returns the execution price for a sell: quoted * (1 - rate).
func SlipSell(price, rate float64) float64 {
	return decToFloat(decFromFloat(price).Mul(decOne.Sub(decFromFloat(rate))))
}

// GTE compares a >= b at decimal precision.
func GTE(a, b float64) bool {
	return decFromFloat(a).Cmp(decFromFloat(b)) >= 0
}

// LTE compares a <= b at decimal precision.
func LTE(a, b float64) bool {
	return decFromFloat(a).Cmp(decFromFloat(b)) <= 0
}
