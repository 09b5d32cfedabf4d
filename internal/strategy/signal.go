package strategy

import (
	"time"
)

// Type classifies a trading signal.
type Type string

const (
	TypeBuy   Type = "buy"
	TypeSell  Type = "sell"
	TypeHold  Type = "hold"
	TypeClose Type = "close"
)

// Signal is one trading recommendation. Quantity may be zero when the
// strategy defers sizing to the risk layer, in which case SizeFraction
// carries the requested portfolio fraction.
type Signal struct {
	Symbol       string             `json:"symbol"`
	Type         Type               `json:"type"`
	Quantity     float64            `json:"quantity,omitempty"`
	SizeFraction float64            `json:"size_fraction,omitempty"`
	Price        float64            `json:"price"`
	Confidence   float64            `json:"confidence"`
	Timestamp    time.Time          `json:"timestamp"`
	Strategy     string             `json:"strategy"`
	Reason       string             `json:"reason,omitempty"`
	Metadata     map[string]float64 `json:"metadata,omitempty"`
}

// Actionable reports whether the signal asks for a trade.
func (s Signal) Actionable() bool {
	return s.Type == TypeBuy || s.Type == TypeSell || s.Type == TypeClose
}
