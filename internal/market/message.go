package market

import (
	"strings"
	"time"
)

// Message is the normalized tick every data provider must emit.
// Bid/Ask/Change are zero when a provider does not supply them.
type Message struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Bid           float64   `json:"bid,omitempty"`
	Ask           float64   `json:"ask,omitempty"`
	Change        float64   `json:"change,omitempty"`
	ChangePercent float64   `json:"change_percent,omitempty"`
	Provider      string    `json:"provider"`
}

// Valid reports whether the message carries enough to be processed.
func (m Message) Valid() bool {
	return strings.TrimSpace(m.Symbol) != "" && m.Price > 0 && !m.Timestamp.IsZero()
}

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
