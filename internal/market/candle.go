package market

import (
	"sort"
	"time"
)

// Candle is one OHLCV bar. Timestamp marks the bar open in UTC.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Day returns the calendar date of the candle in UTC.
func (c Candle) Day() time.Time {
	return c.Timestamp.UTC().Truncate(24 * time.Hour)
}

// Series is a per-symbol candle sequence, ascending by timestamp.
// Gaps (weekends, halts) are legal.
type Series struct {
	Symbol  string
	Candles []Candle
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s.Candles) }

// Empty reports whether the series has no candles.
func (s Series) Empty() bool { return len(s.Candles) == 0 }

// Closes returns the close column, oldest first.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Through returns the prefix of the series up to and including day.
func (s Series) Through(day time.Time) Series {
	day = day.UTC().Truncate(24 * time.Hour)
	idx := sort.Search(len(s.Candles), func(i int) bool {
		return s.Candles[i].Day().After(day)
	})
	return Series{Symbol: s.Symbol, Candles: s.Candles[:idx]}
}

// LastClose returns the most recent close, or 0 on an empty series.
func (s Series) LastClose() float64 {
	if len(s.Candles) == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

// Sort orders candles ascending by timestamp in place.
func (s *Series) Sort() {
	sort.Slice(s.Candles, func(i, j int) bool {
		return s.Candles[i].Timestamp.Before(s.Candles[j].Timestamp)
	})
}

// Frame is a multi-symbol view over historical candles. The replay
// engine hands strategies a Frame truncated at the current date.
type Frame struct {
	series map[string]Series
}

// NewFrame builds a frame from per-symbol series, sorting each one.
func NewFrame(series ...Series) *Frame {
	f := &Frame{series: make(map[string]Series, len(series))}
	for _, s := range series {
		s.Sort()
		f.series[NormalizeSymbol(s.Symbol)] = s
	}
	return f
}

// Symbols lists the symbols present in the frame, sorted.
func (f *Frame) Symbols() []string {
	out := make([]string, 0, len(f.series))
	for sym := range f.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Series returns the full series for a symbol.
func (f *Frame) Series(symbol string) (Series, bool) {
	s, ok := f.series[NormalizeSymbol(symbol)]
	return s, ok
}

// Empty reports whether no symbol has any candles.
func (f *Frame) Empty() bool {
	for _, s := range f.series {
		if !s.Empty() {
			return false
		}
	}
	return true
}

// Days returns the sorted union of calendar dates across all symbols.
func (f *Frame) Days() []time.Time {
	seen := make(map[time.Time]struct{})
	for _, s := range f.series {
		for _, c := range s.Candles {
			seen[c.Day()] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Through returns a frame truncated at day (inclusive) for every symbol.
func (f *Frame) Through(day time.Time) *Frame {
	out := &Frame{series: make(map[string]Series, len(f.series))}
	for sym, s := range f.series {
		out.series[sym] = s.Through(day)
	}
	return out
}

// ClosesOn returns the last trade price per symbol for the given day.
// Symbols without a bar that day are absent from the map.
func (f *Frame) ClosesOn(day time.Time) map[string]float64 {
	day = day.UTC().Truncate(24 * time.Hour)
	out := make(map[string]float64)
	for sym, s := range f.series {
		for i := len(s.Candles) - 1; i >= 0; i-- {
			c := s.Candles[i]
			if c.Day().Equal(day) {
				out[sym] = c.Close
				break
			}
			if c.Day().Before(day) {
				break
			}
		}
	}
	return out
}

// Window returns a frame restricted to [start, end] by calendar date,
// both inclusive. Used by walk-forward partitioning.
func (f *Frame) Window(start, end time.Time) *Frame {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)
	out := &Frame{series: make(map[string]Series, len(f.series))}
	for sym, s := range f.series {
		var candles []Candle
		for _, c := range s.Candles {
			d := c.Day()
			if d.Before(start) || d.After(end) {
				continue
			}
			candles = append(candles, c)
		}
		out.series[sym] = Series{Symbol: sym, Candles: candles}
	}
	return out
}

// Apply runs fn over every candle in place. Callers own the frame.
func (f *Frame) Apply(fn func(symbol string, c *Candle)) {
	for sym, s := range f.series {
		for i := range s.Candles {
			fn(sym, &s.Candles[i])
		}
	}
}

// Clone deep-copies the frame so callers may perturb candles freely.
func (f *Frame) Clone() *Frame {
	out := &Frame{series: make(map[string]Series, len(f.series))}
	for sym, s := range f.series {
		candles := make([]Candle, len(s.Candles))
		copy(candles, s.Candles)
		out.series[sym] = Series{Symbol: sym, Candles: candles}
	}
	return out
}
