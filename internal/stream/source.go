package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/pkg/circuit"
)

// EmitFunc receives messages produced by a source.
type EmitFunc func(market.Message)

// Source is a real-time market data feed.
type Source interface {
	Name() string
	Connect(ctx context.Context) error
	Subscribe(symbols []string) error
	// Stream produces messages until ctx is cancelled. A nil return
	// means a clean stop.
	Stream(ctx context.Context, emit EmitFunc) error
}

// QuoteFunc fetches the current quote for one symbol.
type QuoteFunc func(ctx context.Context, symbol string) (market.Message, error)

// PollSource adapts a request/response quote API (Yahoo, Alpha
// Vantage style) into a Source by polling every symbol on a fixed
// interval. A circuit breaker gates the upstream when it keeps
// failing.
type PollSource struct {
	name     string
	interval time.Duration
	quote    QuoteFunc
	breaker  *circuit.Breaker

	mu       sync.Mutex
	symbols  []string
	degraded bool
}

// NewPollSource builds a polling source. Interval must suit the
// provider's rate limits (Alpha Vantage needs ~12s).
func NewPollSource(name string, interval time.Duration, quote QuoteFunc) *PollSource {
	if interval <= 0 {
		interval = time.Second
	}
	s := &PollSource{
		name:     name,
		interval: interval,
		quote:    quote,
		breaker:  circuit.NewBreaker(name, 5, 30*time.Second),
	}
	s.breaker.OnStateChange(s.breakerEvent)
	return s
}

func (s *PollSource) Name() string { return s.name }

func (s *PollSource) breakerEvent(name string, from, to circuit.State) {
	logger.Warnf("%s: upstream breaker %s -> %s", name, from, to)
	s.mu.Lock()
	s.degraded = to != circuit.StateClosed
	s.mu.Unlock()
}

// Degraded reports whether the upstream breaker is currently tripped.
func (s *PollSource) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Connect validates the source; polling needs no handshake.
func (s *PollSource) Connect(context.Context) error {
	if s.quote == nil {
		return fmt.Errorf("%s: nil quote function", s.name)
	}
	logger.Infof("%s: polling feed ready (interval %s)", s.name, s.interval)
	return nil
}

// Subscribe adds symbols to the polling set, skipping duplicates.
func (s *PollSource) Subscribe(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range symbols {
		sym := market.NormalizeSymbol(raw)
		if sym == "" || contains(s.symbols, sym) {
			continue
		}
		s.symbols = append(s.symbols, sym)
	}
	logger.Infof("%s: subscribed to %d symbols", s.name, len(s.symbols))
	return nil
}

// Stream polls every subscribed symbol each interval and emits the
// quotes. Failed quotes count against the circuit breaker; while it
// is open the symbol loop skips the upstream entirely.
func (s *PollSource) Stream(ctx context.Context, emit EmitFunc) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s.mu.Lock()
		symbols := append([]string(nil), s.symbols...)
		s.mu.Unlock()

		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				return nil
			}
			if !s.breaker.Allow() {
				continue
			}
			msg, err := s.quote(ctx, sym)
			if err != nil {
				s.breaker.RecordFailure()
				logger.Warnf("%s: quote %s failed: %v", s.name, sym, err)
				continue
			}
			s.breaker.RecordSuccess()
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			if msg.Provider == "" {
				msg.Provider = s.name
			}
			emit(msg)
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
