package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"quantra/internal/logger"
	"quantra/internal/market"
	"quantra/internal/pkg/circuit"
)

// ParseFunc turns a raw frame into a message. ok=false skips frames
// that are not tickers (acks, pings, heartbeats).
type ParseFunc func(data []byte) (market.Message, bool)

// SocketSource streams tickers from a websocket feed. Reconnects are
// gated by a circuit breaker with a backoff between attempts.
type SocketSource struct {
	name    string
	url     string
	parse   ParseFunc
	breaker *circuit.Breaker
	backoff time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	symbols  []string
	subID    int
	degraded bool
}

// NewSocketSource builds a websocket source. A nil parse falls back
// to ParseTicker.
func NewSocketSource(name, url string, parse ParseFunc) *SocketSource {
	if parse == nil {
		parse = ParseTicker
	}
	s := &SocketSource{
		name:    name,
		url:     url,
		parse:   parse,
		breaker: circuit.NewBreaker(name, 5, 30*time.Second),
		backoff: 2 * time.Second,
	}
	s.breaker.OnStateChange(s.breakerEvent)
	return s
}

func (s *SocketSource) Name() string { return s.name }

func (s *SocketSource) breakerEvent(name string, from, to circuit.State) {
	logger.Warnf("%s: reconnect breaker %s -> %s", name, from, to)
	s.mu.Lock()
	s.degraded = to != circuit.StateClosed
	s.mu.Unlock()
}

// Degraded reports whether the reconnect breaker is currently tripped.
func (s *SocketSource) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Connect dials the feed.
func (s *SocketSource) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("%s: dial %s: %w", s.name, s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	logger.Infof("%s: connected to %s", s.name, s.url)
	return nil
}

// Subscribe sends a ticker subscription for the given symbols and
// remembers them for resubscription after a reconnect.
func (s *SocketSource) Subscribe(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range symbols {
		sym := market.NormalizeSymbol(raw)
		if sym == "" || contains(s.symbols, sym) {
			continue
		}
		s.symbols = append(s.symbols, sym)
	}
	return s.subscribeLocked()
}

func (s *SocketSource) subscribeLocked() error {
	if s.conn == nil || len(s.symbols) == 0 {
		return nil
	}
	params := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		params[i] = strings.ToLower(sym) + "@ticker"
	}
	s.subID++
	frame := map[string]any{"method": "SUBSCRIBE", "params": params, "id": s.subID}
	if err := s.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%s: subscribe: %w", s.name, err)
	}
	logger.Infof("%s: subscribed to %d streams", s.name, len(params))
	return nil
}

// Stream reads frames until ctx is cancelled. Read failures close the
// connection and redial with backoff; the circuit breaker stops the
// redial storm when the feed stays down.
func (s *SocketSource) Stream(ctx context.Context, emit EmitFunc) error {
	// Unblock the blocking read when the context ends.
	go func() {
		<-ctx.Done()
		s.closeConn()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			if err := s.reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnf("%s: read failed: %v", s.name, err)
			s.closeConn()
			continue
		}
		s.breaker.RecordSuccess()

		msg, ok := s.parse(data)
		if !ok {
			continue
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		if msg.Provider == "" {
			msg.Provider = s.name
		}
		emit(msg)
	}
}

func (s *SocketSource) reconnect(ctx context.Context) error {
	if !s.breaker.Allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
		return fmt.Errorf("%s: breaker open", s.name)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.backoff):
	}
	if err := s.Connect(ctx); err != nil {
		s.breaker.RecordFailure()
		return err
	}
	s.mu.Lock()
	err := s.subscribeLocked()
	s.mu.Unlock()
	if err != nil {
		s.breaker.RecordFailure()
		s.closeConn()
		return err
	}
	s.breaker.RecordSuccess()
	return nil
}

func (s *SocketSource) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// ParseTicker decodes a Binance-style 24h ticker frame, either bare
// or wrapped in a combined-stream envelope.
func ParseTicker(data []byte) (market.Message, bool) {
	root := gjson.ParseBytes(data)
	if inner := root.Get("data"); inner.Exists() {
		root = inner
	}
	if root.Get("e").String() != "24hrTicker" {
		return market.Message{}, false
	}
	msg := market.Message{
		Symbol:        market.NormalizeSymbol(root.Get("s").String()),
		Price:         root.Get("c").Float(),
		Volume:        root.Get("v").Float(),
		Bid:           root.Get("b").Float(),
		Ask:           root.Get("a").Float(),
		Change:        root.Get("p").Float(),
		ChangePercent: root.Get("P").Float(),
	}
	if ms := root.Get("E").Int(); ms > 0 {
		msg.Timestamp = time.UnixMilli(ms).UTC()
	} else {
		msg.Timestamp = time.Now().UTC()
	}
	if !msg.Valid() {
		return market.Message{}, false
	}
	return msg, true
}
