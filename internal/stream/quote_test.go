package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/market"
)

func TestHTTPQuoteParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote/AAPL", r.URL.Path)
		w.Write([]byte(`{"price": 184.25, "volume": 1200, "bid": 184.2, "ask": 184.3, "timestamp": 1700000000000}`))
	}))
	defer srv.Close()

	quote := NewHTTPQuote(srv.Client(), srv.URL+"/quote/{symbol}")
	msg, err := quote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", msg.Symbol)
	assert.InDelta(t, 184.25, msg.Price, 1e-9)
	assert.InDelta(t, 1200, msg.Volume, 1e-9)
	assert.InDelta(t, 184.2, msg.Bid, 1e-9)
	assert.InDelta(t, 184.3, msg.Ask, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), msg.Timestamp)
}

func TestHTTPQuoteRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "GONE":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(`{"error": "no data"}`))
		}
	}))
	defer srv.Close()

	quote := NewHTTPQuote(srv.Client(), srv.URL+"/?symbol={symbol}")

	_, err := quote(context.Background(), "GONE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	// A 200 with no price field is not a quote.
	_, err = quote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payload")
}

func TestHTTPQuoteWorksInPollSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": 99.5}`))
	}))
	defer srv.Close()

	src := NewPollSource("poll", 2*time.Millisecond, NewHTTPQuote(srv.Client(), srv.URL+"/{symbol}"))
	require.NoError(t, src.Connect(context.Background()))
	require.NoError(t, src.Subscribe([]string{"MSFT"}))

	ctx, cancel := context.WithCancel(context.Background())
	emitted := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = src.Stream(ctx, func(m market.Message) {
			if m.Symbol == "MSFT" && m.Price == 99.5 {
				select {
				case emitted <- struct{}{}:
				default:
				}
			}
		})
	}()

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("no quote emitted")
	}
	cancel()
	<-done
}
