package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/market"
)

var candleDay0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestCandleStore(t *testing.T) *CandleStore {
	t.Helper()
	s, err := NewCandleStore(filepath.Join(t.TempDir(), "candles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dailyCandles(symbol string, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Symbol: symbol, Timestamp: candleDay0.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 500,
		}
	}
	return out
}

func TestCandleRoundTrip(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	in := dailyCandles("AAPL", 100, 101, 102)
	require.NoError(t, s.SaveCandles(ctx, "aapl", "1d", in))

	out, err := s.Candles(ctx, "AAPL", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "AAPL", out[0].Symbol)
	assert.Equal(t, 100.0, out[0].Close)
	assert.Equal(t, candleDay0, out[0].Timestamp)
	assert.Equal(t, 102.0, out[2].Close)
}

func TestCandleRangeQuery(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCandles(ctx, "AAPL", "1d", dailyCandles("AAPL", 100, 101, 102, 103, 104)))

	out, err := s.Candles(ctx, "AAPL", "1d", candleDay0.AddDate(0, 0, 1), candleDay0.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 101.0, out[0].Close)
	assert.Equal(t, 103.0, out[2].Close)
}

func TestCandleUpsertReplacesBar(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCandles(ctx, "AAPL", "1d", dailyCandles("AAPL", 100)))
	revised := dailyCandles("AAPL", 108)
	require.NoError(t, s.SaveCandles(ctx, "AAPL", "1d", revised))

	out, err := s.Candles(ctx, "AAPL", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 108.0, out[0].Close)
}

func TestCandleIntervalsIsolated(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCandles(ctx, "AAPL", "1d", dailyCandles("AAPL", 100)))
	require.NoError(t, s.SaveCandles(ctx, "AAPL", "1h", dailyCandles("AAPL", 99, 98)))

	daily, err := s.Candles(ctx, "AAPL", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, daily, 1)

	hourly, err := s.Candles(ctx, "AAPL", "1h", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, hourly, 2)
}

func TestCandleFrameLoadsMultipleSymbols(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCandles(ctx, "AAPL", "1d", dailyCandles("AAPL", 100, 101)))
	require.NoError(t, s.SaveCandles(ctx, "MSFT", "1d", dailyCandles("MSFT", 300, 301)))

	frame, err := s.Frame(ctx, []string{"AAPL", "MSFT", "TSLA"}, "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, frame.Symbols())
	assert.Len(t, frame.Days(), 2)
}

func TestCandleSymbols(t *testing.T) {
	s := newTestCandleStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCandles(ctx, "msft", "1d", dailyCandles("MSFT", 300)))
	require.NoError(t, s.SaveCandles(ctx, "aapl", "1d", dailyCandles("AAPL", 100)))

	symbols, err := s.Symbols(ctx, "1d")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
}

func TestCandleStoreRejectsEmptyKey(t *testing.T) {
	s := newTestCandleStore(t)

	err := s.SaveCandles(context.Background(), "", "1d", dailyCandles("AAPL", 100))
	assert.Error(t, err)
}

func TestCandleCachePutAndTrim(t *testing.T) {
	c := NewCandleCache()

	require.NoError(t, c.Put("aapl", "1d", dailyCandles("AAPL", 100, 101, 102, 103), 3))
	got := c.Get("AAPL", "1d")
	require.Len(t, got, 3)
	assert.Equal(t, 101.0, got[0].Close)
}

func TestCandleCacheReplacesTrailingBar(t *testing.T) {
	c := NewCandleCache()

	require.NoError(t, c.Put("AAPL", "1d", dailyCandles("AAPL", 100), 10))
	require.NoError(t, c.Put("AAPL", "1d", dailyCandles("AAPL", 105), 10))

	got := c.Get("AAPL", "1d")
	require.Len(t, got, 1)
	assert.Equal(t, 105.0, got[0].Close)
}

func TestCandleCacheDrain(t *testing.T) {
	c := NewCandleCache()

	require.NoError(t, c.Put("AAPL", "1d", dailyCandles("AAPL", 100, 101), 10))
	drained := c.Drain("AAPL", "1d")
	assert.Len(t, drained, 2)
	assert.Empty(t, c.Get("AAPL", "1d"))
	assert.Empty(t, c.Symbols("1d"))
}
