package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantra/internal/market"
)

func tick(symbol string, price float64) market.Message {
	return market.Message{Symbol: symbol, Price: price, Volume: 100, Timestamp: time.Now(), Provider: "test"}
}

func TestQueueOverflowEvictsOldest(t *testing.T) {
	q := NewQueue(QueueConfig{NormalCapacity: 3, HighCapacity: 2, MaxAge: time.Minute})

	for i := 0; i < 5; i++ {
		q.Enqueue(tick("AAPL", float64(100+i)), PriorityNormal)
	}
	stats := q.Stats()
	assert.Equal(t, 3, stats.NormalDepth)
	assert.Equal(t, int64(2), stats.Dropped)

	// The survivors are the newest three.
	var prices []float64
	q.Drain(func(m market.Message) error {
		prices = append(prices, m.Price)
		return nil
	})
	assert.Equal(t, []float64{102, 103, 104}, prices)
}

func TestQueueHighLaneDrainsFirst(t *testing.T) {
	q := NewQueue(DefaultQueueConfig())
	q.Enqueue(tick("AAPL", 1), PriorityNormal)
	q.Enqueue(tick("MSFT", 2), PriorityHigh)
	q.Enqueue(tick("NVDA", 3), PriorityNormal)

	var order []string
	q.Drain(func(m market.Message) error {
		order = append(order, m.Symbol)
		return nil
	})
	assert.Equal(t, []string{"MSFT", "AAPL", "NVDA"}, order)
}

func TestQueueDropsStaleMessages(t *testing.T) {
	q := NewQueue(QueueConfig{NormalCapacity: 10, HighCapacity: 10, MaxAge: 10 * time.Millisecond})
	q.Enqueue(tick("AAPL", 100), PriorityNormal)
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var delivered int
	var mu sync.Mutex
	_ = q.Consume(ctx, func(market.Message) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	assert.Equal(t, 0, delivered)
	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(0), stats.Processed)
}

func TestQueueRetriesThenDrops(t *testing.T) {
	q := NewQueue(QueueConfig{NormalCapacity: 10, HighCapacity: 10, MaxAge: time.Minute, MaxRetries: 3})
	q.Enqueue(tick("AAPL", 100), PriorityNormal)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var attempts int
	var mu sync.Mutex
	_ = q.Consume(ctx, func(market.Message) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("handler down")
	})

	// Initial delivery plus three retries.
	assert.Equal(t, 4, attempts)
	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(4), stats.Errors)
	assert.Equal(t, int64(0), stats.Processed)
}

func TestQueueConsumeProcesses(t *testing.T) {
	q := NewQueue(DefaultQueueConfig())
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan market.Message, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, func(m market.Message) error {
			got <- m
			return nil
		})
	}()

	q.Enqueue(tick("AAPL", 100), PriorityNormal)
	q.Enqueue(tick("AAPL", 101), PriorityNormal)

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	cancel()
	<-done

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, 0, stats.NormalDepth)
}

func TestQueueHandlerErrorDoesNotStopOthers(t *testing.T) {
	q := NewQueue(QueueConfig{NormalCapacity: 10, HighCapacity: 10, MaxAge: time.Minute, MaxRetries: 0})
	q.Enqueue(tick("AAPL", 100), PriorityNormal)

	var second int
	q.Drain(
		func(market.Message) error { return errors.New("boom") },
		func(market.Message) error { second++; return nil },
	)
	require.Equal(t, 1, second)
	assert.Equal(t, int64(1), q.Stats().Errors)
}
