// Package stream moves real-time market data from sources through a
// bounded priority queue into the processing pipeline.
package stream

import (
	"context"
	"sync"
	"time"

	"quantra/internal/logger"
	"quantra/internal/market"
)

// Priority selects the queue lane.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Handler consumes a dequeued message. A non-nil error counts against
// the message's retry budget.
type Handler func(market.Message) error

// QueueConfig bounds the two lanes. The high lane is kept small so
// urgent messages never sit behind a backlog.
type QueueConfig struct {
	NormalCapacity int           `mapstructure:"normal_capacity"`
	HighCapacity   int           `mapstructure:"high_capacity"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// DefaultQueueConfig mirrors the usual 10000/2500 split with a five
// minute staleness bound.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		NormalCapacity: 10000,
		HighCapacity:   2500,
		MaxAge:         5 * time.Minute,
		MaxRetries:     3,
	}
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	NormalDepth int   `json:"normal_depth"`
	HighDepth   int   `json:"high_depth"`
	Processed   int64 `json:"processed"`
	Dropped     int64 `json:"dropped"`
	Errors      int64 `json:"errors"`
}

type queued struct {
	msg      market.Message
	priority Priority
	queuedAt time.Time
	retries  int
}

// Queue is a two-lane bounded message queue with a single consumer.
// Enqueueing to a full lane evicts that lane's oldest entry. The
// consumer drains the high lane first, drops entries older than
// MaxAge unprocessed, and retries handler failures up to MaxRetries
// before dropping.
type Queue struct {
	cfg QueueConfig

	mu     sync.Mutex
	normal []queued
	high   []queued
	wake   chan struct{}

	processed int64
	dropped   int64
	errors    int64
}

// NewQueue builds a queue; non-positive capacities use the defaults.
func NewQueue(cfg QueueConfig) *Queue {
	def := DefaultQueueConfig()
	if cfg.NormalCapacity <= 0 {
		cfg.NormalCapacity = def.NormalCapacity
	}
	if cfg.HighCapacity <= 0 {
		cfg.HighCapacity = def.HighCapacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Queue{cfg: cfg, wake: make(chan struct{}, 1)}
}

// Enqueue adds a message to the lane for its priority, evicting the
// lane's oldest entry when full.
func (q *Queue) Enqueue(msg market.Message, priority Priority) {
	item := queued{msg: msg, priority: priority, queuedAt: time.Now()}

	q.mu.Lock()
	lane, capacity := &q.normal, q.cfg.NormalCapacity
	if priority == PriorityHigh {
		lane, capacity = &q.high, q.cfg.HighCapacity
	}
	if len(*lane) >= capacity {
		*lane = (*lane)[1:]
		q.dropped++
		logger.Warnf("queue lane full, dropped oldest message for %s", msg.Symbol)
	}
	*lane = append(*lane, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Consume drains the queue until ctx is cancelled, invoking handlers
// in order for every live message. Intended for a single goroutine.
func (q *Queue) Consume(ctx context.Context, handlers ...Handler) error {
	for {
		item, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.wake:
				continue
			}
		}

		if time.Since(item.queuedAt) > q.cfg.MaxAge {
			q.mu.Lock()
			q.dropped++
			q.mu.Unlock()
			logger.Warnf("dropping stale message for %s (age %s)", item.msg.Symbol, time.Since(item.queuedAt).Round(time.Millisecond))
			continue
		}

		if err := runHandlers(handlers, item.msg); err != nil {
			q.mu.Lock()
			q.errors++
			if item.retries < q.cfg.MaxRetries {
				item.retries++
				if item.priority == PriorityHigh {
					q.high = append(q.high, item)
				} else {
					q.normal = append(q.normal, item)
				}
			} else {
				q.dropped++
				logger.Errorf("max retries exceeded for %s message: %v", item.msg.Symbol, err)
			}
			q.mu.Unlock()
			continue
		}

		q.mu.Lock()
		q.processed++
		q.mu.Unlock()
	}
}

// Drain processes everything currently queued and returns. Used on
// shutdown after the sources have stopped.
func (q *Queue) Drain(handlers ...Handler) {
	for {
		item, ok := q.dequeue()
		if !ok {
			return
		}
		if err := runHandlers(handlers, item.msg); err != nil {
			q.mu.Lock()
			q.errors++
			q.dropped++
			q.mu.Unlock()
			continue
		}
		q.mu.Lock()
		q.processed++
		q.mu.Unlock()
	}
}

func (q *Queue) dequeue() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.high) > 0 {
		item := q.high[0]
		q.high = q.high[1:]
		return item, true
	}
	if len(q.normal) > 0 {
		item := q.normal[0]
		q.normal = q.normal[1:]
		return item, true
	}
	return queued{}, false
}

func runHandlers(handlers []Handler, msg market.Message) error {
	var firstErr error
	for _, h := range handlers {
		if err := h(msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns a snapshot of the counters and lane depths.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		NormalDepth: len(q.normal),
		HighDepth:   len(q.high),
		Processed:   q.processed,
		Dropped:     q.dropped,
		Errors:      q.errors,
	}
}
