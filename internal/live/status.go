package live

import (
	"time"

	"quantra/internal/portfolio"
	"quantra/internal/risk"
	"quantra/internal/stream"
)

// Status is a point-in-time view of the engine for the HTTP layer.
type Status struct {
	StartedAt      time.Time            `json:"started_at"`
	Uptime         string               `json:"uptime"`
	Halted         bool                 `json:"halted"`
	TotalValue     float64              `json:"total_value"`
	Cash           float64              `json:"cash"`
	PositionsValue float64              `json:"positions_value"`
	TotalPnL       float64              `json:"total_pnl"`
	TotalReturn    float64              `json:"total_return"`
	NumPositions   int                  `json:"num_positions"`
	ActiveStops    []string             `json:"active_stops"`
	Strategies     []string             `json:"strategies"`
	Risk           risk.Metrics         `json:"risk"`
	Queue          stream.Stats         `json:"queue"`
	Prices         map[string]float64   `json:"prices"`
	Positions      []portfolio.Position `json:"positions"`
	Feeds          map[string]bool      `json:"feeds,omitempty"`
}

// healthReporter is implemented by sources whose upstream is gated by
// a circuit breaker.
type healthReporter interface {
	Degraded() bool
}

// Status assembles a read-only snapshot. Every collaborator is
// internally locked, so this is safe to call from any goroutine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	started := e.startedAt
	halted := e.halted
	e.mu.RUnlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started).Round(time.Second)
	}
	names := make([]string, 0)
	for _, strat := range e.registry.Strategies() {
		names = append(names, strat.Name())
	}
	feeds := make(map[string]bool)
	for _, src := range e.sources {
		if h, ok := src.(healthReporter); ok {
			feeds[src.Name()] = !h.Degraded()
		}
	}
	return Status{
		StartedAt:      started,
		Uptime:         uptime.String(),
		Halted:         halted,
		TotalValue:     e.pf.TotalValue(),
		Cash:           e.pf.Cash(),
		PositionsValue: e.pf.PositionsValue(),
		TotalPnL:       e.pf.TotalPnL(),
		TotalReturn:    e.pf.TotalReturn(),
		NumPositions:   e.pf.NumPositions(),
		ActiveStops:    e.stops.Active(),
		Strategies:     names,
		Risk:           e.limits.Last(),
		Queue:          e.queue.Stats(),
		Prices:         e.proc.LatestPrices(),
		Positions:      e.pf.Positions(),
		Feeds:          feeds,
	}
}
