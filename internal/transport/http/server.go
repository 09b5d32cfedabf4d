// Package httpapi exposes a small read-only JSON surface over the
// live engine and the stored backtest results.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantra/internal/backtest"
	"quantra/internal/live"
	"quantra/internal/logger"
	"quantra/internal/store"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider is the live engine surface the server reads.
type StatusProvider interface {
	Status() live.Status
}

// ServerConfig describes the server dependencies. Engine and Results
// are both optional; routes for a missing dependency answer 503.
type ServerConfig struct {
	Addr    string
	Engine  StatusProvider
	Results *store.ResultStore
}

// Server serves the read-only API.
type Server struct {
	addr    string
	router  *gin.Engine
	engine  StatusProvider
	results *store.ResultStore
}

// NewServer builds the router. The server never mutates engine or
// store state.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("http server requires a listen address")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, router: router, engine: cfg.Engine, results: cfg.Results}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api")
	api.GET("/live/status", s.handleStatus)
	api.GET("/live/positions", s.handlePositions)
	api.GET("/live/trades", s.handleTrades)
	api.GET("/backtest/runs", s.handleRuns)
	api.GET("/backtest/runs/:id", s.handleRun)
	return s, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("http server listening on %s", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live engine not running"})
		return
	}
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live engine not running"})
		return
	}
	status := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{"positions": status.Positions, "count": len(status.Positions)})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return
	}
	trades, err := s.results.RecentTrades(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return
	}
	runs, err := s.results.Runs(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleRun(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store not configured"})
		return
	}
	res, err := s.results.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resultPayload(res))
}

// resultPayload re-attaches the equity curve and trade list, which
// the Result type keeps out of its own JSON form.
func resultPayload(res backtest.Result) gin.H {
	return gin.H{"run": res, "history": res.History, "trades": res.Trades}
}

func queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
