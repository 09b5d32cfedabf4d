// Package store persists candle history and run results to SQLite.
// Writes never abort a caller's run: callers log failures and keep
// going.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"quantra/internal/market"
)

// CandleStore keeps OHLCV history per symbol and interval and serves
// range queries for replay.
type CandleStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// NewCandleStore opens (or creates) the SQLite file at path.
func NewCandleStore(path string) (*CandleStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("candle store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureCandleSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &CandleStore{db: db, path: path, ownsDB: true}, nil
}

// NewCandleStoreFromDB reuses an externally opened SQLite connection.
func NewCandleStoreFromDB(db *sql.DB) (*CandleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("candle store db cannot be nil")
	}
	if err := ensureCandleSchema(db); err != nil {
		return nil, err
	}
	return &CandleStore{db: db}, nil
}

func ensureCandleSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol   TEXT NOT NULL,
	interval TEXT NOT NULL,
	ts       INTEGER NOT NULL,
	open     REAL NOT NULL,
	high     REAL NOT NULL,
	low      REAL NOT NULL,
	close    REAL NOT NULL,
	volume   REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, interval, ts)
);
CREATE INDEX IF NOT EXISTS idx_candles_symbol_ts ON candles(symbol, interval, ts);
`
	_, err := db.Exec(schema)
	return err
}

// SaveCandles upserts a batch for one symbol/interval in a single
// transaction. Re-ingesting the same bar overwrites it.
func (s *CandleStore) SaveCandles(ctx context.Context, symbol, interval string, candles []market.Candle) error {
	symbol = market.NormalizeSymbol(symbol)
	if symbol == "" || interval == "" {
		return fmt.Errorf("symbol/interval cannot be empty")
	}
	if len(candles) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO candles (symbol, interval, ts, open, high, low, close, volume)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, interval, c.Timestamp.UTC().Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Candles returns bars for symbol/interval within [from, to],
// ascending by time. Zero bounds mean unbounded.
func (s *CandleStore) Candles(ctx context.Context, symbol, interval string, from, to time.Time) ([]market.Candle, error) {
	symbol = market.NormalizeSymbol(symbol)
	query := `SELECT ts, open, high, low, close, volume FROM candles WHERE symbol = ? AND interval = ?`
	args := []any{symbol, interval}
	if !from.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, from.UTC().Unix())
	}
	if !to.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, to.UTC().Unix())
	}
	query += ` ORDER BY ts ASC`

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var ts int64
		c := market.Candle{Symbol: symbol}
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Symbols lists the distinct symbols stored for an interval.
func (s *CandleStore) Symbols(ctx context.Context, interval string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM candles WHERE interval = ? ORDER BY symbol ASC`, interval)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Frame loads a replay frame for the given symbols. Symbols with no
// stored history are omitted.
func (s *CandleStore) Frame(ctx context.Context, symbols []string, interval string, from, to time.Time) (*market.Frame, error) {
	var series []market.Series
	for _, sym := range symbols {
		candles, err := s.Candles(ctx, sym, interval, from, to)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", sym, err)
		}
		if len(candles) == 0 {
			continue
		}
		series = append(series, market.Series{Symbol: market.NormalizeSymbol(sym), Candles: candles})
	}
	return market.NewFrame(series...), nil
}

// Close releases the connection when the store owns it.
func (s *CandleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
