package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"quantra/internal/backtest"
	"quantra/internal/portfolio"
)

// ErrRunNotFound is returned when a run ID has no stored record.
var ErrRunNotFound = errors.New("backtest run not found")

// ResultStore persists backtest runs, live fills and live portfolio
// snapshots through gorm.
type ResultStore struct {
	db *gorm.DB
}

// NewResultStore opens (or creates) the SQLite file at path and
// migrates the result tables.
func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName selects the pure-Go modernc.org/sqlite driver
	// (registered as "sqlite" in candles.go); the default driver
	// needs cgo, which is disabled in this build.
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newResultStore(db)
}

// NewResultStoreFromDB wraps an existing gorm connection.
func NewResultStoreFromDB(db *gorm.DB) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("result store db cannot be nil")
	}
	return newResultStore(db)
}

func newResultStore(db *gorm.DB) (*ResultStore, error) {
	if err := db.AutoMigrate(&RunModel{}, &LiveTradeModel{}, &SnapshotModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &ResultStore{db: db}, nil
}

// SaveRun upserts one backtest result keyed by its run ID.
func (s *ResultStore) SaveRun(ctx context.Context, res backtest.Result) error {
	historyJSON, err := json.Marshal(res.History)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	tradesJSON, err := json.Marshal(res.Trades)
	if err != nil {
		return fmt.Errorf("encoding trades: %w", err)
	}
	m := RunModel{
		ID:              res.ID,
		StrategyName:    res.StrategyName,
		StartUnix:       res.StartDate.UTC().Unix(),
		EndUnix:         res.EndDate.UTC().Unix(),
		InitialCapital:  res.InitialCapital,
		FinalValue:      res.FinalValue,
		TotalReturn:     res.TotalReturn,
		AnnualReturn:    res.AnnualReturn,
		Volatility:      res.Volatility,
		SharpeRatio:     res.SharpeRatio,
		MaxDrawdown:     res.MaxDrawdown,
		CalmarRatio:     res.CalmarRatio,
		WinRate:         res.WinRate,
		ProfitFactor:    res.ProfitFactor,
		Alpha:           res.Alpha,
		Beta:            res.Beta,
		TotalTrades:     res.TotalTrades,
		AvgDurationDay:  res.AvgDurationDay,
		TotalCommission: res.TotalCommission,
		HistoryJSON:     datatypes.JSON(historyJSON),
		TradesJSON:      datatypes.JSON(tradesJSON),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&m).Error
}

// Runs returns the most recent runs, newest first, without the JSON
// payloads decoded into History/Trades.
func (s *ResultStore) Runs(ctx context.Context, limit int) ([]backtest.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []RunModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Result, len(models))
	for i, m := range models {
		out[i] = m.toResult()
	}
	return out, nil
}

// Run returns one run by ID with the equity curve and trades decoded.
func (s *ResultStore) Run(ctx context.Context, id string) (backtest.Result, error) {
	var m RunModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backtest.Result{}, ErrRunNotFound
		}
		return backtest.Result{}, err
	}
	res := m.toResult()
	if len(m.HistoryJSON) > 0 {
		if err := json.Unmarshal(m.HistoryJSON, &res.History); err != nil {
			return backtest.Result{}, fmt.Errorf("decoding history: %w", err)
		}
	}
	if len(m.TradesJSON) > 0 {
		if err := json.Unmarshal(m.TradesJSON, &res.Trades); err != nil {
			return backtest.Result{}, fmt.Errorf("decoding trades: %w", err)
		}
	}
	return res, nil
}

func (m RunModel) toResult() backtest.Result {
	return backtest.Result{
		ID:              m.ID,
		StrategyName:    m.StrategyName,
		StartDate:       time.Unix(m.StartUnix, 0).UTC(),
		EndDate:         time.Unix(m.EndUnix, 0).UTC(),
		InitialCapital:  m.InitialCapital,
		FinalValue:      m.FinalValue,
		TotalReturn:     m.TotalReturn,
		AnnualReturn:    m.AnnualReturn,
		Volatility:      m.Volatility,
		SharpeRatio:     m.SharpeRatio,
		MaxDrawdown:     m.MaxDrawdown,
		CalmarRatio:     m.CalmarRatio,
		WinRate:         m.WinRate,
		ProfitFactor:    m.ProfitFactor,
		Alpha:           m.Alpha,
		Beta:            m.Beta,
		TotalTrades:     m.TotalTrades,
		AvgDurationDay:  m.AvgDurationDay,
		TotalCommission: m.TotalCommission,
	}
}

// SaveTrade records one live fill, idempotent on the trade ID.
func (s *ResultStore) SaveTrade(ctx context.Context, t portfolio.Trade) error {
	m := LiveTradeModel{
		TradeID:     t.ID,
		Timestamp:   t.Timestamp.UTC().Unix(),
		Symbol:      t.Symbol,
		Side:        t.Side,
		Quantity:    t.Quantity,
		Price:       t.Price,
		Value:       t.Value,
		Commission:  t.Commission,
		RealizedPnL: t.RealizedPnL,
		Strategy:    t.Strategy,
		Reason:      t.Reason,
	}
	return s.db.WithContext(ctx).
		Where("trade_id = ?", t.ID).
		Assign(m).
		FirstOrCreate(&LiveTradeModel{}).Error
}

// RecentTrades returns the latest live fills, newest first.
func (s *ResultStore) RecentTrades(ctx context.Context, limit int) ([]portfolio.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []LiveTradeModel
	if err := s.db.WithContext(ctx).
		Order("ts DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]portfolio.Trade, len(models))
	for i, m := range models {
		out[i] = portfolio.Trade{
			ID:          m.TradeID,
			Timestamp:   time.Unix(m.Timestamp, 0).UTC(),
			Symbol:      m.Symbol,
			Side:        m.Side,
			Quantity:    m.Quantity,
			Price:       m.Price,
			Value:       m.Value,
			Commission:  m.Commission,
			RealizedPnL: m.RealizedPnL,
			Strategy:    m.Strategy,
			Reason:      m.Reason,
		}
	}
	return out, nil
}

// SaveSnapshot records one live portfolio snapshot.
func (s *ResultStore) SaveSnapshot(ctx context.Context, snap portfolio.Snapshot) error {
	m := SnapshotModel{
		Timestamp:      snap.Timestamp.UTC().Unix(),
		TotalValue:     snap.TotalValue,
		Cash:           snap.Cash,
		PositionsValue: snap.PositionsValue,
		DailyPnL:       snap.DailyPnL,
		TotalPnL:       snap.TotalPnL,
		PeakValue:      snap.PeakValue,
		Drawdown:       snap.Drawdown,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// Snapshots returns the latest live snapshots, newest first.
func (s *ResultStore) Snapshots(ctx context.Context, limit int) ([]portfolio.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []SnapshotModel
	if err := s.db.WithContext(ctx).
		Order("ts DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]portfolio.Snapshot, len(models))
	for i, m := range models {
		out[i] = portfolio.Snapshot{
			Timestamp:      time.Unix(m.Timestamp, 0).UTC(),
			TotalValue:     m.TotalValue,
			Cash:           m.Cash,
			PositionsValue: m.PositionsValue,
			DailyPnL:       m.DailyPnL,
			TotalPnL:       m.TotalPnL,
			PeakValue:      m.PeakValue,
			Drawdown:       m.Drawdown,
		}
	}
	return out, nil
}

// Close releases the underlying connection.
func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
