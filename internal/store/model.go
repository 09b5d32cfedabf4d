package store

import (
	"gorm.io/datatypes"
)

// RunModel is one persisted backtest run. The equity curve and the
// trade list are stored as JSON payloads next to the scalar metrics.
type RunModel struct {
	ID           string `gorm:"column:id;primaryKey"`
	StrategyName string `gorm:"column:strategy_name;index"`
	StartUnix    int64  `gorm:"column:start_ts"`
	EndUnix      int64  `gorm:"column:end_ts"`

	InitialCapital  float64 `gorm:"column:initial_capital"`
	FinalValue      float64 `gorm:"column:final_value"`
	TotalReturn     float64 `gorm:"column:total_return"`
	AnnualReturn    float64 `gorm:"column:annual_return"`
	Volatility      float64 `gorm:"column:volatility"`
	SharpeRatio     float64 `gorm:"column:sharpe_ratio"`
	MaxDrawdown     float64 `gorm:"column:max_drawdown"`
	CalmarRatio     float64 `gorm:"column:calmar_ratio"`
	WinRate         float64 `gorm:"column:win_rate"`
	ProfitFactor    float64 `gorm:"column:profit_factor"`
	Alpha           float64 `gorm:"column:alpha"`
	Beta            float64 `gorm:"column:beta"`
	TotalTrades     int     `gorm:"column:total_trades"`
	AvgDurationDay  float64 `gorm:"column:avg_trade_duration_days"`
	TotalCommission float64 `gorm:"column:total_commission"`

	HistoryJSON datatypes.JSON `gorm:"column:history_json;type:TEXT"`
	TradesJSON  datatypes.JSON `gorm:"column:trades_json;type:TEXT"`

	CreatedAtUnix int64 `gorm:"column:created_at;autoCreateTime"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// LiveTradeModel is one executed live fill.
type LiveTradeModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	TradeID     string  `gorm:"column:trade_id;uniqueIndex"`
	Timestamp   int64   `gorm:"column:ts;index"`
	Symbol      string  `gorm:"column:symbol;index"`
	Side        string  `gorm:"column:side"`
	Quantity    float64 `gorm:"column:quantity"`
	Price       float64 `gorm:"column:price"`
	Value       float64 `gorm:"column:value"`
	Commission  float64 `gorm:"column:commission"`
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	Strategy    string  `gorm:"column:strategy"`
	Reason      string  `gorm:"column:reason"`
}

func (LiveTradeModel) TableName() string { return "live_trades" }

// SnapshotModel is one live portfolio snapshot.
type SnapshotModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp      int64   `gorm:"column:ts;index"`
	TotalValue     float64 `gorm:"column:total_value"`
	Cash           float64 `gorm:"column:cash"`
	PositionsValue float64 `gorm:"column:positions_value"`
	DailyPnL       float64 `gorm:"column:daily_pnl"`
	TotalPnL       float64 `gorm:"column:total_pnl"`
	PeakValue      float64 `gorm:"column:peak_value"`
	Drawdown       float64 `gorm:"column:drawdown"`
}

func (SnapshotModel) TableName() string { return "live_snapshots" }
