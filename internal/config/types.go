// Package config loads and validates the application configuration
// from YAML, with include support and per-field defaults.
package config

import (
	"strings"
	"time"

	"quantra/internal/backtest"
	"quantra/internal/optimize"
	"quantra/internal/risk"
	"quantra/internal/stream"
)

// Run modes.
const (
	ModeBacktest = "backtest"
	ModeLive     = "live"
	ModeOptimize = "optimize"
)

// Config is the top-level configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Data      DataConfig      `mapstructure:"data"`
	Backtest  backtest.Config `mapstructure:"backtest"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Live      LiveConfig      `mapstructure:"live"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type DataConfig struct {
	Symbols      []string `mapstructure:"symbols"`
	Interval     string   `mapstructure:"interval"`
	CandleDBPath string   `mapstructure:"candle_db_path"`
	ResultDBPath string   `mapstructure:"result_db_path"`
	ProfilesPath string   `mapstructure:"profiles_path"`
	MaxCached    int      `mapstructure:"max_cached"`
	StartDate    string   `mapstructure:"start_date"`
	EndDate      string   `mapstructure:"end_date"`
}

// Window parses the optional start/end dates (YYYY-MM-DD, UTC).
// A zero time means unbounded on that side.
func (d DataConfig) Window() (start, end time.Time, err error) {
	if s := strings.TrimSpace(d.StartDate); s != "" {
		start, err = time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return
		}
	}
	if s := strings.TrimSpace(d.EndDate); s != "" {
		end, err = time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return
		}
	}
	return
}

type StreamConfig struct {
	WSURL               string             `mapstructure:"ws_url"`
	QuoteURL            string             `mapstructure:"quote_url"`
	PollIntervalSeconds int                `mapstructure:"poll_interval_seconds"`
	BufferSize          int                `mapstructure:"buffer_size"`
	Queue               stream.QueueConfig `mapstructure:"queue"`
}

type RiskConfig struct {
	Limits        risk.ManagerConfig `mapstructure:"limits"`
	Sizer         risk.SizerConfig   `mapstructure:"sizer"`
	StopLossPct   float64            `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64            `mapstructure:"take_profit_pct"`
}

type LiveConfig struct {
	InitialCash           float64 `mapstructure:"initial_cash"`
	CommissionRate        float64 `mapstructure:"commission_rate"`
	SlippageRate          float64 `mapstructure:"slippage_rate"`
	LotStep               float64 `mapstructure:"lot_step"`
	AllowShort            bool    `mapstructure:"allow_short"`
	StatusIntervalSeconds int     `mapstructure:"status_interval_seconds"`
	PriceRefreshSeconds   int     `mapstructure:"price_refresh_seconds"`
	RolloverSpec          string  `mapstructure:"rollover_spec"`
}

type OptimizerConfig struct {
	Workers     int                        `mapstructure:"workers"`
	Metric      string                     `mapstructure:"metric"`
	WalkForward optimize.WalkForwardConfig `mapstructure:"walk_forward"`
	MonteCarlo  optimize.MonteCarloConfig  `mapstructure:"monte_carlo"`
}

// keySet tracks field paths explicitly set in the config files, so
// defaults never overwrite an intentional zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is the defaulting rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
