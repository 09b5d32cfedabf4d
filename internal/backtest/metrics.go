package backtest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"quantra/internal/portfolio"
)

const tradingDaysPerYear = 252

// computeResult scores an equity curve and its fills.
func computeResult(name string, cfg Config, history []DayRecord, trades []portfolio.Trade) Result {
	first, last := history[0], history[len(history)-1]
	res := Result{
		StrategyName:   name,
		StartDate:      first.Date,
		EndDate:        last.Date,
		InitialCapital: cfg.InitialCapital,
		FinalValue:     last.PortfolioValue,
		History:        history,
		TotalTrades:    len(trades),
	}
	res.TotalReturn = (last.PortfolioValue - cfg.InitialCapital) / cfg.InitialCapital * 100

	years := last.Date.Sub(first.Date).Hours() / 24 / 365.25
	if years > 0 && cfg.InitialCapital > 0 && last.PortfolioValue > 0 {
		res.AnnualReturn = (math.Pow(last.PortfolioValue/cfg.InitialCapital, 1/years) - 1) * 100
	}

	returns := dailyReturns(history)
	if len(returns) > 1 {
		std := stat.StdDev(returns, nil)
		res.Volatility = std * math.Sqrt(tradingDaysPerYear) * 100
		if std > 0 {
			excess := make([]float64, len(returns))
			for i, r := range returns {
				excess[i] = r - cfg.RiskFreeRate/tradingDaysPerYear
			}
			res.SharpeRatio = stat.Mean(excess, nil) / std * math.Sqrt(tradingDaysPerYear)
		}
	}

	res.MaxDrawdown = maxDrawdown(returns) * 100
	if res.MaxDrawdown != 0 {
		res.CalmarRatio = res.AnnualReturn / math.Abs(res.MaxDrawdown)
	}

	res.Trades = make([]TradeView, len(trades))
	for i, t := range trades {
		res.TotalCommission += t.Commission
		res.Trades[i] = TradeView{
			Date:       t.Timestamp,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Quantity:   t.Quantity,
			Price:      t.Price,
			Value:      t.Value,
			Commission: t.Commission,
			Strategy:   t.Strategy,
			Reason:     t.Reason,
		}
	}

	rounds := matchRoundTrips(trades)
	if len(rounds) > 0 {
		var wins, losses []float64
		var totalDuration float64
		for _, rt := range rounds {
			totalDuration += rt.durationDays
			if rt.pnl > 0 {
				wins = append(wins, rt.pnl)
			} else if rt.pnl < 0 {
				losses = append(losses, rt.pnl)
			}
		}
		res.WinRate = float64(len(wins)) / float64(len(rounds)) * 100
		res.AvgDurationDay = totalDuration / float64(len(rounds))
		if len(losses) > 0 {
			avgWin := 0.0
			if len(wins) > 0 {
				avgWin = stat.Mean(wins, nil)
			}
			avgLoss := math.Abs(stat.Mean(losses, nil))
			if avgLoss > 0 {
				res.ProfitFactor = avgWin / avgLoss
			}
		} else if len(wins) > 0 {
			res.ProfitFactor = math.Inf(1)
		}
	}
	return res
}

func dailyReturns(history []DayRecord) []float64 {
	out := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].PortfolioValue
		if prev == 0 {
			continue
		}
		out = append(out, (history[i].PortfolioValue-prev)/prev)
	}
	return out
}

// benchmarkMetrics regresses the equity curve's daily returns against
// the benchmark's. Beta is the slope, alpha the annualized intercept.
func benchmarkMetrics(history []DayRecord, benchCloses []float64) (alpha, beta float64) {
	if len(benchCloses) != len(history) || len(history) < 3 {
		return 0, 0
	}
	pr := dailyReturns(history)
	br := make([]float64, 0, len(benchCloses)-1)
	for i := 1; i < len(benchCloses); i++ {
		prev := benchCloses[i-1]
		if prev == 0 {
			return 0, 0
		}
		br = append(br, (benchCloses[i]-prev)/prev)
	}
	if len(pr) != len(br) {
		return 0, 0
	}
	variance := stat.Variance(br, nil)
	if variance == 0 {
		return 0, 0
	}
	beta = stat.Covariance(pr, br, nil) / variance
	alpha = (stat.Mean(pr, nil) - beta*stat.Mean(br, nil)) * tradingDaysPerYear
	return alpha, beta
}

// maxDrawdown compounds the returns and tracks the deepest drop from
// the running peak. Result is negative or zero.
func maxDrawdown(returns []float64) float64 {
	cum, peak, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := (cum - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}

type roundTrip struct {
	pnl          float64
	durationDays float64
}

type openLot struct {
	qty   float64
	price float64
	date  int64
}

// matchRoundTrips pairs buys against later sells per symbol, FIFO, and
// returns the completed round trips.
func matchRoundTrips(trades []portfolio.Trade) []roundTrip {
	bySymbol := make(map[string][]portfolio.Trade)
	symbols := make([]string, 0)
	for _, t := range trades {
		if _, ok := bySymbol[t.Symbol]; !ok {
			symbols = append(symbols, t.Symbol)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	sort.Strings(symbols)

	var rounds []roundTrip
	for _, sym := range symbols {
		var lots []openLot
		for _, t := range bySymbol[sym] {
			if t.Side == portfolio.SideBuy {
				lots = append(lots, openLot{qty: t.Quantity, price: t.Price, date: t.Timestamp.Unix()})
				continue
			}
			remaining := t.Quantity
			for remaining > 0 && len(lots) > 0 {
				lot := &lots[0]
				matched := math.Min(remaining, lot.qty)
				rounds = append(rounds, roundTrip{
					pnl:          (t.Price - lot.price) * matched,
					durationDays: float64(t.Timestamp.Unix()-lot.date) / 86400,
				})
				lot.qty -= matched
				remaining -= matched
				if lot.qty <= 0 {
					lots = lots[1:]
				}
			}
		}
	}
	return rounds
}
