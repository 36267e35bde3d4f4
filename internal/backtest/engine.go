package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"statarb/internal/analysis/stats"
	"statarb/internal/logger"
	"statarb/internal/market"
	"statarb/internal/strategy/pairs"
)

// EngineConfig 单对回测参数。
type EngineConfig struct {
	Pair           pairs.PairKey
	Strategy       pairs.Config
	Timeframe      string
	InitialCapital float64
	PositionSize   float64 // 每次开仓动用资金比例
	CommissionRate float64
	Slippage       float64
}

func (c *EngineConfig) applyDefaults() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = c.Strategy.InitialCapital
	}
	if c.PositionSize <= 0 || c.PositionSize > 1 {
		c.PositionSize = 0.5
	}
}

// Engine 逐根重放双腿 K 线，驱动配对状态机并累计权益曲线。
type Engine struct {
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.Pair.Symbol1 == "" || cfg.Pair.Symbol2 == "" {
		return nil, fmt.Errorf("pair 不完整")
	}
	if _, err := pairs.NewStrategy(cfg.Strategy); err != nil {
		return nil, fmt.Errorf("策略参数非法: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// alignCandles 按 open_time 取交集，两腿必须在同一根 K 线上对齐。
func alignCandles(c1, c2 []market.Candle) (p1, p2 []float64, times []int64) {
	index := make(map[int64]float64, len(c2))
	for _, c := range c2 {
		index[c.OpenTime] = c.Close
	}
	for _, c := range c1 {
		if close2, ok := index[c.OpenTime]; ok {
			p1 = append(p1, c.Close)
			p2 = append(p2, close2)
			times = append(times, c.OpenTime)
		}
	}
	return p1, p2, times
}

// fillPrice 按腿方向施加滑点：买入抬价，卖出压价。
func fillPrice(price, slippage float64, side pairs.LegSide) float64 {
	if side == pairs.LegBuy {
		return price * (1 + slippage)
	}
	return price * (1 - slippage)
}

// entrySides 开仓信号对应的双腿方向。
func entrySides(signal pairs.Signal) (s1, s2 pairs.LegSide) {
	if signal == pairs.SignalOpenLong {
		return pairs.LegBuy, pairs.LegSell
	}
	return pairs.LegSell, pairs.LegBuy
}

// exitSide 平仓方向与持仓腿方向相反。
func exitSide(side pairs.LegSide) pairs.LegSide {
	if side == pairs.LegBuy {
		return pairs.LegSell
	}
	return pairs.LegBuy
}

// Run 重放整段历史。手续费按开平仓双腿名义价值各计一次；
// 序列结束仍有持仓时按最后一根强制平仓。
func (e *Engine) Run(ctx context.Context, candles1, candles2 []market.Candle) (*Report, error) {
	cfg := e.cfg
	p1, p2, times := alignCandles(candles1, candles2)
	lookback := cfg.Strategy.Lookback
	if len(p1) <= lookback {
		return nil, fmt.Errorf("对齐后数据不足: %d <= lookback %d", len(p1), lookback)
	}

	strat, err := pairs.NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	spread, err := stats.Spread(p1, p2, cfg.Strategy.SpreadMethod)
	if err != nil {
		return nil, err
	}
	zs := stats.RollingZScore(spread, lookback)

	capital := cfg.InitialCapital
	var trades []pairs.TradeRecord
	var totalCommission float64
	equity := []EquityPoint{{TS: times[lookback] - 1, Equity: capital}}
	peak := capital
	maxDD := 0.0

	closeAt := func(i int, reason string) error {
		pos := strat.Position(cfg.Pair)
		if pos == nil {
			return nil
		}
		exit1 := fillPrice(p1[i], cfg.Slippage, exitSide(pos.Legs[0].Side))
		exit2 := fillPrice(p2[i], cfg.Slippage, exitSide(pos.Legs[1].Side))
		entryNotional := pos.Capital
		exitNotional := pos.Legs[0].Quantity*exit1 + pos.Legs[1].Quantity*exit2
		commission := cfg.CommissionRate * (entryNotional + exitNotional)

		rec, err := strat.ClosePosition(cfg.Pair, exit1, exit2, msTime(times[i]), zs[i].Value, reason)
		if err != nil {
			return err
		}
		out := *rec
		out.Commission = commission
		out.PnL -= commission
		if out.Capital != 0 {
			out.PnLPercent = out.PnL / out.Capital * 100
		}
		trades = append(trades, out)
		totalCommission += commission
		capital += out.PnL
		return nil
	}

	mark := func(i int) {
		eq := capital
		if pos := strat.Position(cfg.Pair); pos != nil {
			if unreal, err := strat.UnrealizedPnL(cfg.Pair, p1[i], p2[i]); err == nil {
				eq += unreal
			}
		}
		if eq > peak {
			peak = eq
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - eq) / peak * 100
		}
		if dd > maxDD {
			maxDD = dd
		}
		equity = append(equity, EquityPoint{TS: times[i], Equity: eq, Drawdown: dd})
	}

	enforceCorr := cfg.Strategy.EnforceCorrelation && cfg.Strategy.MinCorrelation > 0

	for i := lookback; i < len(p1); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// 滚动窗口相关性不足的 K 线不参与信号评估，持仓在该段内保持不动。
		if enforceCorr {
			corr, cerr := stats.Correlation(p1[i-lookback:i+1], p2[i-lookback:i+1])
			if cerr != nil || math.Abs(corr) < cfg.Strategy.MinCorrelation {
				if zs[i].Valid && math.Abs(zs[i].Value) > cfg.Strategy.EntryThreshold {
					logger.Warnf("[backtest] %s Z=%.3f 超过阈值但窗口相关性 %.3f 不足，跳过",
						cfg.Pair, zs[i].Value, corr)
				}
				mark(i)
				continue
			}
		}
		signal := strat.GenerateSignal(cfg.Pair, zs[i])
		switch signal {
		case pairs.SignalOpenLong, pairs.SignalOpenShort:
			s1, s2 := entrySides(signal)
			entry1 := fillPrice(p1[i], cfg.Slippage, s1)
			entry2 := fillPrice(p2[i], cfg.Slippage, s2)
			positionCapital := capital * cfg.PositionSize
			if _, err := strat.OpenPosition(cfg.Pair, signal, entry1, entry2, positionCapital, msTime(times[i]), zs[i].Value); err != nil {
				logger.Warnf("[backtest] %s 开仓失败: %v", cfg.Pair, err)
			}
		case pairs.SignalClose:
			if err := closeAt(i, pairs.ReasonSignal); err != nil {
				return nil, err
			}
		case pairs.SignalStopLoss:
			if err := closeAt(i, pairs.ReasonStopLoss); err != nil {
				return nil, err
			}
		}

		mark(i)
	}

	// 序列结束强制平仓，避免悬挂持仓污染统计。
	if strat.Position(cfg.Pair) != nil {
		last := len(p1) - 1
		if err := closeAt(last, pairs.ReasonForcedLiquidation); err != nil {
			return nil, err
		}
		final := &equity[len(equity)-1]
		final.Equity = capital
		if peak > 0 {
			final.Drawdown = (peak - capital) / peak * 100
			if final.Drawdown > maxDD {
				maxDD = final.Drawdown
			}
		}
	}

	report := &Report{
		Pair:   cfg.Pair,
		Config: e.runConfig(times),
		Trades: trades,
		Equity: equity,
	}
	report.Stats = computeStats(cfg.InitialCapital, capital, trades, equity, maxDD, totalCommission)
	return report, nil
}

func (e *Engine) runConfig(times []int64) RunConfig {
	cfg := e.cfg
	out := RunConfig{
		Symbol1:           cfg.Pair.Symbol1,
		Symbol2:           cfg.Pair.Symbol2,
		Timeframe:         cfg.Timeframe,
		SpreadMethod:      string(cfg.Strategy.SpreadMethod),
		Lookback:          cfg.Strategy.Lookback,
		EntryThreshold:    cfg.Strategy.EntryThreshold,
		ExitThreshold:     cfg.Strategy.ExitThreshold,
		StopLossThreshold: cfg.Strategy.StopLossThreshold,
		InitialCapital:    cfg.InitialCapital,
		PositionSize:      cfg.PositionSize,
		CommissionRate:    cfg.CommissionRate,
		Slippage:          cfg.Slippage,
	}
	if len(times) > 0 {
		out.StartTS = times[0]
		out.EndTS = times[len(times)-1]
	}
	return out
}

func msTime(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}

// computeStats 汇总交易与权益曲线。Sharpe 基于权益步进收益率年化（√252）。
func computeStats(initial, final float64, trades []pairs.TradeRecord, equity []EquityPoint, maxDD, commission float64) RunStats {
	out := RunStats{
		FinalCapital:    final,
		TotalPnL:        final - initial,
		TotalTrades:     len(trades),
		MaxDrawdownPct:  maxDD,
		TotalCommission: commission,
		Bars:            len(equity),
		FinishedAt:      time.Now(),
	}
	if initial != 0 {
		out.TotalReturnPct = (final - initial) / initial * 100
	}
	var winSum, lossSum float64
	for _, tr := range trades {
		if tr.PnL > 0 {
			out.Wins++
			winSum += tr.PnL
		} else {
			out.Losses++
			lossSum += tr.PnL
		}
	}
	if out.TotalTrades > 0 {
		out.WinRate = float64(out.Wins) / float64(out.TotalTrades) * 100
	}
	if out.Wins > 0 {
		out.AvgWin = winSum / float64(out.Wins)
	}
	if out.Losses > 0 {
		out.AvgLoss = lossSum / float64(out.Losses)
	}
	if out.AvgLoss != 0 {
		out.ProfitFactor = out.AvgWin / math.Abs(out.AvgLoss)
	}

	if len(equity) > 1 {
		returns := make([]float64, 0, len(equity)-1)
		for i := 1; i < len(equity); i++ {
			prev := equity[i-1].Equity
			if prev != 0 {
				returns = append(returns, equity[i].Equity/prev-1)
			}
		}
		std := stats.StdDev(returns)
		if std != 0 {
			out.Sharpe = stats.Mean(returns) / std * math.Sqrt(252)
		}
	}
	return out
}
