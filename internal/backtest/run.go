package backtest

import (
	"encoding/json"
	"time"

	"statarb/internal/strategy/pairs"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Symbol1           string  `json:"symbol1"`
	Symbol2           string  `json:"symbol2"`
	Timeframe         string  `json:"timeframe"`
	SpreadMethod      string  `json:"spread_method"`
	Lookback          int     `json:"lookback"`
	EntryThreshold    float64 `json:"entry_threshold"`
	ExitThreshold     float64 `json:"exit_threshold"`
	StopLossThreshold float64 `json:"stop_loss_threshold"`
	InitialCapital    float64 `json:"initial_capital"`
	PositionSize      float64 `json:"position_size"`
	CommissionRate    float64 `json:"commission_rate"`
	Slippage          float64 `json:"slippage"`
	StartTS           int64   `json:"start_ts"`
	EndTS             int64   `json:"end_ts"`
	Notes             string  `json:"notes,omitempty"`
}

// RunStats 汇总收益与风控指标。
type RunStats struct {
	FinalCapital    float64   `json:"final_capital"`
	TotalPnL        float64   `json:"total_pnl"`
	TotalReturnPct  float64   `json:"total_return_pct"`
	TotalTrades     int       `json:"total_trades"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	WinRate         float64   `json:"win_rate"`
	AvgWin          float64   `json:"avg_win"`
	AvgLoss         float64   `json:"avg_loss"`
	ProfitFactor    float64   `json:"profit_factor"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	Sharpe          float64   `json:"sharpe"`
	TotalCommission float64   `json:"total_commission"`
	Bars            int       `json:"bars"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Run 表示一次已落库的回测任务。
type Run struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// EquityPoint 保存资金曲线上的一个点。
type EquityPoint struct {
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Drawdown float64 `json:"drawdown"`
}

// Report 一次回测的完整结果。
type Report struct {
	Pair   pairs.PairKey       `json:"pair"`
	Config RunConfig           `json:"config"`
	Stats  RunStats            `json:"stats"`
	Trades []pairs.TradeRecord `json:"trades,omitempty"`
	Equity []EquityPoint       `json:"equity,omitempty"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Symbol1           string  `json:"symbol1" binding:"required"`
	Symbol2           string  `json:"symbol2" binding:"required"`
	Timeframe         string  `json:"timeframe"`
	SpreadMethod      string  `json:"spread_method"`
	Lookback          int     `json:"lookback"`
	EntryThreshold    float64 `json:"entry_threshold"`
	ExitThreshold     float64 `json:"exit_threshold"`
	StopLossThreshold float64 `json:"stop_loss_threshold"`
	InitialCapital    float64 `json:"initial_capital"`
	PositionSize      float64 `json:"position_size"`
	StartTS           int64   `json:"start_ts" binding:"required"`
	EndTS             int64   `json:"end_ts" binding:"required"`
}
