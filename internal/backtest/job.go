package backtest

import (
	"context"
	"time"

	"statarb/internal/market"
)

// Candle 包内别名，store 层直接使用市场层的 K 线结构。
type Candle = market.Candle

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次历史数据补齐请求。
type FetchParams struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// Gap 表示本地数据缺失的毫秒区间（闭区间）。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述某个区间的本地数据完整度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Present >= r.Expected
}

// FetchJob 拉取任务快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Missing   []Gap       `json:"missing,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Message   string      `json:"message,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]Gap{}, j.Missing...)
	out.Warnings = append([]string{}, j.Warnings...)
	return out
}

// CheckIntegrity 对齐周期网格后统计缺口，连续缺失合并为一个 Gap。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	report := IntegrityReport{Expected: tf.ExpectedCandles(start, end)}
	have, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Present = int64(len(have))

	step := tf.durationMillis()
	existing := make(map[int64]struct{}, len(have))
	for _, ts := range have {
		existing[ts] = struct{}{}
	}
	var gapStart int64 = -1
	for ts := start; ts <= end; ts += step {
		if _, ok := existing[ts]; ok {
			if gapStart >= 0 {
				report.Gaps = append(report.Gaps, Gap{From: gapStart, To: ts - step})
				gapStart = -1
			}
			continue
		}
		if gapStart < 0 {
			gapStart = ts
		}
	}
	if gapStart >= 0 {
		report.Gaps = append(report.Gaps, Gap{From: gapStart, To: end})
	}
	return report, nil
}
