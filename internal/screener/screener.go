package screener

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"statarb/internal/analysis/stats"
	"statarb/internal/backtest"
	"statarb/internal/logger"
	"statarb/internal/market"
	"statarb/internal/strategy/pairs"
)

// DataProvider 为筛选器按区间提供 K 线。
type DataProvider interface {
	Candles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// Config 配对筛选参数。
type Config struct {
	Symbols          []string
	AnalysisMonths   int
	Timeframe        string
	MinCorrelation   float64
	MaxStability     float64
	MaxPairs         int
	MinMonthCoverage float64 // 单月数据量低于期望值的该比例时剔除该币种
}

func (c *Config) applyDefaults() {
	if c.AnalysisMonths <= 0 {
		c.AnalysisMonths = 6
	}
	if c.Timeframe == "" {
		c.Timeframe = "1h"
	}
	if c.MinCorrelation <= 0 {
		c.MinCorrelation = 0.6
	}
	if c.MaxStability <= 0 {
		c.MaxStability = 0.05
	}
	if c.MaxPairs <= 0 {
		c.MaxPairs = 300
	}
	if c.MinMonthCoverage <= 0 || c.MinMonthCoverage > 1 {
		c.MinMonthCoverage = 0.8
	}
}

// PairScore 单个配对跨月统计。
type PairScore struct {
	Pair        string    `json:"pair"`
	Symbol1     string    `json:"symbol1"`
	Symbol2     string    `json:"symbol2"`
	Correlation float64   `json:"correlation"` // 月度均值
	Stability   float64   `json:"stability"`   // 月度总体标准差
	Monthly     []float64 `json:"monthly_correlations"`
}

func (p PairScore) Key() pairs.PairKey { return pairs.NewPairKey(p.Symbol1, p.Symbol2) }

// MonthDetail 单月明细。
type MonthDetail struct {
	Month        string             `json:"month"`
	Symbols      []string           `json:"symbols"`
	Dropped      []string           `json:"dropped,omitempty"`
	Correlations map[string]float64 `json:"correlations"`
}

// Result 一次完整筛选的输出，持久化为 correlation data 文件。
type Result struct {
	Timestamp            int64                         `json:"timestamp"`
	Date                 string                        `json:"date"`
	AnalysisMonths       int                           `json:"analysisMonths"`
	Timeframe            string                        `json:"timeframe"`
	MinCorrelation       float64                       `json:"minCorrelation"`
	Symbols              []string                      `json:"symbols"`
	CorrelationMatrix    map[string]map[string]float64 `json:"correlationMatrix"`
	CorrelationStability map[string]map[string]float64 `json:"correlationStability"`
	MonthlyDetails       []MonthDetail                 `json:"monthlyDetails"`
	Pairs                []PairScore                   `json:"pairs"`
}

// Screener 跨多个日历月计算相关性并评估稳定性。
type Screener struct {
	cfg  Config
	data DataProvider
	now  func() time.Time
}

func New(cfg Config, data DataProvider) (*Screener, error) {
	cfg.applyDefaults()
	if data == nil {
		return nil, fmt.Errorf("data provider 不能为空")
	}
	if len(cfg.Symbols) < 2 {
		return nil, fmt.Errorf("至少需要 2 个币种，当前 %d", len(cfg.Symbols))
	}
	return &Screener{cfg: cfg, data: data, now: time.Now}, nil
}

// monthRange 返回往前第 back 个完整日历月的 [start, end) 毫秒区间。
func (s *Screener) monthRange(back int) (int64, int64, string) {
	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := first.AddDate(0, -back, 0)
	end := first.AddDate(0, -back+1, 0)
	return start.UnixMilli(), end.UnixMilli(), start.Format("2006-01")
}

func pairName(a, b string) string { return a + "-" + b }

// Run 执行筛选。单月数据不足的币种被累计剔除；
// 有效币种不足 2 个的月份整体跳过。
func (s *Screener) Run(ctx context.Context) (*Result, error) {
	tf, err := backtest.ParseTimeframe(s.cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	step := tf.Duration.Milliseconds()

	dropped := make(map[string]string) // symbol -> 原因
	monthly := make(map[string][]float64)
	var details []MonthDetail

	for back := s.cfg.AnalysisMonths; back >= 1; back-- {
		start, end, label := s.monthRange(back)
		expected := tf.ExpectedCandles(start, end-step)
		threshold := float64(expected) * s.cfg.MinMonthCoverage

		series := make(map[string][]market.Candle)
		var active []string
		var monthDropped []string
		for _, symbol := range s.cfg.Symbols {
			if _, gone := dropped[symbol]; gone {
				continue
			}
			candles, err := s.data.Candles(ctx, symbol, s.cfg.Timeframe, start, end-step)
			if err != nil {
				logger.Warnf("[screener] %s %s 拉取失败，剔除: %v", symbol, label, err)
				dropped[symbol] = err.Error()
				monthDropped = append(monthDropped, symbol)
				continue
			}
			if float64(len(candles)) <= threshold {
				logger.Warnf("[screener] %s %s 数据覆盖不足 (%d/%d)，剔除", symbol, label, len(candles), expected)
				dropped[symbol] = fmt.Sprintf("%s 数据覆盖不足", label)
				monthDropped = append(monthDropped, symbol)
				continue
			}
			series[symbol] = candles
			active = append(active, symbol)
		}
		if len(active) < 2 {
			logger.Warnf("[screener] %s 有效币种不足 (%d)，跳过该月", label, len(active))
			continue
		}

		detail := MonthDetail{Month: label, Symbols: active, Dropped: monthDropped, Correlations: make(map[string]float64)}
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				a, b := active[i], active[j]
				p1, p2 := alignCloses(series[a], series[b])
				corr, err := stats.Correlation(p1, p2)
				if err != nil {
					corr = 0
				}
				name := pairName(a, b)
				detail.Correlations[name] = corr
				monthly[name] = append(monthly[name], corr)
			}
		}
		details = append(details, detail)
	}

	if len(details) == 0 {
		return nil, fmt.Errorf("没有任何月份产生有效相关性数据")
	}

	survivors := make([]string, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		if _, gone := dropped[symbol]; !gone {
			survivors = append(survivors, symbol)
		}
	}

	now := s.now()
	result := &Result{
		Timestamp:            now.UnixMilli(),
		Date:                 now.UTC().Format(time.RFC3339),
		AnalysisMonths:       s.cfg.AnalysisMonths,
		Timeframe:            s.cfg.Timeframe,
		MinCorrelation:       s.cfg.MinCorrelation,
		Symbols:              survivors,
		CorrelationMatrix:    make(map[string]map[string]float64),
		CorrelationStability: make(map[string]map[string]float64),
		MonthlyDetails:       details,
	}
	for _, symbol := range survivors {
		result.CorrelationMatrix[symbol] = map[string]float64{symbol: 1.0}
		result.CorrelationStability[symbol] = map[string]float64{symbol: 0.0}
	}

	for i := 0; i < len(survivors); i++ {
		for j := i + 1; j < len(survivors); j++ {
			a, b := survivors[i], survivors[j]
			values := monthly[pairName(a, b)]
			if len(values) == 0 {
				continue
			}
			avg := stats.Mean(values)
			stability := stats.StdDev(values)
			result.CorrelationMatrix[a][b] = avg
			result.CorrelationMatrix[b][a] = avg
			result.CorrelationStability[a][b] = stability
			result.CorrelationStability[b][a] = stability

			if math.Abs(avg) >= s.cfg.MinCorrelation && stability <= s.cfg.MaxStability {
				result.Pairs = append(result.Pairs, PairScore{
					Pair:        pairName(a, b),
					Symbol1:     a,
					Symbol2:     b,
					Correlation: avg,
					Stability:   stability,
					Monthly:     values,
				})
			}
		}
	}
	sort.SliceStable(result.Pairs, func(i, j int) bool {
		return math.Abs(result.Pairs[i].Correlation) > math.Abs(result.Pairs[j].Correlation)
	})
	if len(result.Pairs) > s.cfg.MaxPairs {
		result.Pairs = result.Pairs[:s.cfg.MaxPairs]
	}
	logger.Infof("[screener] 完成：%d 个月份，%d 个币种存活，%d 个候选配对",
		len(details), len(survivors), len(result.Pairs))
	return result, nil
}

func alignCloses(c1, c2 []market.Candle) ([]float64, []float64) {
	index := make(map[int64]float64, len(c2))
	for _, c := range c2 {
		index[c.OpenTime] = c.Close
	}
	var p1, p2 []float64
	for _, c := range c1 {
		if v, ok := index[c.OpenTime]; ok {
			p1 = append(p1, c.Close)
			p2 = append(p2, v)
		}
	}
	return p1, p2
}
