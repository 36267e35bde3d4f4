package backtest

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"statarb/internal/logger"
	"statarb/internal/market"
	"statarb/internal/strategy/pairs"
)

// PairCandleProvider 为回测提供双腿对齐周期的 K 线。
type PairCandleProvider interface {
	PairCandles(ctx context.Context, pair pairs.PairKey, timeframe string) ([]market.Candle, []market.Candle, error)
}

// storeCandleProvider 直接从本地 K 线库读取。
type storeCandleProvider struct {
	store *Store
}

func NewStoreCandleProvider(store *Store) PairCandleProvider {
	return &storeCandleProvider{store: store}
}

func (p *storeCandleProvider) PairCandles(ctx context.Context, pair pairs.PairKey, timeframe string) ([]market.Candle, []market.Candle, error) {
	c1, err := p.store.ListAllCandles(ctx, pair.Symbol1, timeframe)
	if err != nil {
		return nil, nil, err
	}
	c2, err := p.store.ListAllCandles(ctx, pair.Symbol2, timeframe)
	if err != nil {
		return nil, nil, err
	}
	return c1, c2, nil
}

// BatchConfig 多配对批量回测。
type BatchConfig struct {
	Engine      EngineConfig // Pair 字段逐对覆盖
	TopPairs    int          // 详细复跑的配对数
	Concurrency int
	Provider    PairCandleProvider
	Results     *ResultStore // 可选，详细结果落库
}

// BatchResult 单配对的批量回测结果。
type BatchResult struct {
	Pair   pairs.PairKey `json:"pair"`
	Report *Report       `json:"report,omitempty"`
	Err    string        `json:"error,omitempty"`
}

// Batch 两阶段批量回测：先并发快速跑全部配对取总收益，
// 再对收益靠前的 TopPairs 复跑并保留完整报告。单对失败只记日志。
type Batch struct {
	cfg BatchConfig
}

func NewBatch(cfg BatchConfig) *Batch {
	if cfg.TopPairs <= 0 {
		cfg.TopPairs = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Batch{cfg: cfg}
}

func (b *Batch) runOne(ctx context.Context, pair pairs.PairKey) (*Report, error) {
	engCfg := b.cfg.Engine
	engCfg.Pair = pair
	eng, err := NewEngine(engCfg)
	if err != nil {
		return nil, err
	}
	c1, c2, err := b.cfg.Provider.PairCandles(ctx, pair, engCfg.Timeframe)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, c1, c2)
}

// Run 执行批量回测，返回按总收益降序的详细结果。
func (b *Batch) Run(ctx context.Context, candidates []pairs.PairKey) ([]BatchResult, error) {
	type scored struct {
		pair   pairs.PairKey
		ret    float64
		failed bool
		errMsg string
	}
	scores := make([]scored, len(candidates))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, pair := range candidates {
		i, pair := i, pair
		g.Go(func() error {
			report, err := b.runOne(gctx, pair)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnf("[backtest] %s 初筛失败: %v", pair, err)
				scores[i] = scored{pair: pair, failed: true, errMsg: err.Error()}
				return nil
			}
			scores[i] = scored{pair: pair, ret: report.Stats.TotalReturnPct}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ok := make([]scored, 0, len(scores))
	failed := make([]scored, 0)
	for _, s := range scores {
		if s.failed {
			failed = append(failed, s)
		} else {
			ok = append(ok, s)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].ret > ok[j].ret })
	top := ok
	if len(top) > b.cfg.TopPairs {
		top = top[:b.cfg.TopPairs]
	}

	out := make([]BatchResult, 0, len(top)+len(failed))
	for _, s := range top {
		report, err := b.runOne(ctx, s.pair)
		if err != nil {
			logger.Warnf("[backtest] %s 详细复跑失败: %v", s.pair, err)
			out = append(out, BatchResult{Pair: s.pair, Err: err.Error()})
			continue
		}
		if b.cfg.Results != nil {
			if err := b.cfg.Results.SaveReport(ctx, report); err != nil {
				logger.Warnf("[backtest] %s 结果落库失败: %v", s.pair, err)
			}
		}
		out = append(out, BatchResult{Pair: s.pair, Report: report})
	}
	for _, s := range failed {
		out = append(out, BatchResult{Pair: s.pair, Err: s.errMsg})
	}
	return out, nil
}
