package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"statarb/internal/backtest"
	"statarb/internal/coins"
	"statarb/internal/config"
	"statarb/internal/logger"
	"statarb/internal/market"
	"statarb/internal/portfolio"
	"statarb/internal/screener"
	"statarb/internal/strategy/pairs"
)

// fetchProvider 先补齐本地数据再按区间读取，供筛选器使用。
type fetchProvider struct {
	svc   *backtest.Service
	store *backtest.Store
}

func (p *fetchProvider) Candles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if err := p.svc.EnsureRange(ctx, symbol, timeframe, start, end); err != nil {
		return nil, err
	}
	return p.store.RangeCandles(ctx, symbol, timeframe, start, end)
}

// runFindPairs 多月相关性筛选并持久化结果。
func (a *App) runFindPairs(ctx context.Context) error {
	symbols, err := a.resolveSymbols(ctx)
	if err != nil {
		return err
	}
	sc := a.cfg.Screener
	s, err := screener.New(screener.Config{
		Symbols:          symbols,
		AnalysisMonths:   sc.AnalysisMonths,
		Timeframe:        sc.Timeframe,
		MinCorrelation:   sc.MinCorrelation,
		MaxStability:     sc.MaxStability,
		MaxPairs:         sc.MaxPairs,
		MinMonthCoverage: sc.MinMonthCoverage,
	}, &fetchProvider{svc: a.svc, store: a.store})
	if err != nil {
		return err
	}
	result, err := s.Run(ctx)
	if err != nil {
		return err
	}
	path := a.correlationPath()
	if err := screener.Save(result, path); err != nil {
		return fmt.Errorf("保存筛选结果失败: %w", err)
	}
	logger.Infof("[app] 筛选完成：%d 个币种 → %d 个候选配对，结果写入 %s", len(symbols), len(result.Pairs), path)
	for i, p := range result.Pairs {
		if i >= 10 {
			break
		}
		logger.Infof("[app]   %-24s corr=%.4f stability=%.4f", p.Pair, p.Correlation, p.Stability)
	}
	return nil
}

func (a *App) resolveSymbols(ctx context.Context) ([]string, error) {
	sc := a.cfg.Screener
	var provider coins.SymbolProvider
	if len(sc.Symbols) > 0 {
		normalized, err := coins.NormalizeSymbols(sc.Symbols)
		if err != nil {
			return nil, err
		}
		provider = coins.NewDefaultProvider(normalized)
	} else {
		src := a.cfg.Market.ResolveActiveSource()
		provider = coins.NewTopVolumeProvider(src.RESTBaseURL, sc.TopSymbols, float64(sc.MinVolumeUSDM)*1e6)
	}
	symbols, err := provider.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取币种列表失败 (%s): %w", provider.Name(), err)
	}
	logger.Infof("[app] 币种来源 %s：%d 个", provider.Name(), len(symbols))
	return symbols, nil
}

// runBacktest 读筛选结果、补齐行情并批量回测，返回详细结果。
func (a *App) runBacktest(ctx context.Context) ([]backtest.BatchResult, error) {
	result, err := loadScreenerResult(a.cfg, a.dataRoot)
	if err != nil {
		return nil, err
	}
	if len(result.Pairs) == 0 {
		return nil, fmt.Errorf("筛选结果中没有候选配对")
	}
	candidates := make([]pairs.PairKey, 0, len(result.Pairs))
	seen := make(map[string]struct{})
	for _, p := range result.Pairs {
		candidates = append(candidates, pairs.NewPairKey(p.Symbol1, p.Symbol2))
		seen[strings.ToUpper(p.Symbol1)] = struct{}{}
		seen[strings.ToUpper(p.Symbol2)] = struct{}{}
	}

	timeframe := a.cfg.Backtest.Timeframe
	end := time.Now().UTC()
	start := end.AddDate(0, -a.cfg.Screener.AnalysisMonths, 0)
	for symbol := range seen {
		if err := a.svc.EnsureRange(ctx, symbol, timeframe, start.UnixMilli(), end.UnixMilli()); err != nil {
			logger.Warnf("[app] %s 数据补齐失败: %v", symbol, err)
		}
	}

	strategyCfg, err := buildStrategyConfig(a.cfg)
	if err != nil {
		return nil, err
	}
	batch := backtest.NewBatch(backtest.BatchConfig{
		Engine:      buildEngineConfig(a.cfg, strategyCfg),
		TopPairs:    a.cfg.Backtest.TopPairs,
		Concurrency: a.cfg.Backtest.Concurrency,
		Provider:    backtest.NewStoreCandleProvider(a.store),
		Results:     a.results,
	})
	results, err := batch.Run(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != "" {
			logger.Warnf("[app] %s 回测失败: %s", r.Pair, r.Err)
			continue
		}
		st := r.Report.Stats
		logger.Infof("[app] %-24s return=%.2f%% sharpe=%.2f winRate=%.1f%% maxDD=%.2f%% trades=%d",
			r.Pair, st.TotalReturnPct, st.Sharpe, st.WinRate, st.MaxDrawdownPct, st.TotalTrades)
	}
	return results, nil
}

// runPortfolio 回测后按风险画像分配资金。
func (a *App) runPortfolio(ctx context.Context) error {
	results, err := a.runBacktest(ctx)
	if err != nil {
		return err
	}
	candidates := make([]portfolio.Candidate, 0, len(results))
	for _, r := range results {
		if r.Err != "" || r.Report == nil {
			continue
		}
		st := r.Report.Stats
		candidates = append(candidates, portfolio.Candidate{
			Pair:           r.Pair,
			TotalReturnPct: st.TotalReturnPct,
			Sharpe:         st.Sharpe,
			WinRate:        st.WinRate,
			MaxDrawdownPct: st.MaxDrawdownPct,
			TotalTrades:    st.TotalTrades,
		})
	}
	pf, err := portfolio.Optimize(a.cfg.Portfolio.Profile, a.cfg.Portfolio.TotalFund, candidates)
	if err != nil {
		return err
	}
	for _, alloc := range pf.Allocations {
		logger.Infof("[app] %-24s score=%.2f 分配=%.2f 单次开仓=%.2f",
			alloc.Candidate.Pair, alloc.Score, alloc.Amount, alloc.TradeAmount)
	}
	path := filepath.Join(a.dataRoot, "portfolio.json")
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("保存组合配置失败: %w", err)
	}
	logger.Infof("[app] 组合配置写入 %s（%s 画像，%d 个配对）", path, pf.Profile.Name, len(pf.Allocations))
	return nil
}

func (a *App) correlationPath() string {
	if p := strings.TrimSpace(a.cfg.Screener.OutputPath); p != "" {
		return p
	}
	return filepath.Join(a.dataRoot, "correlation", "correlation_data.json")
}

func loadScreenerResult(cfg *config.Config, dataRoot string) (*screener.Result, error) {
	path := strings.TrimSpace(cfg.Backtest.CorrelationData)
	if path == "" {
		path = strings.TrimSpace(cfg.Screener.OutputPath)
	}
	if path == "" {
		path = filepath.Join(dataRoot, "correlation", "correlation_data.json")
	}
	result, err := screener.Load(path)
	if err != nil {
		return nil, fmt.Errorf("读取筛选结果 %s 失败: %w", path, err)
	}
	return result, nil
}
