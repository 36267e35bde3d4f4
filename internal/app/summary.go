package app

import (
	"fmt"
	"strings"

	"statarb/internal/config"
)

// StartupSummary 启动时打印一次的配置摘要。
type StartupSummary struct {
	Mode     string
	DataRoot string
	Screener ScreenerSummary
	Strategy StrategySummary
	Live     LiveSummary
}

type ScreenerSummary struct {
	Symbols        []string
	TopSymbols     int
	AnalysisMonths int
	Timeframe      string
	MinCorrelation float64
}

type StrategySummary struct {
	Variant      string
	SpreadMethod string
	Lookback     int
	Entry        float64
	Exit         float64
	StopLoss     float64
	EnforceCorr  bool
}

type LiveSummary struct {
	Enabled      bool
	DryRun       bool
	ScanInterval string
	MaxDrawdown  float64
}

func buildSummary(cfg *config.Config, dataRoot string) *StartupSummary {
	return &StartupSummary{
		Mode:     cfg.App.Mode,
		DataRoot: dataRoot,
		Screener: ScreenerSummary{
			Symbols:        cfg.Screener.Symbols,
			TopSymbols:     cfg.Screener.TopSymbols,
			AnalysisMonths: cfg.Screener.AnalysisMonths,
			Timeframe:      cfg.Screener.Timeframe,
			MinCorrelation: cfg.Screener.MinCorrelation,
		},
		Strategy: StrategySummary{
			Variant:      cfg.Strategy.Variant,
			SpreadMethod: cfg.Strategy.SpreadMethod,
			Lookback:     cfg.Strategy.Lookback,
			Entry:        cfg.Strategy.EntryThreshold,
			Exit:         cfg.Strategy.ExitThreshold,
			StopLoss:     cfg.Strategy.StopLossThreshold,
			EnforceCorr:  cfg.Strategy.EnforceCorrelation,
		},
		Live: LiveSummary{
			Enabled:      cfg.Live.Enabled,
			DryRun:       cfg.Live.DryRun,
			ScanInterval: cfg.Live.ScanInterval,
			MaxDrawdown:  cfg.Live.MaxDrawdownPct,
		},
	}
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行 (RUNTIME)]")
	fmt.Printf("  模式: %s\n", s.Mode)
	fmt.Printf("  数据目录: %s\n", s.DataRoot)
	fmt.Println()

	fmt.Println("[筛选 (SCREENER)]")
	if len(s.Screener.Symbols) > 0 {
		fmt.Printf("  固定币种: %s\n", formatList(s.Screener.Symbols))
	} else {
		fmt.Printf("  币种来源: 按 24h 成交额取前 %d\n", s.Screener.TopSymbols)
	}
	fmt.Printf("  分析月数: %d（周期 %s）\n", s.Screener.AnalysisMonths, s.Screener.Timeframe)
	fmt.Printf("  最低相关性: %.2f\n", s.Screener.MinCorrelation)
	fmt.Println()

	fmt.Println("[策略 (STRATEGY)]")
	fmt.Printf("  形态: %s / 价差: %s\n", s.Strategy.Variant, s.Strategy.SpreadMethod)
	fmt.Printf("  回看窗口: %d\n", s.Strategy.Lookback)
	fmt.Printf("  阈值: entry=%.2f exit=%.2f stop=%.2f\n", s.Strategy.Entry, s.Strategy.Exit, s.Strategy.StopLoss)
	if !s.Strategy.EnforceCorr {
		fmt.Println("  ⚠️  测试模式：相关性检查已禁用，所有 Z-Score 偏离都会触发交易")
	}
	fmt.Println()

	if s.Mode == "live" {
		fmt.Println("[实盘 (LIVE)]")
		fmt.Printf("  dry-run: %v\n", s.Live.DryRun)
		fmt.Printf("  扫描周期: %s\n", s.Live.ScanInterval)
		fmt.Printf("  最大回撤: %.1f%%\n", s.Live.MaxDrawdown)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
