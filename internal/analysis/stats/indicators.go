package stats

import (
	talib "github.com/markcheno/go-talib"
)

// SMA 简单移动平均，前 period-1 个点为 0。
func SMA(series []float64, period int) []float64 {
	if period <= 0 || len(series) < period {
		return make([]float64, len(series))
	}
	return talib.Sma(series, period)
}

// BollingerBands 基于移动平均的布林带，用于价差通道的阈值校准。
func BollingerBands(series []float64, period int, width float64) (upper, middle, lower []float64) {
	if period <= 0 || len(series) < period {
		empty := make([]float64, len(series))
		return empty, empty, empty
	}
	return talib.BBands(series, period, width, width, talib.SMA)
}
