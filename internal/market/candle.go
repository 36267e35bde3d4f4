package market

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// ClosePrices 提取收盘价序列（顺序与输入一致）。
func ClosePrices(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// OpenTimes 提取 open_time 序列。
func OpenTimes(candles []Candle) []int64 {
	out := make([]int64, len(candles))
	for i, c := range candles {
		out[i] = c.OpenTime
	}
	return out
}
