package stats

import (
	"fmt"
	"math"
	"strings"
)

// SpreadMethod 价差计算方式。
type SpreadMethod string

const (
	SpreadNormalizedRatio SpreadMethod = "normalized_ratio"
	SpreadRatio           SpreadMethod = "ratio"
	SpreadDifference      SpreadMethod = "difference"
	SpreadLogRatio        SpreadMethod = "log_ratio"
)

// ParseSpreadMethod 解析配置中的价差方式，空值回落到 normalized_ratio。
func ParseSpreadMethod(input string) (SpreadMethod, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	switch key {
	case "", string(SpreadNormalizedRatio):
		return SpreadNormalizedRatio, nil
	case string(SpreadRatio):
		return SpreadRatio, nil
	case string(SpreadDifference):
		return SpreadDifference, nil
	case string(SpreadLogRatio), "log":
		return SpreadLogRatio, nil
	default:
		return "", fmt.Errorf("不支持的价差方式: %s", input)
	}
}

// ZScore 携带显式有效位：预热期内（历史点不足 lookback）Valid=false。
type ZScore struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Mean 算术平均。空序列返回 0。
func Mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// StdDev 总体标准差（除以 n）。
func StdDev(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	mean := Mean(series)
	sum := 0.0
	for _, v := range series {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(series)))
}

// Correlation 计算 Pearson 相关系数。
// 长度不一致或空序列返回错误；任一序列零方差返回 0（常量序列与任何序列不相关）。
func Correlation(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("序列长度不匹配: %d vs %d", len(x), len(y))
	}
	if len(x) == 0 {
		return 0, fmt.Errorf("序列为空")
	}
	meanX := Mean(x)
	meanY := Mean(y)
	var num, denX, denY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		num += dx * dy
		denX += dx * dx
		denY += dy * dy
	}
	if denX == 0 || denY == 0 {
		return 0, nil
	}
	return num / math.Sqrt(denX*denY), nil
}

// CorrelationMatrix 计算相关性矩阵：对角线恒为 1.0，矩阵对称。
// series 按 symbols 顺序排列；长度不一致的配对记 0。
func CorrelationMatrix(series [][]float64) [][]float64 {
	n := len(series)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1.0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			corr, err := Correlation(series[i], series[j])
			if err != nil {
				corr = 0
			}
			matrix[i][j] = corr
			matrix[j][i] = corr
		}
	}
	return matrix
}

// NormalizePrices 以首个价格为基准归一化（起始值为 1）。
// 首价为 0 时无法归一化，原样返回副本。
func NormalizePrices(series []float64) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	first := series[0]
	if first == 0 {
		copy(out, series)
		return out
	}
	for i, v := range series {
		out[i] = v / first
	}
	return out
}

// Spread 计算两个价格序列的价差。
func Spread(p1, p2 []float64, method SpreadMethod) ([]float64, error) {
	if len(p1) != len(p2) {
		return nil, fmt.Errorf("序列长度不匹配: %d vs %d", len(p1), len(p2))
	}
	out := make([]float64, len(p1))
	switch method {
	case SpreadNormalizedRatio, "":
		// 先归一化再取比率，避免初始价差过大导致 Z-score 失效。
		n1 := NormalizePrices(p1)
		n2 := NormalizePrices(p2)
		for i := range n1 {
			if n2[i] != 0 {
				out[i] = n1[i] / n2[i]
			} else {
				out[i] = 1
			}
		}
	case SpreadRatio:
		for i := range p1 {
			if p2[i] != 0 {
				out[i] = p1[i] / p2[i]
			}
		}
	case SpreadDifference:
		for i := range p1 {
			out[i] = p1[i] - p2[i]
		}
	case SpreadLogRatio:
		for i := range p1 {
			if p1[i] > 0 && p2[i] > 0 {
				out[i] = math.Log(p1[i]) - math.Log(p2[i])
			}
		}
	default:
		return nil, fmt.Errorf("不支持的价差方式: %s", method)
	}
	return out, nil
}

// RollingZScore 计算滚动 Z-score。
// 统计窗口为 [i-lookback, i)，严格不含当前点；前 lookback 个点处于预热期，Valid=false。
// 窗口标准差为 0 时 Z 记 0。
func RollingZScore(series []float64, lookback int) []ZScore {
	out := make([]ZScore, len(series))
	if lookback <= 0 {
		return out
	}
	for i := range series {
		if i < lookback {
			continue
		}
		window := series[i-lookback : i]
		mean := Mean(window)
		std := StdDev(window)
		z := 0.0
		if std != 0 {
			z = (series[i] - mean) / std
		}
		out[i] = ZScore{Value: z, Valid: true}
	}
	return out
}

// HalfLife 用 AR(1) 近似估计价差半衰期：beta = ΣXY/ΣXX，hl = -ln2/ln(beta)。
// beta 超出 (0,1) 或结果非有限时返回 ok=false（价差不均值回归）。
func HalfLife(spread []float64) (float64, bool) {
	if len(spread) < 3 {
		return 0, false
	}
	lag := spread[:len(spread)-1]
	cur := spread[1:]
	var sumXY, sumXX float64
	for i := range lag {
		sumXY += lag[i] * cur[i]
		sumXX += lag[i] * lag[i]
	}
	if sumXX == 0 {
		return 0, false
	}
	beta := sumXY / sumXX
	if beta <= 0 || beta >= 1 {
		return 0, false
	}
	hl := -math.Ln2 / math.Log(beta)
	if math.IsNaN(hl) || math.IsInf(hl, 0) || hl <= 0 {
		return 0, false
	}
	return hl, true
}

// Cointegration 协整代理检验结果：非协整是数据而不是错误。
type Cointegration struct {
	MeanRatio float64 `json:"mean_ratio"`
	StdRatio  float64 `json:"std_ratio"`
	CV        float64 `json:"cv"`
	Viable    bool    `json:"viable"`
	Reason    string  `json:"reason,omitempty"`
}

// CointegrationProxy 用价格比率的变异系数近似协整检验：cv < 0.1 视为协整。
// 分母为 0 的点被跳过；比率均值为 0 时无法计算。
func CointegrationProxy(p1, p2 []float64) Cointegration {
	ratios := make([]float64, 0, len(p1))
	n := len(p1)
	if len(p2) < n {
		n = len(p2)
	}
	for i := 0; i < n; i++ {
		if p2[i] != 0 {
			ratios = append(ratios, p1[i]/p2[i])
		}
	}
	if len(ratios) == 0 {
		return Cointegration{Reason: "无有效价格比率"}
	}
	mean := Mean(ratios)
	std := StdDev(ratios)
	if mean == 0 {
		return Cointegration{StdRatio: std, Reason: "价格比率均值为 0"}
	}
	cv := std / math.Abs(mean)
	out := Cointegration{MeanRatio: mean, StdRatio: std, CV: cv, Viable: cv < 0.1}
	if !out.Viable {
		out.Reason = fmt.Sprintf("变异系数过大: %.4f", cv)
	}
	return out
}
