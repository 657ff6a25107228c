// Package indicators 价格序列上的基础统计工具，供策略信号与行情波动率使用
package indicators

import "math"

// SMA 简单移动平均
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	sum := 0.0

	// 计算第一个 SMA
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	// 滑动计算后续 SMA
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i-period+1] = sum / float64(period)
	}

	return result
}

// EMA 指数移动平均，第一个值使用 SMA
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values))
	multiplier := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < len(values); i++ {
		result[i] = (values[i] * multiplier) + (result[i-1] * (1 - multiplier))
	}

	return result[period-1:]
}

// StdDev 滚动总体标准差
func StdDev(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		result[i-period+1] = PopulationStdDev(values[i-period+1 : i+1])
	}
	return result
}

// PopulationStdDev 整个序列的总体标准差
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

// Mean 平均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Returns 相邻价格的简单收益率，前值为 0 的点记为 0
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	result := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			result[i-1] = (values[i] - values[i-1]) / values[i-1]
		}
	}
	return result
}

// RateOfChange 变化率（百分比）
func RateOfChange(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}

	result := make([]float64, len(values)-period)
	for i := period; i < len(values); i++ {
		if values[i-period] != 0 {
			result[i-period] = (values[i] - values[i-period]) / values[i-period] * 100
		}
	}
	return result
}

// CrossOver 判断是否金叉（line1 上穿 line2）
func CrossOver(line1, line2 []float64) bool {
	if len(line1) < 2 || len(line2) < 2 {
		return false
	}
	n1, n2 := len(line1), len(line2)
	return line1[n1-2] <= line2[n2-2] && line1[n1-1] > line2[n2-1]
}

// CrossUnder 判断是否死叉（line1 下穿 line2）
func CrossUnder(line1, line2 []float64) bool {
	if len(line1) < 2 || len(line2) < 2 {
		return false
	}
	n1, n2 := len(line1), len(line2)
	return line1[n1-2] >= line2[n2-2] && line1[n1-1] < line2[n2-1]
}

// Last 序列最后一个值，空序列返回 0 和 false
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
