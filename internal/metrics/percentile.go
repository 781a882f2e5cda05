package metrics

import "sort"

// p95Index is floor(0.95*n)-1 clamped into [0, n-1], so n=1 yields the
// sole sample and n=20 yields the 18th (0-based) of the sorted vector.
func p95Index(n int) int {
	if n == 0 {
		return -1
	}
	idx := (n*95)/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

func p95Int64(samples []int64) int64 {
	idx := p95Index(len(samples))
	if idx < 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a] < sorted[b] })
	return sorted[idx]
}

func p95Float(samples []float64) float64 {
	idx := p95Index(len(samples))
	if idx < 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return sorted[idx]
}

func meanInt64(samples []int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, v := range samples {
		sum += v
	}
	return float64(sum) / float64(len(samples))
}

func meanFloat(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
