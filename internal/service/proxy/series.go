// Package proxy derives deterministic flow/stress series from collected
// market data. Every transform is a pure function of its inputs and declared
// parameters: no wall clock, no randomness, bit-identical output for
// bit-identical input.
package proxy

import (
	"math"
	"sort"

	"MarketPull/internal/domain/models"
)

// RealizedVolatility computes the rolling standard deviation of log returns
// over window bars, scaled to the window horizon (sqrt(window)). Positions in
// the warm-up prefix shorter than window are marked missing.
func RealizedVolatility(bars []models.OHLCVBar, window int) []models.ProxyPoint {
	n := len(bars)
	out := make([]models.ProxyPoint, n)

	rets := make([]float64, n) // rets[0] undefined
	for i := 1; i < n; i++ {
		rets[i] = math.Log(bars[i].Close / bars[i-1].Close)
	}

	scale := math.Sqrt(float64(window))
	for i := 0; i < n; i++ {
		out[i] = models.ProxyPoint{TS: bars[i].TS, Missing: true}
		if i < window {
			continue
		}
		w := rets[i-window+1 : i+1]
		out[i].Value = sampleStd(w) * scale
		out[i].Missing = false
	}
	return out
}

// sampleStd is the n-1 denominator standard deviation.
func sampleStd(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / (n - 1))
}

// LogDrawdown computes log(close_t / max(close_0..t)) per bar. The series is
// non-positive and zero exactly at new highs.
func LogDrawdown(bars []models.OHLCVBar) []models.ProxyPoint {
	out := make([]models.ProxyPoint, len(bars))
	peak := math.Inf(-1)
	for i, b := range bars {
		if b.Close > peak {
			peak = b.Close
		}
		out[i] = models.ProxyPoint{TS: b.TS, Value: math.Log(b.Close / peak)}
	}
	return out
}

// InterArrivalSeconds computes successive differences of sorted trade
// timestamps, in seconds. The first trade has no predecessor, so the result
// has length len(trades)-1; each point is stamped with the later trade's ts.
func InterArrivalSeconds(trades []models.Trade) []models.ProxyPoint {
	if len(trades) < 2 {
		return nil
	}
	ts := make([]int64, len(trades))
	for i, t := range trades {
		ts[i] = t.TS
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	out := make([]models.ProxyPoint, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		out = append(out, models.ProxyPoint{
			TS:    ts[i],
			Value: float64(ts[i]-ts[i-1]) / 1000.0,
		})
	}
	return out
}

// IntensityLambda counts trades per fixed-width bin spanning the collection
// window [windowStartMS, windowEndMS). Bins with zero trades are included
// explicitly; each point is stamped with the bin start.
func IntensityLambda(trades []models.Trade, binSeconds int, windowStartMS, windowEndMS int64) []models.ProxyPoint {
	if binSeconds <= 0 || windowEndMS <= windowStartMS {
		return nil
	}
	binMS := int64(binSeconds) * 1000
	first := windowStartMS / binMS * binMS

	counts := make(map[int64]int64)
	for _, t := range trades {
		if t.TS < windowStartMS || t.TS >= windowEndMS {
			continue
		}
		counts[t.TS/binMS*binMS]++
	}

	var out []models.ProxyPoint
	for bin := first; bin < windowEndMS; bin += binMS {
		out = append(out, models.ProxyPoint{TS: bin, Value: float64(counts[bin])})
	}
	return out
}
