package analytics

import (
	"math"
	"slices"
)

// upperFenceIQRs is how many interquartile ranges above Q3 a lag may sit
// before it counts as an outlier. Lags are non-negative and right-skewed, so
// only the upper fence is applied.
const upperFenceIQRs = 3.0

// Quantile returns the p-quantile of sorted using linear interpolation
// between the closest ranks. It returns 0 for an empty slice.
func Quantile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := float64(len(sorted)-1) * p
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[upper])
	return lo + (hi-lo)*(pos-float64(lower))
}

// UpperFence returns Q3 + 3*IQR of sorted.
func UpperFence(sorted []int64) float64 {
	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	return q3 + upperFenceIQRs*(q3-q1)
}

// FilterOutliers drops values above the upper fence. The result stays sorted.
func FilterOutliers(sorted []int64) []int64 {
	if len(sorted) == 0 {
		return []int64{}
	}
	fence := UpperFence(sorted)
	kept := make([]int64, 0, len(sorted))
	for _, v := range sorted {
		if float64(v) <= fence {
			kept = append(kept, v)
		}
	}
	return kept
}

// Describe summarises sorted. Stdev is the population standard deviation.
func Describe(sorted []int64) Summary {
	n := len(sorted)
	if n == 0 {
		return Summary{}
	}

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	mean := sum / float64(n)

	var med float64
	mid := n / 2
	if n%2 != 0 {
		med = float64(sorted[mid])
	} else {
		med = (float64(sorted[mid-1]) + float64(sorted[mid])) / 2
	}

	var sq float64
	for _, v := range sorted {
		d := float64(v) - mean
		sq += d * d
	}

	return Summary{
		Total: n,
		Min:   float64(sorted[0]),
		Max:   float64(sorted[n-1]),
		Mean:  mean,
		Med:   med,
		Stdev: math.Sqrt(sq / float64(n)),
	}
}

// Summarize sorts the lag values of samples and returns both summaries.
func Summarize(samples []LagSample) LagSummary {
	values := make([]int64, 0, len(samples))
	for _, s := range samples {
		values = append(values, s.Lag)
	}
	slices.Sort(values)

	return LagSummary{
		Default:    Describe(values),
		NoOutliers: Describe(FilterOutliers(values)),
	}
}

// Aggregate builds the per-namespace result from winner counts and lag buckets.
func Aggregate(res Resolution, lags Lags) Result {
	out := make(Result, len(res.FirstCounts))
	for namespace, counts := range res.FirstCounts {
		firstCounts := make(map[string]int, len(counts))
		for participant, n := range counts {
			firstCounts[participant] = n
		}
		out[namespace] = NamespaceStats{
			FirstCounts: firstCounts,
			Lags:        make(map[string]map[string]LagSummary),
		}
	}

	for namespace, byWinner := range lags {
		ns, ok := out[namespace]
		if !ok {
			ns = NamespaceStats{
				FirstCounts: make(map[string]int),
				Lags:        make(map[string]map[string]LagSummary),
			}
			out[namespace] = ns
		}
		for winner, byOther := range byWinner {
			summaries := make(map[string]LagSummary, len(byOther))
			for other, samples := range byOther {
				summaries[other] = Summarize(samples)
			}
			ns.Lags[winner] = summaries
		}
	}

	return out
}
