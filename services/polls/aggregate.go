package polls

import (
	"math"
	"sort"
	"time"
)

// WeightedAverages computes each party's average share weighted by
// sample size. Records without a sample size contribute zero weight,
// so they never skew the mean. A party with zero total weight has no
// defined average and maps to nil, never a divided-by-zero 0.
func WeightedAverages(records []PollRecord) map[Party]*float64 {
	out := map[Party]*float64{}
	for _, party := range AllParties {
		var weighted, weight float64
		for _, r := range records {
			share, ok := r.Shares[party]
			if !ok || r.SampleSize <= 0 {
				continue
			}
			w := float64(r.SampleSize)
			weighted += share * w
			weight += w
		}
		if weight == 0 {
			out[party] = nil
			continue
		}
		avg := weighted / weight
		out[party] = &avg
	}
	return out
}

// dayKey truncates a date to its calendar day in its own location.
func dayKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RollingTrend produces a moving-average series of one party's share,
// oldest first. Polls sharing a fieldwork end date merge into a single
// mean point before the window applies, so one busy day cannot
// dominate the average. Window sizes below 1 default to 3.
func RollingTrend(records []PollRecord, party Party, window int) []TrendPoint {
	if window < 1 {
		window = 3
	}

	sums := map[time.Time]float64{}
	counts := map[time.Time]int{}
	for _, r := range records {
		share, ok := r.Shares[party]
		if !ok {
			continue
		}
		day := dayKey(r.Date)
		sums[day] += share
		counts[day]++
	}

	daily := make([]TrendPoint, 0, len(sums))
	for day, sum := range sums {
		daily = append(daily, TrendPoint{Date: day, Value: sum / float64(counts[day])})
	}
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date.Before(daily[j].Date) })

	// partial windows at the start use however many points exist
	trend := make([]TrendPoint, 0, len(daily))
	for i := range daily {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		var sum float64
		for _, p := range daily[start : i+1] {
			sum += p.Value
		}
		trend = append(trend, TrendPoint{
			Date:  daily[i].Date,
			Value: sum / float64(i+1-start),
		})
	}
	return trend
}

// LatestEstimates combines the given records into one estimate per
// party: the sample-weighted average share with a margin of error from
// the pooled effective sample size. Parties with no defined average
// are omitted.
func LatestEstimates(records []PollRecord) map[Party]Estimate {
	averages := WeightedAverages(records)

	var pooled int
	for _, r := range records {
		pooled += r.SampleSize
	}

	out := map[Party]Estimate{}
	for party, avg := range averages {
		if avg == nil {
			continue
		}
		est := Estimate{Value: *avg}
		if pooled > 0 {
			p := *avg / 100
			est.MarginOfError = 1.96 * math.Sqrt(p*(1-p)/float64(pooled)) * 100
		}
		out[party] = est
	}
	return out
}
