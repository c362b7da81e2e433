package polls

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// FilterSpec is a declarative description of which polls to keep. Zero
// values mean "no constraint"; every set field must hold for a record
// to survive, so combining fields always narrows the result.
type FilterSpec struct {
	// keep polls whose fieldwork ended within this many days of the
	// newest poll in the dataset
	LastDays int
	// explicit date window, inclusive
	StartDate *time.Time
	EndDate   *time.Time
	// pollster allowlist and denylist, matched case-insensitively
	IncludePollsters []string
	ExcludePollsters []string
	MinSampleSize    *int
	MaxSampleSize    *int
	// per-party share floor, e.g. keep polls with Reform >= 20
	MinShare map[Party]float64
	// drop polls missing the respective field
	RequireSampleSize  bool
	RequireMethodology bool
	// drop polls where any party sits more than OutlierZScore standard
	// deviations from that party's mean across the records surviving
	// the other filters
	ExcludeOutliers bool
	OutlierZScore   float64
}

// FilterStats reports what filtering did, so callers can surface how
// much of the dataset a view actually rests on.
type FilterStats struct {
	OriginalCount    int      `json:"original_count"`
	FilteredCount    int      `json:"filtered_count"`
	RetainedFraction float64  `json:"retained_fraction"`
	AppliedFilters   []string `json:"applied_filters,omitempty"`
}

type predicate struct {
	desc string
	keep func(PollRecord) bool
}

func normalizePollsters(names []string) map[string]bool {
	set := map[string]bool{}
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}

func (s FilterSpec) predicates(records []PollRecord) []predicate {
	var preds []predicate

	if s.LastDays > 0 && len(records) > 0 {
		// anchored to the newest poll, not the wall clock, so a stale
		// cache still yields a sensible window
		latest := records[0].Date
		for _, r := range records[1:] {
			if r.Date.After(latest) {
				latest = r.Date
			}
		}
		cutoff := latest.AddDate(0, 0, -s.LastDays)
		preds = append(preds, predicate{
			desc: fmt.Sprintf("last %d days", s.LastDays),
			keep: func(r PollRecord) bool { return !r.Date.Before(cutoff) },
		})
	}

	if s.StartDate != nil {
		start := *s.StartDate
		preds = append(preds, predicate{
			desc: fmt.Sprintf("from %s", start.Format("2006-01-02")),
			keep: func(r PollRecord) bool { return !r.Date.Before(start) },
		})
	}
	if s.EndDate != nil {
		end := *s.EndDate
		preds = append(preds, predicate{
			desc: fmt.Sprintf("until %s", end.Format("2006-01-02")),
			keep: func(r PollRecord) bool { return !r.Date.After(end) },
		})
	}

	if len(s.IncludePollsters) > 0 {
		allowed := normalizePollsters(s.IncludePollsters)
		preds = append(preds, predicate{
			desc: fmt.Sprintf("pollsters: %s", strings.Join(s.IncludePollsters, ", ")),
			keep: func(r PollRecord) bool { return allowed[strings.ToLower(r.Pollster)] },
		})
	}
	if len(s.ExcludePollsters) > 0 {
		denied := normalizePollsters(s.ExcludePollsters)
		preds = append(preds, predicate{
			desc: fmt.Sprintf("excluding pollsters: %s", strings.Join(s.ExcludePollsters, ", ")),
			keep: func(r PollRecord) bool { return !denied[strings.ToLower(r.Pollster)] },
		})
	}

	if s.MinSampleSize != nil {
		min := *s.MinSampleSize
		preds = append(preds, predicate{
			desc: fmt.Sprintf("sample size >= %d", min),
			keep: func(r PollRecord) bool { return r.SampleSize >= min },
		})
	}
	if s.MaxSampleSize != nil {
		max := *s.MaxSampleSize
		preds = append(preds, predicate{
			desc: fmt.Sprintf("sample size <= %d", max),
			keep: func(r PollRecord) bool { return r.SampleSize <= max },
		})
	}

	for _, party := range AllParties {
		floor, ok := s.MinShare[party]
		if !ok {
			continue
		}
		party, floor := party, floor
		preds = append(preds, predicate{
			desc: fmt.Sprintf("%s >= %.1f", party, floor),
			keep: func(r PollRecord) bool { return r.Shares[party] >= floor },
		})
	}

	if s.RequireSampleSize {
		preds = append(preds, predicate{
			desc: "sample size reported",
			keep: PollRecord.HasSampleSize,
		})
	}
	if s.RequireMethodology {
		preds = append(preds, predicate{
			desc: "methodology reported",
			keep: func(r PollRecord) bool { return r.Methodology != "" },
		})
	}

	return preds
}

// outlierDetector computes per-party means and standard deviations
// over the input once, then flags records with any share beyond z
// deviations from its party mean.
func outlierDetector(records []PollRecord, z float64) func(PollRecord) bool {
	means := map[Party]float64{}
	stddevs := map[Party]float64{}
	for _, party := range AllParties {
		var sum float64
		for _, r := range records {
			sum += r.Shares[party]
		}
		mean := sum / float64(len(records))
		var sq float64
		for _, r := range records {
			d := r.Shares[party] - mean
			sq += d * d
		}
		means[party] = mean
		stddevs[party] = math.Sqrt(sq / float64(len(records)))
	}

	return func(r PollRecord) bool {
		for _, party := range AllParties {
			sd := stddevs[party]
			if sd == 0 {
				continue
			}
			if math.Abs(r.Shares[party]-means[party]) > z*sd {
				return true
			}
		}
		return false
	}
}

// ApplyFilters keeps the records satisfying every constraint in spec
// and reports what was applied. Input order is preserved.
func ApplyFilters(ctx context.Context, records []PollRecord, spec FilterSpec) ([]PollRecord, FilterStats) {
	_, span := tracer.Start(ctx, "ApplyFilters")
	defer span.End()

	preds := spec.predicates(records)
	stats := FilterStats{OriginalCount: len(records)}
	for _, p := range preds {
		stats.AppliedFilters = append(stats.AppliedFilters, p.desc)
	}

	kept := make([]PollRecord, 0, len(records))
	for _, r := range records {
		ok := true
		for _, p := range preds {
			if !p.keep(r) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, r)
		}
	}

	// outlier statistics are computed over the records surviving every
	// other filter, so a pollster excluded above cannot skew the mean
	if spec.ExcludeOutliers && len(kept) > 1 {
		z := spec.OutlierZScore
		if z <= 0 {
			z = 2
		}
		stats.AppliedFilters = append(stats.AppliedFilters,
			fmt.Sprintf("excluding outliers beyond %.1f sigma", z))

		isOutlier := outlierDetector(kept, z)
		inliers := kept[:0]
		for _, r := range kept {
			if !isOutlier(r) {
				inliers = append(inliers, r)
			}
		}
		kept = inliers
	}

	stats.FilteredCount = len(kept)
	if stats.OriginalCount > 0 {
		stats.RetainedFraction = float64(stats.FilteredCount) / float64(stats.OriginalCount)
	}

	span.SetAttributes(
		attribute.Int("original", stats.OriginalCount),
		attribute.Int("kept", stats.FilteredCount),
		attribute.Int("filters", len(preds)),
	)
	return kept, stats
}
