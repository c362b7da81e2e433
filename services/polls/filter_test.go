package polls

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ukpolls-backend/lib/timezone"
)

func TestApplyFiltersNoConstraints(t *testing.T) {
	records := SamplePolls()
	kept, stats := ApplyFilters(context.Background(), records, FilterSpec{})
	require.Len(t, kept, len(records))
	require.Equal(t, len(records), stats.OriginalCount)
	require.Equal(t, 1.0, stats.RetainedFraction)
	require.Empty(t, stats.AppliedFilters)
}

func TestApplyFiltersLastDays(t *testing.T) {
	// anchored to the newest poll (28 Aug), not the wall clock
	kept, stats := ApplyFilters(context.Background(), SamplePolls(), FilterSpec{LastDays: 4})
	require.Len(t, kept, 3)
	for _, r := range kept {
		require.False(t, r.Date.Before(time.Date(2025, time.August, 24, 0, 0, 0, 0, timezone.Location)))
	}
	require.Equal(t, []string{"last 4 days"}, stats.AppliedFilters)
}

func TestApplyFiltersDateWindow(t *testing.T) {
	start := time.Date(2025, time.August, 20, 0, 0, 0, 0, timezone.Location)
	end := time.Date(2025, time.August, 24, 0, 0, 0, 0, timezone.Location)

	kept, _ := ApplyFilters(context.Background(), SamplePolls(), FilterSpec{
		StartDate: &start,
		EndDate:   &end,
	})
	require.Len(t, kept, 3)
	require.Equal(t, "Survation", kept[0].Pollster)
	require.Equal(t, "More in Common", kept[1].Pollster)
	require.Equal(t, "Ipsos", kept[2].Pollster)
}

func TestApplyFiltersPollsters(t *testing.T) {
	kept, _ := ApplyFilters(context.Background(), SamplePolls(), FilterSpec{
		IncludePollsters: []string{"yougov", "IPSOS"},
	})
	require.Len(t, kept, 2)

	kept, _ = ApplyFilters(context.Background(), SamplePolls(), FilterSpec{
		ExcludePollsters: []string{"YouGov"},
	})
	require.Len(t, kept, len(SamplePolls())-1)
	for _, r := range kept {
		require.NotEqual(t, "YouGov", r.Pollster)
	}
}

func TestApplyFiltersSampleAndShares(t *testing.T) {
	min, max := 1500, 2100
	kept, _ := ApplyFilters(context.Background(), SamplePolls(), FilterSpec{
		MinSampleSize: &min,
		MaxSampleSize: &max,
	})
	for _, r := range kept {
		require.GreaterOrEqual(t, r.SampleSize, min)
		require.LessOrEqual(t, r.SampleSize, max)
	}
	require.Len(t, kept, 4)

	kept, _ = ApplyFilters(context.Background(), SamplePolls(), FilterSpec{
		MinShare: map[Party]float64{ReformUK: 27},
	})
	for _, r := range kept {
		require.GreaterOrEqual(t, r.Shares[ReformUK], 27.0)
	}
	require.Len(t, kept, 5)
}

func TestApplyFiltersCompose(t *testing.T) {
	// every constraint must hold, so combining only narrows
	min := 1500
	spec := FilterSpec{
		LastDays:      10,
		MinSampleSize: &min,
		MinShare:      map[Party]float64{ReformUK: 27},
	}
	kept, stats := ApplyFilters(context.Background(), SamplePolls(), spec)

	justDays, _ := ApplyFilters(context.Background(), SamplePolls(), FilterSpec{LastDays: 10})
	require.LessOrEqual(t, len(kept), len(justDays))
	require.Len(t, stats.AppliedFilters, 3)
	for _, r := range kept {
		require.GreaterOrEqual(t, r.SampleSize, min)
		require.GreaterOrEqual(t, r.Shares[ReformUK], 27.0)
	}
}

func TestApplyFiltersRequireFields(t *testing.T) {
	records := append(SamplePolls(), PollRecord{
		Date:     time.Date(2025, time.August, 29, 0, 0, 0, 0, timezone.Location),
		Pollster: "Anon Research",
		Shares:   map[Party]float64{Conservative: 20, Labour: 25},
	})

	kept, _ := ApplyFilters(context.Background(), records, FilterSpec{RequireSampleSize: true})
	require.Len(t, kept, len(SamplePolls()))

	kept, _ = ApplyFilters(context.Background(), records, FilterSpec{RequireMethodology: true})
	require.Len(t, kept, len(SamplePolls()))
}

func TestApplyFiltersExcludeOutliers(t *testing.T) {
	records := append(SamplePolls(), PollRecord{
		Date: time.Date(2025, time.August, 29, 0, 0, 0, 0, timezone.Location),
		Pollster: "Rogue Polls", SampleSize: 500,
		Shares: map[Party]float64{
			Conservative: 45, Labour: 10, LiberalDemocrat: 10,
			ReformUK: 20, Green: 5, SNP: 3, Others: 7,
		},
	})

	kept, stats := ApplyFilters(context.Background(), records, FilterSpec{ExcludeOutliers: true})
	require.Len(t, kept, len(SamplePolls()))
	for _, r := range kept {
		require.NotEqual(t, "Rogue Polls", r.Pollster)
	}
	require.Contains(t, stats.AppliedFilters[0], "2.0 sigma")
}
