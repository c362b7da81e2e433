package polls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ukpolls-backend/lib/timezone"
)

func TestWeightedAverages(t *testing.T) {
	records := []PollRecord{
		{SampleSize: 1000, Shares: map[Party]float64{Conservative: 20, Labour: 30}},
		{SampleSize: 3000, Shares: map[Party]float64{Conservative: 24, Labour: 26}},
	}

	averages := WeightedAverages(records)

	// (20*1000 + 24*3000) / 4000
	require.NotNil(t, averages[Conservative])
	require.InDelta(t, 23.0, *averages[Conservative], 0.001)
	require.NotNil(t, averages[Labour])
	require.InDelta(t, 27.0, *averages[Labour], 0.001)

	// no record reports a Green share, so there is no defined average
	require.Nil(t, averages[Green])
}

func TestWeightedAveragesSentinelSamples(t *testing.T) {
	// polls without a sample size carry no weight; when nothing else
	// reports one the average is undefined, not zero
	records := []PollRecord{
		{Shares: map[Party]float64{Conservative: 20}},
		{Shares: map[Party]float64{Conservative: 30}},
		{SampleSize: 1000, Shares: map[Party]float64{Labour: 25}},
	}
	averages := WeightedAverages(records)
	require.Nil(t, averages[Conservative])
	require.NotNil(t, averages[Labour])
	require.InDelta(t, 25.0, *averages[Labour], 0.001)
}

func TestWeightedAveragesEmpty(t *testing.T) {
	averages := WeightedAverages(nil)
	for _, party := range AllParties {
		require.Nil(t, averages[party])
	}
}

func TestRollingTrend(t *testing.T) {
	d := func(day int) time.Time {
		return time.Date(2025, time.August, day, 0, 0, 0, 0, timezone.Location)
	}
	records := []PollRecord{
		{Date: d(10), Shares: map[Party]float64{Labour: 20}},
		{Date: d(12), Shares: map[Party]float64{Labour: 22}},
		{Date: d(14), Shares: map[Party]float64{Labour: 24}},
		{Date: d(16), Shares: map[Party]float64{Labour: 30}},
	}

	trend := RollingTrend(records, Labour, 3)
	require.Len(t, trend, 4)

	// oldest first, partial windows at the start
	require.Equal(t, d(10), trend[0].Date)
	require.InDelta(t, 20.0, trend[0].Value, 0.001)
	require.InDelta(t, 21.0, trend[1].Value, 0.001) // (20+22)/2
	require.InDelta(t, 22.0, trend[2].Value, 0.001) // (20+22+24)/3
	require.InDelta(t, float64(22+24+30)/3, trend[3].Value, 0.001)
}

func TestRollingTrendMergesSameDay(t *testing.T) {
	d := func(day int) time.Time {
		return time.Date(2025, time.August, day, 0, 0, 0, 0, timezone.Location)
	}
	records := []PollRecord{
		{Date: d(10), Shares: map[Party]float64{Labour: 20}},
		{Date: d(10), Shares: map[Party]float64{Labour: 30}},
		{Date: d(11), Shares: map[Party]float64{Labour: 24}},
	}

	trend := RollingTrend(records, Labour, 3)
	require.Len(t, trend, 2)
	// two same-day polls collapse to their mean before the window runs
	require.InDelta(t, 25.0, trend[0].Value, 0.001)
	require.InDelta(t, 24.5, trend[1].Value, 0.001)
}

func TestRollingTrendSkipsMissingParty(t *testing.T) {
	records := []PollRecord{
		{Date: time.Now(), Shares: map[Party]float64{Labour: 20}},
	}
	require.Empty(t, RollingTrend(records, SNP, 3))
}

func TestLatestEstimates(t *testing.T) {
	records := []PollRecord{
		{SampleSize: 1000, Shares: map[Party]float64{Conservative: 20}},
		{SampleSize: 1000, Shares: map[Party]float64{Conservative: 24}},
	}

	estimates := LatestEstimates(records)
	est, ok := estimates[Conservative]
	require.True(t, ok)
	require.InDelta(t, 22.0, est.Value, 0.001)
	// 1.96 * sqrt(0.22*0.78/2000) * 100
	require.InDelta(t, 1.815, est.MarginOfError, 0.01)

	_, ok = estimates[Labour]
	require.False(t, ok)
}

func TestLatestEstimatesNoSamples(t *testing.T) {
	records := []PollRecord{
		{Shares: map[Party]float64{Conservative: 20}},
	}
	require.Empty(t, LatestEstimates(records))
}
