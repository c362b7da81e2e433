package polls

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ukpolls-backend/lib/htmlutil"
	"ukpolls-backend/lib/pollcache"
	"ukpolls-backend/lib/telemetry"
)

type fakeFetcher struct {
	table htmlutil.Table
	err   error
	calls int
}

func (f *fakeFetcher) FetchTable(ctx context.Context, pageURL string) (htmlutil.Table, error) {
	f.calls++
	if f.err != nil {
		return htmlutil.Table{}, f.err
	}
	return f.table, nil
}

func liveTable() htmlutil.Table {
	return htmlutil.Table{
		Header: []string{
			"Dates conducted", "Pollster", "Sample size",
			"Con", "Lab", "Lib", "Ref", "Grn", "Nat", "Oth",
		},
		Rows: [][]string{
			{"26–28 Aug 2025", "YouGov[12]", "2,252", "17", "21", "15", "27", "10", "3", "7"},
			{"24–26 Aug 2025", "Opinium", "2,050", "18", "22", "13", "28", "9", "3", "7"},
			{"20–22 Aug 2025", "YouGov", "2,104", "18", "21", "14", "27", "10", "3", "7"},
		},
	}
}

func testService(t *testing.T, fetcher Fetcher) *Service {
	t.Helper()
	cleanup := telemetry.SetupForTesting(t, "services/polls")
	t.Cleanup(cleanup)

	store, err := pollcache.Open(pollcache.Options{
		Path: filepath.Join(t.TempDir(), "poll_cache.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewService(Config{SourceURL: "https://example.org/polls"}, fetcher, store)
}

func TestGetPolls(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)
	ctx := context.Background()

	result, err := service.GetPolls(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.False(t, result.FromSample)
	require.True(t, result.Validation.IsValid)

	// the older YouGov poll is dropped without AllowRepeatPollsters
	require.Len(t, result.Records, 2)
	require.Equal(t, "YouGov", result.Records[0].Pollster)
	require.Equal(t, "Opinium", result.Records[1].Pollster)

	// second identical request is served from the cache
	cached, err := service.GetPolls(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)
	require.True(t, cached.FromCache)
	require.Equal(t, 1, fetcher.calls)
	require.Len(t, cached.Records, 2)
	require.True(t, cached.Records[0].Date.Equal(result.Records[0].Date))
}

func TestGetPollsRepeatPollsters(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)

	result, err := service.GetPolls(context.Background(), GetPollsRequest{N: 5, AllowRepeatPollsters: true})
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
}

func TestGetPollsDistinctRequestsMiss(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)
	ctx := context.Background()

	_, err := service.GetPolls(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)

	// different parameters fingerprint to a different cache entry
	result, err := service.GetPolls(ctx, GetPollsRequest{N: 2})
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Equal(t, 2, fetcher.calls)
}

func TestGetPollsForceRefresh(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)
	ctx := context.Background()

	_, err := service.GetPolls(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)

	result, err := service.GetPolls(ctx, GetPollsRequest{N: 5, ForceRefresh: true})
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Equal(t, 2, fetcher.calls)
}

func TestGetPollsSampleFallback(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("connection refused")}
	service := testService(t, fetcher)

	result, err := service.GetPolls(context.Background(), GetPollsRequest{})
	require.NoError(t, err)
	require.True(t, result.FromSample)
	require.False(t, result.FromCache)
	require.NotEmpty(t, result.Records)
	require.Contains(t, result.Validation.Warnings, "live source unavailable, serving bundled sample data")

	// failures are never cached
	stats, err := service.Store().Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.TotalEntries)
}

func TestGetPollsNormalizeFallback(t *testing.T) {
	// right shape, but no row survives normalization
	fetcher := &fakeFetcher{table: htmlutil.Table{
		Header: []string{
			"Dates conducted", "Pollster", "Sample size",
			"Con", "Lab", "Lib", "Ref", "Grn", "Nat", "Oth",
		},
		Rows: [][]string{
			{"2024 general election", "", "", "24", "34", "12", "14", "7", "2", "7"},
		},
	}}
	service := testService(t, fetcher)

	result, err := service.GetPolls(context.Background(), GetPollsRequest{})
	require.NoError(t, err)
	require.True(t, result.FromSample)
	require.NotEmpty(t, result.Records)
	require.Contains(t, result.Validation.Warnings, "live source unavailable, serving bundled sample data")

	// fallbacks are never cached
	stats, err := service.Store().Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.TotalEntries)
}

func TestGetPollsUncached(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/polls")
	defer cleanup()

	fetcher := &fakeFetcher{table: liveTable()}
	service := NewService(Config{SourceURL: "https://example.org/polls"}, fetcher, nil)

	result, err := service.GetPolls(context.Background(), GetPollsRequest{N: 5})
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Len(t, result.Records, 2)

	// no cache means every request hits the source
	_, err = service.GetPolls(context.Background(), GetPollsRequest{N: 5})
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.calls)
}

func TestGetPollsWithFilter(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)

	result, err := service.GetPolls(context.Background(), GetPollsRequest{
		N:      5,
		Filter: FilterSpec{IncludePollsters: []string{"Opinium"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, "Opinium", result.Records[0].Pollster)
	require.Equal(t, 2, result.FilterStats.OriginalCount)
	require.Equal(t, 1, result.FilterStats.FilteredCount)
	require.Equal(t, 0.5, result.FilterStats.RetainedFraction)
}

func TestGetPollsFilterExcludesEverything(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)

	result, err := service.GetPolls(context.Background(), GetPollsRequest{
		N:      5,
		Filter: FilterSpec{IncludePollsters: []string{"Nonexistent Pollster"}},
	})
	require.NoError(t, err)
	require.Empty(t, result.Records)
	require.Equal(t, 2, result.FilterStats.OriginalCount)
	require.Equal(t, 0, result.FilterStats.FilteredCount)
	require.Equal(t, 0.0, result.FilterStats.RetainedFraction)

	// an empty selection is a filtering outcome, not a broken dataset
	require.True(t, result.Validation.IsValid)
	require.Empty(t, result.Validation.Errors)
}

func TestTrendAndEstimates(t *testing.T) {
	fetcher := &fakeFetcher{table: liveTable()}
	service := testService(t, fetcher)
	ctx := context.Background()

	trend, err := service.Trend(ctx, GetPollsRequest{N: 5, AllowRepeatPollsters: true}, ReformUK)
	require.NoError(t, err)
	require.Len(t, trend, 3)
	// oldest first
	require.True(t, trend[0].Date.Before(trend[1].Date))

	estimates, err := service.Estimates(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)
	require.NotEmpty(t, estimates)
	est := estimates[ReformUK]
	require.Greater(t, est.Value, 27.0)
	require.Greater(t, est.MarginOfError, 0.0)
}

func TestGetPollsCacheExpiry(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "services/polls")
	defer cleanup()

	now := time.Now()
	store, err := pollcache.Open(pollcache.Options{
		Path: filepath.Join(t.TempDir(), "poll_cache.db"),
		Now:  func() time.Time { return now },
	})
	require.NoError(t, err)
	defer store.Close()

	fetcher := &fakeFetcher{table: liveTable()}
	service := NewService(Config{SourceURL: "https://example.org/polls", CacheTTL: 60}, fetcher, store)
	ctx := context.Background()

	_, err = service.GetPolls(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	result, err := service.GetPolls(ctx, GetPollsRequest{N: 5})
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Equal(t, 2, fetcher.calls)
}
