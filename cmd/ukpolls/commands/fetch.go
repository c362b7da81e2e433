package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ukpolls-backend/services/polls"
)

var fetchFlags struct {
	n                int
	repeats          bool
	refresh          bool
	days             int
	pollsters        []string
	excludePollsters []string
	minSample        int
	noOutliers       bool
	requireSample    bool
}

func init() {
	f := fetchCmd.Flags()
	f.IntVar(&fetchFlags.n, "n", 0, "How many of the latest polls to show (0 uses the configured default).")
	f.BoolVar(&fetchFlags.repeats, "repeats", false, "Allow multiple polls from the same pollster.")
	f.BoolVar(&fetchFlags.refresh, "refresh", false, "Bypass the cache and fetch from the live source.")
	f.IntVar(&fetchFlags.days, "days", 0, "Only keep polls from the last N days.")
	f.StringSliceVar(&fetchFlags.pollsters, "pollsters", nil, "Only keep polls from these pollsters.")
	f.StringSliceVar(&fetchFlags.excludePollsters, "exclude-pollsters", nil, "Drop polls from these pollsters.")
	f.IntVar(&fetchFlags.minSample, "min-sample", 0, "Only keep polls with at least this sample size.")
	f.BoolVar(&fetchFlags.noOutliers, "no-outliers", false, "Drop polls with any share more than 2 standard deviations from its party mean.")
	f.BoolVar(&fetchFlags.requireSample, "require-sample", false, "Drop polls without a reported sample size.")
	rootCmd.AddCommand(fetchCmd)
}

func fetchRequest() polls.GetPollsRequest {
	req := polls.GetPollsRequest{
		N:                    fetchFlags.n,
		AllowRepeatPollsters: fetchFlags.repeats,
		ForceRefresh:         fetchFlags.refresh,
		Filter: polls.FilterSpec{
			LastDays:          fetchFlags.days,
			IncludePollsters:  fetchFlags.pollsters,
			ExcludePollsters:  fetchFlags.excludePollsters,
			ExcludeOutliers:   fetchFlags.noOutliers,
			RequireSampleSize: fetchFlags.requireSample,
		},
	}
	if fetchFlags.minSample > 0 {
		req.Filter.MinSampleSize = &fetchFlags.minSample
	}
	return req
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the latest polls and print them as a table.",
	Run: func(cmd *cobra.Command, args []string) {
		service := newService()
		defer service.Close()

		result, err := service.GetPolls(cmd.Context(), fetchRequest())
		if err != nil {
			fatal("failed to get polls", err)
		}

		t := newTable()
		header := table.Row{"Date", "Pollster", "Sample"}
		for _, party := range polls.AllParties {
			header = append(header, string(party))
		}
		t.AppendHeader(header)
		for _, r := range result.Records {
			row := table.Row{r.Date.Format("2006-01-02"), r.Pollster}
			if r.HasSampleSize() {
				row = append(row, r.SampleSize)
			} else {
				row = append(row, "-")
			}
			for _, party := range polls.AllParties {
				row = append(row, fmt.Sprintf("%.0f", r.Shares[party]))
			}
			t.AppendRow(row)
		}
		t.Render()

		source := "live"
		if result.FromCache {
			source = "cache"
		}
		if result.FromSample {
			source = "bundled sample data"
		}
		fmt.Printf("%d polls (source: %s)\n", len(result.Records), source)

		for _, desc := range result.FilterStats.AppliedFilters {
			fmt.Printf("filter: %s\n", desc)
		}
		if len(result.FilterStats.AppliedFilters) > 0 {
			fmt.Printf("kept %d of %d polls\n",
				result.FilterStats.FilteredCount, result.FilterStats.OriginalCount)
		}
		for _, w := range result.Validation.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	},
}
