package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ukpolls-backend/services/polls"
)

var averagesFlags struct {
	n       int
	repeats bool
	days    int
}

func init() {
	f := averagesCmd.Flags()
	f.IntVar(&averagesFlags.n, "n", 0, "How many of the latest polls to average (0 uses the configured default).")
	f.BoolVar(&averagesFlags.repeats, "repeats", false, "Allow multiple polls from the same pollster.")
	f.IntVar(&averagesFlags.days, "days", 0, "Only average polls from the last N days.")
	rootCmd.AddCommand(averagesCmd)
}

var averagesCmd = &cobra.Command{
	Use:   "averages",
	Short: "Print sample-weighted party averages over the latest polls.",
	Run: func(cmd *cobra.Command, args []string) {
		service := newService()
		defer service.Close()

		estimates, err := service.Estimates(cmd.Context(), polls.GetPollsRequest{
			N:                    averagesFlags.n,
			AllowRepeatPollsters: averagesFlags.repeats,
			Filter:               polls.FilterSpec{LastDays: averagesFlags.days},
		})
		if err != nil {
			fatal("failed to compute averages", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Party", "Share", "Margin of error"})
		for _, party := range polls.AllParties {
			est, ok := estimates[party]
			if !ok {
				continue
			}
			t.AppendRow(table.Row{
				string(party),
				fmt.Sprintf("%.1f%%", est.Value),
				fmt.Sprintf("±%.1f", est.MarginOfError),
			})
		}
		t.Render()
	},
}
