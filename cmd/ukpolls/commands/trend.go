package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ukpolls-backend/services/polls"
)

var trendFlags struct {
	n       int
	repeats bool
	days    int
}

func init() {
	f := trendCmd.Flags()
	f.IntVar(&trendFlags.n, "n", 0, "How many of the latest polls to build the trend from (0 uses the configured default).")
	f.BoolVar(&trendFlags.repeats, "repeats", true, "Allow multiple polls from the same pollster.")
	f.IntVar(&trendFlags.days, "days", 0, "Only use polls from the last N days.")
	rootCmd.AddCommand(trendCmd)
}

func resolveParty(name string) (polls.Party, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, party := range polls.AllParties {
		if strings.ToLower(string(party)) == needle {
			return party, nil
		}
	}
	// common short forms
	switch needle {
	case "con", "tory", "tories":
		return polls.Conservative, nil
	case "lab":
		return polls.Labour, nil
	case "libdem", "lib dem", "ld":
		return polls.LiberalDemocrat, nil
	case "reform", "ref":
		return polls.ReformUK, nil
	case "grn", "greens":
		return polls.Green, nil
	}
	return "", fmt.Errorf("unknown party %q", name)
}

var trendCmd = &cobra.Command{
	Use:   "trend <party>",
	Short: "Print a rolling trend of one party's poll share.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		party, err := resolveParty(args[0])
		if err != nil {
			fatal("invalid party", err)
		}

		service := newService()
		defer service.Close()

		trend, err := service.Trend(cmd.Context(), polls.GetPollsRequest{
			N:                    trendFlags.n,
			AllowRepeatPollsters: trendFlags.repeats,
			Filter:               polls.FilterSpec{LastDays: trendFlags.days},
		}, party)
		if err != nil {
			fatal("failed to compute trend", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Date", fmt.Sprintf("%s (rolling avg)", party)})
		for _, point := range trend {
			t.AppendRow(table.Row{
				point.Date.Format("2006-01-02"),
				fmt.Sprintf("%.1f", point.Value),
			})
		}
		t.Render()
	},
}
