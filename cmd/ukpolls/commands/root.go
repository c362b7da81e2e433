package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ukpolls-backend/services/polls"
)

var rootCmd = &cobra.Command{
	Use:   "ukpolls",
	Short: "ukpolls fetches, caches and aggregates UK opinion polls.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// newService builds the production service from polls.json5, falling
// back to defaults when no config file exists.
func newService() *polls.Service {
	cfg, err := polls.LoadConfig()
	if err != nil {
		cfg = polls.Config{}
	}
	return polls.NewDefaultService(cfg)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
