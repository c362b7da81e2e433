package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ukpolls-backend/lib/pollcache"
)

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the poll cache.",
}

func openStore() *pollcache.Store {
	service := newService()
	store := service.Store()
	if store == nil {
		fatal("cache unavailable", fmt.Errorf("no cache store configured"))
	}
	return store
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache entry counts, hit rate and size.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			fatal("failed to read cache stats", err)
		}

		t := newTable()
		t.AppendRow(table.Row{"Total entries", stats.TotalEntries})
		t.AppendRow(table.Row{"Valid entries", stats.ValidEntries})
		t.AppendRow(table.Row{"Expired entries", stats.ExpiredEntries})
		t.AppendRow(table.Row{"Hits", stats.Hits})
		t.AppendRow(table.Row{"Misses", stats.Misses})
		t.AppendRow(table.Row{"Hit rate", fmt.Sprintf("%.0f%%", stats.HitRate*100)})
		t.AppendRow(table.Row{"Size", fmt.Sprintf("%d bytes", stats.SizeBytes)})
		if !stats.OldestEntry.IsZero() {
			t.AppendRow(table.Row{"Oldest entry", stats.OldestEntry.Local().Format("2006-01-02 15:04:05")})
			t.AppendRow(table.Row{"Newest entry", stats.NewestEntry.Local().Format("2006-01-02 15:04:05")})
		}
		t.Render()
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache entries, newest first.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		entries, err := store.Entries(cmd.Context())
		if err != nil {
			fatal("failed to list cache entries", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Key", "Source", "Created", "Expires", "Hits", "Expired"})
		for _, e := range entries {
			key := e.Key
			if len(key) > 12 {
				key = key[:12]
			}
			t.AppendRow(table.Row{
				key,
				e.SourceURL,
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				e.ExpiresAt.Local().Format("2006-01-02 15:04"),
				e.AccessCount,
				e.Expired,
			})
		}
		t.Render()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cache entry.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		n, err := store.Clear(cmd.Context())
		if err != nil {
			fatal("failed to clear cache", err)
		}
		fmt.Printf("deleted %d entries\n", n)
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired cache entries.",
	Run: func(cmd *cobra.Command, args []string) {
		store := openStore()
		defer store.Close()

		n, err := store.CleanupExpired(cmd.Context())
		if err != nil {
			fatal("failed to clean up cache", err)
		}
		fmt.Printf("deleted %d expired entries\n", n)
	},
}
