package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seekwell/apply-cli/internal/recovery"
)

var errorsRecent int

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show statistics from the durable error log",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := recovery.ReadLogDir(cfg.ErrorLog.Dir)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no recorded errors")
			return nil
		}

		history := recovery.NewHistory(len(records))
		for _, rec := range records {
			history.Append(rec)
		}
		stats := history.Stats()

		fmt.Printf("Total: %d  Resolved: %d (%.0f%%)\n",
			stats.Total, stats.Resolved, stats.ResolutionRate*100)
		if stats.MeanResolution > 0 {
			fmt.Printf("Mean time to resolution: %s\n", stats.MeanResolution)
		}
		fmt.Println()

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CATEGORY\tCOUNT")
		for category, count := range stats.ByCategory {
			fmt.Fprintf(tw, "%s\t%d\n", category, count)
		}
		fmt.Fprintln(tw, "\nSEVERITY\tCOUNT")
		for severity, count := range stats.BySeverity {
			fmt.Fprintf(tw, "%s\t%d\n", severity, count)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if errorsRecent > 0 {
			fmt.Println()
			for _, rec := range history.Recent(errorsRecent) {
				fmt.Printf("%s  [%s/%s]  %s\n",
					rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Category, rec.Severity, rec.Message)
			}
		}
		return nil
	},
}

func init() {
	errorsCmd.Flags().IntVar(&errorsRecent, "recent", 0, "also print the N most recent records")
	rootCmd.AddCommand(errorsCmd)
}
