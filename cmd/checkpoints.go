package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var checkpointsRunID string

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List checkpoints recorded for a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkpointsRunID == "" {
			return eris.New("--run is required")
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cps, err := st.ListByRun(ctx, checkpointsRunID)
		if err != nil {
			return eris.Wrap(err, "list checkpoints")
		}
		if len(cps) == 0 {
			fmt.Printf("no checkpoints for run %s\n", checkpointsRunID)
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTAGE\tSCHEMA\tCREATED")
		for _, cp := range cps {
			fmt.Fprintf(tw, "%s\t%s\tv%d\t%s\n",
				cp.ID, cp.Stage, cp.SchemaVersion, cp.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

func init() {
	checkpointsCmd.Flags().StringVar(&checkpointsRunID, "run", "", "run ID to list")
	rootCmd.AddCommand(checkpointsCmd)
}
