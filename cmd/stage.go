package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/pipeline"
)

var (
	stageRunID  string
	stageFormat string
)

var stageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Re-run a single stage of an earlier run from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := model.ParseStage(args[0])
		if err != nil {
			return err
		}
		if stageRunID == "" {
			return eris.New("--run is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		report, runErr := e.Controller.RunStage(ctx, stageRunID, stage)
		if report != nil {
			if err := pipeline.RenderReport(os.Stdout, report, stageFormat); err != nil {
				return err
			}
		}
		return runErr
	},
}

func init() {
	stageCmd.Flags().StringVar(&stageRunID, "run", "", "run ID to restore from")
	stageCmd.Flags().StringVar(&stageFormat, "format", "text", "report format: text, json or yaml")
	rootCmd.AddCommand(stageCmd)
}
