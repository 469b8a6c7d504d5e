package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seekwell/apply-cli/internal/model"
	"github.com/seekwell/apply-cli/internal/pipeline"
)

var (
	runKeywords  []string
	runLocations []string
	runSources   []string
	runName      string
	runSkills    []string
	runMinSalary float64
	runDryRun    bool
	runFormat    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full application pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, runDryRun)
		if err != nil {
			return err
		}
		defer e.Close()

		criteria := model.SearchCriteria{
			Keywords:  runKeywords,
			Locations: runLocations,
			Sources:   runSources,
		}
		profile := model.Profile{
			Name:      runName,
			Skills:    runSkills,
			Locations: runLocations,
			MinSalary: runMinSalary,
		}

		report, runErr := e.Controller.Run(ctx, criteria, profile)
		if report != nil {
			if err := pipeline.RenderReport(os.Stdout, report, runFormat); err != nil {
				zap.L().Error("render report", zap.Error(err))
			}
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runKeywords, "keyword", nil, "search keyword (repeatable)")
	runCmd.Flags().StringSliceVar(&runLocations, "location", nil, "preferred location (repeatable)")
	runCmd.Flags().StringSliceVar(&runSources, "source", nil, "posting source (repeatable)")
	runCmd.Flags().StringVar(&runName, "name", "", "applicant name")
	runCmd.Flags().StringSliceVar(&runSkills, "skill", nil, "applicant skill (repeatable)")
	runCmd.Flags().Float64Var(&runMinSalary, "min-salary", 0, "minimum acceptable salary")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use scripted in-process collaborators")
	runCmd.Flags().StringVar(&runFormat, "format", "text", "report format: text, json or yaml")
	rootCmd.AddCommand(runCmd)
}
