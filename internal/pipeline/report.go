package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/seekwell/apply-cli/internal/model"
)

// buildReport summarizes a run's recorded stage results. Stages without a
// result are reported as skipped.
func buildReport(run *model.Run, lastCheckpoint string) *model.Report {
	finished := time.Now().UTC()
	report := &model.Report{
		RunID:            run.ID,
		StartedAt:        run.StartedAt,
		FinishedAt:       finished,
		WallClockMS:      finished.Sub(run.StartedAt).Milliseconds(),
		Success:          true,
		LastCheckpointID: lastCheckpoint,
	}
	for _, stage := range model.Stages() {
		res, ok := run.Result(stage)
		if !ok {
			report.Stages = append(report.Stages, model.StageSummary{Stage: stage, Skipped: true})
			report.Success = false
			continue
		}
		report.Stages = append(report.Stages, model.StageSummary{
			Stage:      stage,
			Success:    res.Success,
			Dropped:    res.Dropped,
			DurationMS: res.DurationMS,
			Error:      res.Error,
		})
		report.TotalDropped += res.Dropped
		if !res.Success {
			report.Success = false
			if report.Error == "" {
				report.Error = fmt.Sprintf("stage %s: %s", stage, res.Error)
			}
		}
	}
	report.Degraded = !report.Success || report.TotalDropped > 0 || partialExtraction(run)
	return report
}

// partialExtraction reports whether extraction succeeded with some sources
// failing.
func partialExtraction(run *model.Run) bool {
	res, ok := run.Result(model.StageExtraction)
	if !ok || !res.Success || res.Payload == nil {
		return false
	}
	var ext model.ExtractionResult
	if err := json.Unmarshal(res.Payload, &ext); err != nil {
		return false
	}
	return ext.Error != ""
}

var stageTitler = cases.Title(language.English)

// RenderReport writes the report in the requested format: text, json or
// yaml.
func RenderReport(w io.Writer, report *model.Report, format string) error {
	switch format {
	case "", "text":
		return renderText(w, report)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(report)
	default:
		return eris.Errorf("pipeline: unknown report format %q", format)
	}
}

func renderText(w io.Writer, report *model.Report) error {
	fmt.Fprintf(w, "Run %s\n", report.RunID)
	status := "SUCCESS"
	switch {
	case !report.Success:
		status = "FAILED"
	case report.Degraded:
		status = "DEGRADED"
	}
	fmt.Fprintf(w, "Status: %s  Wall clock: %dms  Dropped: %d\n", status, report.WallClockMS, report.TotalDropped)
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
	if report.LastCheckpointID != "" {
		fmt.Fprintf(w, "Last checkpoint: %s\n", report.LastCheckpointID)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tRESULT\tDROPPED\tDURATION\tERROR")
	for _, s := range report.Stages {
		result := "ok"
		switch {
		case s.Skipped:
			result = "skipped"
		case !s.Success:
			result = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%dms\t%s\n",
			stageTitler.String(string(s.Stage)), result, s.Dropped, s.DurationMS, s.Error)
	}
	return tw.Flush()
}
