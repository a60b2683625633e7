package evals

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Reporter outputs evaluation results.
type Reporter interface {
	Report(run *EvalRun) error
}

// JSONReporter outputs the full run as JSON, to stdout or a file.
type JSONReporter struct {
	outputPath string
	pretty     bool
}

// NewJSONReporter creates a JSON reporter. An empty or "-" path writes to
// stdout.
func NewJSONReporter(outputPath string, pretty bool) *JSONReporter {
	return &JSONReporter{outputPath: outputPath, pretty: pretty}
}

func (r *JSONReporter) Report(run *EvalRun) error {
	var data []byte
	var err error
	if r.pretty {
		data, err = json.MarshalIndent(run, "", "  ")
	} else {
		data, err = json.Marshal(run)
	}
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	if r.outputPath == "" || r.outputPath == "-" {
		fmt.Println(string(data))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.outputPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return os.WriteFile(r.outputPath, data, 0644)
}

// ConsoleReporter prints a human-readable summary.
type ConsoleReporter struct {
	out     io.Writer
	verbose bool
}

// NewConsoleReporter creates a console reporter. A nil writer defaults to
// stdout.
func NewConsoleReporter(out io.Writer, verbose bool) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out, verbose: verbose}
}

func (r *ConsoleReporter) Report(run *EvalRun) error {
	s := run.Summary
	fmt.Fprintf(r.out, "Suite: %s (run %s)\n", run.Suite.Name, run.ID)
	fmt.Fprintf(r.out, "Tasks: %d  Trials: %d  Passed: %d  Failed: %d  Errors: %d\n",
		s.TotalTasks, s.TotalTrials, s.PassedTrials, s.FailedTrials, s.ErrorTrials)
	fmt.Fprintf(r.out, "Pass rate: %.1f%%  Avg score: %.3f  Avg steps: %.1f  Avg latency: %s\n",
		s.OverallPassRate*100, s.AvgScore, s.AvgSteps, s.AvgLatency)

	if len(s.ByGraderType) > 0 {
		fmt.Fprintln(r.out, "\nBy grader:")
		types := make([]string, 0, len(s.ByGraderType))
		for gt := range s.ByGraderType {
			types = append(types, string(gt))
		}
		sort.Strings(types)
		for _, gt := range types {
			gs := s.ByGraderType[GraderType(gt)]
			fmt.Fprintf(r.out, "  %-14s %d/%d passed (%.1f%%), avg score %.3f\n",
				gt, gs.Passed, gs.TotalRuns, gs.PassRate*100, gs.AvgScore)
		}
	}

	if r.verbose {
		fmt.Fprintln(r.out, "\nTrials:")
		for _, trial := range run.Trials {
			status := "PASS"
			if trial.Error != "" {
				status = "ERROR"
			} else if !trial.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(r.out, "  %-5s %s #%d score=%.3f", status, trial.TaskID, trial.TrialNumber, trial.Score)
			if trial.Record != nil {
				fmt.Fprintf(r.out, " %q", trial.Record.Text)
			}
			if trial.Error != "" {
				fmt.Fprintf(r.out, " (%s)", trial.Error)
			}
			fmt.Fprintln(r.out)
		}
	}

	return nil
}
