// beam-eval runs scripted decode suites through the beam searcher and
// reports pass rates per task and grader.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soypete/beamdecode/pkg/evals"
)

var (
	// Global flags
	configFile string
	verbose    bool

	// Run command flags
	outputDir     string
	saveRecords   bool
	concurrency   int
	trialsPerTask int
	timeout       int
	format        string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beam-eval",
		Short: "Evaluation harness for beam search decoding",
		Long: `beam-eval runs YAML suites of scripted decode tasks through the beam
searcher and grades the output.

Each task scripts the model's per-step token distributions, so suites run
deterministically without a neural model. Graders cover token sequences,
output text, regex patterns, JSON-schema validation of run records, and
minimum score thresholds.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to harness config YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [suite.yaml]",
		Short: "Run an evaluation suite",
		Long: `Run a YAML evaluation suite.

Examples:
  beam-eval run suites/decoding.yaml
  beam-eval run suites/decoding.yaml --trials 3 --concurrency 4
  beam-eval run suites/decoding.yaml --task short-summary`,
		Args: cobra.ExactArgs(1),
		RunE: runEvals,
	}

	cmd.Flags().StringP("task", "t", "", "Run a single task by ID")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "./results", "Output directory for results")
	cmd.Flags().BoolVar(&saveRecords, "save-records", false, "Save the full run as a JSON artifact")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "Number of concurrent trials")
	cmd.Flags().IntVar(&trialsPerTask, "trials", 1, "Number of trials per task")
	cmd.Flags().IntVar(&timeout, "timeout", 60, "Timeout per trial in seconds")
	cmd.Flags().StringVarP(&format, "format", "f", "console", "Output format (console, json, all)")

	return cmd
}

func runEvals(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, canceling...")
		cancel()
	}()

	config := buildConfig()

	suite, err := evals.LoadSuite(args[0])
	if err != nil {
		return err
	}
	if taskID, _ := cmd.Flags().GetString("task"); taskID != "" {
		suite, err = singleTaskSuite(suite, taskID)
		if err != nil {
			return err
		}
	}

	harness := evals.NewHarness(config)
	if verbose {
		harness.SetProgressCallback(func(taskID string, trialNum int, status string) {
			timestamp := time.Now().Format("15:04:05")
			fmt.Printf("[%s] %s trial %d: %s\n", timestamp, taskID, trialNum, status)
		})
	}

	fmt.Printf("Running evaluation suite: %s\n", suite.Name)
	fmt.Printf("Tasks: %d, Trials per task: %d\n\n", len(suite.Tasks), config.TrialsPerTask)

	startTime := time.Now()
	run, err := harness.Run(ctx, suite)
	if err != nil {
		return fmt.Errorf("run evaluation: %w", err)
	}
	fmt.Printf("Completed in %s\n\n", time.Since(startTime).Round(time.Millisecond))

	for _, reporter := range buildReporters(run) {
		if err := reporter.Report(run); err != nil {
			fmt.Fprintf(os.Stderr, "Reporter error: %v\n", err)
		}
	}

	if run.Summary.OverallPassRate < 1.0 {
		os.Exit(1)
	}
	return nil
}

func buildConfig() *evals.EvalConfig {
	config := evals.DefaultConfig()

	if configFile != "" {
		if loaded, err := evals.LoadConfig(configFile); err == nil {
			config = loaded
		}
	}

	if outputDir != "" {
		config.OutputDir = outputDir
	}
	config.SaveRecords = saveRecords
	if concurrency > 0 {
		config.Concurrency = concurrency
	}
	if trialsPerTask > 0 {
		config.TrialsPerTask = trialsPerTask
	}
	if timeout > 0 {
		config.Timeout = timeout
	}

	return config
}

func singleTaskSuite(suite *evals.Suite, taskID string) (*evals.Suite, error) {
	for _, task := range suite.Tasks {
		if task.ID == taskID {
			return &evals.Suite{
				Name:        fmt.Sprintf("single-task-%s", taskID),
				Description: task.Description,
				Tasks:       []evals.Task{task},
			}, nil
		}
	}
	return nil, fmt.Errorf("task not found: %s", taskID)
}

func buildReporters(run *evals.EvalRun) []evals.Reporter {
	var reporters []evals.Reporter
	for _, f := range strings.Split(format, ",") {
		switch strings.TrimSpace(f) {
		case "console":
			reporters = append(reporters, evals.NewConsoleReporter(nil, verbose))
		case "json":
			path := filepath.Join(outputDir, fmt.Sprintf("%s.json", run.ID))
			reporters = append(reporters, evals.NewJSONReporter(path, true))
		case "all":
			reporters = append(reporters, evals.NewConsoleReporter(nil, verbose))
			reporters = append(reporters, evals.NewJSONReporter(
				filepath.Join(outputDir, fmt.Sprintf("%s.json", run.ID)), true))
		}
	}
	if len(reporters) == 0 {
		reporters = append(reporters, evals.NewConsoleReporter(nil, verbose))
	}
	return reporters
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [suite.yaml]",
		Short: "List the tasks in a suite",
		Long: `List all tasks in an evaluation suite.

Examples:
  beam-eval list suites/decoding.yaml
  beam-eval list suites/decoding.yaml --tags "smoke,oov"`,
		Args: cobra.ExactArgs(1),
		RunE: listTasks,
	}

	cmd.Flags().StringSlice("tags", nil, "Filter by tags")

	return cmd
}

func listTasks(cmd *cobra.Command, args []string) error {
	tagFilters, _ := cmd.Flags().GetStringSlice("tags")

	suite, err := evals.LoadSuite(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Suite: %s (%d tasks)\n\n", suite.Name, len(suite.Tasks))
	for _, task := range suite.Tasks {
		if len(tagFilters) > 0 && !hasAnyTag(task.Tags, tagFilters) {
			continue
		}
		tagsStr := ""
		if len(task.Tags) > 0 {
			tagsStr = fmt.Sprintf(" [%s]", strings.Join(task.Tags, ", "))
		}
		fmt.Printf("  %-25s %s%s\n", task.ID, truncateStr(task.Description, 45), tagsStr)
	}
	return nil
}

func hasAnyTag(tags, filters []string) bool {
	for _, filter := range filters {
		for _, tag := range tags {
			if tag == filter {
				return true
			}
		}
	}
	return false
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [results-file]",
		Short: "Print a report from saved results",
		Long: `Print a report from a previously saved evaluation run.

Examples:
  beam-eval report results/run-123.json
  beam-eval report results/run-123.json --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: generateReport,
	}
	return cmd
}

func generateReport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}

	var run evals.EvalRun
	if err := json.Unmarshal(data, &run); err != nil {
		return fmt.Errorf("parse results: %w", err)
	}

	return evals.NewConsoleReporter(nil, verbose).Report(&run)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
