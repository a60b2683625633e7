package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/soypete/beamdecode/pkg/beam"
	"github.com/soypete/beamdecode/pkg/model"
)

// Harness orchestrates evaluation runs.
type Harness struct {
	config   *EvalConfig
	graders  *GraderFactory
	mu       sync.Mutex
	progress ProgressCallback
}

// ProgressCallback is called to report progress during evaluation.
type ProgressCallback func(taskID string, trialNum int, status string)

// NewHarness creates a new evaluation harness.
func NewHarness(config *EvalConfig) *Harness {
	return &Harness{
		config:  config,
		graders: NewGraderFactory(),
	}
}

// SetProgressCallback sets a callback for progress updates.
func (h *Harness) SetProgressCallback(cb ProgressCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = cb
}

// LoadSuite loads an evaluation suite from a YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite file: %w", err)
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parse suite YAML: %w", err)
	}

	if suite.Name == "" {
		suite.Name = filepath.Base(path)
	}
	if len(suite.Tasks) == 0 {
		return nil, fmt.Errorf("suite has no tasks")
	}
	for i := range suite.Tasks {
		if suite.Tasks[i].ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
	}

	return &suite, nil
}

// Run executes an evaluation suite and returns results.
func (h *Harness) Run(ctx context.Context, suite *Suite) (*EvalRun, error) {
	run := &EvalRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Config:    h.config,
		Suite:     suite,
		Trials:    make([]*Trial, 0),
	}

	trialsPerTask := h.config.TrialsPerTask
	if trialsPerTask <= 0 {
		trialsPerTask = 1
	}
	concurrency := h.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	type work struct {
		task     *Task
		trialNum int
	}
	workChan := make(chan work, len(suite.Tasks)*trialsPerTask)
	resultsChan := make(chan *Trial, len(suite.Tasks)*trialsPerTask)

	for i := range suite.Tasks {
		task := &suite.Tasks[i]
		for t := 1; t <= trialsPerTask; t++ {
			workChan <- work{task: task, trialNum: t}
		}
	}
	close(workChan)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workChan {
				resultsChan <- h.runTrial(ctx, w.task, w.trialNum)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for trial := range resultsChan {
		run.Trials = append(run.Trials, trial)
	}

	// Deterministic ordering regardless of worker interleaving.
	sort.Slice(run.Trials, func(i, j int) bool {
		if run.Trials[i].TaskID != run.Trials[j].TaskID {
			return run.Trials[i].TaskID < run.Trials[j].TaskID
		}
		return run.Trials[i].TrialNumber < run.Trials[j].TrialNumber
	})

	run.CompletedAt = time.Now()
	run.Summary = computeSummary(run)

	if h.config.SaveRecords && h.config.OutputDir != "" {
		if err := h.saveRun(run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}

	return run, nil
}

// runTrial executes a single trial for a task.
func (h *Harness) runTrial(ctx context.Context, task *Task, trialNum int) *Trial {
	trial := &Trial{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		TrialNumber: trialNum,
		StartedAt:   time.Now(),
	}

	h.reportProgress(task.ID, trialNum, "started")

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.config.Timeout)*time.Second)
		defer cancel()
	}

	record, err := h.decodeTask(ctx, task)
	trial.CompletedAt = time.Now()
	if err != nil {
		trial.Error = err.Error()
		h.reportProgress(task.ID, trialNum, "error")
		return trial
	}
	trial.Record = record

	trial.GradeResults = h.runGraders(ctx, task, trial)
	trial.Score, trial.Passed = CompositeScore(trial.GradeResults, task.Graders)

	h.reportProgress(task.ID, trialNum, "completed")
	return trial
}

// decodeTask builds the fixture, runs the search, and serializes the winner.
func (h *Harness) decodeTask(ctx context.Context, task *Task) (*RunRecord, error) {
	search := task.Search
	if search == nil {
		search = beam.DefaultConfig()
	}

	parts, err := task.Fixture.build(search)
	if err != nil {
		return nil, fmt.Errorf("build fixture: %w", err)
	}

	searcher, err := beam.NewSearcher(search, parts.scripted, parts.vocab, parts.estimator)
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}

	res, err := searcher.Search(ctx, parts.batch)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	words := model.DecodeIDs(parts.vocab, res.Best.Tokens, parts.batch.OOVWords)
	return &RunRecord{
		Tokens:     res.Best.Tokens,
		Words:      words,
		Text:       strings.Join(words, " "),
		AvgLogProb: res.Best.AvgLogProb(),
		Steps:      res.Steps,
		Completed:  res.Completed,
	}, nil
}

// runGraders runs all graders for a task.
func (h *Harness) runGraders(ctx context.Context, task *Task, trial *Trial) []*GradeResult {
	results := make([]*GradeResult, 0, len(task.Graders))

	for i := range task.Graders {
		config := &task.Graders[i]

		grader, err := h.graders.GetGrader(config.Type)
		if err != nil {
			results = append(results, &GradeResult{
				GraderType: config.Type,
				Passed:     false,
				Score:      0,
				Feedback:   fmt.Sprintf("Failed to get grader: %s", err),
				Error:      err.Error(),
			})
			continue
		}

		result, err := grader.Grade(ctx, task, trial, config)
		if err != nil {
			results = append(results, &GradeResult{
				GraderType: config.Type,
				Passed:     false,
				Score:      0,
				Feedback:   fmt.Sprintf("Grading failed: %s", err),
				Error:      err.Error(),
			})
			continue
		}

		results = append(results, result)
	}

	return results
}

// computeSummary calculates aggregate statistics for a run.
func computeSummary(run *EvalRun) *RunSummary {
	summary := &RunSummary{
		ByGraderType: make(map[GraderType]GraderStats),
		ByTag:        make(map[string]TagStats),
	}

	if len(run.Trials) == 0 {
		return summary
	}

	trialsByTask := make(map[string][]*Trial)
	for _, trial := range run.Trials {
		trialsByTask[trial.TaskID] = append(trialsByTask[trial.TaskID], trial)
	}

	summary.TotalTasks = len(trialsByTask)
	summary.TotalTrials = len(run.Trials)

	var totalScore float64
	var totalSteps int
	var totalLatency time.Duration

	for _, trial := range run.Trials {
		totalScore += trial.Score
		totalLatency += trial.CompletedAt.Sub(trial.StartedAt)
		if trial.Passed {
			summary.PassedTrials++
		} else if trial.Error != "" {
			summary.ErrorTrials++
		} else {
			summary.FailedTrials++
		}
		if trial.Record != nil {
			totalSteps += trial.Record.Steps
		}

		for _, gr := range trial.GradeResults {
			stats := summary.ByGraderType[gr.GraderType]
			stats.TotalRuns++
			if gr.Passed {
				stats.Passed++
			} else {
				stats.Failed++
			}
			stats.AvgScore = (stats.AvgScore*float64(stats.TotalRuns-1) + gr.Score) / float64(stats.TotalRuns)
			stats.PassRate = float64(stats.Passed) / float64(stats.TotalRuns)
			summary.ByGraderType[gr.GraderType] = stats
		}
	}

	summary.OverallPassRate = float64(summary.PassedTrials) / float64(summary.TotalTrials)
	summary.AvgScore = totalScore / float64(summary.TotalTrials)
	summary.AvgSteps = float64(totalSteps) / float64(summary.TotalTrials)
	summary.AvgLatency = totalLatency / time.Duration(summary.TotalTrials)

	taskByID := make(map[string]*Task)
	for i := range run.Suite.Tasks {
		taskByID[run.Suite.Tasks[i].ID] = &run.Suite.Tasks[i]
	}

	for taskID, trials := range trialsByTask {
		task := taskByID[taskID]
		if task == nil {
			continue
		}
		for _, tag := range task.Tags {
			stats := summary.ByTag[tag]
			stats.TotalTasks++
			stats.TotalTrials += len(trials)
			for _, trial := range trials {
				if trial.Passed {
					stats.Passed++
				}
				stats.AvgScore = (stats.AvgScore*float64(stats.TotalTrials-len(trials)) + trial.Score) / float64(stats.TotalTrials)
			}
			stats.PassRate = float64(stats.Passed) / float64(stats.TotalTrials)
			summary.ByTag[tag] = stats
		}
	}

	return summary
}

// saveRun writes the full run as a JSON artifact.
func (h *Harness) saveRun(run *EvalRun) error {
	if err := os.MkdirAll(h.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	path := filepath.Join(h.config.OutputDir, fmt.Sprintf("run-%s.json", run.ID))
	return os.WriteFile(path, data, 0644)
}

// reportProgress reports progress via callback if set.
func (h *Harness) reportProgress(taskID string, trialNum int, status string) {
	h.mu.Lock()
	cb := h.progress
	h.mu.Unlock()

	if cb != nil {
		cb(taskID, trialNum, status)
	}
}

// RunSingleTask runs a single task once and returns the trial result.
func (h *Harness) RunSingleTask(ctx context.Context, task *Task) (*Trial, error) {
	trial := h.runTrial(ctx, task, 1)
	if trial.Error != "" {
		return trial, fmt.Errorf("trial failed: %s", trial.Error)
	}
	return trial, nil
}

// DefaultConfig returns a default evaluation configuration.
func DefaultConfig() *EvalConfig {
	return &EvalConfig{
		OutputDir:     "./results",
		SaveRecords:   false,
		Concurrency:   2,
		TrialsPerTask: 1,
		Timeout:       60,
	}
}

// LoadConfig loads an evaluation configuration from a YAML file.
func LoadConfig(path string) (*EvalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	return config, nil
}
