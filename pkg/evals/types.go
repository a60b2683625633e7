// Package evals runs scripted decode tasks through the beam searcher and
// grades the decoded output. Suites are YAML files; each task describes a
// model fixture, a search configuration, and the graders to apply.
package evals

import (
	"time"

	"github.com/soypete/beamdecode/pkg/beam"
)

// GraderType selects a grading strategy.
type GraderType string

const (
	GraderTypeTokenMatch GraderType = "token_match"
	GraderTypeTextMatch  GraderType = "text_match"
	GraderTypeRegex      GraderType = "regex"
	GraderTypeJSONSchema GraderType = "json_schema"
	GraderTypeMinScore   GraderType = "min_score"
)

// MatchType specifies how text matching should be performed.
type MatchType string

const (
	MatchTypeExact    MatchType = "exact"
	MatchTypeContains MatchType = "contains"
	MatchTypePrefix   MatchType = "prefix"
	MatchTypeSuffix   MatchType = "suffix"
)

// Suite is a collection of decode tasks.
type Suite struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	Version     string                 `yaml:"version" json:"version"`
	Tasks       []Task                 `yaml:"tasks" json:"tasks"`
	Metadata    map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Task is one decode scenario: a scripted model fixture, the search
// configuration to run it under, and the graders applied to the result.
type Task struct {
	ID          string         `yaml:"id" json:"id"`
	Description string         `yaml:"description" json:"description"`
	Fixture     Fixture        `yaml:"fixture" json:"fixture"`
	Search      *beam.Config   `yaml:"search,omitempty" json:"search,omitempty"`
	Graders     []GraderConfig `yaml:"graders" json:"graders"`
	Tags        []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Weight      float64        `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// Fixture describes a scripted model: per-step token distributions keyed by
// word, plus optional value-estimator scores. Words must be in VocabWords,
// OOVWords, or one of the reserved special tokens.
type Fixture struct {
	VocabWords []string `yaml:"vocab_words" json:"vocab_words"`
	OOVWords   []string `yaml:"oov_words,omitempty" json:"oov_words,omitempty"`
	SourceLen  int      `yaml:"source_len,omitempty" json:"source_len,omitempty"`

	// Steps holds one distribution per decode step, word -> probability
	// mass. The last step repeats when the search runs past the script.
	Steps []map[string]float64 `yaml:"steps" json:"steps"`

	// Estimates, when present, backs a value estimator over the
	// in-vocabulary words. Implies decoder-output emission.
	Estimates map[string]float64 `yaml:"estimates,omitempty" json:"estimates,omitempty"`

	EmitDecoderOutputs bool `yaml:"emit_decoder_outputs,omitempty" json:"emit_decoder_outputs,omitempty"`
	EmitEncoderMasks   bool `yaml:"emit_encoder_masks,omitempty" json:"emit_encoder_masks,omitempty"`
}

// GraderConfig configures how to grade a task's decode result.
type GraderConfig struct {
	Type     GraderType             `yaml:"type" json:"type"`
	Required bool                   `yaml:"required,omitempty" json:"required,omitempty"`
	Weight   float64                `yaml:"weight,omitempty" json:"weight,omitempty"`
	Config   map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
	Patterns []string               `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// RunRecord is the serialized outcome of one search: what the graders see
// and what gets persisted.
type RunRecord struct {
	Tokens     []int    `json:"tokens"`
	Words      []string `json:"words"`
	Text       string   `json:"text"`
	AvgLogProb float64  `json:"avg_log_prob"`
	Steps      int      `json:"steps"`
	Completed  int      `json:"completed"`
}

// Trial is a single attempt at a task.
type Trial struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	TrialNumber  int            `json:"trial_number"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Record       *RunRecord     `json:"record,omitempty"`
	GradeResults []*GradeResult `json:"grade_results"`
	Passed       bool           `json:"passed"`
	Score        float64        `json:"score"`
	Error        string         `json:"error,omitempty"`
}

// GradeResult contains the result of a single grader.
type GradeResult struct {
	GraderType GraderType             `json:"grader_type"`
	Passed     bool                   `json:"passed"`
	Score      float64                `json:"score"`
	Feedback   string                 `json:"feedback"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// EvalConfig configures an evaluation run.
type EvalConfig struct {
	OutputDir     string `yaml:"output_dir" json:"output_dir"`
	SaveRecords   bool   `yaml:"save_records" json:"save_records"`
	Concurrency   int    `yaml:"concurrency" json:"concurrency"`
	TrialsPerTask int    `yaml:"trials_per_task" json:"trials_per_task"`
	Timeout       int    `yaml:"timeout" json:"timeout"` // seconds per trial
}

// EvalRun is a complete evaluation run with results.
type EvalRun struct {
	ID          string      `json:"id"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Config      *EvalConfig `json:"config"`
	Suite       *Suite      `json:"suite"`
	Trials      []*Trial    `json:"trials"`
	Summary     *RunSummary `json:"summary"`
}

// RunSummary contains aggregate statistics for an evaluation run.
type RunSummary struct {
	TotalTasks      int                        `json:"total_tasks"`
	TotalTrials     int                        `json:"total_trials"`
	PassedTrials    int                        `json:"passed_trials"`
	FailedTrials    int                        `json:"failed_trials"`
	ErrorTrials     int                        `json:"error_trials"`
	OverallPassRate float64                    `json:"overall_pass_rate"`
	AvgScore        float64                    `json:"avg_score"`
	AvgSteps        float64                    `json:"avg_steps"`
	AvgLatency      time.Duration              `json:"avg_latency"`
	ByGraderType    map[GraderType]GraderStats `json:"by_grader_type"`
	ByTag           map[string]TagStats        `json:"by_tag,omitempty"`
}

// GraderStats contains statistics for a specific grader type.
type GraderStats struct {
	TotalRuns int     `json:"total_runs"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	PassRate  float64 `json:"pass_rate"`
	AvgScore  float64 `json:"avg_score"`
}

// TagStats contains statistics for tasks with a specific tag.
type TagStats struct {
	TotalTasks  int     `json:"total_tasks"`
	TotalTrials int     `json:"total_trials"`
	Passed      int     `json:"passed"`
	PassRate    float64 `json:"pass_rate"`
	AvgScore    float64 `json:"avg_score"`
}
