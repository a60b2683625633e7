package evals

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Grader is the interface for all grading implementations.
type Grader interface {
	// Grade evaluates a trial's decode record against the task's criteria.
	Grade(ctx context.Context, task *Task, trial *Trial, config *GraderConfig) (*GradeResult, error)
	// Type returns the grader type.
	Type() GraderType
}

// GraderFactory creates graders of different types.
type GraderFactory struct{}

// NewGraderFactory creates a new grader factory.
func NewGraderFactory() *GraderFactory {
	return &GraderFactory{}
}

// GetGrader returns a grader for the given type.
func (f *GraderFactory) GetGrader(graderType GraderType) (Grader, error) {
	switch graderType {
	case GraderTypeTokenMatch:
		return &TokenMatchGrader{}, nil
	case GraderTypeTextMatch:
		return &TextMatchGrader{}, nil
	case GraderTypeRegex:
		return &RegexGrader{}, nil
	case GraderTypeJSONSchema:
		return &JSONSchemaGrader{}, nil
	case GraderTypeMinScore:
		return &MinScoreGrader{}, nil
	default:
		return nil, fmt.Errorf("unknown grader type: %s", graderType)
	}
}

func noRecord(t GraderType) *GradeResult {
	return &GradeResult{
		GraderType: t,
		Passed:     false,
		Score:      0,
		Feedback:   "No decode record available",
	}
}

// TokenMatchGrader compares the decoded word sequence against an expected
// sequence. The score is the fraction of positions that agree; passing
// requires full equality.
type TokenMatchGrader struct{}

func (g *TokenMatchGrader) Type() GraderType {
	return GraderTypeTokenMatch
}

func (g *TokenMatchGrader) Grade(ctx context.Context, task *Task, trial *Trial, config *GraderConfig) (*GradeResult, error) {
	if trial.Record == nil {
		return noRecord(g.Type()), nil
	}

	expected := stringList(config.Config["expected"])
	if len(expected) == 0 {
		return &GradeResult{
			GraderType: g.Type(),
			Passed:     false,
			Score:      0,
			Feedback:   "No expected word sequence specified",
		}, nil
	}

	got := trial.Record.Words
	longest := len(expected)
	if len(got) > longest {
		longest = len(got)
	}
	agree := 0
	for i := 0; i < len(expected) && i < len(got); i++ {
		if expected[i] == got[i] {
			agree++
		}
	}

	passed := len(got) == len(expected) && agree == len(expected)
	return &GradeResult{
		GraderType: g.Type(),
		Passed:     passed,
		Score:      float64(agree) / float64(longest),
		Feedback:   fmt.Sprintf("Matched %d/%d positions", agree, longest),
		Details: map[string]interface{}{
			"expected": expected,
			"got":      got,
		},
	}, nil
}

// TextMatchGrader checks the detokenized output text for a match.
type TextMatchGrader struct{}

func (g *TextMatchGrader) Type() GraderType {
	return GraderTypeTextMatch
}

func (g *TextMatchGrader) Grade(ctx context.Context, task *Task, trial *Trial, config *GraderConfig) (*GradeResult, error) {
	if trial.Record == nil {
		return noRecord(g.Type()), nil
	}

	output := trial.Record.Text
	expected, _ := config.Config["expected"].(string)
	matchTypeStr, _ := config.Config["match_type"].(string)
	if matchTypeStr == "" {
		matchTypeStr = "contains"
	}
	matchType := MatchType(matchTypeStr)

	var matched bool
	switch matchType {
	case MatchTypeExact:
		matched = output == expected
	case MatchTypePrefix:
		matched = strings.HasPrefix(output, expected)
	case MatchTypeSuffix:
		matched = strings.HasSuffix(output, expected)
	default:
		matched = strings.Contains(output, expected)
	}

	score := 0.0
	if matched {
		score = 1.0
	}

	return &GradeResult{
		GraderType: g.Type(),
		Passed:     matched,
		Score:      score,
		Feedback:   fmt.Sprintf("Text match (%s): %v", matchType, matched),
		Details: map[string]interface{}{
			"match_type": matchType,
			"expected":   expected,
		},
	}, nil
}

// RegexGrader checks the output text against regex patterns.
type RegexGrader struct{}

func (g *RegexGrader) Type() GraderType {
	return GraderTypeRegex
}

func (g *RegexGrader) Grade(ctx context.Context, task *Task, trial *Trial, config *GraderConfig) (*GradeResult, error) {
	if trial.Record == nil {
		return noRecord(g.Type()), nil
	}

	output := trial.Record.Text

	var patterns []string
	if p, ok := config.Config["pattern"].(string); ok && p != "" {
		patterns = append(patterns, p)
	}
	patterns = append(patterns, config.Patterns...)

	if len(patterns) == 0 {
		return &GradeResult{
			GraderType: g.Type(),
			Passed:     false,
			Score:      0,
			Feedback:   "No regex patterns specified",
		}, nil
	}

	matches := make(map[string]bool)
	matchCount := 0
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return &GradeResult{
				GraderType: g.Type(),
				Passed:     false,
				Score:      0,
				Feedback:   fmt.Sprintf("Invalid regex pattern: %s", err),
				Error:      err.Error(),
			}, nil
		}
		matched := re.MatchString(output)
		matches[pattern] = matched
		if matched {
			matchCount++
		}
	}

	return &GradeResult{
		GraderType: g.Type(),
		Passed:     matchCount == len(patterns),
		Score:      float64(matchCount) / float64(len(patterns)),
		Feedback:   fmt.Sprintf("Matched %d/%d patterns", matchCount, len(patterns)),
		Details: map[string]interface{}{
			"pattern_results": matches,
		},
	}, nil
}

// JSONSchemaGrader validates the serialized decode record against a JSON
// schema from the grader config.
type JSONSchemaGrader struct{}

func (g *JSONSchemaGrader) Type() GraderType {
	return GraderTypeJSONSchema
}

func (g *JSONSchemaGrader) Grade(ctx context.Context, task *Task, trial *Trial, config *GraderConfig) (*GradeResult, error) {
	if trial.Record == nil {
		return noRecord(g.Type()), nil
	}

	schema, ok := config.Config["schema"]
	if !ok {
		return &GradeResult{
			GraderType: g.Type(),
			Passed:     false,
			Score:      0,
			Feedback:   "No schema specified in config",
		}, nil
	}

	doc, err := json.Marshal(trial.Record)
	if err != nil {
		return nil, fmt.Errorf("marshal decode record: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return &GradeResult{
			GraderType: g.Type(),
			Passed:     false,
			Score:      0,
			Feedback:   fmt.Sprintf("Schema validation error: %s", err),
			Error:      err.Error(),
		}, nil
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return &GradeResult{
			GraderType: g.Type(),
			Passed:     false,
			Score:      0,
			Feedback:   fmt.Sprintf("Schema validation failed: %s", strings.Join(errs, "; ")),
			Details: map[string]interface{}{
				"validation_errors": errs,
			},
		}, nil
	}

	return &GradeResult{
		GraderType: g.Type(),
		Passed:     true,
		Score:      1.0,
		Feedback:   "Record validates against schema",
	}, nil
}

// MinScoreGrader checks that the winning hypothesis clears a minimum
// average log probability.
type MinScoreGrader struct{}

func (g *MinScoreGrader) Type() GraderType {
	return GraderTypeMinScore
}

func (g *MinScoreGrader) Grade(ctx context.Context, task *Task, trial *Trial, config *GraderConfig) (*GradeResult, error) {
	if trial.Record == nil {
		return noRecord(g.Type()), nil
	}

	threshold, ok := toFloat(config.Config["min_avg_log_prob"])
	if !ok {
		return &GradeResult{
			GraderType: g.Type(),
			Passed:     false,
			Score:      0,
			Feedback:   "No min_avg_log_prob specified",
		}, nil
	}

	got := trial.Record.AvgLogProb
	passed := got >= threshold
	score := 0.0
	if passed {
		score = 1.0
	}

	return &GradeResult{
		GraderType: g.Type(),
		Passed:     passed,
		Score:      score,
		Feedback:   fmt.Sprintf("avg log prob %.4f vs threshold %.4f", got, threshold),
		Details: map[string]interface{}{
			"avg_log_prob": got,
			"threshold":    threshold,
		},
	}, nil
}

// CompositeScore computes the weighted score across grade results and
// whether all required graders passed.
func CompositeScore(results []*GradeResult, configs []GraderConfig) (float64, bool) {
	if len(results) == 0 {
		return 0, false
	}

	totalWeight := 0.0
	weightedSum := 0.0
	allPassed := true

	for i, result := range results {
		weight := 1.0
		if i < len(configs) && configs[i].Weight > 0 {
			weight = configs[i].Weight
		}

		totalWeight += weight
		weightedSum += result.Score * weight

		if i < len(configs) && configs[i].Required && !result.Passed {
			allPassed = false
		}
	}

	if totalWeight == 0 {
		return 0, false
	}

	return weightedSum / totalWeight, allPassed
}

// stringList coerces a decoded YAML/JSON list into strings.
func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toFloat coerces the numeric types YAML and JSON decoding produce.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
