package evals

import (
	"context"
	"testing"
)

func recordTrial(rec *RunRecord) *Trial {
	return &Trial{ID: "t", TaskID: "task", Record: rec}
}

func TestTokenMatchGrader(t *testing.T) {
	g := &TokenMatchGrader{}
	trial := recordTrial(&RunRecord{Words: []string{"the", "cat", "sat"}})

	res, err := g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{
			"expected": []interface{}{"the", "cat", "sat"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed || res.Score != 1.0 {
		t.Errorf("exact sequence should pass with full score, got passed=%v score=%f", res.Passed, res.Score)
	}

	res, err = g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{
			"expected": []interface{}{"the", "dog", "sat"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Error("mismatched sequence should not pass")
	}
	if res.Score <= 0.6 || res.Score >= 0.7 {
		t.Errorf("expected partial score ~2/3, got %f", res.Score)
	}
}

func TestTokenMatchGraderNoExpected(t *testing.T) {
	g := &TokenMatchGrader{}
	res, err := g.Grade(context.Background(), &Task{}, recordTrial(&RunRecord{}), &GraderConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Error("missing expected sequence should fail")
	}
}

func TestTextMatchGrader(t *testing.T) {
	g := &TextMatchGrader{}
	trial := recordTrial(&RunRecord{Text: "the cat sat"})

	cases := []struct {
		matchType string
		expected  string
		want      bool
	}{
		{"exact", "the cat sat", true},
		{"exact", "the cat", false},
		{"contains", "cat", true},
		{"prefix", "the", true},
		{"suffix", "sat", true},
		{"", "cat sat", true}, // defaults to contains
	}
	for _, tc := range cases {
		res, err := g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
			Config: map[string]interface{}{
				"expected":   tc.expected,
				"match_type": tc.matchType,
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Passed != tc.want {
			t.Errorf("match_type %q expected %q: passed=%v, want %v", tc.matchType, tc.expected, res.Passed, tc.want)
		}
	}
}

func TestRegexGrader(t *testing.T) {
	g := &RegexGrader{}
	trial := recordTrial(&RunRecord{Text: "germany beat argentina 2-0"})

	res, err := g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Patterns: []string{`\d-\d`, `^germany`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed || res.Score != 1.0 {
		t.Errorf("both patterns match, got passed=%v score=%f", res.Passed, res.Score)
	}

	res, err = g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Patterns: []string{`^germany`, `brazil`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Error("partial pattern match should not pass")
	}
	if res.Score != 0.5 {
		t.Errorf("expected score 0.5, got %f", res.Score)
	}

	res, err = g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Patterns: []string{`[`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed || res.Error == "" {
		t.Error("invalid pattern should fail with an error message")
	}
}

func TestJSONSchemaGrader(t *testing.T) {
	g := &JSONSchemaGrader{}
	trial := recordTrial(&RunRecord{
		Tokens:     []int{2, 4, 3},
		Words:      []string{"the"},
		Text:       "the",
		AvgLogProb: -0.5,
		Steps:      2,
		Completed:  1,
	})

	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"tokens", "text", "avg_log_prob"},
		"properties": map[string]interface{}{
			"avg_log_prob": map[string]interface{}{
				"type":    "number",
				"maximum": 0,
			},
			"steps": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
			},
		},
	}

	res, err := g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{"schema": schema},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Errorf("record should validate: %s", res.Feedback)
	}

	strict := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"steps": map[string]interface{}{
				"type":    "integer",
				"minimum": 10,
			},
		},
	}
	res, err = g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{"schema": strict},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Error("record should fail the strict schema")
	}
}

func TestMinScoreGrader(t *testing.T) {
	g := &MinScoreGrader{}
	trial := recordTrial(&RunRecord{AvgLogProb: -1.5})

	res, err := g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{"min_avg_log_prob": -2.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Error("score above threshold should pass")
	}

	res, err = g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{"min_avg_log_prob": -1.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Error("score below threshold should fail")
	}

	// YAML integer thresholds decode as int.
	res, err = g.Grade(context.Background(), &Task{}, trial, &GraderConfig{
		Config: map[string]interface{}{"min_avg_log_prob": -2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Error("integer threshold should be accepted")
	}
}

func TestGradersHandleMissingRecord(t *testing.T) {
	factory := NewGraderFactory()
	types := []GraderType{
		GraderTypeTokenMatch, GraderTypeTextMatch, GraderTypeRegex,
		GraderTypeJSONSchema, GraderTypeMinScore,
	}
	for _, gt := range types {
		g, err := factory.GetGrader(gt)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", gt, err)
		}
		res, err := g.Grade(context.Background(), &Task{}, &Trial{}, &GraderConfig{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", gt, err)
		}
		if res.Passed {
			t.Errorf("%s: trial without a record should not pass", gt)
		}
	}

	if _, err := factory.GetGrader("bogus"); err == nil {
		t.Error("unknown grader type accepted")
	}
}

func TestCompositeScore(t *testing.T) {
	results := []*GradeResult{
		{Passed: true, Score: 1.0},
		{Passed: false, Score: 0.5},
	}
	configs := []GraderConfig{
		{Weight: 3},
		{Weight: 1},
	}

	score, passed := CompositeScore(results, configs)
	if want := (3*1.0 + 1*0.5) / 4; score != want {
		t.Errorf("weighted score = %f, want %f", score, want)
	}
	if !passed {
		t.Error("no required grader failed, should pass")
	}

	configs[1].Required = true
	if _, passed := CompositeScore(results, configs); passed {
		t.Error("failed required grader should fail the trial")
	}

	if score, passed := CompositeScore(nil, nil); score != 0 || passed {
		t.Error("empty results should score zero and fail")
	}
}
