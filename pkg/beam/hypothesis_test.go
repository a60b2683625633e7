package beam

import (
	"math"
	"testing"

	"github.com/soypete/beamdecode/pkg/model"
)

func TestExtendAppendsTokenAndLogProb(t *testing.T) {
	h := &Hypothesis{
		Tokens:   []int{2, 4},
		LogProbs: []float64{0, -0.5},
		State:    &ScriptedState{},
		Coverage: []float64{0.1, 0.2},
	}

	next := h.Extend(Extension{
		Token:    5,
		LogProb:  -0.25,
		State:    &ScriptedState{Step: 1},
		AttnDist: []float64{0.6, 0.4},
		GenProb:  0.9,
		Coverage: []float64{0.7, 0.6},
	}, false)

	if got, want := len(next.Tokens), 3; got != want {
		t.Fatalf("expected %d tokens, got %d", want, got)
	}
	if next.LatestToken() != 5 {
		t.Errorf("expected latest token 5, got %d", next.LatestToken())
	}
	if len(next.LogProbs) != len(next.Tokens) {
		t.Errorf("log probs length %d does not match tokens length %d", len(next.LogProbs), len(next.Tokens))
	}
	if got, want := next.LogProb(), -0.75; math.Abs(got-want) > 1e-12 {
		t.Errorf("expected total log prob %f, got %f", want, got)
	}
	if got, want := next.AvgLogProb(), -0.25; math.Abs(got-want) > 1e-12 {
		t.Errorf("expected avg log prob %f, got %f", want, got)
	}
}

func TestExtendDoesNotMutateParent(t *testing.T) {
	h := &Hypothesis{
		Tokens:   []int{2},
		LogProbs: []float64{0},
		State:    &ScriptedState{},
		Coverage: []float64{0, 0},
	}

	cov := []float64{0.5, 0.5}
	a := h.Extend(Extension{Token: 4, LogProb: -1, State: &ScriptedState{}, Coverage: cov}, false)
	b := h.Extend(Extension{Token: 5, LogProb: -2, State: &ScriptedState{}, Coverage: cov}, false)

	if len(h.Tokens) != 1 || h.Tokens[0] != 2 {
		t.Fatalf("parent tokens mutated: %v", h.Tokens)
	}
	if a.Tokens[1] != 4 || b.Tokens[1] != 5 {
		t.Fatalf("siblings share token storage: %v vs %v", a.Tokens, b.Tokens)
	}

	// Coverage is copied, not aliased: mutating the source vector must
	// not reach either child.
	cov[0] = 99
	if a.Coverage[0] == 99 || b.Coverage[0] == 99 {
		t.Error("coverage aliased into extended hypothesis")
	}
}

func TestExtendOptionalHistories(t *testing.T) {
	h := &Hypothesis{Tokens: []int{2}, LogProbs: []float64{0}, State: &ScriptedState{}}

	withFeedback := h.Extend(Extension{
		Token:         4,
		State:         &ScriptedState{},
		DecoderOutput: []float64{1, 2},
		EncoderMask:   []float64{0, 1},
	}, false)
	if len(withFeedback.OutputHistory) != 1 || len(withFeedback.MaskHistory) != 1 {
		t.Errorf("expected histories of length 1, got %d and %d",
			len(withFeedback.OutputHistory), len(withFeedback.MaskHistory))
	}

	without := h.Extend(Extension{Token: 4, State: &ScriptedState{}}, false)
	if len(without.OutputHistory) != 0 || len(without.MaskHistory) != 0 {
		t.Errorf("expected empty histories when feedback inputs are absent, got %d and %d",
			len(without.OutputHistory), len(without.MaskHistory))
	}
}

func TestTrigramGuardMarksRepeat(t *testing.T) {
	// [2 4 5 6 4 5] + 6 repeats the (4,5,6) window.
	h := &Hypothesis{
		Tokens:   []int{2, 4, 5, 6, 4, 5},
		LogProbs: []float64{0, -1, -1, -1, -1, -1},
		State:    &ScriptedState{},
	}

	guarded := h.Extend(Extension{Token: 6, LogProb: -0.1, State: &ScriptedState{}}, true)
	last := guarded.LogProbs[len(guarded.LogProbs)-1]
	if !math.IsInf(last, -1) {
		t.Errorf("expected -Inf log prob at guarded position, got %f", last)
	}
	if !math.IsInf(guarded.AvgLogProb(), -1) {
		t.Error("guarded hypothesis should be unrankable")
	}

	// Same extension without the guard keeps the model's score.
	open := h.Extend(Extension{Token: 6, LogProb: -0.1, State: &ScriptedState{}}, false)
	if math.IsInf(open.LogProbs[len(open.LogProbs)-1], -1) {
		t.Error("guard applied while disabled")
	}

	// A fresh trigram passes even with the guard on.
	fresh := h.Extend(Extension{Token: 7, LogProb: -0.1, State: &ScriptedState{}}, true)
	if math.IsInf(fresh.LogProbs[len(fresh.LogProbs)-1], -1) {
		t.Error("guard fired on a non-repeating trigram")
	}
}

func TestHasRepeatedTrigram(t *testing.T) {
	cases := []struct {
		name   string
		tokens []int
		want   bool
	}{
		{"too short", []int{1, 2, 3}, false},
		{"no repeat", []int{1, 2, 3, 4, 5}, false},
		{"exact repeat", []int{1, 2, 3, 1, 2, 3}, true},
		{"overlapping repeat", []int{1, 1, 1, 1}, true},
		{"bigram repeat only", []int{1, 2, 1, 2}, false},
	}
	for _, tc := range cases {
		if got := hasRepeatedTrigram(tc.tokens); got != tc.want {
			t.Errorf("%s: hasRepeatedTrigram(%v) = %v, want %v", tc.name, tc.tokens, got, tc.want)
		}
	}
}

func TestAvgLogProbEmpty(t *testing.T) {
	h := &Hypothesis{}
	if !math.IsInf(h.AvgLogProb(), -1) {
		t.Error("empty hypothesis should rank below everything")
	}
}

var _ model.DecoderState = (*ScriptedState)(nil)
