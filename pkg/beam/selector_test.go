package beam

import (
	"testing"

	"github.com/soypete/beamdecode/pkg/model"
)

// testVocab has ids PAD=0 UNK=1 START=2 STOP=3 and a..f at 4..9.
func testVocab() *model.Vocab {
	return model.NewVocab([]string{"a", "b", "c", "d", "e", "f"})
}

func testSearcher(t *testing.T, cfg *Config) *Searcher {
	t.Helper()
	m := NewScriptedModel(10, 3, 2*cfg.BeamWidth, nil)
	s, err := NewSearcher(cfg, m, testVocab(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func hypWith(tokens []int, avg float64) *Hypothesis {
	logProbs := make([]float64, len(tokens))
	// Spread the target average across the positions.
	for i := range logProbs {
		logProbs[i] = avg
	}
	return &Hypothesis{Tokens: tokens, LogProbs: logProbs, State: &ScriptedState{}}
}

func TestSelectNextOrdersByAvgLogProb(t *testing.T) {
	s := testSearcher(t, &Config{BeamWidth: 2, MaxSteps: 10})

	cands := []*Hypothesis{
		hypWith([]int{2, 4}, -3),
		hypWith([]int{2, 5}, -1),
		hypWith([]int{2, 6}, -2),
		hypWith([]int{2, 7}, -4),
	}

	next, completed := s.selectNext(cands, 0)
	if len(completed) != 0 {
		t.Fatalf("expected no completions, got %d", len(completed))
	}
	if len(next) != 2 {
		t.Fatalf("expected beam of 2, got %d", len(next))
	}
	if next[0].LatestToken() != 5 || next[1].LatestToken() != 6 {
		t.Errorf("beam not in score order: got tokens %d, %d", next[0].LatestToken(), next[1].LatestToken())
	}
}

func TestSelectNextRoutesStopToResults(t *testing.T) {
	s := testSearcher(t, &Config{BeamWidth: 2, MaxSteps: 10, MinSteps: 0})

	cands := []*Hypothesis{
		hypWith([]int{2, 4, 3}, -1), // stop, best
		hypWith([]int{2, 5, 6}, -2),
		hypWith([]int{2, 5, 7}, -3),
	}

	next, completed := s.selectNext(cands, 2)
	if len(completed) != 1 || completed[0].LatestToken() != 3 {
		t.Fatalf("expected one completed stop hypothesis, got %d", len(completed))
	}
	if len(next) != 2 {
		t.Errorf("expected beam of 2, got %d", len(next))
	}
}

func TestSelectNextDiscardsPrematureStop(t *testing.T) {
	s := testSearcher(t, &Config{BeamWidth: 4, MaxSteps: 10, MinSteps: 3})

	cands := []*Hypothesis{
		hypWith([]int{2, 3}, -0.1), // stop at step 1: too early
		hypWith([]int{2, 4}, -1),
		hypWith([]int{2, 5}, -2),
	}

	next, completed := s.selectNext(cands, 1)
	if len(completed) != 0 {
		t.Fatalf("premature stop must be discarded, got %d completions", len(completed))
	}
	if len(next) != 2 {
		t.Fatalf("expected 2 continuing hypotheses, got %d", len(next))
	}
	for _, h := range next {
		if h.LatestToken() == 3 {
			t.Error("premature stop hypothesis leaked into the beam")
		}
	}
}

func TestSelectNextBreaksWhenBeamFull(t *testing.T) {
	s := testSearcher(t, &Config{BeamWidth: 2, MaxSteps: 10, MinSteps: 0})

	// Two continuations outrank a completion; once the beam is full the
	// scan stops and the lower-ranked stop candidate is discarded.
	cands := []*Hypothesis{
		hypWith([]int{2, 4}, -1),
		hypWith([]int{2, 5}, -2),
		hypWith([]int{2, 3}, -3), // stop below the cutoff
	}

	next, completed := s.selectNext(cands, 5)
	if len(next) != 2 {
		t.Fatalf("expected full beam of 2, got %d", len(next))
	}
	if len(completed) != 0 {
		t.Errorf("stop candidate below the beam cutoff must be discarded, got %d completions", len(completed))
	}
}

func TestSelectNextBreaksWhenResultsFull(t *testing.T) {
	s := testSearcher(t, &Config{BeamWidth: 1, MaxSteps: 10, MinSteps: 0})

	// The top-ranked candidate is a completion, so results fills before
	// anything enters the beam and the scan stops there.
	cands := []*Hypothesis{
		hypWith([]int{2, 3}, -0.25),
		hypWith([]int{2, 4}, -1),
		hypWith([]int{2, 5}, -2),
	}

	next, completed := s.selectNext(cands, 5)
	if len(completed) != 1 || completed[0].LatestToken() != 3 {
		t.Fatalf("expected one completion, got %v", tokensOf(completed))
	}
	if len(next) != 0 {
		t.Errorf("scan should have broken with an empty beam, got %v", tokensOf(next))
	}
}

func TestSortStability(t *testing.T) {
	a := hypWith([]int{2, 4}, -1)
	b := hypWith([]int{2, 5}, -1)
	hyps := []*Hypothesis{a, b}
	sortByAvgLogProb(hyps)
	if hyps[0] != a || hyps[1] != b {
		t.Error("equal scores must keep insertion order")
	}
}

func tokensOf(hyps []*Hypothesis) [][]int {
	out := make([][]int, len(hyps))
	for i, h := range hyps {
		out[i] = h.Tokens
	}
	return out
}
