package beam

import (
	"context"
	"fmt"

	"github.com/soypete/beamdecode/pkg/model"
)

const (
	startWord = model.StartToken
	stopWord  = model.StopToken
)

// Searcher runs beam search decoding against an injected model. A Searcher
// is safe to reuse across examples; each Search invocation owns its beam,
// coverage vectors, and state handles exclusively, so independent searches
// may run in parallel on separate Searchers or on the same one.
type Searcher struct {
	cfg       *Config
	model     model.Model
	estimator model.ValueEstimator
	vocab     model.Vocabulary

	// onStep, when set, observes the beam after every step. Reporting
	// only; it cannot influence the search.
	onStep StepFunc
}

// StepEvent is a per-step snapshot for progress reporting.
type StepEvent struct {
	Step           int     `json:"step"`
	BeamSize       int     `json:"beam_size"`
	BestAvgLogProb float64 `json:"best_avg_log_prob"`
	Completed      int     `json:"completed"`
}

// StepFunc receives step snapshots during a search.
type StepFunc func(ev StepEvent)

// NewSearcher validates cfg and builds a Searcher. est may be nil unless
// cfg.UseValueBlend is set.
func NewSearcher(cfg *Config, m model.Model, v model.Vocabulary, est model.ValueEstimator) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	if cfg.UseValueBlend && est == nil {
		return nil, fmt.Errorf("invalid search config: value blend enabled without an estimator")
	}
	return &Searcher{
		cfg:       cfg.withFloors(),
		model:     m,
		vocab:     v,
		estimator: est,
	}, nil
}

// Config returns a copy of the searcher's effective configuration.
func (s *Searcher) Config() *Config {
	return s.cfg.Clone()
}

// SetStepFunc installs a per-step observer. Call before Search.
func (s *Searcher) SetStepFunc(fn StepFunc) {
	s.onStep = fn
}

// Result is the outcome of one search invocation.
type Result struct {
	// Best is the chosen hypothesis: the highest average log probability
	// among completed hypotheses, or among the final beam when nothing
	// completed within MaxSteps.
	Best *Hypothesis

	// Pool holds the full final pool Best was chosen from, ranked by
	// descending average log probability. Best is Pool[0].
	Pool []*Hypothesis

	// Steps is the number of decode steps taken.
	Steps int

	// Completed is how many hypotheses finished with a stop token.
	Completed int
}

// Search decodes one example. The encoder runs once, then the step loop
// runs until MaxSteps or until BeamWidth hypotheses have completed. Model
// and estimator failures propagate unrecovered: a missing step output
// invalidates the whole beam, so there is nothing to retry or degrade to.
func (s *Searcher) Search(ctx context.Context, batch *model.Batch) (*Result, error) {
	enc, err := s.model.RunEncoder(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("run encoder: %w", err)
	}

	hyps := s.initialBeam(enc, batch)
	results := make([]*Hypothesis, 0, s.cfg.BeamWidth)

	steps := 0
	for steps < s.cfg.MaxSteps && len(results) < s.cfg.BeamWidth {
		all, err := s.expand(ctx, hyps, enc, batch, steps)
		if err != nil {
			return nil, err
		}

		var completed []*Hypothesis
		hyps, completed = s.selectNext(all, steps)
		results = append(results, completed...)
		steps++

		if s.onStep != nil {
			ev := StepEvent{Step: steps, BeamSize: len(hyps), Completed: len(results)}
			if len(hyps) > 0 {
				ev.BestAvgLogProb = hyps[0].AvgLogProb()
			}
			s.onStep(ev)
		}
	}

	// Nothing completed: fall back to the live, unfinished beam rather
	// than surfacing an error.
	completed := len(results)
	if len(results) == 0 {
		results = hyps
	}

	sortByAvgLogProb(results)
	if len(results) == 0 {
		return nil, fmt.Errorf("search ended with no hypotheses")
	}
	return &Result{Best: results[0], Pool: results, Steps: steps, Completed: completed}, nil
}

// initialBeam builds BeamWidth identical start hypotheses. Each copy gets
// an independent state clone and its own zero coverage and feedback seeds.
func (s *Searcher) initialBeam(enc *model.EncoderOutput, batch *model.Batch) []*Hypothesis {
	startID := s.vocab.WordToID(startWord)

	hyps := make([]*Hypothesis, s.cfg.BeamWidth)
	for i := range hyps {
		h := &Hypothesis{
			Tokens:   []int{startID},
			LogProbs: []float64{0},
			State:    enc.InitialState.Clone(),
			Coverage: make([]float64, batch.SourceLen),
		}
		if s.cfg.UseDecoderFeedback {
			h.OutputHistory = [][]float64{make([]float64, decoderSeedDim(enc))}
		}
		if s.cfg.UseEncoderMaskFeedback {
			h.MaskHistory = [][]float64{make([]float64, batch.SourceLen)}
		}
		hyps[i] = h
	}
	return hyps
}

// decoderSeedDim sizes the zero vector that seeds the decoder-output
// history, matching the encoder state width when available.
func decoderSeedDim(enc *model.EncoderOutput) int {
	if len(enc.States) > 0 {
		return len(enc.States[0])
	}
	return 0
}
