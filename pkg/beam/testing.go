package beam

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/soypete/beamdecode/pkg/model"
)

// ScriptedModel is a deterministic model.Model that plays back a fixed
// per-step token distribution. Every live hypothesis sees the same
// distribution at a given step, which is enough to drive the search through
// any branching, completion, or repetition scenario without a neural model.
// It backs the package tests, the eval harness fixtures, and the demo
// server.
type ScriptedModel struct {
	// VocabSize is the in-vocabulary id range; MaxOOVs widens the output
	// space for pointer-style ids.
	VocabSize int
	MaxOOVs   int

	// SourceLen sizes attention and coverage vectors.
	SourceLen int

	// HiddenDim sizes decoder output vectors.
	HiddenDim int

	// NumCandidates is how many top slots each step returns per
	// hypothesis; a Searcher expects 2*BeamWidth.
	NumCandidates int

	// Steps holds one distribution per decode step over the extended
	// output space (VocabSize+MaxOOVs slots). Values need not sum to 1.
	// When the search runs past the script, the last step repeats.
	Steps [][]float64

	// EmitDecoderOutputs and EmitEncoderMasks control the optional
	// per-step outputs.
	EmitDecoderOutputs bool
	EmitEncoderMasks   bool

	// FailAtStep, when >= 0, makes that DecodeOneStep call fail.
	FailAtStep int

	// BeamSizes records the batched beam size of every step call, in
	// order. Read it after a search to assert the batching invariant.
	BeamSizes []int

	step int
}

// NewScriptedModel builds a scripted model with failure injection disabled.
func NewScriptedModel(vocabSize, sourceLen, numCandidates int, steps [][]float64) *ScriptedModel {
	return &ScriptedModel{
		VocabSize:     vocabSize,
		SourceLen:     sourceLen,
		HiddenDim:     4,
		NumCandidates: numCandidates,
		Steps:         steps,
		FailAtStep:    -1,
	}
}

// Reset clears the per-search call state so the model can be replayed.
func (m *ScriptedModel) Reset() {
	m.step = 0
	m.BeamSizes = nil
}

// RunEncoder returns fixed encoder states and a fresh initial state.
func (m *ScriptedModel) RunEncoder(ctx context.Context, batch *model.Batch) (*model.EncoderOutput, error) {
	states := make([][]float64, m.SourceLen)
	for i := range states {
		states[i] = make([]float64, m.HiddenDim)
	}
	return &model.EncoderOutput{
		States:       states,
		InitialState: &ScriptedState{},
	}, nil
}

// DecodeOneStep returns the scripted distribution's top candidates for
// every hypothesis in the input.
func (m *ScriptedModel) DecodeOneStep(ctx context.Context, in *model.StepInput) (*model.StepOutput, error) {
	step := m.step
	m.step++
	m.BeamSizes = append(m.BeamSizes, len(in.LatestTokens))

	if m.FailAtStep >= 0 && step == m.FailAtStep {
		return nil, fmt.Errorf("scripted failure at step %d", step)
	}
	if len(m.Steps) == 0 {
		return nil, fmt.Errorf("scripted model has no steps")
	}

	dist := m.Steps[len(m.Steps)-1]
	if step < len(m.Steps) {
		dist = m.Steps[step]
	}

	beamSize := len(in.LatestTokens)
	out := &model.StepOutput{
		TopIDs:      make([][]int, beamSize),
		TopLogProbs: make([][]float64, beamSize),
		NewStates:   make([]model.DecoderState, beamSize),
		AttnDists:   make([][]float64, beamSize),
		FinalDists:  make([][]float64, beamSize),
		GenProbs:    make([]float64, beamSize),
		NewCoverage: make([][]float64, beamSize),
	}
	if m.EmitDecoderOutputs {
		out.DecoderOutputs = make([][]float64, beamSize)
	}
	if m.EmitEncoderMasks {
		out.EncoderMasks = make([][]float64, beamSize)
	}

	ids, logProbs := topCandidates(dist, m.NumCandidates)
	attn := uniformDist(m.SourceLen)

	for i := 0; i < beamSize; i++ {
		out.TopIDs[i] = append([]int(nil), ids...)
		out.TopLogProbs[i] = append([]float64(nil), logProbs...)
		out.NewStates[i] = &ScriptedState{Step: step + 1}
		out.AttnDists[i] = attn
		out.FinalDists[i] = append([]float64(nil), dist...)
		out.GenProbs[i] = 0.5
		out.NewCoverage[i] = addVecs(in.PrevCoverage[i], attn)
		if out.DecoderOutputs != nil {
			vec := make([]float64, m.HiddenDim)
			vec[0] = float64(step + 1)
			out.DecoderOutputs[i] = vec
		}
		if out.EncoderMasks != nil {
			out.EncoderMasks[i] = uniformDist(m.SourceLen)
		}
	}
	return out, nil
}

// ScriptedState is a trivially cloneable decoder state.
type ScriptedState struct {
	Step int
}

// Clone returns an independent copy.
func (s *ScriptedState) Clone() model.DecoderState {
	c := *s
	return &c
}

// ScriptedEstimator is a deterministic model.ValueEstimator returning the
// same in-vocabulary estimate row for every hypothesis.
type ScriptedEstimator struct {
	// Estimates covers the in-vocabulary id space.
	Estimates []float64

	// Err, when set, is returned from every call.
	Err error
}

// Estimate returns one copy of Estimates per decoder output row.
func (e *ScriptedEstimator) Estimate(ctx context.Context, decoderOutputs [][]float64) ([][]float64, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	rows := make([][]float64, len(decoderOutputs))
	for i := range rows {
		rows[i] = append([]float64(nil), e.Estimates...)
	}
	return rows, nil
}

// topCandidates returns the ids and log-probs of the k largest entries,
// ties in ascending id order.
func topCandidates(dist []float64, k int) ([]int, []float64) {
	idx := make([]int, len(dist))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return dist[idx[a]] > dist[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}

	var sum float64
	for _, p := range dist {
		sum += p
	}
	if sum <= 0 {
		sum = 1
	}

	ids := make([]int, k)
	logProbs := make([]float64, k)
	for i := 0; i < k; i++ {
		ids[i] = idx[i]
		logProbs[i] = math.Log(math.Max(dist[idx[i]]/sum, 1e-300))
	}
	return ids, logProbs
}

func uniformDist(n int) []float64 {
	v := make([]float64, n)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = 1 / float64(n)
	}
	return v
}

func addVecs(a, b []float64) []float64 {
	out := make([]float64, len(b))
	copy(out, b)
	for i := 0; i < len(a) && i < len(out); i++ {
		out[i] = a[i] + b[i]
	}
	return out
}
