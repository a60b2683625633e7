package beam

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/soypete/beamdecode/pkg/model"
)

// expand runs one decode step for the live beam and returns every candidate
// extension, unranked and untruncated. Exactly one model call is issued per
// step regardless of beam size.
func (s *Searcher) expand(ctx context.Context, hyps []*Hypothesis, enc *model.EncoderOutput, batch *model.Batch, step int) ([]*Hypothesis, error) {
	in := s.buildStepInput(hyps, enc)

	out, err := s.model.DecodeOneStep(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("decode step %d: %w", step, err)
	}
	if err := checkStepShapes(out, len(hyps), 2*s.cfg.BeamWidth); err != nil {
		return nil, fmt.Errorf("decode step %d: %w", step, err)
	}

	if s.cfg.UseValueBlend {
		if err := s.blendValueEstimates(ctx, out, batch); err != nil {
			return nil, fmt.Errorf("decode step %d: %w", step, err)
		}
	}

	// The initial beam is beamWidth copies of one hypothesis; expanding
	// more than the first on step 0 would only produce duplicates.
	numOrig := len(hyps)
	if step == 0 {
		numOrig = 1
	}

	numCands := 2 * s.cfg.BeamWidth
	all := make([]*Hypothesis, 0, numOrig*numCands)
	for i := 0; i < numOrig; i++ {
		h := hyps[i]
		var decoderOutput, encoderMask []float64
		if s.cfg.UseDecoderFeedback && out.DecoderOutputs != nil {
			decoderOutput = out.DecoderOutputs[i]
		}
		if s.cfg.UseEncoderMaskFeedback && out.EncoderMasks != nil {
			encoderMask = out.EncoderMasks[i]
		}
		for j := 0; j < numCands; j++ {
			all = append(all, h.Extend(Extension{
				Token:         out.TopIDs[i][j],
				LogProb:       out.TopLogProbs[i][j],
				State:         out.NewStates[i].Clone(),
				DecoderOutput: decoderOutput,
				EncoderMask:   encoderMask,
				AttnDist:      out.AttnDists[i],
				GenProb:       out.GenProbs[i],
				Coverage:      out.NewCoverage[i],
			}, s.cfg.AvoidTrigramRepeats))
		}
	}
	return all, nil
}

// buildStepInput gathers per-hypothesis state into one batched model call.
// Batch-local OOV ids are replaced with the unknown-token id on the way in;
// the original ids remain on the hypotheses for emission.
func (s *Searcher) buildStepInput(hyps []*Hypothesis, enc *model.EncoderOutput) *model.StepInput {
	unkID := s.vocab.WordToID(model.UnknownToken)
	vocabSize := s.vocab.Size()

	in := &model.StepInput{
		LatestTokens:  make([]int, len(hyps)),
		EncoderStates: enc.States,
		States:        make([]model.DecoderState, len(hyps)),
		PrevCoverage:  make([][]float64, len(hyps)),
	}
	if s.cfg.UseDecoderFeedback {
		in.PrevOutputs = make([][][]float64, len(hyps))
	}
	if s.cfg.UseEncoderMaskFeedback {
		in.PrevMasks = make([][][]float64, len(hyps))
	}

	for i, h := range hyps {
		t := h.LatestToken()
		if t < 0 || t >= vocabSize {
			t = unkID
		}
		in.LatestTokens[i] = t
		in.States[i] = h.State
		in.PrevCoverage[i] = h.Coverage
		if in.PrevOutputs != nil {
			in.PrevOutputs[i] = h.OutputHistory
		}
		if in.PrevMasks != nil {
			in.PrevMasks[i] = h.MaskHistory
		}
	}
	return in
}

// blendValueEstimates replaces the model's top-k selection with the top-k
// of the elementwise product of the model's full distribution and the value
// estimator's distribution, both L1-normalized. Ties keep ascending index
// order. Log-probs are recomputed from the blended probability, clamped at
// ProbFloor so a zeroed-out product stays finite.
func (s *Searcher) blendValueEstimates(ctx context.Context, out *model.StepOutput, batch *model.Batch) error {
	if out.DecoderOutputs == nil {
		return fmt.Errorf("value blend: model produced no decoder outputs")
	}

	estimates, err := s.estimator.Estimate(ctx, out.DecoderOutputs)
	if err != nil {
		return fmt.Errorf("value estimator: %w", err)
	}
	if len(estimates) != len(out.FinalDists) {
		return fmt.Errorf("value estimator: got %d rows, want %d", len(estimates), len(out.FinalDists))
	}

	unkID := s.vocab.WordToID(model.UnknownToken)
	numCands := 2 * s.cfg.BeamWidth

	for i, dist := range out.FinalDists {
		est := widenWithOOVs(estimates[i], unkID, batch.MaxOOVs)
		if len(est) != len(dist) {
			return fmt.Errorf("value estimator: row %d has %d slots, want %d", i, len(est), len(dist))
		}

		l1Normalize(est, s.cfg.NormEpsilon)
		distNorm := copyVec(dist)
		l1Normalize(distNorm, s.cfg.NormEpsilon)

		combined := make([]float64, len(dist))
		for j := range combined {
			combined[j] = distNorm[j] * est[j]
		}
		l1Normalize(combined, s.cfg.NormEpsilon)

		top := topIndices(combined, numCands)
		ids := make([]int, len(top))
		logProbs := make([]float64, len(top))
		for j, id := range top {
			ids[j] = id
			logProbs[j] = math.Log(math.Max(combined[id], s.cfg.ProbFloor))
		}
		out.TopIDs[i] = ids
		out.TopLogProbs[i] = logProbs
	}
	return nil
}

// widenWithOOVs extends an in-vocabulary estimate row with extra slots for
// batch-local OOV ids, each carrying the unknown-token estimate.
func widenWithOOVs(est []float64, unkID, maxOOVs int) []float64 {
	out := make([]float64, len(est)+maxOOVs)
	copy(out, est)
	var unkEst float64
	if unkID >= 0 && unkID < len(est) {
		unkEst = est[unkID]
	}
	for i := len(est); i < len(out); i++ {
		out[i] = unkEst
	}
	return out
}

// l1Normalize scales v in place so it sums to 1. eps guards zero-sum rows.
func l1Normalize(v []float64, eps float64) {
	var sum float64
	for _, x := range v {
		sum += math.Abs(x)
	}
	sum += eps
	for i := range v {
		v[i] /= sum
	}
}

// topIndices returns the indices of the k largest values, best first. Equal
// values keep ascending index order.
func topIndices(v []float64, k int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return v[idx[a]] > v[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}

// checkStepShapes verifies every per-hypothesis slice in a step result
// matches the live beam size and candidate count. A malformed result
// invalidates the whole beam's bookkeeping, so it is surfaced, not patched.
func checkStepShapes(out *model.StepOutput, beamSize, numCands int) error {
	if len(out.TopIDs) != beamSize || len(out.TopLogProbs) != beamSize {
		return fmt.Errorf("model returned %d candidate rows, want %d", len(out.TopIDs), beamSize)
	}
	for i := range out.TopIDs {
		if len(out.TopIDs[i]) < numCands || len(out.TopLogProbs[i]) < numCands {
			return fmt.Errorf("model returned %d candidates for hypothesis %d, want %d", len(out.TopIDs[i]), i, numCands)
		}
	}
	if len(out.NewStates) != beamSize {
		return fmt.Errorf("model returned %d states, want %d", len(out.NewStates), beamSize)
	}
	if len(out.AttnDists) != beamSize || len(out.NewCoverage) != beamSize {
		return fmt.Errorf("model returned %d attention rows, want %d", len(out.AttnDists), beamSize)
	}
	if len(out.GenProbs) != beamSize {
		return fmt.Errorf("model returned %d generation probs, want %d", len(out.GenProbs), beamSize)
	}
	if out.DecoderOutputs != nil && len(out.DecoderOutputs) != beamSize {
		return fmt.Errorf("model returned %d decoder outputs, want %d", len(out.DecoderOutputs), beamSize)
	}
	if out.EncoderMasks != nil && len(out.EncoderMasks) != beamSize {
		return fmt.Errorf("model returned %d encoder masks, want %d", len(out.EncoderMasks), beamSize)
	}
	return nil
}
