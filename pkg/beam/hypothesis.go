// Package beam implements best-first beam search decoding over an external
// sequence model. A fixed-width pool of partial sequences is extended one
// token per step from the model's candidate distributions; completed
// sequences are ranked by length-normalized log probability.
package beam

import (
	"math"

	"github.com/soypete/beamdecode/pkg/model"
)

// Hypothesis is one candidate partial or complete output sequence together
// with the bookkeeping needed to extend it. A Hypothesis is never mutated
// after construction: Extend allocates a new one, and no slice or state
// handle is shared between a parent and its children.
type Hypothesis struct {
	// Tokens are the output token ids so far, starting with the start
	// token. Ids may fall in the batch-local OOV range.
	Tokens []int

	// LogProbs holds one entry per token: the log probability assigned to
	// that token when it was chosen, or -Inf where the trigram guard
	// fired.
	LogProbs []float64

	// State is the decoder state after producing the last token.
	// Exclusively owned by this hypothesis.
	State model.DecoderState

	// OutputHistory and MaskHistory are per-step feedback vectors,
	// retained only when the matching feedback toggle is on.
	OutputHistory [][]float64
	MaskHistory   [][]float64

	// AttnDists and GenProbs are per-step reporting values; they play no
	// part in ranking.
	AttnDists [][]float64
	GenProbs  []float64

	// Coverage is the cumulative attention over source positions,
	// replaced wholesale on each extension.
	Coverage []float64
}

// Extension carries everything a decode step contributes to one candidate.
// DecoderOutput and EncoderMask are nil when the matching feedback is
// disabled; the new hypothesis then keeps an empty history for that field.
type Extension struct {
	Token         int
	LogProb       float64
	State         model.DecoderState
	DecoderOutput []float64
	EncoderMask   []float64
	AttnDist      []float64
	GenProb       float64
	Coverage      []float64
}

// Extend returns a new Hypothesis with ext appended. When avoidTrigrams is
// set and the extended token sequence would contain a duplicated 3-gram,
// the step's log-prob is overridden to -Inf: the hypothesis stays in play
// but can no longer outrank any finite-scored alternative.
func (h *Hypothesis) Extend(ext Extension, avoidTrigrams bool) *Hypothesis {
	tokens := appendCopyInt(h.Tokens, ext.Token)

	logProb := ext.LogProb
	if avoidTrigrams && hasRepeatedTrigram(tokens) {
		logProb = math.Inf(-1)
	}

	next := &Hypothesis{
		Tokens:    tokens,
		LogProbs:  appendCopyFloat(h.LogProbs, logProb),
		State:     ext.State,
		AttnDists: appendCopyVec(h.AttnDists, copyVec(ext.AttnDist)),
		GenProbs:  appendCopyFloat(h.GenProbs, ext.GenProb),
		Coverage:  copyVec(ext.Coverage),
	}
	if ext.DecoderOutput != nil {
		next.OutputHistory = appendCopyVec(h.OutputHistory, copyVec(ext.DecoderOutput))
	}
	if ext.EncoderMask != nil {
		next.MaskHistory = appendCopyVec(h.MaskHistory, copyVec(ext.EncoderMask))
	}
	return next
}

// LatestToken returns the most recent token id.
func (h *Hypothesis) LatestToken() int {
	return h.Tokens[len(h.Tokens)-1]
}

// LogProb returns the total log probability of the sequence so far.
func (h *Hypothesis) LogProb() float64 {
	var sum float64
	for _, lp := range h.LogProbs {
		sum += lp
	}
	return sum
}

// AvgLogProb returns the length-normalized log probability, the ranking
// key. Without normalization longer sequences always score lower.
func (h *Hypothesis) AvgLogProb() float64 {
	if len(h.Tokens) == 0 {
		return math.Inf(-1)
	}
	return h.LogProb() / float64(len(h.Tokens))
}

// hasRepeatedTrigram reports whether any contiguous 3-gram occurs more than
// once in tokens.
func hasRepeatedTrigram(tokens []int) bool {
	if len(tokens) < 4 {
		return false
	}
	seen := make(map[[3]int]bool, len(tokens))
	for i := 0; i+3 <= len(tokens); i++ {
		g := [3]int{tokens[i], tokens[i+1], tokens[i+2]}
		if seen[g] {
			return true
		}
		seen[g] = true
	}
	return false
}

// The append helpers always allocate fresh backing arrays. Two children
// extending the same parent in one step must not race for the parent's
// spare capacity.

func appendCopyInt(s []int, v int) []int {
	out := make([]int, len(s)+1)
	copy(out, s)
	out[len(s)] = v
	return out
}

func appendCopyFloat(s []float64, v float64) []float64 {
	out := make([]float64, len(s)+1)
	copy(out, s)
	out[len(s)] = v
	return out
}

func appendCopyVec(s [][]float64, v []float64) [][]float64 {
	out := make([][]float64, len(s)+1)
	copy(out, s)
	out[len(s)] = v
	return out
}

func copyVec(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
