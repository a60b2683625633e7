// Package model defines the contracts between the beam search core and its
// external collaborators: the sequence model that produces per-step token
// distributions, the optional value estimator that re-scores continuations,
// and the vocabulary.
//
// The search core never reaches inside these collaborators. Everything it
// needs crosses one of the interfaces below, so the core can be exercised
// with deterministic stubs.
package model

import "context"

// DecoderState is an opaque handle to the model's recurrent state after
// producing a token. Each hypothesis owns its state exclusively: when a
// hypothesis branches, every branch receives its own clone. States must
// never be shared between live hypotheses.
type DecoderState interface {
	// Clone returns an independent deep copy of the state.
	Clone() DecoderState
}

// Batch is a single source example, repeated across the beam. The pointer
// mechanism may assign batch-local ids beyond the vocabulary to source words
// that are out of vocabulary; those ids are valid output tokens but must be
// mapped back to the unknown token before being fed to the model.
type Batch struct {
	// SourceIDs are the source token ids, including batch-local OOV ids.
	SourceIDs []int

	// SourceLen is the attention length: the width of attention
	// distributions and coverage vectors.
	SourceLen int

	// MaxOOVs is the number of batch-local OOV ids in this example.
	// The extended output space has Vocabulary.Size() + MaxOOVs slots.
	MaxOOVs int

	// OOVWords are the source words behind the batch-local ids, indexed by
	// id - Vocabulary.Size(). Used only when rendering output text.
	OOVWords []string
}

// EncoderOutput is the one-time result of encoding the source.
type EncoderOutput struct {
	// States holds one encoder hidden vector per source position. The
	// search passes them back verbatim on every decode step.
	States [][]float64

	// InitialState is the decoder state before the first step.
	InitialState DecoderState
}

// StepInput batches the live beam into a single decode call. All slices are
// indexed by hypothesis; their lengths equal the current beam size.
type StepInput struct {
	// LatestTokens are the most recent tokens, with batch-local OOV ids
	// already replaced by the unknown-token id.
	LatestTokens []int

	// EncoderStates is EncoderOutput.States, unchanged.
	EncoderStates [][]float64

	// States are the per-hypothesis decoder states.
	States []DecoderState

	// PrevCoverage are the per-hypothesis coverage vectors.
	PrevCoverage [][]float64

	// PrevOutputs are per-hypothesis decoder-output histories, one vector
	// per past step. Nil when decoder-output feedback is disabled.
	PrevOutputs [][][]float64

	// PrevMasks are per-hypothesis encoder-mask histories. Nil when
	// encoder-mask feedback is disabled.
	PrevMasks [][][]float64
}

// StepOutput is the result of one decode step. Outer slices are indexed by
// hypothesis and must match the StepInput beam size; TopIDs and TopLogProbs
// carry 2*beamWidth candidate slots per hypothesis.
type StepOutput struct {
	// TopIDs are the highest-probability candidate token ids, best first.
	// Ids may fall in the extended (OOV) range.
	TopIDs [][]int

	// TopLogProbs are the log probabilities matching TopIDs.
	TopLogProbs [][]float64

	// NewStates are the decoder states after this step.
	NewStates []DecoderState

	// AttnDists are the attention distributions over source positions.
	AttnDists [][]float64

	// FinalDists are the full distributions over the extended output
	// space, one per hypothesis. Consumed only by value blending.
	FinalDists [][]float64

	// GenProbs are the generation probabilities from the pointer mixer.
	GenProbs []float64

	// NewCoverage are the updated coverage vectors.
	NewCoverage [][]float64

	// DecoderOutputs are the raw decoder hidden outputs. Nil unless the
	// model is configured to emit them (required for value blending and
	// decoder-output feedback).
	DecoderOutputs [][]float64

	// EncoderMasks are the per-step encoder attention masks. Nil unless
	// encoder-mask feedback is enabled.
	EncoderMasks [][]float64
}

// Model is the per-step decoding surface of the sequence model. Calls are
// synchronous and carry no retry semantics: any error is fatal to the
// search that issued the call.
type Model interface {
	// RunEncoder encodes the source once, before the step loop.
	RunEncoder(ctx context.Context, batch *Batch) (*EncoderOutput, error)

	// DecodeOneStep advances every hypothesis in the input by one token
	// and returns the candidate distributions for the next step.
	DecodeOneStep(ctx context.Context, in *StepInput) (*StepOutput, error)
}

// ValueEstimator scores candidate continuations from raw decoder outputs.
// The returned slice has one row per hypothesis, each row covering the
// in-vocabulary id space; the search widens rows with OOV slots itself.
type ValueEstimator interface {
	Estimate(ctx context.Context, decoderOutputs [][]float64) ([][]float64, error)
}

// Vocabulary maps between words and token ids and fixes the ids of the
// special start/stop/unknown tokens.
type Vocabulary interface {
	// WordToID returns the id for a word, or the unknown-token id if the
	// word is not in the vocabulary.
	WordToID(word string) int

	// IDToWord returns the word for an in-vocabulary id.
	IDToWord(id int) string

	// Size returns the number of in-vocabulary ids.
	Size() int
}
