package beam

import "fmt"

// Config controls a beam search. It is immutable once handed to a Searcher;
// behavior toggles that the original decoder read from process-wide flags
// live here instead.
type Config struct {
	// BeamWidth is the number of hypotheses retained between steps. Each
	// step considers 2*BeamWidth candidate tokens per hypothesis.
	BeamWidth int `json:"beam_width" yaml:"beam_width"`

	// MaxSteps is the maximum number of decode steps before the search
	// stops and falls back to whatever it has.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// MinSteps is the minimum step index at which a stop token may
	// complete a hypothesis. Earlier stop tokens are discarded.
	MinSteps int `json:"min_steps" yaml:"min_steps"`

	// AvoidTrigramRepeats assigns -Inf to any extension that would
	// duplicate a 3-gram already present in the sequence.
	AvoidTrigramRepeats bool `json:"avoid_trigram_repeats" yaml:"avoid_trigram_repeats"`

	// UseDecoderFeedback feeds the decoder-output history back into each
	// step (intradecoder attention).
	UseDecoderFeedback bool `json:"use_decoder_feedback" yaml:"use_decoder_feedback"`

	// UseEncoderMaskFeedback feeds the encoder-mask history back into
	// each step (temporal attention).
	UseEncoderMaskFeedback bool `json:"use_encoder_mask_feedback" yaml:"use_encoder_mask_feedback"`

	// UseValueBlend multiplies the model's full distribution with the
	// value estimator's distribution and re-picks the candidates from the
	// product. Requires a ValueEstimator on the Searcher.
	UseValueBlend bool `json:"use_value_blend" yaml:"use_value_blend"`

	// ProbFloor clamps blended probabilities before taking their log, so
	// a candidate that the product zeroes out scores a very large
	// negative log-prob instead of -Inf.
	ProbFloor float64 `json:"prob_floor,omitempty" yaml:"prob_floor,omitempty"`

	// NormEpsilon is added to distribution sums before L1 normalization
	// to guard zero-sum rows.
	NormEpsilon float64 `json:"norm_epsilon,omitempty" yaml:"norm_epsilon,omitempty"`
}

// DefaultConfig returns the decoding defaults used for summarization runs.
func DefaultConfig() *Config {
	return &Config{
		BeamWidth:   4,
		MaxSteps:    100,
		MinSteps:    35,
		ProbFloor:   1e-12,
		NormEpsilon: 1e-12,
	}
}

// Validate checks the config before a search starts. A failing config is
// fatal: the search produces no partial result.
func (c *Config) Validate() error {
	if c.BeamWidth <= 0 {
		return fmt.Errorf("beam_width must be > 0, got %d", c.BeamWidth)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be > 0, got %d", c.MaxSteps)
	}
	if c.MinSteps < 0 {
		return fmt.Errorf("min_steps must be >= 0, got %d", c.MinSteps)
	}
	if c.MinSteps > c.MaxSteps {
		return fmt.Errorf("min_steps %d exceeds max_steps %d", c.MinSteps, c.MaxSteps)
	}
	if c.ProbFloor < 0 {
		return fmt.Errorf("prob_floor must be >= 0, got %g", c.ProbFloor)
	}
	if c.NormEpsilon < 0 {
		return fmt.Errorf("norm_epsilon must be >= 0, got %g", c.NormEpsilon)
	}
	return nil
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// withFloors fills in the numeric floors when a caller-supplied config
// leaves them zero.
func (c *Config) withFloors() *Config {
	out := c.Clone()
	if out.ProbFloor == 0 {
		out.ProbFloor = 1e-12
	}
	if out.NormEpsilon == 0 {
		out.NormEpsilon = 1e-12
	}
	return out
}
