package evals

import (
	"fmt"

	"github.com/soypete/beamdecode/pkg/beam"
	"github.com/soypete/beamdecode/pkg/model"
)

// fixtureParts is everything a trial needs to run a search: the vocabulary,
// the scripted model, the optional estimator, and the batch descriptor.
type fixtureParts struct {
	vocab     *model.Vocab
	scripted  *beam.ScriptedModel
	estimator model.ValueEstimator
	batch     *model.Batch
}

// build materializes the fixture for a given search configuration. Word
// keys in Steps resolve through the vocabulary; OOV words map to batch-local
// ids past the vocabulary.
func (f *Fixture) build(search *beam.Config) (*fixtureParts, error) {
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("fixture has no steps")
	}

	vocab := model.NewVocab(f.VocabWords)
	width := vocab.Size() + len(f.OOVWords)

	oovID := make(map[string]int, len(f.OOVWords))
	for i, w := range f.OOVWords {
		oovID[w] = vocab.Size() + i
	}

	unkID := vocab.WordToID(model.UnknownToken)
	resolve := func(word string) (int, error) {
		if id, ok := oovID[word]; ok {
			return id, nil
		}
		id := vocab.WordToID(word)
		if id == unkID && word != model.UnknownToken {
			return 0, fmt.Errorf("word %q is neither in vocab_words nor oov_words", word)
		}
		return id, nil
	}

	dists := make([][]float64, len(f.Steps))
	for i, step := range f.Steps {
		dist := make([]float64, width)
		for word, p := range step {
			id, err := resolve(word)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			dist[id] = p
		}
		dists[i] = dist
	}

	sourceLen := f.SourceLen
	if sourceLen <= 0 {
		sourceLen = 1
	}

	scripted := beam.NewScriptedModel(vocab.Size(), sourceLen, 2*search.BeamWidth, dists)
	scripted.MaxOOVs = len(f.OOVWords)
	scripted.EmitDecoderOutputs = f.EmitDecoderOutputs
	scripted.EmitEncoderMasks = f.EmitEncoderMasks

	parts := &fixtureParts{
		vocab:    vocab,
		scripted: scripted,
		batch: &model.Batch{
			SourceLen: sourceLen,
			MaxOOVs:   len(f.OOVWords),
			OOVWords:  append([]string(nil), f.OOVWords...),
		},
	}

	if len(f.Estimates) > 0 {
		scripted.EmitDecoderOutputs = true
		est := make([]float64, vocab.Size())
		for word, v := range f.Estimates {
			id, err := resolve(word)
			if err != nil {
				return nil, fmt.Errorf("estimates: %w", err)
			}
			if id >= vocab.Size() {
				return nil, fmt.Errorf("estimates: %q is an OOV word; estimates cover the vocabulary only", word)
			}
			est[id] = v
		}
		parts.estimator = &beam.ScriptedEstimator{Estimates: est}
	}

	return parts, nil
}

// Searcher builds a ready-to-run searcher and batch for this fixture. Use
// it when the caller needs the searcher itself, for step observation or
// custom result handling; the harness goes through build directly.
func (f *Fixture) Searcher(search *beam.Config) (*beam.Searcher, *model.Batch, *model.Vocab, error) {
	parts, err := f.build(search)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build fixture: %w", err)
	}
	searcher, err := beam.NewSearcher(search, parts.scripted, parts.vocab, parts.estimator)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build searcher: %w", err)
	}
	return searcher, parts.batch, parts.vocab, nil
}
