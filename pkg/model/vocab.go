package model

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Special tokens reserved at the front of every vocabulary. PadToken fills
// unused encoder positions; StartToken and StopToken bracket every decoded
// sequence; UnknownToken stands in for any word outside the vocabulary.
const (
	PadToken     = "[PAD]"
	UnknownToken = "[UNK]"
	StartToken   = "[START]"
	StopToken    = "[STOP]"
)

var specialTokens = []string{PadToken, UnknownToken, StartToken, StopToken}

// Vocab is a fixed word/id mapping with the special tokens always present
// at ids 0..3. It satisfies Vocabulary.
type Vocab struct {
	words    []string
	wordToID map[string]int
}

// NewVocab builds a vocabulary from the given words. The special tokens are
// prepended; any occurrence of a special token in words is skipped.
func NewVocab(words []string) *Vocab {
	v := &Vocab{
		words:    make([]string, 0, len(specialTokens)+len(words)),
		wordToID: make(map[string]int, len(specialTokens)+len(words)),
	}
	for _, w := range specialTokens {
		v.add(w)
	}
	for _, w := range words {
		v.add(w)
	}
	return v
}

func (v *Vocab) add(word string) {
	if _, ok := v.wordToID[word]; ok {
		return
	}
	v.wordToID[word] = len(v.words)
	v.words = append(v.words, word)
}

// LoadVocabFile loads a vocabulary from a text file with one word per line.
// Blank lines are skipped.
func LoadVocabFile(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab file: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := strings.TrimSpace(scanner.Text())
		if w != "" {
			words = append(words, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab file: %w", err)
	}

	return NewVocab(words), nil
}

// LoadVocabJSON loads a vocabulary from a JSON array of words.
func LoadVocabJSON(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab file: %w", err)
	}

	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("parse vocab JSON: %w", err)
	}

	return NewVocab(words), nil
}

// WordToID returns the id for word, or the unknown-token id when the word
// is out of vocabulary.
func (v *Vocab) WordToID(word string) int {
	if id, ok := v.wordToID[word]; ok {
		return id
	}
	return v.wordToID[UnknownToken]
}

// IDToWord returns the word for an in-vocabulary id. Ids outside the
// vocabulary render as the unknown token; callers holding batch-local OOV
// ids should use DecodeIDs with the batch's OOV words instead.
func (v *Vocab) IDToWord(id int) string {
	if id < 0 || id >= len(v.words) {
		return UnknownToken
	}
	return v.words[id]
}

// Size returns the number of in-vocabulary ids.
func (v *Vocab) Size() int {
	return len(v.words)
}

// DecodeIDs renders token ids as words, resolving batch-local OOV ids
// through oovWords. Start and stop markers are dropped.
func DecodeIDs(v Vocabulary, ids []int, oovWords []string) []string {
	startID := v.WordToID(StartToken)
	stopID := v.WordToID(StopToken)

	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == startID || id == stopID {
			continue
		}
		if id >= v.Size() {
			oov := id - v.Size()
			if oov < len(oovWords) {
				words = append(words, oovWords[oov])
			} else {
				words = append(words, UnknownToken)
			}
			continue
		}
		words = append(words, v.IDToWord(id))
	}
	return words
}
