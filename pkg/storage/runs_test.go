package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/beamdecode/pkg/beam"
)

func TestNewDecodeRun(t *testing.T) {
	cfg := &beam.Config{BeamWidth: 4, MaxSteps: 100, MinSteps: 35}
	res := &beam.Result{
		Best: &beam.Hypothesis{
			Tokens:   []int{2, 4, 5, 3},
			LogProbs: []float64{0, -1, -2, -1},
		},
		Steps:     3,
		Completed: 4,
	}

	run, err := NewDecodeRun(cfg, res, []string{"the", "cat"}, 150*time.Millisecond)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, []int{2, 4, 5, 3}, run.Tokens)
	assert.Equal(t, "the cat", run.Text)
	assert.Equal(t, 3, run.Steps)
	assert.Equal(t, 4, run.Completed)
	assert.Equal(t, 150*time.Millisecond, run.Duration)
	assert.InDelta(t, -1.0, run.AvgLogProb, 1e-12)
	assert.False(t, run.CreatedAt.IsZero())

	var snapshot beam.Config
	require.NoError(t, json.Unmarshal(run.Config, &snapshot))
	assert.Equal(t, 4, snapshot.BeamWidth)
	assert.Equal(t, 35, snapshot.MinSteps)
}

func TestNewDecodeRunCopiesTokens(t *testing.T) {
	res := &beam.Result{
		Best: &beam.Hypothesis{Tokens: []int{2, 4}, LogProbs: []float64{0, -1}},
	}
	run, err := NewDecodeRun(beam.DefaultConfig(), res, nil, 0)
	require.NoError(t, err)

	res.Best.Tokens[0] = 99
	assert.Equal(t, 2, run.Tokens[0], "record must not alias the hypothesis")
}

func TestNewFailedRun(t *testing.T) {
	run, err := NewFailedRun(beam.DefaultConfig(), errors.New("decode step 3: scripted failure"), time.Second)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "decode step 3")
	assert.Empty(t, run.Tokens)
	assert.Equal(t, time.Second, run.Duration)
}

func TestDecodeRunIDsAreUnique(t *testing.T) {
	res := &beam.Result{Best: &beam.Hypothesis{Tokens: []int{2}, LogProbs: []float64{0}}}
	a, err := NewDecodeRun(beam.DefaultConfig(), res, nil, 0)
	require.NoError(t, err)
	b, err := NewDecodeRun(beam.DefaultConfig(), res, nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}
