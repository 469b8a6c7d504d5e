package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	for _, s := range Stages() {
		got, err := ParseStage(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStage("deploy")
	assert.Error(t, err)
}

func TestStageNext(t *testing.T) {
	next, ok := StageExtraction.Next()
	require.True(t, ok)
	assert.Equal(t, StageIndexing, next)

	next, ok = StageDecision.Next()
	require.True(t, ok)
	assert.Equal(t, StageSubmission, next)

	_, ok = StageSubmission.Next()
	assert.False(t, ok)
}

func TestRunSetResultImmutable(t *testing.T) {
	run := NewRun("run-1")
	first := &StageResult{Stage: StageExtraction, Success: true}
	require.True(t, run.SetResult(first))

	// Second write for the same stage is rejected.
	assert.False(t, run.SetResult(&StageResult{Stage: StageExtraction, Success: false}))

	got, ok := run.Result(StageExtraction)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRunLastCompleted(t *testing.T) {
	run := NewRun("run-2")
	_, ok := run.LastCompleted()
	assert.False(t, ok)

	run.SetResult(&StageResult{Stage: StageExtraction, Success: true})
	run.SetResult(&StageResult{Stage: StageIndexing, Success: true})
	run.SetResult(&StageResult{Stage: StageMatching, Success: false})

	last, ok := run.LastCompleted()
	require.True(t, ok)
	assert.Equal(t, StageIndexing, last)
}

func TestCandidateSalary(t *testing.T) {
	c := &Candidate{Fields: map[string]any{"salary_min": 40000.0, "salary_max": 60000.0}}
	mid, ok := c.SalaryMidpoint()
	require.True(t, ok)
	assert.InDelta(t, 50000.0, mid, 0.001)

	empty := &Candidate{}
	_, ok = empty.SalaryMidpoint()
	assert.False(t, ok)
}
