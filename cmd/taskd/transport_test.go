package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskd/internal/engine"
)

func TestExecGeneratorEchoesPrompt(t *testing.T) {
	gen := &execGenerator{command: "cat"}

	out, err := gen.Generate(context.Background(), "write a login handler", engine.SamplingParams{})
	require.NoError(t, err)
	assert.Equal(t, "write a login handler", out)
}

func TestExecGeneratorFailingCommand(t *testing.T) {
	gen := &execGenerator{command: "echo boom >&2; exit 1"}

	_, err := gen.Generate(context.Background(), "prompt", engine.SamplingParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecReviewerParsesJudgment(t *testing.T) {
	rev := &execReviewer{command: `echo '{"score": 0.9, "feedback": "solid"}'`}

	j, err := rev.Review(context.Background(), "request", "candidate")
	require.NoError(t, err)
	assert.Equal(t, 0.9, j.Score)
	assert.Equal(t, "solid", j.Feedback)
}

func TestExecReviewerRejectsBadOutput(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"not json", "echo not-json"},
		{"score too high", `echo '{"score": 1.5}'`},
		{"score negative", `echo '{"score": -0.1}'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev := &execReviewer{command: tt.command}
			_, err := rev.Review(context.Background(), "req", "cand")
			assert.Error(t, err)
		})
	}
}
