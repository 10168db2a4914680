package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fyrsmithlabs/taskd/internal/engine"
)

// execGenerator runs an external command per generation. The prompt is
// written to the command's stdin and its stdout becomes the candidate.
type execGenerator struct {
	command string
}

func (g *execGenerator) Generate(ctx context.Context, prompt string, params engine.SamplingParams) (string, error) {
	out, err := runCommand(ctx, g.command, prompt)
	if err != nil {
		return "", fmt.Errorf("generate command: %w", err)
	}
	return out, nil
}

// execReviewer runs an external command per review. The request and the
// candidate are written to stdin separated by a blank line; the command
// must print a JSON judgment: {"score": 0.8, "feedback": "..."}.
type execReviewer struct {
	command string
}

func (r *execReviewer) Review(ctx context.Context, request, candidate string) (engine.Judgment, error) {
	input := request + "\n\n" + candidate
	out, err := runCommand(ctx, r.command, input)
	if err != nil {
		return engine.Judgment{}, fmt.Errorf("review command: %w", err)
	}

	var j engine.Judgment
	if err := json.Unmarshal([]byte(out), &j); err != nil {
		return engine.Judgment{}, fmt.Errorf("review command output is not a judgment: %w", err)
	}
	if j.Score < 0 || j.Score > 1 {
		return engine.Judgment{}, fmt.Errorf("review score %g outside [0,1]", j.Score)
	}
	return j, nil
}

// runCommand executes a shell command with input on stdin and returns
// trimmed stdout. A non-zero exit is an error carrying stderr.
func runCommand(ctx context.Context, command, input string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}
