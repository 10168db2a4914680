// Package engine drives a planned set of file-scoped work items through a
// generate, review, refine loop until each passes a quality gate or exhausts
// its iteration budget.
package engine

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/retrieval"
)

// FileStatus indicates whether a work item targets a new or existing file.
type FileStatus string

const (
	FileNew      FileStatus = "new"
	FileExisting FileStatus = "existing"
)

// ItemStatus is the lifecycle status of a work item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemDone       ItemStatus = "done"
	ItemFailed     ItemStatus = "failed"
)

// FailureReason distinguishes why a work item terminally failed. Callers can
// tell "model unreachable" from "model tried and failed quality" from "an
// upstream dependency failed".
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonQualityExhausted FailureReason = "quality_exhausted"
	ReasonTransportFailed  FailureReason = "transport_failed"
	ReasonDependencyFailed FailureReason = "dependency_failed"
)

// WorkItem is a single file-scoped unit of generation work. The immutable
// fields are set by the planner; Status, Result, IterationCount and
// FailureReason are mutated only by the engine.
type WorkItem struct {
	// ID uniquely identifies the item. Assigned by the engine when the
	// planner leaves it empty.
	ID string `json:"id"`

	// FilePath is the file this item generates or modifies.
	FilePath string `json:"file_path"`

	// FileStatus says whether FilePath is created or edited.
	FileStatus FileStatus `json:"file_status"`

	// Mode labels the kind of work (e.g. "generate", "refactor"). Quality
	// threshold and iteration budget can be overridden per mode.
	Mode string `json:"mode"`

	// Description is the instruction for this item.
	Description string `json:"description"`

	// Tags feed retrieval when assembling this item's prompts.
	Tags []string `json:"tags,omitempty"`

	// DependencyIDs are indices into the planned item list that must
	// complete before this item runs.
	DependencyIDs []int `json:"dependency_ids,omitempty"`

	Status         ItemStatus    `json:"status"`
	Result         string        `json:"result,omitempty"`
	IterationCount int           `json:"iteration_count"`
	LastJudgment   *Judgment     `json:"last_judgment,omitempty"`
	FailureReason  FailureReason `json:"failure_reason,omitempty"`
}

// Judgment is a reviewer's structured verdict on a candidate output. It is
// transient: consumed by the iteration loop and optionally echoed into the
// context log, never stored as first-class state.
type Judgment struct {
	// Score is the quality score in [0,1].
	Score float64 `json:"score"`

	// Passed is true iff Score met the quality threshold.
	Passed bool `json:"passed"`

	// Feedback explains what to improve when the gate failed.
	Feedback string `json:"feedback,omitempty"`
}

// SamplingParams are passed through to the generator unchanged.
type SamplingParams struct {
	Temperature float64 `json:"temperature" koanf:"temperature"`
	TopP        float64 `json:"top_p" koanf:"top_p"`
	MaxTokens   int     `json:"max_tokens" koanf:"max_tokens"`
}

// Generator produces text from a prompt. Implementations are external model
// providers; failures are transport errors.
type Generator interface {
	Generate(ctx context.Context, prompt string, params SamplingParams) (string, error)
}

// Reviewer produces a quality judgment for a candidate against the original
// request. Same failure mode as Generator.
type Reviewer interface {
	Review(ctx context.Context, request, candidate string) (Judgment, error)
}

// Planner turns a request into an unordered set of work items with declared
// dependencies. Its internals are external to this engine.
type Planner interface {
	Plan(ctx context.Context, request string) ([]WorkItem, error)
}

// ContextSlice is the ranked, bounded history handed to prompt assembly.
// *retrieval.Retriever satisfies it.
type ContextSlice interface {
	Retrieve(ctx context.Context, queryTags []string, queryDescription string, maxResults int) ([]retrieval.ScoredItem, error)
}

// RunState is everything needed to resume a run after interruption without
// re-running completed work items.
type RunState struct {
	RunID     string                `json:"run_id"`
	Request   string                `json:"request"`
	Plan      string                `json:"plan,omitempty"`
	Items     []WorkItem            `json:"items"`
	Store     contextstore.Snapshot `json:"store"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Checkpointer persists run state after each work item transition so a
// crash between items loses at most the in-flight item's partial state.
type Checkpointer interface {
	// SaveRun persists the full run state, replacing any prior snapshot
	// for the same run.
	SaveRun(ctx context.Context, state *RunState) error

	// LoadRun returns the most recent state for a request, or nil when no
	// resumable run exists.
	LoadRun(ctx context.Context, request string) (*RunState, error)
}

// ModeOverride overrides the quality gate per work item mode.
type ModeOverride struct {
	QualityThreshold float64 `json:"quality_threshold" koanf:"quality_threshold"`
	MaxIterations    int     `json:"max_iterations" koanf:"max_iterations"`
}

// Config controls the iteration loop and transport resilience.
type Config struct {
	// QualityThreshold is the minimum passing review score.
	QualityThreshold float64 `koanf:"quality_threshold"`

	// MaxIterations caps generate/review rounds per work item.
	MaxIterations int `koanf:"max_iterations"`

	// ModeOverrides adjusts threshold and budget for specific item modes.
	ModeOverrides map[string]ModeOverride `koanf:"mode_overrides"`

	// PromptBudget caps assembled prompt size in bytes.
	PromptBudget int `koanf:"prompt_budget"`

	// MaxContextItems caps how many retrieved items feed one prompt.
	MaxContextItems int `koanf:"max_context_items"`

	// Sampling is forwarded to the generator.
	Sampling SamplingParams `koanf:"sampling"`

	// Retry bounds transport-level retries around generator and reviewer
	// calls. This is distinct from the quality-retry loop.
	Retry RetryConfig `koanf:"retry"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: 0.7,
		MaxIterations:    3,
		PromptBudget:     8192,
		MaxContextItems:  5,
		Sampling: SamplingParams{
			Temperature: 0.2,
			TopP:        0.9,
			MaxTokens:   4096,
		},
		Retry: DefaultRetryConfig(),
	}
}

// thresholdFor returns the quality threshold for an item's mode.
func (c Config) thresholdFor(mode string) float64 {
	if o, ok := c.ModeOverrides[mode]; ok && o.QualityThreshold > 0 {
		return o.QualityThreshold
	}
	return c.QualityThreshold
}

// maxIterationsFor returns the iteration budget for an item's mode.
func (c Config) maxIterationsFor(mode string) int {
	if o, ok := c.ModeOverrides[mode]; ok && o.MaxIterations > 0 {
		return o.MaxIterations
	}
	return c.MaxIterations
}
