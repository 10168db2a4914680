package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/retrieval"
)

// State is one step of the iteration state machine.
type State string

const (
	StatePending    State = "pending"
	StateGenerating State = "generating"
	StateReviewing  State = "reviewing"
	StateRefining   State = "refining"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
)

// validTransitions encodes the machine:
// Pending -> Generating -> Reviewing -> {Accepted | Refining -> Generating},
// with Exhausted reachable from Reviewing (budget spent) and Generating
// (transport escalation). Accepted and Exhausted are terminal.
var validTransitions = map[State][]State{
	StatePending:    {StateGenerating},
	StateGenerating: {StateReviewing, StateExhausted},
	StateReviewing:  {StateAccepted, StateRefining, StateExhausted},
	StateRefining:   {StateGenerating},
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the machine.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateExhausted
}

// Indexer receives context items as they are written so semantic retrieval
// stays current without rebuilds. Indexing is advisory: failures are logged,
// never escalated.
type Indexer interface {
	Add(ctx context.Context, item contextstore.Item) error
}

// IterationController drives exactly one work item to done or failed. It is
// fully sequential: each Run call owns the store until it returns.
type IterationController struct {
	generator Generator
	reviewer  Reviewer
	retriever ContextSlice
	store     *contextstore.Store
	indexer   Indexer // nil when semantic scoring is off
	config    Config
	logger    *zap.Logger

	genBreaker *gobreaker.CircuitBreaker
	revBreaker *gobreaker.CircuitBreaker

	state State
}

// NewIterationController wires the loop's collaborators. A nil logger is
// replaced with a no-op logger.
func NewIterationController(gen Generator, rev Reviewer, retriever ContextSlice, store *contextstore.Store, cfg Config, logger *zap.Logger) (*IterationController, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if rev == nil {
		return nil, fmt.Errorf("reviewer is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if store == nil {
		return nil, fmt.Errorf("context store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IterationController{
		generator:  gen,
		reviewer:   rev,
		retriever:  retriever,
		store:      store,
		config:     cfg,
		logger:     logger,
		genBreaker: newBreaker("generator", logger),
		revBreaker: newBreaker("reviewer", logger),
		state:      StatePending,
	}, nil
}

// SetIndexer installs an indexer that mirrors new context items into the
// semantic index. Must be called before Run.
func (c *IterationController) SetIndexer(ix Indexer) {
	c.indexer = ix
}

// State returns the machine's current state.
func (c *IterationController) State() State {
	return c.state
}

func (c *IterationController) transition(to State) {
	if !canTransition(c.state, to) {
		// Transitions are fixed at compile time; a bad one is a bug here,
		// not caller input.
		panic(fmt.Sprintf("illegal iteration transition %s -> %s", c.state, to))
	}
	c.state = to
}

// Run drives item through the generate/review/refine loop. On success the
// item ends done with its result set; on failure it ends failed with a
// FailureReason distinguishing transport escalation from quality
// exhaustion. Caller cancellation is neither: the item is rewound to
// pending and the context error is returned so a resumed run retries it.
// Any other returned error is a *TransportError or a
// *QualityExhaustedError.
func (c *IterationController) Run(ctx context.Context, request string, item *WorkItem) error {
	c.state = StatePending
	item.Status = ItemInProgress

	threshold := c.config.thresholdFor(item.Mode)
	maxIterations := c.config.maxIterationsFor(item.Mode)

	c.transition(StateGenerating)
	for {
		item.IterationCount++

		candidate, err := c.generate(ctx, item)
		if err != nil {
			if canceled(err) {
				c.rewind(item)
				return err
			}
			c.transition(StateExhausted)
			item.Status = ItemFailed
			item.FailureReason = ReasonTransportFailed
			return err
		}

		c.transition(StateReviewing)
		judgment, err := c.review(ctx, request, candidate)
		if err != nil {
			if canceled(err) {
				c.rewind(item)
				return err
			}
			// Review transport failures escalate the same way as
			// generation ones; the state machine routes them through
			// Reviewing -> Exhausted.
			c.transition(StateExhausted)
			item.Status = ItemFailed
			item.FailureReason = ReasonTransportFailed
			return err
		}

		judgment.Passed = judgment.Score >= threshold
		item.LastJudgment = &judgment

		c.logger.Info("candidate reviewed",
			zap.String("item", item.ID),
			zap.Int("iteration", item.IterationCount),
			zap.Float64("score", judgment.Score),
			zap.Bool("passed", judgment.Passed))

		if judgment.Passed {
			c.transition(StateAccepted)
			return c.accept(ctx, item, candidate)
		}

		if item.IterationCount >= maxIterations {
			c.transition(StateExhausted)
			item.Status = ItemFailed
			item.FailureReason = ReasonQualityExhausted
			return &QualityExhaustedError{
				ItemID:       item.ID,
				Iterations:   item.IterationCount,
				LastScore:    judgment.Score,
				LastFeedback: judgment.Feedback,
			}
		}

		// Record the feedback so the next iteration's retrieval can
		// surface what was wrong last time.
		c.recordLearning(ctx, item, judgment)
		c.transition(StateRefining)
		c.transition(StateGenerating)
	}
}

// rewind undoes the interrupted iteration's bookkeeping so the item is
// retried from scratch, with its full remaining budget, on resume.
func (c *IterationController) rewind(item *WorkItem) {
	item.IterationCount--
	item.Status = ItemPending
}

func (c *IterationController) generate(ctx context.Context, item *WorkItem) (string, error) {
	retrieved, err := c.retriever.Retrieve(ctx, item.Tags, item.Description, c.config.MaxContextItems)
	if err != nil {
		if canceled(err) {
			return "", err
		}
		// Retrieval enriches the prompt but is not a model transport;
		// a broken index degrades to an uncontextualized prompt.
		c.logger.Warn("context retrieval failed, generating without history",
			zap.String("item", item.ID),
			zap.Error(err))
		retrieved = nil
	}

	prompt := BuildPrompt(item.Description, retrieved, c.config.PromptBudget)

	var candidate string
	err = callWithRetry(ctx, "generate", c.genBreaker, c.config.Retry, func() error {
		out, genErr := c.generator.Generate(ctx, prompt, c.config.Sampling)
		if genErr != nil {
			return genErr
		}
		candidate = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return candidate, nil
}

func (c *IterationController) review(ctx context.Context, request, candidate string) (Judgment, error) {
	var judgment Judgment
	err := callWithRetry(ctx, "review", c.revBreaker, c.config.Retry, func() error {
		j, revErr := c.reviewer.Review(ctx, request, candidate)
		if revErr != nil {
			return revErr
		}
		judgment = j
		return nil
	})
	return judgment, err
}

func (c *IterationController) accept(ctx context.Context, item *WorkItem, candidate string) error {
	item.Result = candidate
	item.Status = ItemDone

	parent := c.store.Cursor().TaskID
	if parent != "" {
		if err := c.store.SetTaskResult(parent, candidate); err != nil {
			return err
		}
	}
	summary := fmt.Sprintf("completed %s: %s", item.FilePath, firstLine(item.Description))
	stored, err := c.store.AddItem(summary, contextstore.CategoryResult, item.Tags, parent)
	if err != nil {
		return err
	}
	c.index(ctx, stored)
	return nil
}

func (c *IterationController) recordLearning(ctx context.Context, item *WorkItem, judgment Judgment) {
	content := fmt.Sprintf("review feedback for %s (score %.2f): %s",
		item.FilePath, judgment.Score, judgment.Feedback)
	parent := c.store.Cursor().TaskID
	stored, err := c.store.AddItem(content, contextstore.CategoryLearning, item.Tags, parent)
	if err != nil {
		c.logger.Warn("failed to record learning", zap.Error(err))
		return
	}
	c.index(ctx, stored)
}

func (c *IterationController) index(ctx context.Context, item *contextstore.Item) {
	if c.indexer == nil || item == nil {
		return
	}
	if err := c.indexer.Add(ctx, *item); err != nil {
		c.logger.Warn("failed to index context item",
			zap.String("item", item.ID),
			zap.Error(err))
	}
}

// BuildPrompt assembles the generation prompt: the item description followed
// by retrieved context lines, in retrieval order, truncated at budget bytes.
// Pure and deterministic: identical inputs always produce identical prompts.
func BuildPrompt(description string, retrieved []retrieval.ScoredItem, budget int) string {
	var b strings.Builder
	b.WriteString(description)

	if len(retrieved) > 0 {
		b.WriteString("\n\nRelevant context from this session:\n")
		for _, r := range retrieved {
			line := fmt.Sprintf("- [%s] %s\n", r.Item.Category, r.Item.Content)
			if budget > 0 && b.Len()+len(line) > budget {
				break
			}
			b.WriteString(line)
		}
	}

	if budget > 0 && b.Len() > budget {
		return truncateAtRune(b.String(), budget)
	}
	return b.String()
}

// truncateAtRune cuts s at limit bytes without splitting a multi-byte rune:
// the cut backs up to the nearest rune boundary at or before limit.
func truncateAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
