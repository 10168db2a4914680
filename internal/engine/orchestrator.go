package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/scheduler"
)

// Summary reports every work item's terminal state. The run never silently
// drops an item: each one lands in exactly one bucket.
type Summary struct {
	RunID     string        `json:"run_id"`
	Request   string        `json:"request"`
	Items     []ItemOutcome `json:"items"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// ItemOutcome is one work item's terminal report.
type ItemOutcome struct {
	ItemID     string        `json:"item_id"`
	FilePath   string        `json:"file_path"`
	Status     ItemStatus    `json:"status"`
	Reason     FailureReason `json:"reason,omitempty"`
	Iterations int           `json:"iterations"`
	LastScore  float64       `json:"last_score,omitempty"`
}

// Orchestrator is the top-level driver: it plans (or resumes) a work item
// set, schedules it, and runs the iteration loop per item in order,
// checkpointing after every item transition.
type Orchestrator struct {
	planner    Planner
	controller *IterationController
	store      *contextstore.Store
	checkpoint Checkpointer // nil disables persistence
	config     Config
	logger     *zap.Logger
}

// NewOrchestrator wires the run driver. checkpoint may be nil, in which case
// runs are not resumable. A nil logger is replaced with a no-op logger.
func NewOrchestrator(planner Planner, controller *IterationController, store *contextstore.Store, checkpoint Checkpointer, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("iteration controller is required")
	}
	if store == nil {
		return nil, fmt.Errorf("context store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		planner:    planner,
		controller: controller,
		store:      store,
		checkpoint: checkpoint,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Run executes one request end to end. A cyclic or malformed plan aborts
// before any generation happens. Transport and quality failures are scoped
// to their item; items whose dependencies failed are marked failed rather
// than executed. Store invariant violations abort the run. Caller
// cancellation stops the run with unfinished items left pending, never
// failed, so a rerun of the same request resumes them.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Summary, error) {
	started := time.Now()

	state, resumed, err := o.loadOrPlan(ctx, request)
	if err != nil {
		return nil, err
	}
	items := state.Items

	// Validate ordering before any generator call, resumed or not.
	deps := make([][]int, len(items))
	for i, item := range items {
		deps[i] = item.DependencyIDs
	}
	order, err := scheduler.Schedule(deps)
	if err != nil {
		return nil, err
	}

	if !resumed {
		if _, err := o.store.CreateSession(request, state.Plan); err != nil {
			return nil, err
		}
		if err := o.save(ctx, state); err != nil {
			return nil, err
		}
	}

	o.logger.Info("run started",
		zap.String("run_id", state.RunID),
		zap.Int("items", len(items)),
		zap.Bool("resumed", resumed))

	for _, idx := range order {
		item := &items[idx]
		if item.Status == ItemDone {
			// Completed before a resume; nothing to redo.
			continue
		}
		if item.Status == ItemFailed && item.FailureReason != ReasonNone {
			continue
		}

		if failedDep, ok := o.failedDependency(items, item); ok {
			item.Status = ItemFailed
			item.FailureReason = ReasonDependencyFailed
			o.logger.Warn("skipping item with failed dependency",
				zap.String("item", item.ID),
				zap.String("failed_dependency", failedDep))
			if err := o.save(ctx, state); err != nil {
				return nil, err
			}
			continue
		}

		if err := o.runItem(ctx, request, item); err != nil {
			if canceled(err) {
				// Interrupted, not failed: the item was rewound to
				// pending, so persist as-is and stop. A rerun of the
				// same request resumes at this item.
				if saveErr := o.save(ctx, state); saveErr != nil {
					return nil, errors.Join(err, saveErr)
				}
				o.logger.Info("run interrupted",
					zap.String("run_id", state.RunID),
					zap.String("item", item.ID))
				return nil, err
			}
			var invErr *contextstore.InvariantError
			if errors.As(err, &invErr) {
				// Caller bug: nothing downstream is safely salvageable.
				return nil, err
			}
			var transportErr *TransportError
			var qualityErr *QualityExhaustedError
			if !errors.As(err, &transportErr) && !errors.As(err, &qualityErr) {
				return nil, err
			}
			// Item-scoped failure: already reflected on the item, run
			// continues with independent items.
			o.logger.Warn("work item failed",
				zap.String("item", item.ID),
				zap.String("reason", string(item.FailureReason)),
				zap.Error(err))
		}

		if err := o.save(ctx, state); err != nil {
			return nil, err
		}
	}

	summary := o.summarize(state, started)
	o.logger.Info("run finished",
		zap.String("run_id", state.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// loadOrPlan resumes a prior run for this request when a checkpoint exists,
// otherwise asks the planner for a fresh work item set.
func (o *Orchestrator) loadOrPlan(ctx context.Context, request string) (*RunState, bool, error) {
	if o.checkpoint != nil {
		prior, err := o.checkpoint.LoadRun(ctx, request)
		if err != nil {
			return nil, false, fmt.Errorf("loading checkpoint: %w", err)
		}
		if prior != nil {
			if err := o.store.Restore(prior.Store); err != nil {
				return nil, false, err
			}
			return prior, true, nil
		}
	}

	items, err := o.planner.Plan(ctx, request)
	if err != nil {
		return nil, false, fmt.Errorf("planning: %w", err)
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		if items[i].Status == "" {
			items[i].Status = ItemPending
		}
	}

	return &RunState{
		RunID:   uuid.New().String(),
		Request: request,
		Plan:    planOutline(items),
		Items:   items,
	}, false, nil
}

// runItem opens activity and task records for the item, then hands it to the
// iteration controller.
func (o *Orchestrator) runItem(ctx context.Context, request string, item *WorkItem) error {
	if _, err := o.store.CreateActivity(item.Mode, item.FilePath, item.Description); err != nil {
		return err
	}
	if _, err := o.store.CreateTask(item.Description, item.Tags); err != nil {
		return err
	}
	return o.controller.Run(ctx, request, item)
}

// failedDependency returns the id of the first dependency of item in a
// failed terminal state, if any.
func (o *Orchestrator) failedDependency(items []WorkItem, item *WorkItem) (string, bool) {
	for _, dep := range item.DependencyIDs {
		if dep < 0 || dep >= len(items) {
			continue // rejected earlier by the scheduler
		}
		if items[dep].Status == ItemFailed {
			return items[dep].ID, true
		}
	}
	return "", false
}

func (o *Orchestrator) save(ctx context.Context, state *RunState) error {
	if o.checkpoint == nil {
		return nil
	}
	// Checkpoint writes complete even after cancellation so the persisted
	// resume point matches the in-memory item states.
	ctx = context.WithoutCancel(ctx)
	state.Store = o.store.Export()
	state.UpdatedAt = time.Now()
	if err := o.checkpoint.SaveRun(ctx, state); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (o *Orchestrator) summarize(state *RunState, started time.Time) *Summary {
	summary := &Summary{
		RunID:   state.RunID,
		Request: state.Request,
		Items:   make([]ItemOutcome, 0, len(state.Items)),
	}
	for _, item := range state.Items {
		outcome := ItemOutcome{
			ItemID:     item.ID,
			FilePath:   item.FilePath,
			Status:     item.Status,
			Reason:     item.FailureReason,
			Iterations: item.IterationCount,
		}
		if item.LastJudgment != nil {
			outcome.LastScore = item.LastJudgment.Score
		}
		summary.Items = append(summary.Items, outcome)
		switch item.Status {
		case ItemDone:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}
	summary.Duration = time.Since(started)
	return summary
}

// planOutline renders a short plan description for the session record.
func planOutline(items []WorkItem) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s %s", i+1, item.Mode, item.FilePath)
		if i < len(items)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
