package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleState() *engine.RunState {
	return &engine.RunState{
		RunID:   "run-1",
		Request: "build a service",
		Plan:    "1. generate a.go\n2. generate b.go",
		Items: []engine.WorkItem{
			{
				ID:             "item-a",
				FilePath:       "a.go",
				FileStatus:     engine.FileNew,
				Mode:           "generate",
				Description:    "build a.go",
				Tags:           []string{"http"},
				Status:         engine.ItemDone,
				Result:         "package a",
				IterationCount: 2,
				LastJudgment:   &engine.Judgment{Score: 0.85, Passed: true, Feedback: "ok"},
			},
			{
				ID:            "item-b",
				FilePath:      "b.go",
				FileStatus:    engine.FileExisting,
				Mode:          "refactor",
				Description:   "refactor b.go",
				DependencyIDs: []int{0},
				Status:        engine.ItemFailed,
				FailureReason: engine.ReasonQualityExhausted,
			},
		},
		UpdatedAt: time.Now(),
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cs := contextstore.New(nil)
	_, err := cs.CreateSession("build a service", "plan")
	require.NoError(t, err)
	_, err = cs.AddItem("chose sqlite", contextstore.CategoryDecision, []string{"db"}, "")
	require.NoError(t, err)

	state := sampleState()
	state.Store = cs.Export()
	require.NoError(t, s.SaveRun(ctx, state))

	loaded, err := s.LoadRun(ctx, "build a service")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, state.RunID, loaded.RunID)
	assert.Equal(t, state.Plan, loaded.Plan)
	require.Len(t, loaded.Items, 2)

	a := loaded.Items[0]
	assert.Equal(t, "item-a", a.ID)
	assert.Equal(t, engine.ItemDone, a.Status)
	assert.Equal(t, 2, a.IterationCount)
	assert.Equal(t, "package a", a.Result)
	require.NotNil(t, a.LastJudgment)
	assert.InDelta(t, 0.85, a.LastJudgment.Score, 1e-9)

	b := loaded.Items[1]
	assert.Equal(t, []int{0}, b.DependencyIDs)
	assert.Equal(t, engine.ReasonQualityExhausted, b.FailureReason)
	assert.Nil(t, b.LastJudgment)

	// The context log rides along and restores into a working store.
	restored := contextstore.New(nil)
	require.NoError(t, restored.Restore(loaded.Store))
	assert.Len(t, restored.ItemsByTags([]string{"database"}), 1, "snapshot tags stay normalized")
}

func TestSaveRun_ReplacesPriorSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := sampleState()
	require.NoError(t, s.SaveRun(ctx, state))

	state.Items[1].Status = engine.ItemDone
	state.Items[1].FailureReason = engine.ReasonNone
	state.Items[1].Result = "package b"
	require.NoError(t, s.SaveRun(ctx, state))

	loaded, err := s.LoadRun(ctx, state.Request)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2, "save replaces rather than appends")
	assert.Equal(t, engine.ItemDone, loaded.Items[1].Status)
	assert.Equal(t, "package b", loaded.Items[1].Result)
}

func TestLoadRun_UnknownRequest(t *testing.T) {
	s := openTestStore(t)

	loaded, err := s.LoadRun(context.Background(), "never seen")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDeleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := sampleState()
	require.NoError(t, s.SaveRun(ctx, state))
	require.NoError(t, s.DeleteRun(ctx, state.RunID))

	loaded, err := s.LoadRun(ctx, state.Request)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveRun_RequiresRunID(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveRun(context.Background(), &engine.RunState{Request: "x"})
	assert.Error(t, err)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}
