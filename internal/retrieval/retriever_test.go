package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
)

// keywordEmbedder produces deterministic 3-dimensional embeddings so
// semantic tests are stable without a real model.
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := []float32{0.1, 0.1, 0.1}
	if strings.Contains(lower, "database") {
		vec[0] = 1
	}
	if strings.Contains(lower, "login") {
		vec[1] = 1
	}
	return vec, nil
}

func newTagOnlyRetriever(t *testing.T) (*Retriever, *contextstore.Store) {
	t.Helper()
	store := contextstore.New(nil)
	r, err := New(store, nil, nil)
	require.NoError(t, err)
	return r, store
}

func newSemanticRetriever(t *testing.T) (*Retriever, *contextstore.Store, *SemanticIndex) {
	t.Helper()
	store := contextstore.New(nil)
	index, err := NewSemanticIndex(keywordEmbedder{}, nil)
	require.NoError(t, err)
	r, err := New(store, index, nil)
	require.NoError(t, err)
	return r, store, index
}

func addItem(t *testing.T, store *contextstore.Store, content string, itemTags ...string) contextstore.Item {
	t.Helper()
	item, err := store.AddItem(content, contextstore.CategoryLearning, itemTags, "")
	require.NoError(t, err)
	return *item
}

func TestRetrieve_TagScoring(t *testing.T) {
	r, store := newTagOnlyRetriever(t)
	ctx := context.Background()

	addItem(t, store, "both tags", "database", "auth")
	addItem(t, store, "one tag", "database")
	addItem(t, store, "unrelated", "frontend")

	results, err := r.Retrieve(ctx, []string{"database", "auth"}, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "zero-overlap item must not be returned")

	assert.Equal(t, "both tags", results[0].Item.Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "one tag", results[1].Item.Content)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestRetrieve_SynonymTagsMatch(t *testing.T) {
	r, store := newTagOnlyRetriever(t)

	// Stored under "jwt"; "auth" is a synonym, so it must be retrieved
	// even though the raw tag strings differ.
	addItem(t, store, "token rotation", "jwt")

	results, err := r.Retrieve(context.Background(), []string{"auth"}, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "token rotation", results[0].Item.Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRetrieve_TiesBrokenByRecency(t *testing.T) {
	r, store := newTagOnlyRetriever(t)

	addItem(t, store, "older", "database")
	addItem(t, store, "newer", "database")

	results, err := r.Retrieve(context.Background(), []string{"database"}, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Item.Content, "equal scores rank most recent first")
	assert.Equal(t, "older", results[1].Item.Content)
}

func TestRetrieve_MaxResultsBounds(t *testing.T) {
	r, store := newTagOnlyRetriever(t)

	for i := 0; i < 20; i++ {
		addItem(t, store, "item", "database")
	}

	results, err := r.Retrieve(context.Background(), []string{"database"}, "", 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)

	// Non-positive max falls back to the default bound.
	results, err = r.Retrieve(context.Background(), []string{"database"}, "", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultMaxResults)
}

func TestRetrieve_EmptyTagsWithoutSemantic(t *testing.T) {
	r, store := newTagOnlyRetriever(t)

	addItem(t, store, "anything", "database")

	results, err := r.Retrieve(context.Background(), nil, "some description", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "without tags or semantic signal nothing can score")
}

func TestRetrieve_SemanticBoostsRelevantContent(t *testing.T) {
	r, store, index := newSemanticRetriever(t)
	ctx := context.Background()

	relevant := addItem(t, store, "database migration strategy", "database")
	require.NoError(t, index.Add(ctx, relevant))
	other := addItem(t, store, "color scheme notes", "database")
	require.NoError(t, index.Add(ctx, other))

	results, err := r.Retrieve(ctx, []string{"database"}, "database schema changes", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "database migration strategy", results[0].Item.Content,
		"semantically similar content should outrank same-tag noise")
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieve_SemanticModeStillRequiresTagOverlap(t *testing.T) {
	r, store, index := newSemanticRetriever(t)
	ctx := context.Background()

	offTopic := addItem(t, store, "database tuning", "frontend")
	require.NoError(t, index.Add(ctx, offTopic))

	results, err := r.Retrieve(ctx, []string{"database"}, "database tuning", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "zero tag overlap is excluded even under semantic mode")
}

func TestRetrieve_EmptyTagsSemanticOnly(t *testing.T) {
	r, store, index := newSemanticRetriever(t)
	ctx := context.Background()

	dbItem := addItem(t, store, "database connection pooling", "database")
	require.NoError(t, index.Add(ctx, dbItem))
	loginItem := addItem(t, store, "login form styling", "frontend")
	require.NoError(t, index.Add(ctx, loginItem))

	results, err := r.Retrieve(ctx, nil, "database indexes", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "empty query tags skip the tag pre-filter in semantic mode")
	assert.Equal(t, "database connection pooling", results[0].Item.Content)
}

func TestRetrieve_ScoresWithinBounds(t *testing.T) {
	r, store, index := newSemanticRetriever(t)
	ctx := context.Background()

	for _, content := range []string{"database work", "login flow", "misc notes"} {
		item := addItem(t, store, content, "database", "auth")
		require.NoError(t, index.Add(ctx, item))
	}

	results, err := r.Retrieve(ctx, []string{"database", "auth", "http"}, "database login", 10)
	require.NoError(t, err)
	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}
