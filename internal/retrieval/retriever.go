// Package retrieval ranks stored context items against a query so prompt
// assembly receives only a bounded, relevant slice of session history.
//
// Scoring is tag overlap first: candidates must share at least one
// normalized tag with the query, which bounds worst-case cost and keeps
// embedding noise from surfacing topically unrelated history. When semantic
// mode is enabled, embedding similarity between the query description and
// item content is averaged into the score.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/tags"
)

// DefaultMaxResults bounds result count when the caller passes none.
const DefaultMaxResults = 10

// ScoredItem pairs a context item with its relevance score in [0,1].
type ScoredItem struct {
	Item  contextstore.Item
	Score float64
}

// Retriever scores context store items against tag + description queries.
// It only reads the store; the orchestrator is the sole writer.
type Retriever struct {
	store  *contextstore.Store
	index  *SemanticIndex // nil disables semantic scoring
	logger *zap.Logger
}

// New creates a retriever. Passing a nil index disables semantic scoring;
// a nil logger is replaced with a no-op logger.
func New(store *contextstore.Store, index *SemanticIndex, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("context store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:  store,
		index:  index,
		logger: logger,
	}, nil
}

// SemanticEnabled reports whether embedding similarity participates in
// scoring.
func (r *Retriever) SemanticEnabled() bool {
	return r.index != nil
}

// Retrieve returns up to maxResults items ranked by descending score, ties
// broken most-recent-first.
//
// tag_score = |matching normalized tags| / max(|query tags|, 1). With
// semantic mode on, score = (tag_score + semantic_score) / 2. Candidates
// with zero tag overlap are never returned, except when queryTags is empty
// and semantic mode is on, in which case semantic-only ranking applies to
// the full log.
func (r *Retriever) Retrieve(ctx context.Context, queryTags []string, queryDescription string, maxResults int) ([]ScoredItem, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	normalized := tags.NormalizeAll(queryTags)

	var candidates []contextstore.Item
	if len(normalized) == 0 {
		if r.index == nil {
			// No tags to match and no semantic signal: nothing can score
			// above zero.
			return nil, nil
		}
		candidates = r.store.Items()
	} else {
		candidates = r.store.ItemsByTags(normalized)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var semantic map[string]float64
	if r.index != nil && queryDescription != "" {
		var err error
		semantic, err = r.index.Similarities(ctx, queryDescription)
		if err != nil {
			return nil, fmt.Errorf("semantic scoring: %w", err)
		}
	}

	scored := make([]ScoredItem, 0, len(candidates))
	for _, item := range candidates {
		tagScore := overlapScore(normalized, item.Tags)

		var score float64
		switch {
		case len(normalized) == 0:
			// Semantic-only ranking over the full log.
			score = semantic[item.ID]
		case semantic != nil:
			score = (tagScore + semantic[item.ID]) / 2
		default:
			score = tagScore
		}
		scored = append(scored, ScoredItem{Item: item, Score: score})
	}

	// Candidates arrive oldest-first; flip so the stable score sort leaves
	// equal scores most-recent-first.
	for i, j := 0, len(scored)-1; i < j; i, j = i+1, j-1 {
		scored[i], scored[j] = scored[j], scored[i]
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}

	r.logger.Debug("retrieval completed",
		zap.Strings("query_tags", normalized),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(scored)))
	return scored, nil
}

// overlapScore computes |matching tags| / max(|query tags|, 1). Both sides
// are already normalized.
func overlapScore(queryTags, itemTags []string) float64 {
	if len(queryTags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(itemTags))
	for _, t := range itemTags {
		set[t] = struct{}{}
	}
	matches := 0
	for _, t := range queryTags {
		if _, ok := set[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTags))
}
