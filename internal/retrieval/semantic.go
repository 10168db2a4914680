package retrieval

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
)

const itemCollection = "context_items"

// Embedder generates vector embeddings from text.
//
// Implementations can use local models or cloud APIs; the retriever only
// needs query-versus-content similarity.
type Embedder interface {
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SemanticIndex maintains a chromem-go collection mirroring the context
// store's item log. Items are indexed incrementally as they are added so the
// index never needs a full rebuild during a run.
type SemanticIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

// NewSemanticIndex creates an in-memory index backed by the given embedder.
func NewSemanticIndex(embedder Embedder, logger *zap.Logger) (*SemanticIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db := chromem.NewDB()
	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(itemCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	return &SemanticIndex{
		db:         db,
		collection: collection,
		logger:     logger,
	}, nil
}

// Add indexes one context item.
func (s *SemanticIndex) Add(ctx context.Context, item contextstore.Item) error {
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:      item.ID,
		Content: item.Content,
		Metadata: map[string]string{
			"category": string(item.Category),
		},
	})
	if err != nil {
		return fmt.Errorf("indexing item %s: %w", item.ID, err)
	}

	s.logger.Debug("item indexed", zap.String("id", item.ID))
	return nil
}

// Similarities returns a similarity score in [0,1] per indexed item id for
// the given query text. Items not indexed score zero implicitly.
func (s *SemanticIndex) Similarities(ctx context.Context, query string) (map[string]float64, error) {
	count := s.collection.Count()
	if count == 0 {
		return map[string]float64{}, nil
	}

	results, err := s.collection.Query(ctx, query, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		// Cosine similarity can be slightly negative; clamp to the scoring
		// contract's [0,1].
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		scores[r.ID] = sim
	}
	return scores, nil
}
