// Package knowledge implements the Knowledge-Base Routing subcomponent of
// the Turn Orchestrator (§4.8): when an agent has a knowledge base and the
// user's message is factual/lookup rather than a pleasantry, it retrieves
// the top-K relevant chunks, first from a vector store and, on a miss or
// error, falling back to the document store.
package knowledge

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Radicalscale/virevo/pkg/docstore"
)

// maxChunkBytes truncates each retrieved chunk per §4.8.
const maxChunkBytes = 3 * 1024

// VectorStore is the top-K similarity-search capability. A concrete
// implementation (pgvector, a managed vector DB, …) is an external
// collaborator; this package only defines the shape it needs.
type VectorStore interface {
	Query(ctx context.Context, agentID, query string, topK int) ([]Chunk, error)
}

// Chunk is one retrieved knowledge-base passage.
type Chunk struct {
	Title   string
	Content string
}

// Classifier decides whether a user message is a factual/lookup query (as
// opposed to a pleasantry) that warrants retrieval. A real implementation
// is an external collaborator (e.g. a small classifier model or a keyword
// heuristic); Router only depends on its interface.
type Classifier interface {
	IsFactual(ctx context.Context, message string) bool
}

// Router implements §4.8's retrieval policy.
type Router struct {
	vectors    VectorStore
	docs       docstore.Store
	classifier Classifier
	topK       int
}

// New constructs a Router. vectors may be nil to always use the document
// store fallback.
func New(vectors VectorStore, docs docstore.Store, classifier Classifier, topK int) *Router {
	if topK <= 0 {
		topK = 5
	}
	return &Router{vectors: vectors, docs: docs, classifier: classifier, topK: topK}
}

// Retrieve returns the chunks to inject into this turn's dynamic context
// block, or nil if the agent has no knowledge base or the message isn't
// factual. Retrieved text is truncated to maxChunkBytes per chunk.
func (r *Router) Retrieve(ctx context.Context, agentID string, hasKnowledgeBase bool, userMessage string) []Chunk {
	if !hasKnowledgeBase {
		return nil
	}
	if r.classifier != nil && !r.classifier.IsFactual(ctx, userMessage) {
		return nil
	}

	var vectorChunks, docChunks []Chunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if r.vectors == nil {
			return nil
		}
		chunks, err := r.vectors.Query(gctx, agentID, userMessage, r.topK)
		if err != nil {
			return nil // fallback handles the miss; vector errors are non-fatal
		}
		vectorChunks = chunks
		return nil
	})
	g.Go(func() error {
		entries, err := r.docs.ListKnowledgeBase(gctx, agentID)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			docChunks = append(docChunks, Chunk{Title: e.Title, Content: e.Content})
		}
		return nil
	})
	_ = g.Wait()

	chunks := vectorChunks
	if len(chunks) == 0 {
		chunks = docChunks
	}
	if len(chunks) > r.topK {
		chunks = chunks[:r.topK]
	}
	for i, c := range chunks {
		chunks[i].Content = truncate(c.Content, maxChunkBytes)
	}
	return chunks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
