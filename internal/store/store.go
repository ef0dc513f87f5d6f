// Package store implements the Graph Store Adapter (C1): a typed
// read/write interface over a labeled-property graph with retries and
// metrics, grounded on the teacher's db/repository.Neo4jRepository.
package store

import "context"

// Record is one row of a query result: a name-to-value mapping. Reads
// never fail for missing data; they simply return an empty slice.
type Record map[string]interface{}

// Query pairs a Cypher statement with its parameters for ExecuteMany's
// single-transaction batch.
type Query struct {
	Cypher string
	Params map[string]interface{}
}

// Similarity is the distance function a vector index is built with.
type Similarity string

const (
	SimilarityCosine Similarity = "cosine"
)

// DefaultEmbeddingDimensions is the vector width InitializeSchema uses
// for the Summary/Documentation embedding indexes it creates by default,
// matching the OpenAI text-embedding-3-small/ada-002 dimensionality
// graphdb/schema.py's get_vector_index_query defaults to.
const DefaultEmbeddingDimensions = 1536

// Store is the Graph Store Adapter contract (spec §4.1).
type Store interface {
	// Execute runs a single query. write=false uses a read session.
	Execute(ctx context.Context, cypher string, params map[string]interface{}, write bool) ([]Record, error)

	// ExecuteMany runs every query in one transaction; all commit or all
	// roll back.
	ExecuteMany(ctx context.Context, queries []Query, write bool) error

	// ExecuteAsync runs Execute without blocking the caller; the result
	// or error is delivered on the returned channel exactly once.
	ExecuteAsync(ctx context.Context, cypher string, params map[string]interface{}, write bool) <-chan AsyncResult

	// SemanticSearch runs a vector index lookup against label's embedding
	// property, returning the k nearest records.
	SemanticSearch(ctx context.Context, embedding []float32, label string, k int) ([]Record, error)

	// InitializeSchema creates the constraints and indexes spec §4.1
	// names. Idempotent: existing schema elements are a no-op unless
	// force is set, in which case they are dropped and recreated.
	InitializeSchema(ctx context.Context, force bool) error

	// CreateVectorIndex creates a vector index on label.prop with the
	// given dimensionality and similarity function. Idempotent.
	CreateVectorIndex(ctx context.Context, label, prop string, dims int, sim Similarity) error

	Close(ctx context.Context) error
}

// AsyncResult is delivered on ExecuteAsync's channel.
type AsyncResult struct {
	Records []Record
	Err     error
}
