package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
	"codestory.dev/ingest/internal/model"
)

// Neo4jStore implements Store over neo4j.DriverWithContext, in the
// session/ExecuteRead/ExecuteWrite idiom of the teacher's
// db/repository.Neo4jRepository, generalized from a fixed Action/Workflow
// schema to arbitrary parameterized Cypher.
type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	cfg     config.GraphConfig
	metrics *metrics.Graph
	log     *logrus.Entry
}

// NewNeo4jStore dials the driver and verifies connectivity before
// returning, matching the teacher's NewNeo4jRepository fail-fast shape.
func NewNeo4jStore(ctx context.Context, cfg config.GraphConfig, m *metrics.Graph, log *logrus.Entry) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, model.New(model.KindGraphConnectionError, "create neo4j driver", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(connectCtx); err != nil {
		return nil, model.New(model.KindGraphConnectionError, "connect to neo4j", err)
	}

	return &Neo4jStore{driver: driver, cfg: cfg, metrics: m, log: log}, nil
}

func (s *Neo4jStore) accessMode(write bool) neo4j.AccessMode {
	if write {
		return neo4j.AccessModeWrite
	}
	return neo4j.AccessModeRead
}

// withRetry retries transient graph errors (those neo4j.IsRetryable
// reports) with exponential backoff, at most cfg.MaxRetries retries after
// the first attempt, starting at cfg.RetryBaseDelay, per spec §4.1. Any
// other error is returned after the first attempt.
func (s *Neo4jStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryBaseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxRetries)), ctx)

	attempt := func() error {
		err := fn()
		if err != nil && !neo4j.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(attempt, policy, func(err error, d time.Duration) {
		s.log.WithError(err).WithField("operation", operation).WithField("backoff", d).Warn("retrying graph operation")
	})
}

func (s *Neo4jStore) observe(operation string, start time.Time, err error) {
	s.metrics.QueryDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	success := "true"
	if err != nil {
		success = "false"
	}
	s.metrics.QueriesTotal.WithLabelValues(operation, success).Inc()
}

// Execute runs a single Cypher statement and retries transient failures.
func (s *Neo4jStore) Execute(ctx context.Context, cypher string, params map[string]interface{}, write bool) ([]Record, error) {
	start := time.Now()
	var out []Record

	err := s.withRetry(ctx, "execute", func() error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: s.accessMode(write)})
		s.metrics.LiveConnections.Inc()
		defer func() {
			session.Close(ctx)
			s.metrics.LiveConnections.Dec()
		}()

		run := func(tx neo4j.ManagedTransaction) (interface{}, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			var records []Record
			for result.Next(ctx) {
				records = append(records, result.Record().AsMap())
			}
			return records, result.Err()
		}

		var res interface{}
		var txErr error
		if write {
			res, txErr = session.ExecuteWrite(ctx, run)
		} else {
			res, txErr = session.ExecuteRead(ctx, run)
		}
		if txErr != nil {
			return txErr
		}
		if res != nil {
			for _, r := range res.([]Record) {
				out = append(out, r)
			}
		}
		return nil
	})

	s.observe("execute", start, err)
	if err != nil {
		return nil, model.New(model.KindGraphQueryError, fmt.Sprintf("execute query: %s", cypher), err)
	}
	return out, nil
}

// ExecuteMany runs every query inside one transaction, matching the
// teacher's StoreActionGraph pattern of a node write followed by several
// edge writes inside a single ExecuteWrite callback.
func (s *Neo4jStore) ExecuteMany(ctx context.Context, queries []Query, write bool) error {
	start := time.Now()

	err := s.withRetry(ctx, "execute_many", func() error {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: s.accessMode(write)})
		s.metrics.LiveConnections.Inc()
		defer func() {
			session.Close(ctx)
			s.metrics.LiveConnections.Dec()
		}()

		run := func(tx neo4j.ManagedTransaction) (interface{}, error) {
			for _, q := range queries {
				if _, err := tx.Run(ctx, q.Cypher, q.Params); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}

		var txErr error
		if write {
			_, txErr = session.ExecuteWrite(ctx, run)
		} else {
			_, txErr = session.ExecuteRead(ctx, run)
		}
		return txErr
	})

	s.observe("execute_many", start, err)
	if err != nil {
		return model.New(model.KindGraphQueryError, "execute batch", err)
	}
	return nil
}

// ExecuteAsync runs Execute on its own goroutine and publishes the result
// once onto the returned channel.
func (s *Neo4jStore) ExecuteAsync(ctx context.Context, cypher string, params map[string]interface{}, write bool) <-chan AsyncResult {
	out := make(chan AsyncResult, 1)
	go func() {
		defer close(out)
		records, err := s.Execute(ctx, cypher, params, write)
		out <- AsyncResult{Records: records, Err: err}
	}()
	return out
}

// SemanticSearch runs a vector index query against label's embedding
// property using Neo4j's db.index.vector.queryNodes procedure.
func (s *Neo4jStore) SemanticSearch(ctx context.Context, embedding []float32, label string, k int) ([]Record, error) {
	cypher := `
		CALL db.index.vector.queryNodes($indexName, $k, $embedding)
		YIELD node, score
		RETURN node, score
	`
	params := map[string]interface{}{
		"indexName": label + "_embedding_idx",
		"k":         k,
		"embedding": embedding,
	}
	return s.Execute(ctx, cypher, params, false)
}

// InitializeSchema creates the uniqueness constraints and indexes every
// node label needs (spec §4.1). Constraint/index creation is idempotent
// in Neo4j via IF NOT EXISTS; force drops and recreates first.
func (s *Neo4jStore) InitializeSchema(ctx context.Context, force bool) error {
	constraints := []struct {
		label string
		prop  string
	}{
		{string(model.LabelRepository), "path"},
		{string(model.LabelDirectory), "path"},
		{string(model.LabelFile), "path"},
		{string(model.LabelClass), "qualified_name"},
		{string(model.LabelFunction), "qualified_name"},
		{string(model.LabelMethod), "qualified_name"},
		{string(model.LabelModule), "path"},
		{string(model.LabelSummary), "id"},
		{string(model.LabelDocumentation), "path"},
	}

	var queries []Query
	for _, c := range constraints {
		name := fmt.Sprintf("%s_%s_unique", c.label, c.prop)
		if force {
			queries = append(queries, Query{Cypher: fmt.Sprintf("DROP CONSTRAINT %s IF EXISTS", name)})
		}
		queries = append(queries, Query{
			Cypher: fmt.Sprintf(
				"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
				name, c.label, c.prop,
			),
		})
	}

	queries = append(queries, Query{
		Cypher: fmt.Sprintf(
			"CREATE FULLTEXT INDEX code_symbol_fulltext IF NOT EXISTS FOR (n:%s|%s|%s) ON EACH [n.name, n.qualified_name]",
			model.LabelClass, model.LabelFunction, model.LabelMethod,
		),
	})
	// file_content and documentation_content mirror graphdb/schema.py's
	// FULLTEXT_INDEXES: free-text search over source and doc bodies, not
	// just symbol names.
	queries = append(queries, Query{
		Cypher: fmt.Sprintf("CREATE FULLTEXT INDEX file_content_fulltext IF NOT EXISTS FOR (n:%s) ON EACH [n.content]", model.LabelFile),
	})
	queries = append(queries, Query{
		Cypher: fmt.Sprintf("CREATE FULLTEXT INDEX documentation_content_fulltext IF NOT EXISTS FOR (n:%s) ON EACH [n.content]", model.LabelDocumentation),
	})
	queries = append(queries, Query{
		Cypher: fmt.Sprintf("CREATE INDEX file_extension_idx IF NOT EXISTS FOR (n:%s) ON (n.extension)", model.LabelFile),
	})
	queries = append(queries, Query{
		Cypher: "CREATE INDEX node_created_at_idx IF NOT EXISTS FOR (n:" + string(model.LabelSummary) + ") ON (n.created_at)",
	})

	if err := s.ExecuteMany(ctx, queries, true); err != nil {
		return err
	}

	// Summary/Documentation vector indexes are the default pair
	// graphdb/schema.py's VECTOR_INDEXES always creates, independent of
	// CreateVectorIndex's on-demand use for other labels.
	if err := s.CreateVectorIndex(ctx, string(model.LabelSummary), "embedding", DefaultEmbeddingDimensions, SimilarityCosine); err != nil {
		return err
	}
	return s.CreateVectorIndex(ctx, string(model.LabelDocumentation), "embedding", DefaultEmbeddingDimensions, SimilarityCosine)
}

// CreateVectorIndex creates a vector index on label.prop, matching the
// index name SemanticSearch derives (label + "_embedding_idx").
func (s *Neo4jStore) CreateVectorIndex(ctx context.Context, label, prop string, dims int, sim Similarity) error {
	name := label + "_embedding_idx"
	cypher := fmt.Sprintf(`
		CREATE VECTOR INDEX %s IF NOT EXISTS
		FOR (n:%s) ON (n.%s)
		OPTIONS {indexConfig: {
			`+"`vector.dimensions`"+`: $dims,
			`+"`vector.similarity_function`"+`: $similarity
		}}
	`, name, label, prop)
	return s.Execute2(ctx, cypher, map[string]interface{}{
		"dims":       dims,
		"similarity": string(sim),
	})
}

// Execute2 runs a schema statement that returns no rows; kept distinct
// from Execute so callers of the public interface never need to discard
// a result slice for side-effect-only statements.
func (s *Neo4jStore) Execute2(ctx context.Context, cypher string, params map[string]interface{}) error {
	_, err := s.Execute(ctx, cypher, params, true)
	return err
}

// Close closes the underlying driver, releasing all pooled connections.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var _ Store = (*Neo4jStore)(nil)
