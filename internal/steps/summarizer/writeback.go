package summarizer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/store"
)

// auditRecord is the shape written to <repo>/.summaries/<node_id>.json,
// a human-inspectable local mirror of what landed in the graph. The
// filesystem step's builtin ignores already exclude .summaries/ so this
// directory is never re-ingested as source.
type auditRecord struct {
	NodeID    string    `json:"node_id"`
	SummaryID string    `json:"summary_id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Writeback persists a Summary node and its HAS_SUMMARY edge to the
// source node, plus a local JSON audit copy.
type Writeback struct {
	graph    store.Store
	repoRoot string
}

// NewWriteback builds a Writeback rooted at repoRoot for audit dumps.
func NewWriteback(graph store.Store, repoRoot string) *Writeback {
	return &Writeback{graph: graph, repoRoot: repoRoot}
}

// Write creates a Summary node for nodeID (whose label is kind) and
// returns the summary's generated id.
func (w *Writeback) Write(ctx context.Context, nodeID, kind, text, modelName string) (string, error) {
	summaryID := uuid.NewString()
	now := time.Now().UTC()

	summary := model.Summary{
		ID:         summaryID,
		Text:       text,
		CreatedAt:  now,
		SourceType: kind,
	}

	cypher := `MATCH (n:` + kind + ` {` + identityProperty(kind) + `: $node_id})
MERGE (s:` + model.LabelSummary + ` {id: $summary_id})
SET s.text = $text, s.created_at = $created_at, s.source_type = $source_type
MERGE (n)-[:` + model.RelHasSummary + `]->(s)`

	_, err := w.graph.Execute(ctx, cypher, map[string]interface{}{
		"node_id":     nodeID,
		"summary_id":  summary.ID,
		"text":        summary.Text,
		"created_at":  summary.CreatedAt.Format(time.RFC3339),
		"source_type": summary.SourceType,
	}, true)
	if err != nil {
		return "", model.New(model.KindGraphQueryError, "write summary node", err)
	}

	if err := w.writeAudit(nodeID, summaryID, kind, text, modelName, now); err != nil {
		// Audit dump failure is not a step failure; the graph write above
		// already succeeded and is the source of truth.
		return summaryID, nil
	}

	return summaryID, nil
}

// identityProperty returns the unique-identity property for a node
// label, matching the constraints Neo4jStore.InitializeSchema creates.
func identityProperty(kind string) string {
	switch kind {
	case model.LabelRepository, model.LabelDirectory, model.LabelFile, model.LabelModule, model.LabelDocumentation:
		return "path"
	case model.LabelClass, model.LabelFunction, model.LabelMethod:
		return "qualified_name"
	default:
		return "id"
	}
}

func (w *Writeback) writeAudit(nodeID, summaryID, kind, text, modelName string, createdAt time.Time) error {
	dir := filepath.Join(w.repoRoot, ".summaries")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	rec := auditRecord{
		NodeID:    nodeID,
		SummaryID: summaryID,
		Kind:      kind,
		Text:      text,
		Model:     modelName,
		CreatedAt: createdAt,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, sanitizeFilename(nodeID)+".json"), data, 0o644)
}

// sanitizeFilename strips path separators from a node id so it can't
// escape the .summaries directory when used as a filename.
func sanitizeFilename(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch r {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
