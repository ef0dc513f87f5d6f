package docgrapher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/llm"
	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/store"
)

// markdownExtensions are the File extensions scanned for documentation.
var markdownExtensions = map[string]bool{".md": true, ".markdown": true, ".mdx": true}

// Config configures the documentation grapher. When LLMClient is set, a
// document description is refined with a single chat call per document
// (spec's LLM-assisted path); when nil, the heuristic path runs alone.
type Config struct {
	LLMClient llm.Client
	Model     string
}

// Step implements step.Step for the Documentation Grapher (C8): it
// loads every markdown File node under the repository, extracts
// candidate code-symbol references, matches them against the graph's
// known symbols, and writes Documentation/DocumentationEntity nodes.
type Step struct {
	graph store.Store
	cfg   Config
	log   *logrus.Entry
}

// New builds the documentation grapher step.
func New(graph store.Store, cfg Config, log *logrus.Entry) *Step {
	return &Step{graph: graph, cfg: cfg, log: log}
}

func (s *Step) Name() string { return "docgrapher" }

func (s *Step) Status(ctx context.Context, jobID string) (step.Status, error) { return step.StatusPending, nil }
func (s *Step) Stop(ctx context.Context, jobID string) error                  { return nil }
func (s *Step) Cancel(ctx context.Context, jobID string) error                { return nil }

func (s *Step) Run(ctx context.Context, req step.Request, updates chan<- step.IngestionUpdate) (step.Result, error) {
	start := time.Now()
	result := step.Result{StartedAt: start, Metadata: map[string]interface{}{}}

	paths, err := s.loadMarkdownPaths(ctx, req.RepoPath)
	if err != nil {
		return s.fail(result, err), err
	}

	index, err := LoadSymbolIndex(ctx, s.graph, req.RepoPath)
	if err != nil {
		return s.fail(result, err), err
	}

	documented, entities := 0, 0
	for i, relPath := range paths {
		data, readErr := os.ReadFile(filepath.Join(req.RepoPath, relPath))
		if readErr != nil {
			s.log.WithError(readErr).WithField("path", relPath).Warn("could not read documentation file")
			continue
		}

		matched := index.Match(ExtractReferences(data))

		description := ""
		if s.cfg.LLMClient != nil {
			description = s.describe(ctx, string(data))
		}

		if err := s.writeDocumentation(ctx, req.RepoPath, relPath, string(data), description, matched); err != nil {
			s.log.WithError(err).WithField("path", relPath).Warn("failed to write documentation node")
			continue
		}

		documented++
		entities += len(matched)

		if len(paths) > 0 {
			s.publish(updates, float64(i+1)/float64(len(paths)), "graphed "+relPath)
		}
	}

	record := model.ProcessingRecord{
		Step:      s.Name(),
		JobID:     req.JobID,
		Counts:    map[string]int{"documents": documented, "entities": entities},
		StartedAt: start,
		EndedAt:   time.Now(),
	}
	if err := s.writeProcessingRecord(ctx, req.RepoPath, record); err != nil {
		s.log.WithError(err).Warn("failed to write docgrapher processing record")
	}

	result.EndedAt = time.Now()
	result.Status = step.StatusCompleted
	result.Metadata["documents"] = documented
	result.Metadata["entities"] = entities
	return result, nil
}

func (s *Step) describe(ctx context.Context, markdown string) string {
	if len(markdown) > maxDescribeBytes {
		markdown = markdown[:maxDescribeBytes]
	}
	temp := 0.2
	resp, err := s.cfg.LLMClient.Chat(ctx, llm.ChatRequest{
		Model: s.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: "Summarize this documentation file in one or two sentences for a code knowledge graph."},
			{Role: "user", Content: markdown},
		},
		Temperature: &temp,
		MaxTokens:   256,
	})
	if err != nil {
		s.log.WithError(err).Warn("llm-assisted documentation description failed, continuing without it")
		return ""
	}
	return resp.Content
}

const maxDescribeBytes = 16 * 1024

func (s *Step) loadMarkdownPaths(ctx context.Context, repoPath string) ([]string, error) {
	cypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `*]->(f:` + model.LabelFile + `)
RETURN f.path AS path`

	records, err := s.graph.Execute(ctx, cypher, map[string]interface{}{"repo_path": repoPath}, false)
	if err != nil {
		return nil, model.New(model.KindGraphQueryError, "load file nodes for documentation scan", err)
	}

	var paths []string
	for _, rec := range records {
		p, _ := rec["path"].(string)
		if p == "" {
			continue
		}
		rel, relErr := filepath.Rel(repoPath, p)
		if relErr != nil {
			rel = p
		}
		if markdownExtensions[strings.ToLower(filepath.Ext(rel))] {
			paths = append(paths, rel)
		}
	}
	return paths, nil
}

func (s *Step) writeDocumentation(ctx context.Context, repoPath, relPath, content, description string, matched []Reference) error {
	docPath := filepath.Join(repoPath, relPath)

	queries := []store.Query{
		{
			Cypher: `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})
MERGE (d:` + model.LabelDocumentation + ` {path: $path})
SET d.name = $name, d.content_type = 'markdown', d.content = $content
MERGE (r)-[:` + model.RelContains + `]->(d)`,
			Params: map[string]interface{}{
				"repo_path": repoPath,
				"path":      docPath,
				"name":      filepath.Base(relPath),
				"content":   content,
			},
		},
	}

	for _, ref := range matched {
		queries = append(queries, store.Query{
			Cypher: `
MATCH (d:` + model.LabelDocumentation + ` {path: $doc_path})
MERGE (e:` + model.LabelDocumentationEntity + ` {name: $name, type: $type})
SET e.description = $description
MERGE (d)-[:` + model.RelDescribes + `]->(e)`,
			Params: map[string]interface{}{
				"doc_path":    docPath,
				"name":        ref.Name,
				"type":        string(ref.Kind),
				"description": ref.Context,
			},
		})
	}

	if description != "" {
		queries = append(queries, store.Query{
			Cypher: `MATCH (d:` + model.LabelDocumentation + ` {path: $doc_path}) SET d.description = $description`,
			Params: map[string]interface{}{"doc_path": docPath, "description": description},
		})
	}

	if err := s.graph.ExecuteMany(ctx, queries, true); err != nil {
		return model.New(model.KindGraphQueryError, "write documentation node", err)
	}
	return nil
}

func (s *Step) writeProcessingRecord(ctx context.Context, repoPath string, record model.ProcessingRecord) error {
	cypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})
MERGE (r)-[:` + model.RelContains + `]->(p:` + model.LabelProcessingRecord + ` {job_id: $job_id, step: $step})
SET p.documents = $documents, p.entities = $entities, p.started_at = $started_at, p.ended_at = $ended_at`

	_, err := s.graph.Execute(ctx, cypher, map[string]interface{}{
		"repo_path":  repoPath,
		"job_id":     record.JobID,
		"step":       record.Step,
		"documents":  record.Counts["documents"],
		"entities":   record.Counts["entities"],
		"started_at": record.StartedAt.Format(time.RFC3339),
		"ended_at":   record.EndedAt.Format(time.RFC3339),
	}, true)
	return err
}

func (s *Step) publish(updates chan<- step.IngestionUpdate, progress float64, message string) {
	select {
	case updates <- step.IngestionUpdate{Progress: progress, Message: message}:
	default:
	}
}

func (s *Step) fail(result step.Result, err error) step.Result {
	result.EndedAt = time.Now()
	result.Status = step.StatusFailed
	result.Err = err
	return result
}

var _ step.Step = (*Step)(nil)
