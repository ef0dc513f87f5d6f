package summarizer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/llm"
	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/store"
)

// DefaultMaxTokensPerFile bounds file content sent to the model when a
// run doesn't set Config.MaxTokensPerFile (spec §4.7.3).
const DefaultMaxTokensPerFile = 8000

// summarizableLabels are the graph node labels the summarizer visits: the
// repository root, every directory and file beneath it, and every
// module/class/function/method the AST step found (spec §4.7.1).
var summarizableLabels = []string{
	model.LabelRepository,
	model.LabelDirectory,
	model.LabelFile,
	model.LabelModule,
	model.LabelClass,
	model.LabelFunction,
	model.LabelMethod,
}

// Config configures one summarizer run.
type Config struct {
	Model            string
	Concurrency      int
	MaxTokensPerFile int
}

// jobState is the last known status and progress for one summarizer run,
// polled via Status and mutated by Run/Cancel.
type jobState struct {
	status   step.Status
	cancel   context.CancelFunc
	progress float64
}

// Step implements step.Step for the Summarizer (C7): it loads every
// summarizable node under a repository, builds a dependency DAG from
// their structural containment plus IMPORTS/INHERITS_FROM edges, and
// summarizes them bottom-up with bounded concurrency.
type Step struct {
	graph     store.Store
	llmClient llm.Client
	cfg       Config
	log       *logrus.Entry

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New builds the summarizer step.
func New(graph store.Store, llmClient llm.Client, cfg Config, log *logrus.Entry) *Step {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxTokensPerFile <= 0 {
		cfg.MaxTokensPerFile = DefaultMaxTokensPerFile
	}
	return &Step{graph: graph, llmClient: llmClient, cfg: cfg, log: log, jobs: make(map[string]*jobState)}
}

func (s *Step) Name() string { return "summarizer" }

// Status reports the last known state of jobID: StatusPending if Run has
// never been (or is not yet) called for it, StatusRunning while its
// executor pass is in flight, and StatusCompleted/StatusFailed once it
// finishes (spec §4.4).
func (s *Step) Status(ctx context.Context, jobID string) (step.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return step.StatusPending, nil
	}
	return job.status, nil
}

// Stop and Cancel both halt dispatch of not-yet-started nodes for jobID;
// outcomes already written to the graph are kept (spec §4.7.2). Stop
// delegates to Cancel, so the two behave identically.
func (s *Step) Stop(ctx context.Context, jobID string) error   { return s.Cancel(ctx, jobID) }
func (s *Step) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok || job.cancel == nil {
		return nil
	}
	job.cancel()
	return nil
}

func (s *Step) Run(ctx context.Context, req step.Request, updates chan<- step.IngestionUpdate) (step.Result, error) {
	start := time.Now()
	result := step.Result{StartedAt: start, Metadata: map[string]interface{}{}}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	job := &jobState{status: step.StatusRunning, cancel: cancel}
	s.mu.Lock()
	s.jobs[req.JobID] = job
	s.mu.Unlock()

	specs, err := s.loadNodeSpecs(runCtx, req.RepoPath)
	if err != nil {
		return s.fail(result, err, job), err
	}

	content := NewContentStore(req.RepoPath, s.cfg.MaxTokensPerFile)
	writeback := NewWriteback(s.graph, req.RepoPath)
	executor := NewExecutor(s.llmClient, writeback, content, s.cfg.Model, s.cfg.Concurrency, s.log)
	tracker := NewProgressTracker(len(specs), updates)

	outcomes := executor.Run(runCtx, specs, tracker)

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		succeeded++
	}

	record := model.ProcessingRecord{
		Step:      s.Name(),
		JobID:     req.JobID,
		Counts:    map[string]int{"summarized": succeeded, "failed": failed, "total": len(specs)},
		StartedAt: start,
		EndedAt:   time.Now(),
	}
	if err := s.writeProcessingRecord(ctx, req.RepoPath, record); err != nil {
		s.log.WithError(err).Warn("failed to write summarizer processing record")
	}

	result.EndedAt = time.Now()
	result.Status = step.StatusCompleted
	result.Metadata["summarized"] = succeeded
	result.Metadata["failed"] = failed
	result.Metadata["total"] = len(specs)

	s.mu.Lock()
	job.status = step.StatusCompleted
	job.progress = 1.0
	s.mu.Unlock()

	return result, nil
}

// loadNodeSpecs queries every summarizable node under the repository and
// the edges that determine bottom-up order: structural CONTAINS
// (summarize the container after what it contains), IMPORTS (summarize
// the imported module first) and INHERITS_FROM (summarize the base class
// first).
func (s *Step) loadNodeSpecs(ctx context.Context, repoPath string) ([]NodeSpec, error) {
	nodesCypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})
RETURN
  r.path AS id,
  labels(r)[0] AS kind,
  r.name AS name,
  '' AS qualified_name,
  r.path AS path,
  0 AS start_line,
  0 AS end_line
UNION
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `*]->(n)
WHERE any(l IN labels(n) WHERE l IN $labels)
RETURN
  coalesce(n.qualified_name, n.path) AS id,
  labels(n)[0] AS kind,
  n.name AS name,
  coalesce(n.qualified_name, '') AS qualified_name,
  coalesce(n.path, '') AS path,
  coalesce(n.start_line, 0) AS start_line,
  coalesce(n.end_line, 0) AS end_line`

	records, err := s.graph.Execute(ctx, nodesCypher, map[string]interface{}{
		"repo_path": repoPath,
		"labels":    summarizableLabels,
	}, false)
	if err != nil {
		return nil, model.New(model.KindGraphQueryError, "load summarizable nodes", err)
	}

	specs := make([]NodeSpec, 0, len(records))
	for _, rec := range records {
		specs = append(specs, NodeSpec{
			ID:            toString(rec["id"]),
			Kind:          toString(rec["kind"]),
			Name:          toString(rec["name"]),
			QualifiedName: toString(rec["qualified_name"]),
			Path:          toString(rec["path"]),
			StartLine:     toInt(rec["start_line"]),
			EndLine:       toInt(rec["end_line"]),
		})
	}

	edgesCypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `]->(child)
WHERE any(l IN labels(child) WHERE l IN $labels)
RETURN r.path AS parent_id, coalesce(child.qualified_name, child.path) AS child_id
UNION
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `*]->(parent)-[:` + model.RelContains + `]->(child)
WHERE any(l IN labels(parent) WHERE l IN $labels) AND any(l IN labels(child) WHERE l IN $labels)
RETURN coalesce(parent.qualified_name, parent.path) AS parent_id, coalesce(child.qualified_name, child.path) AS child_id
UNION
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `*]->(a)-[:` + model.RelImports + `]->(b)
RETURN coalesce(a.qualified_name, a.path) AS parent_id, coalesce(b.qualified_name, b.path) AS child_id
UNION
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})-[:` + model.RelContains + `*]->(a)-[:` + model.RelInheritsFrom + `]->(b)
RETURN coalesce(a.qualified_name, a.path) AS parent_id, coalesce(b.qualified_name, b.path) AS child_id`

	edgeRecords, err := s.graph.Execute(ctx, edgesCypher, map[string]interface{}{
		"repo_path": repoPath,
		"labels":    summarizableLabels,
	}, false)
	if err != nil {
		return nil, model.New(model.KindGraphQueryError, "load summarizer dependency edges", err)
	}

	dependsOn := make(map[string][]string)
	for _, rec := range edgeRecords {
		parent := toString(rec["parent_id"])
		child := toString(rec["child_id"])
		if parent == "" || child == "" {
			continue
		}
		// The parent (container, importer, or subclass) depends on the
		// child (contained symbol, imported module, or base class) being
		// summarized first.
		dependsOn[parent] = append(dependsOn[parent], child)
	}

	for i := range specs {
		specs[i].DependsOn = dependsOn[specs[i].ID]
		if specs[i].Kind == model.LabelRepository {
			dirCount, fileCount, err := s.loadRepositoryStats(ctx, repoPath)
			if err != nil {
				s.log.WithError(err).Warn("failed to load repository directory/file counts")
			}
			specs[i].DirCount = dirCount
			specs[i].FileCount = fileCount
		}
	}

	return specs, nil
}

// loadRepositoryStats counts every directory and file under the
// repository root, for the Repository node's content block (spec
// §4.7.3: "count of directories and files").
func (s *Step) loadRepositoryStats(ctx context.Context, repoPath string) (dirCount, fileCount int, err error) {
	cypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})
OPTIONAL MATCH (r)-[:` + model.RelContains + `*]->(d:` + model.LabelDirectory + `)
WITH r, count(DISTINCT d) AS dir_count
OPTIONAL MATCH (r)-[:` + model.RelContains + `*]->(f:` + model.LabelFile + `)
RETURN dir_count, count(DISTINCT f) AS file_count`

	records, err := s.graph.Execute(ctx, cypher, map[string]interface{}{"repo_path": repoPath}, false)
	if err != nil || len(records) == 0 {
		return 0, 0, err
	}
	return toInt(records[0]["dir_count"]), toInt(records[0]["file_count"]), nil
}

func (s *Step) writeProcessingRecord(ctx context.Context, repoPath string, record model.ProcessingRecord) error {
	cypher := `
MATCH (r:` + model.LabelRepository + ` {path: $repo_path})
MERGE (r)-[:` + model.RelContains + `]->(p:` + model.LabelProcessingRecord + ` {job_id: $job_id, step: $step})
SET p.summarized = $summarized, p.failed = $failed, p.total = $total, p.started_at = $started_at, p.ended_at = $ended_at`

	_, err := s.graph.Execute(ctx, cypher, map[string]interface{}{
		"repo_path":  repoPath,
		"job_id":     record.JobID,
		"step":       record.Step,
		"summarized": record.Counts["summarized"],
		"failed":     record.Counts["failed"],
		"total":      record.Counts["total"],
		"started_at": record.StartedAt.Format(time.RFC3339),
		"ended_at":   record.EndedAt.Format(time.RFC3339),
	}, true)
	return err
}

func (s *Step) fail(result step.Result, err error, job *jobState) step.Result {
	result.EndedAt = time.Now()
	result.Status = step.StatusFailed
	result.Err = err
	if job != nil {
		s.mu.Lock()
		job.status = step.StatusFailed
		s.mu.Unlock()
	}
	return result
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

var _ step.Step = (*Step)(nil)
