package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/store"
)

// Step implements step.Step for the filesystem walk. It writes
// Repository/Directory/File nodes and CONTAINS edges via MERGE, so
// re-running against an unchanged tree is a no-op write (spec §8.1
// idempotence).
type Step struct {
	graph store.Store
	log   *logrus.Entry
}

// New constructs the filesystem step against graph.
func New(graph store.Store, log *logrus.Entry) *Step {
	return &Step{graph: graph, log: log}
}

func (s *Step) Name() string { return "filesystem" }

func (s *Step) Status(ctx context.Context, jobID string) (step.Status, error) {
	return step.StatusCompleted, nil
}

func (s *Step) Stop(ctx context.Context, jobID string) error   { return nil }
func (s *Step) Cancel(ctx context.Context, jobID string) error { return nil }

type walkEntry struct {
	relPath string
	absPath string
	isDir   bool
	info    os.FileInfo
}

// Run walks req.RepoPath, MERGE-writing a Directory or File node (and a
// CONTAINS edge from its parent) for every non-ignored path, then a
// ProcessingRecord summarizing the run.
func (s *Step) Run(ctx context.Context, req step.Request, updates chan<- step.IngestionUpdate) (step.Result, error) {
	start := time.Now()
	result := step.Result{StartedAt: start, Metadata: map[string]interface{}{}}

	configPatterns, _ := req.Options["ignore_patterns"].([]string)
	engine, err := NewIgnoreEngine(req.RepoPath, configPatterns)
	if err != nil {
		return s.fail(result, err), err
	}

	repoName := filepath.Base(req.RepoPath)
	if err := s.graph.ExecuteMany(ctx, []store.Query{{
		Cypher: "MERGE (r:" + string(model.LabelRepository) + " {path: $path}) SET r.name = $name",
		Params: map[string]interface{}{"path": req.RepoPath, "name": repoName},
	}}, true); err != nil {
		return s.fail(result, err), err
	}

	var entries []walkEntry
	err = filepath.Walk(req.RepoPath, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath, err := filepath.Rel(req.RepoPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		if engine.Ignored(relPath, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, walkEntry{relPath: relPath, absPath: path, isDir: info.IsDir(), info: info})
		return nil
	})
	if err != nil {
		return s.fail(result, err), err
	}

	var fileCount, dirCount int
	for i, e := range entries {
		if err := s.writeEntry(ctx, req.RepoPath, repoName, e); err != nil {
			return s.fail(result, err), err
		}
		if e.isDir {
			dirCount++
		} else {
			fileCount++
		}

		if i%10 == 0 || i == len(entries)-1 {
			s.publish(updates, float64(i+1)/float64(max(len(entries), 1)), "walking "+e.relPath)
		}
	}

	result.EndedAt = time.Now()
	result.Status = step.StatusCompleted
	result.Metadata["files"] = fileCount
	result.Metadata["directories"] = dirCount

	record := model.ProcessingRecord{
		Step:      s.Name(),
		JobID:     req.JobID,
		Counts:    map[string]int{"files": fileCount, "directories": dirCount},
		StartedAt: start,
		EndedAt:   result.EndedAt,
	}
	if err := s.writeProcessingRecord(ctx, req.RepoPath, record); err != nil {
		s.log.WithError(err).Warn("failed to write processing record")
	}

	return result, nil
}

func (s *Step) writeEntry(ctx context.Context, repoPath, repoName string, e walkEntry) error {
	parentRel := filepath.Dir(e.relPath)
	parentPath := repoPath
	parentLabel := string(model.LabelRepository)
	if parentRel != "." {
		parentPath = filepath.Join(repoPath, parentRel)
		parentLabel = string(model.LabelDirectory)
	}

	childPath := filepath.Join(repoPath, e.relPath)
	childLabel := string(model.LabelFile)
	if e.isDir {
		childLabel = string(model.LabelDirectory)
	}

	params := map[string]interface{}{
		"parentPath": parentPath,
		"childPath":  childPath,
		"name":       e.info.Name(),
	}

	cypher := "MATCH (p:" + parentLabel + " {path: $parentPath}) " +
		"MERGE (c:" + childLabel + " {path: $childPath}) SET c.name = $name "

	if !e.isDir {
		cypher += ", c.extension = $extension, c.size = $size, c.modified_unix = $modified "
		params["extension"] = strings.TrimPrefix(filepath.Ext(e.info.Name()), ".")
		params["size"] = e.info.Size()
		params["modified"] = e.info.ModTime().Unix()
	}

	cypher += "MERGE (p)-[:" + string(model.RelContains) + "]->(c)"

	return s.graph.ExecuteMany(ctx, []store.Query{{Cypher: cypher, Params: params}}, true)
}

func (s *Step) writeProcessingRecord(ctx context.Context, repoPath string, record model.ProcessingRecord) error {
	cypher := "MATCH (r:" + string(model.LabelRepository) + " {path: $repoPath}) " +
		"MERGE (r)-[:" + string(model.RelContains) + "]->(pr:" + string(model.LabelProcessingRecord) + " {job_id: $jobID, step: $step}) " +
		"SET pr.started_at = $startedAt, pr.ended_at = $endedAt, pr.files = $files, pr.directories = $directories"

	return s.graph.ExecuteMany(ctx, []store.Query{{
		Cypher: cypher,
		Params: map[string]interface{}{
			"repoPath":    repoPath,
			"jobID":       record.JobID,
			"step":        record.Step,
			"startedAt":   record.StartedAt.Unix(),
			"endedAt":     record.EndedAt.Unix(),
			"files":       record.Counts["files"],
			"directories": record.Counts["directories"],
		},
	}}, true)
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
