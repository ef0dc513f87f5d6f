// Package summarizer implements the Summarizer step (C7). See dag.go for
// the dependency-DAG builder this executor consumes.
package summarizer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/llm"
)

// DefaultConcurrency is K, the default bounded fan-out width within a
// single DAG level, per spec §4.7.
const DefaultConcurrency = 5

// NodeSpec is everything the executor needs to summarize one graph node:
// its identity, its source location, and the ids of nodes it structurally
// or semantically depends on.
type NodeSpec struct {
	ID            string
	Kind          string
	Name          string
	QualifiedName string
	Path          string
	StartLine     int
	EndLine       int
	DependsOn     []string

	// DirCount and FileCount are populated only for the Repository node:
	// the total count of directories and files under the repository root
	// (spec §4.7.3).
	DirCount  int
	FileCount int
}

// Outcome is one node's summarization result.
type Outcome struct {
	NodeID    string
	SummaryID string
	Text      string
	Err       error
}

// Executor runs a bottom-up, bounded-concurrency summarization pass over
// a set of NodeSpecs.
type Executor struct {
	llmClient   llm.Client
	writeback   *Writeback
	content     *ContentStore
	model       string
	concurrency int
	log         *logrus.Entry
}

// NewExecutor builds an Executor. concurrency <= 0 falls back to
// DefaultConcurrency.
func NewExecutor(llmClient llm.Client, wb *Writeback, content *ContentStore, model string, concurrency int, log *logrus.Entry) *Executor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Executor{llmClient: llmClient, writeback: wb, content: content, model: model, concurrency: concurrency, log: log}
}

// Run summarizes every node in specs bottom-up, level by level per the
// DAG built from their DependsOn edges. Within a level, up to
// Executor.concurrency nodes run concurrently. A node's failure is
// recorded in its Outcome but never aborts the run: siblings in the same
// level and nodes in later levels that don't depend on the failed node
// still execute (spec §4.7's non-propagating failure semantics). A node
// whose dependency failed is still attempted, simply without that
// dependency's summary in its prompt context.
func (e *Executor) Run(ctx context.Context, specs []NodeSpec, tracker *ProgressTracker) []Outcome {
	bySpec := make(map[string]NodeSpec, len(specs))
	dagNodes := make([]Node, 0, len(specs))
	for _, s := range specs {
		bySpec[s.ID] = s
		dagNodes = append(dagNodes, Node{ID: s.ID, Kind: s.Kind, QualifiedName: displayName(s), DependsOn: s.DependsOn})
	}

	d := Build(dagNodes)
	for _, broken := range d.BrokenEdges {
		e.log.WithField("node", broken[0]).WithField("broken_dependency", broken[1]).Warn("summarizer broke a dependency cycle")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]Outcome, len(specs))
	)

	for _, level := range d.Levels {
		e.runLevel(ctx, level, bySpec, results, &mu, tracker)
	}

	outcomes := make([]Outcome, 0, len(specs))
	for _, s := range specs {
		if o, ok := results[s.ID]; ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}

func (e *Executor) runLevel(ctx context.Context, level []string, bySpec map[string]NodeSpec, results map[string]Outcome, mu *sync.Mutex, tracker *ProgressTracker) {
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for _, nodeID := range level {
		spec, ok := bySpec[nodeID]
		if !ok {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(spec NodeSpec) {
			defer wg.Done()
			defer func() { <-sem }()

			summaryID, text, err := e.summarizeOne(ctx, spec, bySpec, results, mu)

			mu.Lock()
			results[spec.ID] = Outcome{NodeID: spec.ID, SummaryID: summaryID, Text: text, Err: err}
			mu.Unlock()

			if err != nil {
				e.log.WithError(err).WithField("node", spec.ID).Warn("node summarization failed")
			}
			if tracker != nil {
				tracker.NodeDone(spec.ID)
			}
		}(spec)
	}

	wg.Wait()
}

func (e *Executor) summarizeOne(ctx context.Context, spec NodeSpec, bySpec map[string]NodeSpec, results map[string]Outcome, mu *sync.Mutex) (string, string, error) {
	content, contextLines := e.content.Build(spec, bySpec)

	deps := make([]DependencySummary, 0, len(spec.DependsOn))
	mu.Lock()
	for _, depID := range spec.DependsOn {
		if o, ok := results[depID]; ok && o.Err == nil {
			deps = append(deps, DependencySummary{Name: depID, Text: o.Text})
		}
	}
	mu.Unlock()

	target := Target{
		NodeID:          spec.ID,
		Kind:            spec.Kind,
		Name:            spec.Name,
		QualifiedName:   spec.QualifiedName,
		Path:            spec.Path,
		Content:         content,
		Context:         contextLines,
		DependencySpans: deps,
	}

	req := BuildChatRequest(e.model, target)
	resp, err := e.llmClient.Chat(ctx, req)
	if err != nil {
		return "", "", err
	}

	summaryID, err := e.writeback.Write(ctx, spec.ID, spec.Kind, resp.Content, e.model)
	if err != nil {
		return "", "", err
	}
	return summaryID, resp.Content, nil
}

// displayName returns the most specific identifier available for spec:
// its qualified name if the node has one, otherwise its plain name.
func displayName(spec NodeSpec) string {
	if spec.QualifiedName != "" {
		return spec.QualifiedName
	}
	return spec.Name
}
