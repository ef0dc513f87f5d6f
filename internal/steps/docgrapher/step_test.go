package docgrapher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/store"
)

// fakeRepoStore answers the File-node scan with a canned set of paths and
// the symbol index with a canned set of known names, and records every
// write so a test can assert on it.
type fakeRepoStore struct {
	mu        sync.Mutex
	filePaths []string
	symbols   []store.Record
	writes    []store.Query
}

func (f *fakeRepoStore) Execute(ctx context.Context, cypher string, params map[string]interface{}, write bool) ([]store.Record, error) {
	if write {
		f.mu.Lock()
		f.writes = append(f.writes, store.Query{Cypher: cypher, Params: params})
		f.mu.Unlock()
		return nil, nil
	}
	if strings.Contains(cypher, "LabelFile") || strings.Contains(cypher, ":File)") {
		out := make([]store.Record, 0, len(f.filePaths))
		for _, p := range f.filePaths {
			out = append(out, store.Record{"path": p})
		}
		return out, nil
	}
	return f.symbols, nil
}
func (f *fakeRepoStore) ExecuteMany(ctx context.Context, queries []store.Query, write bool) error {
	f.mu.Lock()
	f.writes = append(f.writes, queries...)
	f.mu.Unlock()
	return nil
}
func (f *fakeRepoStore) ExecuteAsync(ctx context.Context, cypher string, params map[string]interface{}, write bool) <-chan store.AsyncResult {
	out := make(chan store.AsyncResult, 1)
	out <- store.AsyncResult{}
	close(out)
	return out
}
func (f *fakeRepoStore) SemanticSearch(ctx context.Context, embedding []float32, label string, k int) ([]store.Record, error) {
	return nil, nil
}
func (f *fakeRepoStore) InitializeSchema(ctx context.Context, force bool) error { return nil }
func (f *fakeRepoStore) CreateVectorIndex(ctx context.Context, label, prop string, dims int, sim store.Similarity) error {
	return nil
}
func (f *fakeRepoStore) Close(ctx context.Context) error { return nil }

func TestStep_RunGraphsMarkdownAndMatchedEntities(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(docPath, []byte("# Parser\n\nUse `parse(path)` to build a tree.\n"), 0o644))

	st := &fakeRepoStore{
		filePaths: []string{docPath},
		symbols: []store.Record{
			{"kind": "Class", "name": "Parser", "qualified_name": "pkg.Parser"},
			{"kind": "Function", "name": "parse", "qualified_name": "pkg.parse"},
		},
	}

	s := New(st, Config{}, logrus.NewEntry(logrus.New()))
	updates := make(chan step.IngestionUpdate, 16)

	result, err := s.Run(t.Context(), step.Request{JobID: "job-1", RepoPath: dir}, updates)
	require.NoError(t, err)
	assert.Equal(t, step.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Metadata["documents"])
	assert.Equal(t, 2, result.Metadata["entities"])

	var sawDocumentation, sawEntity bool
	for _, q := range st.writes {
		if strings.Contains(q.Cypher, "Documentation {path") {
			sawDocumentation = true
		}
		if strings.Contains(q.Cypher, "DocumentationEntity") {
			sawEntity = true
		}
	}
	assert.True(t, sawDocumentation)
	assert.True(t, sawEntity)
}

func TestStep_RunSkipsNonMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	goFile := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(goFile, []byte("package main\n"), 0o644))

	st := &fakeRepoStore{filePaths: []string{goFile}}
	s := New(st, Config{}, logrus.NewEntry(logrus.New()))
	updates := make(chan step.IngestionUpdate, 16)

	result, err := s.Run(t.Context(), step.Request{JobID: "job-1", RepoPath: dir}, updates)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Metadata["documents"])
}
