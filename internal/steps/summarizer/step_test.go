package summarizer

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/store"
)

func TestStep_RunSummarizesLoadedNodesBottomUp(t *testing.T) {
	graph := &fakeGraphStore{
		nodeRecords: []store.Record{
			{"id": "pkg", "kind": "Module", "name": "pkg", "qualified_name": "", "path": "pkg/util.go", "start_line": 0, "end_line": 0},
			{"id": "pkg.Foo", "kind": "Function", "name": "Foo", "qualified_name": "pkg.Foo", "path": "pkg/util.go", "start_line": 1, "end_line": 3},
		},
		edgeRecords: []store.Record{
			{"parent_id": "pkg", "child_id": "pkg.Foo"},
		},
	}
	chat := &fakeChatClient{}
	repoDir := t.TempDir()

	s := New(graph, chat, Config{Model: "gpt-4o-mini", Concurrency: 2}, logrus.NewEntry(logrus.New()))
	updates := make(chan step.IngestionUpdate, 16)

	result, err := s.Run(t.Context(), step.Request{JobID: "job-1", RepoPath: repoDir}, updates)
	require.NoError(t, err)
	assert.Equal(t, step.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Metadata["total"])
	assert.Equal(t, 2, result.Metadata["summarized"])
	assert.Equal(t, 0, result.Metadata["failed"])
}

func TestStep_RunRecordsFailuresWithoutFailingTheStep(t *testing.T) {
	graph := &fakeGraphStore{
		nodeRecords: []store.Record{
			{"id": "pkg.Bad", "kind": "Function", "name": "Bad", "qualified_name": "pkg.Bad", "path": "", "start_line": 0, "end_line": 0},
		},
	}
	chat := &fakeChatClient{failOn: map[string]bool{"Bad": true}}
	repoDir := t.TempDir()

	s := New(graph, chat, Config{Model: "gpt-4o-mini"}, logrus.NewEntry(logrus.New()))
	updates := make(chan step.IngestionUpdate, 16)

	result, err := s.Run(t.Context(), step.Request{JobID: "job-1", RepoPath: repoDir}, updates)
	require.NoError(t, err)
	assert.Equal(t, step.StatusCompleted, result.Status, "a node failure must not fail the whole step")
	assert.Equal(t, 1, result.Metadata["failed"])
	assert.Equal(t, 0, result.Metadata["summarized"])
}

func TestStep_Name(t *testing.T) {
	s := New(&fakeGraphStore{}, &fakeChatClient{}, Config{}, logrus.NewEntry(logrus.New()))
	assert.Equal(t, "summarizer", s.Name())
}

func TestStep_StatusReflectsActualJobState(t *testing.T) {
	graph := &fakeGraphStore{
		nodeRecords: []store.Record{
			{"id": "pkg.Foo", "kind": "Function", "name": "Foo", "qualified_name": "pkg.Foo", "path": "", "start_line": 0, "end_line": 0},
		},
	}
	chat := &fakeChatClient{}
	s := New(graph, chat, Config{Model: "gpt-4o-mini"}, logrus.NewEntry(logrus.New()))

	status, err := s.Status(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, step.StatusPending, status, "an unknown job id has never run")

	updates := make(chan step.IngestionUpdate, 16)
	_, err = s.Run(t.Context(), step.Request{JobID: "job-1", RepoPath: t.TempDir()}, updates)
	require.NoError(t, err)

	status, err = s.Status(t.Context(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, step.StatusCompleted, status)
}

func TestStep_CancelIsANoOpForAnUnknownJob(t *testing.T) {
	s := New(&fakeGraphStore{}, &fakeChatClient{}, Config{}, logrus.NewEntry(logrus.New()))
	assert.NoError(t, s.Cancel(t.Context(), "never-run"))
	assert.NoError(t, s.Stop(t.Context(), "never-run"))
}

func TestStep_SummarizesTheRepositoryNode(t *testing.T) {
	graph := &fakeGraphStore{
		nodeRecords: []store.Record{
			{"id": "/repo", "kind": "Repository", "name": "repo", "qualified_name": "", "path": "/repo", "start_line": 0, "end_line": 0},
		},
	}
	chat := &fakeChatClient{}
	repoDir := t.TempDir()

	s := New(graph, chat, Config{Model: "gpt-4o-mini"}, logrus.NewEntry(logrus.New()))
	updates := make(chan step.IngestionUpdate, 16)

	result, err := s.Run(t.Context(), step.Request{JobID: "job-1", RepoPath: repoDir}, updates)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Metadata["total"], "the Repository node must be summarized, not skipped")
}
