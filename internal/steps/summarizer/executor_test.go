package summarizer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codestory.dev/ingest/internal/llm"
	"codestory.dev/ingest/internal/store"
)

// fakeChatClient is a minimal llm.Client double: Chat always succeeds
// unless the request targets a name in failOn, letting tests exercise the
// executor's non-propagating failure semantics deterministically.
type fakeChatClient struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
}

func (f *fakeChatClient) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	for _, msg := range req.Messages {
		for name := range f.failOn {
			if containsSubstr(msg.Content, name) {
				return llm.ChatResponse{}, fmt.Errorf("simulated failure for %s", name)
			}
		}
	}
	return llm.ChatResponse{Content: "summary text"}, nil
}

func (f *fakeChatClient) ChatAsync(ctx context.Context, req llm.ChatRequest) <-chan llm.ChatResult {
	out := make(chan llm.ChatResult, 1)
	resp, err := f.Chat(ctx, req)
	out <- llm.ChatResult{Response: resp, Err: err}
	close(out)
	return out
}

func (f *fakeChatClient) Embed(ctx context.Context, req llm.EmbedRequest) (llm.EmbedResponse, error) {
	return llm.EmbedResponse{}, nil
}

func (f *fakeChatClient) CheckHealth(ctx context.Context) error { return nil }

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}

// fakeGraphStore records every write Execute call it receives; reads
// return no rows, which is all the Writeback and executor paths need.
type fakeGraphStore struct {
	mu          sync.Mutex
	writes      []string
	nodeRecords []store.Record
	edgeRecords []store.Record
}

func (f *fakeGraphStore) Execute(ctx context.Context, cypher string, params map[string]interface{}, write bool) ([]store.Record, error) {
	if write {
		f.mu.Lock()
		f.writes = append(f.writes, cypher)
		f.mu.Unlock()
		return nil, nil
	}
	if containsSubstr(cypher, "child_id") {
		return f.edgeRecords, nil
	}
	return f.nodeRecords, nil
}
func (f *fakeGraphStore) ExecuteMany(ctx context.Context, queries []store.Query, write bool) error {
	return nil
}
func (f *fakeGraphStore) ExecuteAsync(ctx context.Context, cypher string, params map[string]interface{}, write bool) <-chan store.AsyncResult {
	out := make(chan store.AsyncResult, 1)
	out <- store.AsyncResult{}
	close(out)
	return out
}
func (f *fakeGraphStore) SemanticSearch(ctx context.Context, embedding []float32, label string, k int) ([]store.Record, error) {
	return nil, nil
}
func (f *fakeGraphStore) InitializeSchema(ctx context.Context, force bool) error { return nil }
func (f *fakeGraphStore) CreateVectorIndex(ctx context.Context, label, prop string, dims int, sim store.Similarity) error {
	return nil
}
func (f *fakeGraphStore) Close(ctx context.Context) error { return nil }

func TestExecutor_SummarizesBottomUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	specs := []NodeSpec{
		{ID: "pkg.Foo", Kind: "Function", Name: "Foo"},
		{ID: "pkg.Bar", Kind: "Function", Name: "Bar", DependsOn: []string{"pkg.Foo"}},
		{ID: "pkg", Kind: "Module", Name: "pkg", DependsOn: []string{"pkg.Foo", "pkg.Bar"}},
	}

	graph := &fakeGraphStore{}
	chat := &fakeChatClient{}
	repoDir := t.TempDir()

	exec := NewExecutor(chat, NewWriteback(graph, repoDir), NewContentStore(repoDir, 0), "gpt-4o-mini", 2, logrus.NewEntry(logrus.New()))
	outcomes := exec.Run(t.Context(), specs, nil)

	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
		assert.NotEmpty(t, o.SummaryID)
	}
	assert.Equal(t, 3, chat.calls)
}

func TestExecutor_NodeFailureDoesNotBlockSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	specs := []NodeSpec{
		{ID: "pkg.Good", Kind: "Function", Name: "Good"},
		{ID: "pkg.Bad", Kind: "Function", Name: "Bad"},
	}

	graph := &fakeGraphStore{}
	chat := &fakeChatClient{failOn: map[string]bool{"Bad": true}}
	repoDir := t.TempDir()

	exec := NewExecutor(chat, NewWriteback(graph, repoDir), NewContentStore(repoDir, 0), "gpt-4o-mini", 2, logrus.NewEntry(logrus.New()))
	outcomes := exec.Run(t.Context(), specs, nil)

	var goodOK, badFailed bool
	for _, o := range outcomes {
		if o.NodeID == "pkg.Good" && o.Err == nil {
			goodOK = true
		}
		if o.NodeID == "pkg.Bad" && o.Err != nil {
			badFailed = true
		}
	}
	assert.True(t, goodOK, "sibling of a failed node should still succeed")
	assert.True(t, badFailed, "the failing node should be recorded as failed, not silently dropped")
}

func TestExecutor_RespectsConcurrencyBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, maxActive int32
	var mu sync.Mutex

	specs := make([]NodeSpec, 0, 10)
	for i := 0; i < 10; i++ {
		specs = append(specs, NodeSpec{ID: fmt.Sprintf("node-%d", i), Kind: "Function", Name: fmt.Sprintf("n%d", i)})
	}

	graph := &fakeGraphStore{}
	chat := &trackingChatClient{onStart: func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
	}, onEnd: func() {
		mu.Lock()
		active--
		mu.Unlock()
	}}
	repoDir := t.TempDir()

	exec := NewExecutor(chat, NewWriteback(graph, repoDir), NewContentStore(repoDir, 0), "gpt-4o-mini", 3, logrus.NewEntry(logrus.New()))
	exec.Run(t.Context(), specs, nil)

	assert.LessOrEqual(t, int(maxActive), 3)
}

// trackingChatClient records concurrent-in-flight Chat calls to verify
// the executor's semaphore actually bounds fan-out width.
type trackingChatClient struct {
	onStart func()
	onEnd   func()
}

func (t *trackingChatClient) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	t.onStart()
	defer t.onEnd()
	return llm.ChatResponse{Content: "ok"}, nil
}
func (t *trackingChatClient) ChatAsync(ctx context.Context, req llm.ChatRequest) <-chan llm.ChatResult {
	out := make(chan llm.ChatResult, 1)
	resp, err := t.Chat(ctx, req)
	out <- llm.ChatResult{Response: resp, Err: err}
	close(out)
	return out
}
func (t *trackingChatClient) Embed(ctx context.Context, req llm.EmbedRequest) (llm.EmbedResponse, error) {
	return llm.EmbedResponse{}, nil
}
func (t *trackingChatClient) CheckHealth(ctx context.Context) error { return nil }
