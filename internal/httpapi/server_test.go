package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/orchestrator"
	"codestory.dev/ingest/internal/progress"
	"codestory.dev/ingest/internal/queue"
	"codestory.dev/ingest/internal/store"
)

// noopBroker discards everything; the httpapi tests only exercise the
// REST handlers' request/response shapes, not task dispatch.
type noopBroker struct{}

func (noopBroker) Submit(ctx context.Context, task queue.Task) error { return nil }
func (noopBroker) Dequeue(ctx context.Context, q string, timeout time.Duration) (*queue.Task, error) {
	return nil, nil
}
func (noopBroker) MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error {
	return nil
}
func (noopBroker) Complete(ctx context.Context, taskID string) error                    { return nil }
func (noopBroker) Fail(ctx context.Context, task queue.Task, requeue bool) error         { return nil }
func (noopBroker) Inspect(ctx context.Context, taskID string) (queue.TaskState, error) {
	return queue.TaskStateUnknown, nil
}
func (noopBroker) Revoke(ctx context.Context, taskID string) error           { return nil }
func (noopBroker) QueueDepth(ctx context.Context, q string) (int, error)     { return 0, nil }
func (noopBroker) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}
func (noopBroker) Subscribe(ctx context.Context, channel string) (<-chan interface{}, error) {
	ch := make(chan interface{})
	close(ch)
	return ch, nil
}
func (noopBroker) Close() error { return nil }

func newTestServer() *Server {
	broker := noopBroker{}
	bus := progress.New(broker, logrus.NewEntry(logrus.New()))
	orch := orchestrator.New(broker, bus, logrus.NewEntry(logrus.New()))
	return New(orch, bus, nil, logrus.NewEntry(logrus.New()))
}

// fakeGraphStore answers export queries with one canned row each; every
// other Store method is unused by the export handler and panics if hit.
type fakeGraphStore struct{}

func (fakeGraphStore) Execute(ctx context.Context, cypher string, params map[string]interface{}, write bool) ([]store.Record, error) {
	if strings.Contains(cypher, "RETURN r") {
		return []store.Record{{"r": "edge-1"}}, nil
	}
	return []store.Record{{"n": "node-1"}}, nil
}
func (fakeGraphStore) ExecuteMany(ctx context.Context, queries []store.Query, write bool) error {
	panic("not used by export")
}
func (fakeGraphStore) ExecuteAsync(ctx context.Context, cypher string, params map[string]interface{}, write bool) <-chan store.AsyncResult {
	panic("not used by export")
}
func (fakeGraphStore) SemanticSearch(ctx context.Context, embedding []float32, label string, k int) ([]store.Record, error) {
	panic("not used by export")
}
func (fakeGraphStore) InitializeSchema(ctx context.Context, force bool) error {
	panic("not used by export")
}
func (fakeGraphStore) CreateVectorIndex(ctx context.Context, label, prop string, dims int, sim store.Similarity) error {
	panic("not used by export")
}
func (fakeGraphStore) Close(ctx context.Context) error { return nil }

func TestHandleIngest_StartsJobAndReturnsID(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"source":"/repo","steps":["filesystem"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job_id"`)
}

func TestHandleIngest_RejectsMissingSource(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetJob_UnknownJobReturns404(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/ingest/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleIngestThenCancel_RoundTrips(t *testing.T) {
	s := newTestServer()

	createReq := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"source":"/repo","steps":["filesystem"]}`))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	s.echo.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusAccepted, createRec.Code)

	var body struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &body))

	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/ingest/"+body.JobID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	s.echo.ServeHTTP(cancelRec, cancelReq)

	assert.Equal(t, http.StatusOK, cancelRec.Code)
	assert.Contains(t, cancelRec.Body.String(), "CANCELLED")
}

func TestHandleExport_WithoutGraphReturnsServiceUnavailable(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/v1/export", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleExport_WithGraphReturnsNodesAndRelationships(t *testing.T) {
	broker := noopBroker{}
	bus := progress.New(broker, logrus.NewEntry(logrus.New()))
	orch := orchestrator.New(broker, bus, logrus.NewEntry(logrus.New()))
	s := New(orch, bus, fakeGraphStore{}, logrus.NewEntry(logrus.New()))

	req := httptest.NewRequest(http.MethodGet, "/v1/export", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "node-1")
	assert.Contains(t, rec.Body.String(), "edge-1")
}

func TestHandleExport_CSVFormatSetsContentType(t *testing.T) {
	broker := noopBroker{}
	bus := progress.New(broker, logrus.NewEntry(logrus.New()))
	orch := orchestrator.New(broker, bus, logrus.NewEntry(logrus.New()))
	s := New(orch, bus, fakeGraphStore{}, logrus.NewEntry(logrus.New()))

	req := httptest.NewRequest(http.MethodGet, "/v1/export?format=csv", nil)
	rec := httptest.NewRecorder()

	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}
