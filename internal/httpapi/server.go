// Package httpapi implements the Orchestrator's external HTTP/WebSocket
// surface (spec §6.2): a thin client over internal/orchestrator and
// internal/progress. It is explicitly out of the ingestion core per spec
// §1 ("HTTP/WebSocket service surface... treated as thin clients of the
// core") but is wired here so the core is reachable end to end, grounded
// on the teacher's cli/root.go echo.New()+middleware stack and
// coordinator.Coordinator's gorilla/websocket read/write-loop split.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/orchestrator"
	"codestory.dev/ingest/internal/progress"
	"codestory.dev/ingest/internal/store"
)

// Server wires the Echo HTTP server and its route handlers over one
// Orchestrator and Bus.
type Server struct {
	echo  *echo.Echo
	orch  *orchestrator.Orchestrator
	bus   *progress.Bus
	graph store.Store
	log   *logrus.Entry
}

// New builds a Server with the teacher's own middleware stack (logger,
// recover, CORS). graph is optional: a nil graph disables /v1/export.
func New(orch *orchestrator.Orchestrator, bus *progress.Bus, graph store.Store, log *logrus.Entry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{echo: e, orch: orch, bus: bus, graph: graph, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.echo.Group("/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/ingest/:job_id", s.handleGetJob)
	v1.POST("/ingest/:job_id/cancel", s.handleCancelJob)
	v1.GET("/ingest/jobs", s.handleListJobs)
	v1.GET("/ingest/:job_id/events", s.handleEvents)
	v1.GET("/export", s.handleExport)
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// handleExport dumps every node and relationship in the graph, the HTTP
// surface for store.ExportGraphData (graphdb/export.py's
// export_graph_data). ?format=csv switches from the default JSON body.
func (s *Server) handleExport(c echo.Context) error {
	if s.graph == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "graph export is not configured"})
	}

	format := store.ExportFormat(c.QueryParam("format"))
	contentType := echo.MIMEApplicationJSON
	if format == store.ExportFormatCSV {
		contentType = "text/csv"
	}

	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().WriteHeader(http.StatusOK)
	return store.ExportGraphData(c.Request().Context(), s.graph, c.Response(), format)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// ingestRequest is POST /v1/ingest's body (spec §6.2).
type ingestRequest struct {
	Source       string                 `json:"source"`
	SourceType   string                 `json:"source_type"`
	Steps        []string               `json:"steps"`
	Options      map[string]interface{} `json:"options"`
	Dependencies []string               `json:"dependencies"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(model.New(model.KindConfigError, "malformed ingest request", err)))
	}
	if req.Source == "" {
		return c.JSON(http.StatusBadRequest, errorBody(model.New(model.KindConfigError, "source is required", nil)))
	}
	steps := req.Steps
	if len(steps) == 0 {
		steps = []string{"filesystem", "ast", "summarizer", "docgrapher"}
	}

	job, err := s.orch.StartJob(c.Request().Context(), req.Source, steps, req.Options, req.Dependencies)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, ok := s.orch.GetJob(c.Param("job_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c echo.Context) error {
	job, err := s.orch.CancelJob(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"job_id": job.ID, "status": job.Status})
}

func (s *Server) handleListJobs(c echo.Context) error {
	jobs := s.orch.ListJobs(c.QueryParam("status"))
	if limit := c.QueryParam("limit"); limit != "" {
		n := parseLimit(limit, len(jobs))
		if n < len(jobs) {
			jobs = jobs[:n]
		}
	}
	return c.JSON(http.StatusOK, jobs)
}

func parseLimit(raw string, fallback int) int {
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a WebSocket and relays the job's progress.Bus
// subscription verbatim, matching coordinator.Coordinator's own
// send-loop shape (one goroutine writing whatever arrives on a channel).
func (s *Server) handleEvents(c echo.Context) error {
	jobID := c.Param("job_id")
	if _, ok := s.orch.GetJob(jobID); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	events, err := s.bus.Subscribe(ctx, jobID)
	if err != nil {
		s.log.WithError(err).Warn("failed to subscribe to job events")
		return nil
	}

	for event := range events {
		data, err := event.JSON()
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return nil
		}
	}
	return nil
}

func errorBody(err error) map[string]interface{} {
	body := map[string]interface{}{"error": err.Error()}
	if kind, ok := model.KindOf(err); ok {
		body["kind"] = string(kind)
	}
	return body
}
