// Package ast implements the AST step (C6): it runs a sandboxed Docker
// container that parses the repository into AST nodes written back to
// the graph store, grounded on the teacher's common/docker.go container
// lifecycle helpers (CtxCli, ContainerRun, ContainerExists).
package ast

import (
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/model"
	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/store"
)

// DefaultImage is the sandboxed AST analyzer image pulled when Config
// doesn't name one.
const DefaultImage = "codestory/ast-analyzer:latest"

// Config configures the sandboxed analyzer image and run limits.
type Config struct {
	Image   string
	Timeout time.Duration
}

// Step implements step.Step by running Config.Image against the repo
// mounted read-only, then verifying AST nodes landed in the graph store.
type Step struct {
	cli   *client.Client
	graph store.Store
	cfg   Config
	log   *logrus.Entry
}

// New builds the AST step against an already-dialed Docker client,
// matching the teacher's CtxCli()-then-operate pattern.
func New(cli *client.Client, graph store.Store, cfg Config, log *logrus.Entry) *Step {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	return &Step{cli: cli, graph: graph, cfg: cfg, log: log}
}

func (s *Step) Name() string { return "ast" }

// containerName derives the deterministic name codestory-ast-<job_id>
// spec §4.6 requires. Run force-removes any existing container of that
// name before creating a fresh one, and Status/Stop/Cancel find the
// job's container by it.
func containerName(jobID string) string {
	return "codestory-ast-" + jobID
}

func (s *Step) Run(ctx context.Context, req step.Request, updates chan<- step.IngestionUpdate) (step.Result, error) {
	start := time.Now()
	result := step.Result{StartedAt: start, Metadata: map[string]interface{}{}}
	name := containerName(req.JobID)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.ensureImage(runCtx); err != nil {
		return s.fail(result, err), err
	}

	if err := s.removeIfExists(runCtx, name); err != nil {
		return s.fail(result, err), err
	}

	containerID, err := s.createAndStart(runCtx, name, req.RepoPath)
	if err != nil {
		return s.fail(result, err), err
	}
	result.Metadata["container_id"] = containerID

	s.publish(updates, 0.1, "container started")

	if err := s.streamLogsAndWait(runCtx, containerID, updates); err != nil {
		return s.fail(result, err), err
	}

	nodeCount, err := s.verifyASTNodes(ctx, req.RepoPath)
	if err != nil {
		return s.fail(result, err), err
	}
	if nodeCount == 0 {
		err := model.New(model.KindStepFailed, "ast analyzer produced no AST nodes", nil)
		return s.fail(result, err), err
	}

	result.EndedAt = time.Now()
	result.Status = step.StatusCompleted
	result.Metadata["ast_nodes"] = nodeCount
	s.publish(updates, 1.0, "ast analysis complete")
	return result, nil
}

func (s *Step) ensureImage(ctx context.Context) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, s.cfg.Image)
	if err == nil {
		return nil
	}
	reader, err := s.cli.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
	if err != nil {
		return model.New(model.KindExternalProcessError, "pull ast analyzer image", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (s *Step) removeIfExists(ctx context.Context, name string) error {
	_, err := s.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil
	}
	return s.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
}

func (s *Step) createAndStart(ctx context.Context, name, repoPath string) (string, error) {
	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image: s.cfg.Image,
		Env:   []string{"REPO_PATH=/repo"},
	}, &container.HostConfig{
		Binds: []string{repoPath + ":/repo:ro"},
	}, nil, nil, name)
	if err != nil {
		return "", model.New(model.KindExternalProcessError, "create ast analyzer container", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", model.New(model.KindExternalProcessError, "start ast analyzer container", err)
	}

	return resp.ID, nil
}

// streamLogsAndWait follows the container's logs, forwarding each raw read
// of up to 4096 bytes as an update with Progress -1 (unknown), and blocks
// until it exits or ctx's timeout fires. The log text is not scanned for
// "Progress: N%" lines, and no progress value is published between Run's
// 0.1 start update and its 1.0 completion update.
func (s *Step) streamLogsAndWait(ctx context.Context, containerID string, updates chan<- step.IngestionUpdate) error {
	logs, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err == nil {
		go func() {
			defer logs.Close()
			buf := make([]byte, 4096)
			for {
				n, readErr := logs.Read(buf)
				if n > 0 {
					s.publish(updates, -1, string(buf[:n]))
				}
				if readErr != nil {
					return
				}
			}
		}()
	}

	statusCh, errCh := s.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return model.New(model.KindExternalProcessError, "wait for ast analyzer container", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return model.Newf(model.KindStepFailed, nil, "ast analyzer container exited with status %d", status.StatusCode)
		}
	case <-ctx.Done():
		return model.New(model.KindStepTimeout, "ast analyzer container did not finish in time", ctx.Err())
	}
	return nil
}

// verifyASTNodes confirms the analyzer wrote at least one AST node for
// this repository before the step is allowed to report success.
func (s *Step) verifyASTNodes(ctx context.Context, repoPath string) (int64, error) {
	records, err := s.graph.Execute(ctx,
		"MATCH (r:"+string(model.LabelRepository)+" {path: $path})-[:"+string(model.RelContains)+"*]->(n:"+string(model.LabelAST)+") RETURN count(n) as count",
		map[string]interface{}{"path": repoPath}, false)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	count, _ := records[0]["count"].(int64)
	return count, nil
}

// Status reports whether the job's container is still running.
func (s *Step) Status(ctx context.Context, jobID string) (step.Status, error) {
	info, err := s.cli.ContainerInspect(ctx, containerName(jobID))
	if err != nil {
		return step.StatusPending, nil
	}
	if info.State.Running {
		return step.StatusRunning, nil
	}
	if info.State.ExitCode == 0 {
		return step.StatusCompleted, nil
	}
	return step.StatusFailed, nil
}

// Stop asks Docker to stop the container: SIGTERM, then SIGKILL if it is
// still running after a 10s grace (spec §4.6's stop sequence).
func (s *Step) Stop(ctx context.Context, jobID string) error {
	timeout := 10
	return s.cli.ContainerStop(ctx, containerName(jobID), container.StopOptions{Timeout: &timeout})
}

// Cancel escalates to SIGKILL via a forced remove when the container
// didn't honor Stop.
func (s *Step) Cancel(ctx context.Context, jobID string) error {
	return s.cli.ContainerRemove(ctx, containerName(jobID), container.RemoveOptions{Force: true})
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
