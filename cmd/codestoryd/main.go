// Command codestoryd is the ingestion core's service entrypoint: it wires
// configuration into the graph store, task queue, LLM adapter, and step
// registry, launches the worker pool and orchestrator, and serves the
// HTTP/WebSocket surface until a shutdown signal arrives. Grounded on
// cli/root.go's runServer wiring-then-graceful-shutdown shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/jackc/pgx/v5/pgxpool"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/httpapi"
	"codestory.dev/ingest/internal/llm"
	"codestory.dev/ingest/internal/logging"
	"codestory.dev/ingest/internal/metrics"
	"codestory.dev/ingest/internal/orchestrator"
	"codestory.dev/ingest/internal/progress"
	"codestory.dev/ingest/internal/queue"
	"codestory.dev/ingest/internal/step"
	"codestory.dev/ingest/internal/steps/ast"
	"codestory.dev/ingest/internal/steps/docgrapher"
	"codestory.dev/ingest/internal/steps/filesystem"
	"codestory.dev/ingest/internal/steps/summarizer"
	"codestory.dev/ingest/internal/store"
	"codestory.dev/ingest/internal/worker"
)

func main() {
	if err := run(); err != nil {
		logging.New(logging.Config{Level: logging.LevelError, Format: "text"}).WithError(err).Fatal("codestoryd exiting")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.Service.LogLevel), Format: cfg.Service.LogFormat})
	log := logging.Component(logger, "codestoryd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graphStore, err := store.NewNeo4jStore(ctx, cfg.Graph, metrics.NewGraph(cfg.Service.Name), logging.Component(logger, "store"))
	if err != nil {
		return err
	}
	defer graphStore.Close(context.Background())
	if err := graphStore.InitializeSchema(ctx, false); err != nil {
		log.WithError(err).Warn("schema initialization reported an error, continuing")
	}

	broker, err := queue.New(ctx, cfg.Queue, metrics.NewQueue(cfg.Service.Name), logging.Component(logger, "queue"))
	if err != nil {
		return err
	}
	defer broker.Close()

	llmClient := llm.NewOpenAIClient(cfg.LLM, metrics.NewLLM(cfg.Service.Name), logging.Component(logger, "llm"))

	dockerCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		log.WithError(err).Warn("docker client unavailable, the ast step will fail at run time")
	}

	registry := step.NewRegistry()
	registry.Register("filesystem", func() (step.Step, error) {
		return filesystem.New(graphStore, logging.Component(logger, "step.filesystem")), nil
	})
	registry.Register("ast", func() (step.Step, error) {
		return ast.New(dockerCli, graphStore, ast.Config{Image: cfg.AST.Image, Timeout: cfg.AST.Timeout}, logging.Component(logger, "step.ast")), nil
	})
	registry.Register("summarizer", func() (step.Step, error) {
		return summarizer.New(graphStore, llmClient, summarizer.Config{Model: cfg.LLM.ChatModel}, logging.Component(logger, "step.summarizer")), nil
	})
	registry.Register("docgrapher", func() (step.Step, error) {
		return docgrapher.New(graphStore, docgrapher.Config{LLMClient: llmClient, Model: cfg.LLM.ChatModel}, logging.Component(logger, "step.docgrapher")), nil
	})

	bus := progress.New(broker, logging.Component(logger, "progress"))

	queueConcurrency := map[string]int{
		"ingest.filesystem": 1,
		"ingest.ast":        1,
		"ingest.summarizer": 2,
		"ingest.docgrapher": 1,
	}

	orchOpts := []orchestrator.Option{}
	if cfg.PipelinePath != "" {
		pipelineCfg, err := config.LoadPipelineConfig(cfg.PipelinePath)
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestrator.WithDependencies(pipelineCfg.Dependencies))
		for _, stepCfg := range pipelineCfg.Steps {
			if n, ok := stepCfg.Options["concurrency"].(int); ok && n > 0 {
				queueConcurrency["ingest."+stepCfg.Name] = n
			}
		}
	}
	var statePool *pgxpool.Pool
	if statePool, err = pgxpool.New(ctx, cfg.State.DSN); err == nil {
		stateStore := orchestrator.NewStateStore(statePool)
		if err := stateStore.InitSchema(ctx); err != nil {
			log.WithError(err).Warn("job state schema init failed, continuing without durable job mirror")
		} else {
			orchOpts = append(orchOpts, orchestrator.WithStateStore(stateStore), orchestrator.WithRetention(cfg.State.RetentionWindow))
			defer statePool.Close()
		}
	} else {
		log.WithError(err).Warn("job state store unavailable, jobs are in-memory only")
	}

	orch := orchestrator.New(broker, bus, logging.Component(logger, "orchestrator"), orchOpts...)

	onResult := func(task queue.Task, result step.Result, err error) {
		orch.HandleStepResult(context.Background(), task, result, err)
	}
	processor := orchestrator.NewStepProcessor(registry, bus, onResult, logging.Component(logger, "step-processor"))

	pool := worker.NewPool(broker, processor, logging.Component(logger, "worker"))
	pool.Start(ctx, worker.Config{Queues: queueConcurrency})
	defer pool.Stop()

	sweepTicker := time.NewTicker(time.Hour)
	defer sweepTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				orch.Sweep(ctx)
			}
		}
	}()

	server := httpapi.New(orch, bus, graphStore, logging.Component(logger, "httpapi"))
	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	log.WithField("addr", addr).Info("codestoryd listening")
	return server.Start(ctx, addr, cfg.Server.ShutdownTimeout)
}
