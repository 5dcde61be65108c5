// Package app wires the RLM engine's components together: ClusterClient,
// HealthMonitor, SmartScheduler, the local ReplExecutor, ConversationCache,
// BatchInferenceRouter and RLMExecutor. The shape (construct every
// component, start background work, register cleanup funcs run in reverse
// on Shutdown) is carried over from the teacher's InitRLM; the wired
// components themselves are this engine's, not the teacher's multi-provider
// LLM client.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rand/rlmengine/internal/config"
	"github.com/rand/rlmengine/internal/rlm/batch"
	"github.com/rand/rlmengine/internal/rlm/cache"
	"github.com/rand/rlmengine/internal/rlm/cluster"
	"github.com/rand/rlmengine/internal/rlm/executor"
	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/repl"
	"github.com/rand/rlmengine/internal/rlm/resilience"
	"github.com/rand/rlmengine/internal/rlm/scheduler"
)

// localRuntimes are the languages the in-process ReplExecutor can serve
// without any cluster device.
var localRuntimes = []string{"python", "rust", "java", "bash", "javascript"}

// App holds every constructed engine component plus the teardown order.
type App struct {
	cfg config.Config

	cluster *cluster.Client
	health  *health.Monitor
	sched   *scheduler.Scheduler
	local   *repl.Executor
	convos  *cache.Cache
	batcher *batch.Router
	engine  *executor.Executor

	healthCancel context.CancelFunc
	cleanupFuncs []func() error
}

// New constructs an App against clusterBaseURL. A reachable cluster is not
// required at construction time: if the initial state fetch fails, the
// engine still starts with only the local device registered, and every
// remote dispatch falls back to local per RLMExecutor's NoDeviceAvailable
// semantics.
func New(cfg config.Config, clusterBaseURL string) (*App, error) {
	httpClient := &http.Client{
		Timeout: cfg.HTTPConnectTimeout + 20*time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: cfg.HTTPPoolMaxIdlePerHost,
		},
	}

	clusterClient := cluster.New(clusterBaseURL,
		cluster.WithHTTPClient(httpClient),
		cluster.WithBreakerRegistry(resilience.DefaultRegistry()),
	)

	monitor := health.New(
		health.WithFailureThreshold(cfg.HealthFailureThreshold),
		health.WithCheckInterval(cfg.HealthCheckInterval),
		health.WithProber(clusterClient),
	)
	monitor.Register(health.Device{
		ID:    executor.LocalDeviceID,
		Local: true,
		Capabilities: health.Capabilities{
			Runtimes: localRuntimes,
		},
	})

	if state, err := clusterClient.State(context.Background()); err != nil {
		slog.Warn("cluster unreachable at startup, continuing with local device only", "error", err)
	} else {
		for _, d := range state.Devices {
			monitor.Register(health.Device{
				ID:           d.ID,
				Address:      d.Address,
				MemoryTotal:  d.MemoryTotal,
				MemoryAvail:  d.MemoryAvail,
				TokensPerSec: d.TokensPerSec,
				Capabilities: d.Capabilities,
			})
		}
		slog.Info("registered cluster devices", "count", len(state.Devices))
	}

	sched, err := scheduler.New(monitor, scheduler.Config{})
	if err != nil {
		return nil, fmt.Errorf("construct scheduler: %w", err)
	}

	sandbox := repl.DefaultSandboxConfig()
	sandbox.Timeout = cfg.IterationTimeout
	localExec := repl.New(sandbox)

	convos, err := cache.New(cfg.ConversationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("construct conversation cache: %w", err)
	}

	batcher := batch.New(clusterClient, sched, monitor, batch.WithConcurrency(cfg.BatchConcurrency))

	engineCfg := executor.DefaultConfig()
	engineCfg.MaxContextLength = cfg.MaxContextLength
	engineCfg.EnableContextFolding = cfg.EnableContextFolding
	engineCfg.REPLTimeout = cfg.IterationTimeout
	engineCfg.MaxOutputBytes = cfg.MaxREPLOutput
	engineCfg.BatchTimeout = cfg.BatchTimeout
	engineCfg.EnableParallelBatch = cfg.EnableParallelBatching
	engineCfg.MaxIterations = cfg.MaxIterations

	runtimeSet := make(map[string]bool, len(localRuntimes))
	for _, rt := range localRuntimes {
		runtimeSet[rt] = true
	}
	engineCfg.LocalRuntimes = runtimeSet

	engine := executor.New(engineCfg, sched, localExec, clusterClient, batcher)

	healthCtx, cancel := context.WithCancel(context.Background())
	go monitor.Run(healthCtx)

	a := &App{
		cfg:          cfg,
		cluster:      clusterClient,
		health:       monitor,
		sched:        sched,
		local:        localExec,
		convos:       convos,
		batcher:      batcher,
		engine:       engine,
		healthCancel: cancel,
	}
	a.cleanupFuncs = append(a.cleanupFuncs, func() error {
		cancel()
		return nil
	})

	slog.Info("RLM engine initialized", "cluster", clusterBaseURL, "config", cfg.String())
	return a, nil
}

// Execute runs one RLM task to completion. The refinement step is left to
// the caller's RefineFunc/ReadyFunc (typically supplied by a driving CLI
// command); Execute alone runs the default "stop at max_iterations" loop
// with no LLM-backed refinement, suitable for pure code-execution tasks.
func (a *App) Execute(ctx context.Context, prompt, taskID string) (string, error) {
	a.convos.Append(taskID, cache.Message{Role: "user", Content: prompt})
	answer, err := a.engine.Run(ctx, prompt, taskID, nil, nil)
	if err != nil {
		return "", err
	}
	a.convos.Append(taskID, cache.Message{Role: "assistant", Content: answer})
	return answer, nil
}

// ExecuteWithRefinement runs one RLM task using the supplied refine/ready
// hooks, e.g. an LLM-backed refinement loop that batches prompts built from
// the evolving ExecutionContext.
func (a *App) ExecuteWithRefinement(ctx context.Context, prompt, taskID string, ready executor.ReadyFunc, refine executor.RefineFunc) (string, error) {
	a.convos.Append(taskID, cache.Message{Role: "user", Content: prompt})
	answer, err := a.engine.Run(ctx, prompt, taskID, ready, refine)
	if err != nil {
		return "", err
	}
	a.convos.Append(taskID, cache.Message{Role: "assistant", Content: answer})
	return answer, nil
}

// ClusterStatus reports the aggregate health of the cluster's devices.
func (a *App) ClusterStatus() health.ClusterStatus {
	return a.health.Status()
}

// SchedulerStats reports rolling average selection latency per operation kind.
func (a *App) SchedulerStats() map[scheduler.OperationKind]time.Duration {
	return a.sched.Stats()
}

// Shutdown runs every registered cleanup func in reverse registration order,
// collecting (not short-circuiting on) individual failures.
func (a *App) Shutdown() error {
	var firstErr error
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		if err := a.cleanupFuncs[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
