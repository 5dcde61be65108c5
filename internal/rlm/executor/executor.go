// Package executor implements RLMExecutor: the main iterative loop that
// owns one ExecutionContext and, per iteration, parses code blocks,
// dispatches them to a scheduled device, optionally refines via batched
// LLM calls, optionally folds the answer buffer, and checks a
// caller-supplied termination predicate.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rand/rlmengine/internal/rlm/batch"
	"github.com/rand/rlmengine/internal/rlm/cluster"
	rlmctx "github.com/rand/rlmengine/internal/rlm/context"
	"github.com/rand/rlmengine/internal/rlm/fold"
	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/parser"
	"github.com/rand/rlmengine/internal/rlm/repl"
	"github.com/rand/rlmengine/internal/rlm/rlmerr"
	"github.com/rand/rlmengine/internal/rlm/scheduler"
)

// LocalDeviceID identifies the in-process ReplExecutor for dispatch
// decisions and as the fallback target when no remote device is available.
const LocalDeviceID = "local"

// DeviceSelector picks a device for an operation. Implemented by
// scheduler.Scheduler.
type DeviceSelector interface {
	Select(op scheduler.Operation) (health.Device, error)
}

// RemoteREPL dispatches a code block to a non-local device. Implemented by
// cluster.Client.
type RemoteREPL interface {
	ExecuteREPL(ctx context.Context, deviceID string, req cluster.ReplRequestDTO) (cluster.ReplResponseDTO, error)
}

// LocalREPL runs a code block in-process. Implemented by repl.Executor.
type LocalREPL interface {
	Execute(ctx context.Context, req repl.Request) (repl.Response, error)
}

// BatchDispatcher executes a batch of refinement prompts. Implemented by
// batch.Router.
type BatchDispatcher interface {
	Execute(ctx context.Context, req batch.Request, perCallTimeout time.Duration) batch.Response
}

// RefineFunc builds zero or more refinement prompts from the context's
// current state. An empty return skips the refinement step entirely.
type RefineFunc func(ec *rlmctx.Context) []string

// ReadyFunc is the caller-supplied termination predicate.
type ReadyFunc func(ec *rlmctx.Context) bool

// Config bounds one Executor's behavior; every field mirrors a §6
// configuration key.
type Config struct {
	MaxIterations        int
	MaxContextLength     int // Run rejects longer prompts (bytes); folding starts once the answer's bytes/4 estimate exceeds it
	EnableContextFolding bool
	FoldTargetRatio      float64
	REPLTimeout          time.Duration
	MaxOutputBytes       int64
	BatchTimeout         time.Duration
	EnableParallelBatch  bool
	LocalRuntimes        map[string]bool // runtimes the local ReplExecutor can serve
}

// DefaultConfig returns sensible defaults matching spec.md §6's documented
// defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        10,
		MaxContextLength:     8000,
		EnableContextFolding: true,
		FoldTargetRatio:      fold.DefaultTargetRatio,
		REPLTimeout:          repl.DefaultTimeout,
		MaxOutputBytes:       1 << 20,
		BatchTimeout:         300 * time.Second,
		EnableParallelBatch:  true,
		LocalRuntimes: map[string]bool{
			"python": true, "rust": true, "java": true, "bash": true, "javascript": true,
		},
	}
}

// Executor is the RLMExecutor component.
type Executor struct {
	cfg      Config
	selector DeviceSelector
	local    LocalREPL
	remote   RemoteREPL
	batcher  BatchDispatcher
}

// New constructs an Executor. remote may be nil if no cluster is
// configured, in which case every dispatch falls back to local.
func New(cfg Config, selector DeviceSelector, local LocalREPL, remote RemoteREPL, batcher BatchDispatcher) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.LocalRuntimes == nil {
		cfg.LocalRuntimes = DefaultConfig().LocalRuntimes
	}
	return &Executor{cfg: cfg, selector: selector, local: local, remote: remote, batcher: batcher}
}

// Run executes the RLMExecutor main loop against prompt and returns the
// final answer. refine and ready may be nil; a nil refine skips step (c)
// and a nil ready runs until max_iterations.
func (e *Executor) Run(ctx context.Context, prompt, taskID string, ready ReadyFunc, refine RefineFunc) (string, error) {
	if taskID == "" || prompt == "" {
		return "", rlmerr.New(rlmerr.KindInvalidInput, "prompt and task_id must be non-empty")
	}
	if len(prompt) > e.cfg.MaxContextLength {
		return "", rlmerr.New(rlmerr.KindInvalidInput, fmt.Sprintf("prompt length %d exceeds max_context_length %d", len(prompt), e.cfg.MaxContextLength))
	}

	ec := rlmctx.New(taskID, e.cfg.MaxIterations)
	ec.AppendAnswer(prompt)

	for {
		if ctx.Err() != nil {
			return ec.Answer, rlmerr.New(rlmerr.KindCancelled, "context cancelled before iteration "+fmt.Sprint(ec.Iteration+1))
		}

		if err := ec.NextIteration(); err != nil {
			break
		}

		if err := e.dispatchCodeBlocks(ctx, ec); err != nil {
			return ec.Answer, err
		}

		if refine != nil {
			if err := e.runRefinement(ctx, ec, refine); err != nil {
				ec.RecordError(err.Error())
			}
		}

		if !ec.WithinContextLimits(e.cfg.MaxContextLength) && e.cfg.EnableContextFolding {
			folded, stats := fold.Fold(ec.Answer, e.cfg.FoldTargetRatio)
			ec.ReplaceAnswer(folded)
			slog.Info("folded context", "task_id", taskID, "iteration", ec.Iteration, "original_len", stats.OriginalLen, "folded_len", stats.FoldedLen)
		}

		if ready != nil && ready(ec) {
			break
		}
	}

	return ec.Answer, nil
}

// dispatchCodeBlocks implements step (b): parse, schedule, run, append.
// A per-block failure is recorded and the block is skipped; device
// exhaustion with no local fallback aborts the whole task.
func (e *Executor) dispatchCodeBlocks(ctx context.Context, ec *rlmctx.Context) error {
	for _, block := range parser.Extract(ec.Answer) {
		if ctx.Err() != nil {
			return rlmerr.New(rlmerr.KindCancelled, "context cancelled during code block dispatch")
		}

		dev, err := e.selector.Select(scheduler.Operation{Kind: scheduler.OpCodeExecution, Runtime: block.Language})
		if err != nil {
			if !e.cfg.LocalRuntimes[block.Language] {
				return rlmerr.New(rlmerr.KindNoDeviceAvailable, fmt.Sprintf("no device for runtime %q and no local fallback", block.Language))
			}
			dev = health.Device{ID: LocalDeviceID, Local: true}
		}

		out, execErr := e.runBlock(ctx, dev, block)
		if execErr != nil {
			// Cancellation propagates immediately per spec.md's "cleanup
			// then propagate" recovery; every other kind is recorded and
			// dispatch continues to the next block.
			if rlmerr.OfKind(execErr, rlmerr.KindCancelled) {
				return execErr
			}
			ec.RecordError(execErr.Error())
			continue
		}
		ec.AppendAnswer("Output:\n" + out)
		ec.RecordREPLExecution(len(out))
	}
	return nil
}

func (e *Executor) runBlock(ctx context.Context, dev health.Device, block parser.Block) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.REPLTimeout)
	defer cancel()

	if dev.Local || dev.ID == LocalDeviceID || e.remote == nil {
		resp, err := e.local.Execute(runCtx, repl.Request{
			Language:       block.Language,
			Code:           block.Source,
			Timeout:        e.cfg.REPLTimeout,
			MaxOutputBytes: e.cfg.MaxOutputBytes,
		})
		if err != nil {
			return "", err
		}
		return resp.Stdout, nil
	}

	resp, err := e.remote.ExecuteREPL(runCtx, dev.ID, cluster.ReplRequestDTO{
		Language:       block.Language,
		Code:           block.Source,
		TimeoutMS:      e.cfg.REPLTimeout.Milliseconds(),
		MaxOutputBytes: e.cfg.MaxOutputBytes,
	})
	if err != nil {
		return "", err
	}
	if resp.ExitCode != 0 {
		return "", rlmerr.New(rlmerr.KindREPLNonZeroExit, resp.Stderr)
	}
	return resp.Stdout, nil
}

// runRefinement implements step (c): build prompts, fan out through
// BatchInferenceRouter, append every result in input order.
func (e *Executor) runRefinement(ctx context.Context, ec *rlmctx.Context, refine RefineFunc) error {
	prompts := refine(ec)
	if len(prompts) == 0 {
		return nil
	}

	resp := e.batcher.Execute(ctx, batch.Request{Prompts: prompts}, e.cfg.BatchTimeout)
	for _, outcome := range resp.Results {
		if !outcome.Success {
			ec.RecordError(fmt.Sprintf("refinement prompt failed: %v", outcome.Err))
			continue
		}
		ec.AppendAnswer(outcome.Response)
	}
	ec.RecordLLMCalls(len(resp.Results), resp.TotalTokens)

	if !resp.AllSucceeded {
		return rlmerr.New(rlmerr.KindBatchPartial, "one or more refinement prompts failed")
	}
	return nil
}
