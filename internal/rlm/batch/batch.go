// Package batch implements BatchInferenceRouter: bounded-concurrency
// fan-out of LLM prompts with per-call retry/backoff and ordered result
// aggregation. Concurrency is modeled the way the teacher's (now removed)
// async executor did it — errgroup plus a buffered-channel semaphore — but
// the dispatch target is a scheduled Device rather than an arbitrary
// orchestrator, and failures never abort the batch: an exhausted-retry
// prompt becomes a failed entry, not a broken call.
package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/scheduler"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the semaphore capacity absent an explicit override.
const DefaultConcurrency = 10

// MaxRetries bounds per-call attempts.
const MaxRetries = 3

// Request is one batch of prompts to dispatch concurrently.
type Request struct {
	Prompts     []string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Outcome is the per-prompt result, always present at its input index
// regardless of success.
type Outcome struct {
	Prompt   string
	Response string
	Tokens   int
	Success  bool
	Err      error
}

// Response aggregates all outcomes of one Execute call.
type Response struct {
	Results      []Outcome
	TotalTokens  int
	Duration     time.Duration
	AllSucceeded bool
}

// Completer issues one chat-completion call against a scheduled device.
// Implemented by cluster.Client in production.
type Completer interface {
	Complete(ctx context.Context, device health.Device, model, prompt string, temperature float64, maxTokens int) (text string, tokens int, err error)
}

// DeviceSelector picks a device for an operation. Implemented by
// scheduler.Scheduler.
type DeviceSelector interface {
	Select(op scheduler.Operation) (health.Device, error)
}

// HealthReporter records the outcome of a dispatched call so the next
// selection reflects it. Implemented by health.Monitor.
type HealthReporter interface {
	MarkSuccess(deviceID string, latencyMS int64)
	MarkFailure(deviceID string)
}

// Router is the BatchInferenceRouter component.
type Router struct {
	completer      Completer
	selector       DeviceSelector
	health         HealthReporter
	concurrency    int
	maxCallsPerSec float64 // 0 disables rate limiting
}

// Option configures a Router at construction.
type Option func(*Router)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRateLimit makes each prompt's goroutine sleep 1s/maxCallsPerSec
// before acquiring its semaphore permit. The sleeps of one batch run
// concurrently, so they delay the start of dispatch by one interval; they
// do not space successive calls apart.
func WithRateLimit(maxCallsPerSec float64) Option {
	return func(r *Router) { r.maxCallsPerSec = maxCallsPerSec }
}

// New constructs a Router.
func New(completer Completer, selector DeviceSelector, reporter HealthReporter, opts ...Option) *Router {
	r := &Router{
		completer:   completer,
		selector:    selector,
		health:      reporter,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute dispatches every prompt in req concurrently, bounded by the
// router's semaphore, and returns results in input order. Output length
// always equals input length; a prompt that exhausts its retry budget
// yields a failed Outcome rather than aborting the batch.
func (r *Router) Execute(ctx context.Context, req Request, perCallTimeout time.Duration) Response {
	start := time.Now()
	n := len(req.Prompts)
	results := make([]Outcome, n)

	sem := make(chan struct{}, r.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	totalTokens := 0
	allSucceeded := true

	for i, prompt := range req.Prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			if r.maxCallsPerSec > 0 {
				select {
				case <-time.After(time.Duration(float64(time.Second) / r.maxCallsPerSec)):
				case <-gctx.Done():
				}
			}
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				mu.Lock()
				results[i] = Outcome{Prompt: prompt, Success: false, Err: gctx.Err()}
				allSucceeded = false
				mu.Unlock()
				return nil
			}

			outcome := r.callWithRetry(gctx, prompt, req, perCallTimeout)
			mu.Lock()
			results[i] = outcome
			totalTokens += outcome.Tokens
			if !outcome.Success {
				allSucceeded = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // stage goroutines never return an error; see above

	return Response{
		Results:      results,
		TotalTokens:  totalTokens,
		Duration:     time.Since(start),
		AllSucceeded: allSucceeded,
	}
}

func (r *Router) callWithRetry(ctx context.Context, prompt string, req Request, perCallTimeout time.Duration) Outcome {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return Outcome{Prompt: prompt, Success: false, Err: ctx.Err()}
		}

		dev, err := r.selector.Select(scheduler.Operation{Kind: scheduler.OpLLMInference, Model: req.Model})
		if err != nil {
			lastErr = err
		} else {
			callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
			callStart := time.Now()
			text, tokens, cerr := r.completer.Complete(callCtx, dev, req.Model, prompt, req.Temperature, req.MaxTokens)
			cancel()
			latency := time.Since(callStart).Milliseconds()

			if cerr == nil {
				r.health.MarkSuccess(dev.ID, latency)
				if tokens <= 0 {
					tokens = estimateTokens(text)
				}
				return Outcome{Prompt: prompt, Response: text, Tokens: tokens, Success: true}
			}
			r.health.MarkFailure(dev.ID)
			lastErr = cerr
		}

		if attempt < MaxRetries-1 {
			backoff := time.Duration(100*(attempt+1)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Outcome{Prompt: prompt, Success: false, Err: ctx.Err()}
			}
		}
	}
	return Outcome{Prompt: prompt, Success: false, Err: lastErr}
}

// estimateTokens is the fallback token accounting used when the remote
// endpoint does not return an authoritative count.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	est := words + chars/4
	if est < 1 {
		est = 1
	}
	return est
}
