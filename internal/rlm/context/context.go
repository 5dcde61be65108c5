// Package context holds per-task RLM execution state. An ExecutionContext
// is single-owner (RLMExecutor) and is never shared across goroutines, so
// it needs no internal locking.
package context

import (
	"fmt"
	"time"

	"github.com/rand/rlmengine/internal/rlm/rlmerr"
)

// MaxErrors bounds the recorded-error log; error_count is unbounded.
const MaxErrors = 50

// Metadata tracks counters and the bounded error log for a task.
type Metadata struct {
	REPLExecutions int
	LLMCalls       int
	TotalTokens    int

	errors     []string
	ErrorCount int64
}

// Errors returns a snapshot of the bounded error log (oldest first).
func (m *Metadata) Errors() []string {
	out := make([]string, len(m.errors))
	copy(out, m.errors)
	return out
}

// Context tracks the evolving state of a single RLM task.
type Context struct {
	TaskID        string
	Iteration     int
	MaxIterations int
	Answer        string
	MessageCount  int
	StartedAt     time.Time
	LastActivity  time.Time
	Metadata      Metadata
}

// New creates a Context for taskID with the given iteration bound.
// taskID must be non-empty; callers validate that before construction.
func New(taskID string, maxIterations int) *Context {
	now := time.Now()
	return &Context{
		TaskID:        taskID,
		MaxIterations: maxIterations,
		StartedAt:     now,
		LastActivity:  now,
	}
}

// NextIteration pre-increments the iteration counter, failing fast once
// MaxIterations has already been reached.
func (c *Context) NextIteration() error {
	if c.Iteration >= c.MaxIterations {
		return rlmerr.New(rlmerr.KindInternal, "max iterations already reached")
	}
	c.Iteration++
	c.LastActivity = time.Now()
	return nil
}

// MaxIterationsReached reports whether the loop has exhausted its budget.
func (c *Context) MaxIterationsReached() bool {
	return c.Iteration >= c.MaxIterations
}

// AppendAnswer concatenates s onto the running answer and bumps activity.
func (c *Context) AppendAnswer(s string) {
	c.Answer += s
	c.MessageCount++
	c.LastActivity = time.Now()
}

// ReplaceAnswer overwrites the answer wholesale, e.g. after folding.
func (c *Context) ReplaceAnswer(s string) {
	c.Answer = s
	c.LastActivity = time.Now()
}

// RecordREPLExecution increments the REPL-execution counter. nBytes is
// accepted for symmetry with record_llm_calls but the core only tracks the
// count; byte volume is visible via the answer itself.
func (c *Context) RecordREPLExecution(nBytes int) {
	c.Metadata.REPLExecutions++
}

// RecordLLMCalls updates the LLM-call and total-token counters.
func (c *Context) RecordLLMCalls(n, tokens int) {
	c.Metadata.LLMCalls += n
	c.Metadata.TotalTokens += tokens
}

// RecordError appends msg to the bounded error log, dropping the oldest
// entry once the cap is exceeded. error_count is never bounded. Recording
// an error does not halt the task; callers must inspect Metadata.Errors()
// (or ErrorCount) to decide whether to abort.
func (c *Context) RecordError(msg string) {
	c.Metadata.ErrorCount++
	if len(c.Metadata.errors) >= MaxErrors {
		c.Metadata.errors = append(c.Metadata.errors[1:], msg)
		return
	}
	c.Metadata.errors = append(c.Metadata.errors, msg)
}

// WithinContextLimits reports whether the answer is within the configured
// budget, comparing a bytes/4 heuristic (a conservative token estimate)
// against it. This is explicitly not a true tokenizer; it exists only to
// trigger folding.
func (c *Context) WithinContextLimits(maxContextLength int) bool {
	return len(c.Answer)/4 <= maxContextLength
}

// Elapsed returns the time since task start.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}

// Stats is a point-in-time summary of context state, useful for logging.
type Stats struct {
	TaskID         string
	Iteration      int
	MaxIterations  int
	AnswerBytes    int
	REPLExecutions int
	LLMCalls       int
	TotalTokens    int
	ErrorCount     int64
	Elapsed        time.Duration
}

// Stats returns a snapshot summary of the context.
func (c *Context) Stats() Stats {
	return Stats{
		TaskID:         c.TaskID,
		Iteration:      c.Iteration,
		MaxIterations:  c.MaxIterations,
		AnswerBytes:    len(c.Answer),
		REPLExecutions: c.Metadata.REPLExecutions,
		LLMCalls:       c.Metadata.LLMCalls,
		TotalTokens:    c.Metadata.TotalTokens,
		ErrorCount:     c.Metadata.ErrorCount,
		Elapsed:        c.Elapsed(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("task=%s iter=%d/%d answer_bytes=%d repl=%d llm=%d tokens=%d errors=%d elapsed=%s",
		s.TaskID, s.Iteration, s.MaxIterations, s.AnswerBytes, s.REPLExecutions, s.LLMCalls, s.TotalTokens, s.ErrorCount, s.Elapsed)
}
