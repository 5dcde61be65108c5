package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rand/rlmengine/internal/rlm/batch"
	"github.com/rand/rlmengine/internal/rlm/cluster"
	rlmctx "github.com/rand/rlmengine/internal/rlm/context"
	"github.com/rand/rlmengine/internal/rlm/health"
	"github.com/rand/rlmengine/internal/rlm/repl"
	"github.com/rand/rlmengine/internal/rlm/rlmerr"
	"github.com/rand/rlmengine/internal/rlm/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSelector struct {
	dev health.Device
	err error
}

func (f fakeSelector) Select(op scheduler.Operation) (health.Device, error) { return f.dev, f.err }

type fakeLocal struct {
	resp repl.Response
	err  error
}

func (f fakeLocal) Execute(ctx context.Context, req repl.Request) (repl.Response, error) {
	return f.resp, f.err
}

type fakeRemote struct {
	called bool
}

func (f *fakeRemote) ExecuteREPL(ctx context.Context, deviceID string, req cluster.ReplRequestDTO) (cluster.ReplResponseDTO, error) {
	f.called = true
	return cluster.ReplResponseDTO{Stdout: "remote-out", ExitCode: 0}, nil
}

type fakeBatcher struct {
	resp batch.Response
}

func (f fakeBatcher) Execute(ctx context.Context, req batch.Request, perCallTimeout time.Duration) batch.Response {
	return f.resp
}

func TestRun_RejectsEmptyInputs(t *testing.T) {
	e := New(DefaultConfig(), fakeSelector{}, fakeLocal{}, nil, fakeBatcher{})
	_, err := e.Run(context.Background(), "", "task1", nil, nil)
	require.Error(t, err)
}

func TestRun_DispatchesCodeBlockLocallyAndAppendsOutput(t *testing.T) {
	sel := fakeSelector{dev: health.Device{ID: LocalDeviceID, Local: true}}
	loc := fakeLocal{resp: repl.Response{Stdout: "42"}}
	e := New(DefaultConfig(), sel, loc, nil, fakeBatcher{})

	ready := func(ec *rlmctx.Context) bool { return true } // stop after one iteration
	answer, err := e.Run(context.Background(), "```python\nprint(6*7)\n```", "task1", ready, nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "Output:\n42")
}

func TestRun_FallsBackToLocalWhenNoDeviceAvailable(t *testing.T) {
	sel := fakeSelector{err: errors.New("no device")}
	loc := fakeLocal{resp: repl.Response{Stdout: "ok"}}
	remote := &fakeRemote{}
	e := New(DefaultConfig(), sel, loc, remote, fakeBatcher{})

	ready := func(ec *rlmctx.Context) bool { return true }
	answer, err := e.Run(context.Background(), "```bash\necho ok\n```", "task1", ready, nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "ok")
	assert.False(t, remote.called)
}

func TestRun_RefinementAppendsAllResultsInOrder(t *testing.T) {
	sel := fakeSelector{dev: health.Device{ID: LocalDeviceID, Local: true}}
	loc := fakeLocal{}
	batcher := fakeBatcher{resp: batch.Response{
		Results: []batch.Outcome{
			{Prompt: "a", Response: "first", Success: true},
			{Prompt: "b", Response: "second", Success: true},
		},
		AllSucceeded: true,
		TotalTokens:  10,
	}}
	e := New(DefaultConfig(), sel, loc, nil, batcher)

	refine := func(ec *rlmctx.Context) []string { return []string{"a", "b"} }
	ready := func(ec *rlmctx.Context) bool { return true }
	answer, err := e.Run(context.Background(), "no code blocks here", "task1", ready, refine)
	require.NoError(t, err)
	assert.Contains(t, answer, "first")
	assert.Contains(t, answer, "second")
}

func TestRun_PropagatesCancelledWhenContextAlreadyCancelled(t *testing.T) {
	sel := fakeSelector{dev: health.Device{ID: LocalDeviceID, Local: true}}
	loc := fakeLocal{resp: repl.Response{Stdout: "unreached"}}
	e := New(DefaultConfig(), sel, loc, nil, fakeBatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, "```bash\necho hi\n```", "task1", nil, nil)
	require.Error(t, err)
	assert.True(t, rlmerr.OfKind(err, rlmerr.KindCancelled))
}

func TestRun_PropagatesCancelledFromCodeBlockDispatch(t *testing.T) {
	sel := fakeSelector{dev: health.Device{ID: LocalDeviceID, Local: true}}
	loc := fakeLocal{err: rlmerr.New(rlmerr.KindCancelled, "repl child cancelled")}
	e := New(DefaultConfig(), sel, loc, nil, fakeBatcher{})

	_, err := e.Run(context.Background(), "```bash\necho hi\n```", "task1", nil, nil)
	require.Error(t, err)
	assert.True(t, rlmerr.OfKind(err, rlmerr.KindCancelled))
}

func TestRun_StopsAtMaxIterationsWithoutReadyPredicate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	sel := fakeSelector{dev: health.Device{ID: LocalDeviceID, Local: true}}
	loc := fakeLocal{resp: repl.Response{Stdout: "x"}}
	e := New(cfg, sel, loc, nil, fakeBatcher{})

	answer, err := e.Run(context.Background(), "plain prompt, no blocks", "task1", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
}
