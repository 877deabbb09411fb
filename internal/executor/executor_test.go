package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-ai/mentora/internal/tool"
	"github.com/mentora-ai/mentora/pkg/types"
)

// blockingToolset embeds the static toolset and blocks generate_question
// until release is closed, to exercise timeouts, cancels and capacity.
type blockingToolset struct {
	tool.Static
	release chan struct{}
	panics  bool
}

func (b *blockingToolset) GenerateQuestion(ctx context.Context, args tool.QuestionArgs) (*types.Question, error) {
	if b.panics {
		panic("provider exploded")
	}
	select {
	case <-b.release:
		return tool.FallbackQuestion(args.Topic), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resultCollector records delivered results.
type resultCollector struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newCollector() *resultCollector {
	return &resultCollector{ch: make(chan Result, 64)}
}

func (c *resultCollector) DeliverToolResult(res Result) {
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
	c.ch <- res
}

func (c *resultCollector) wait(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-c.ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tool result")
		return Result{}
	}
}

func (c *resultCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func questionArgs() tool.QuestionArgs {
	return tool.QuestionArgs{Topic: types.Topic{ID: 1, Name: "Addition"}}
}

func TestSubmitDeliversResult(t *testing.T) {
	e := New(tool.Static{}, 2, 8)
	defer e.Close()

	c := newCollector()
	token, err := e.Submit(tool.GenerateQuestion, questionArgs(), time.Second, c)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	res := c.wait(t)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, tool.GenerateQuestion, res.Name)
	assert.Equal(t, OutcomeOK, res.Outcome)

	q, ok := res.Value.(*types.Question)
	require.True(t, ok)
	assert.Equal(t, "15", q.CorrectAnswer)
}

func TestTokensAreUnique(t *testing.T) {
	e := New(tool.Static{}, 4, 64)
	defer e.Close()

	c := newCollector()
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		token, err := e.Submit(tool.ClassifyIntent, tool.IntentArgs{Message: "ok"}, time.Second, c)
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}

	for i := 0; i < 32; i++ {
		c.wait(t)
	}
}

func TestDeadlineResolvesTimeout(t *testing.T) {
	ts := &blockingToolset{release: make(chan struct{})}
	e := New(ts, 1, 4)
	defer e.Close()
	defer close(ts.release)

	c := newCollector()
	token, err := e.Submit(tool.GenerateQuestion, questionArgs(), 30*time.Millisecond, c)
	require.NoError(t, err)

	res := c.wait(t)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Nil(t, res.Value)
}

func TestCancelResolvesCancelled(t *testing.T) {
	ts := &blockingToolset{release: make(chan struct{})}
	e := New(ts, 1, 4)
	defer e.Close()
	defer close(ts.release)

	c := newCollector()
	token, err := e.Submit(tool.GenerateQuestion, questionArgs(), 10*time.Second, c)
	require.NoError(t, err)

	e.Cancel(token)

	res := c.wait(t)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, OutcomeCancelled, res.Outcome)

	// Cancelling an already resolved token is a no-op.
	e.Cancel(token)
	assert.Equal(t, 1, c.count())
}

func TestQueueFullReturnsBusy(t *testing.T) {
	ts := &blockingToolset{release: make(chan struct{})}
	e := New(ts, 1, 1)
	defer e.Close()

	c := newCollector()

	// First fills the single worker, second fills the queue.
	_, err := e.Submit(tool.GenerateQuestion, questionArgs(), 10*time.Second, c)
	require.NoError(t, err)

	// Give the worker time to pick up the first task.
	require.Eventually(t, func() bool {
		_, err := e.Submit(tool.GenerateQuestion, questionArgs(), 10*time.Second, c)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, err = e.Submit(tool.GenerateQuestion, questionArgs(), 10*time.Second, c)
	assert.ErrorIs(t, err, ErrBusy)

	close(ts.release)
}

func TestPanicResolvesError(t *testing.T) {
	ts := &blockingToolset{panics: true}
	e := New(ts, 1, 4)
	defer e.Close()

	c := newCollector()
	token, err := e.Submit(tool.GenerateQuestion, questionArgs(), time.Second, c)
	require.NoError(t, err)

	res := c.wait(t)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorContains(t, res.Err, "panicked")

	// The worker survives the panic.
	_, err = e.Submit(tool.ClassifyIntent, tool.IntentArgs{Message: "ok"}, time.Second, c)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, c.wait(t).Outcome)
}

func TestResultDeliveredExactlyOnce(t *testing.T) {
	ts := &blockingToolset{release: make(chan struct{})}
	e := New(ts, 1, 4)
	defer e.Close()

	c := newCollector()
	token, err := e.Submit(tool.GenerateQuestion, questionArgs(), 50*time.Millisecond, c)
	require.NoError(t, err)

	// Cancel racing the deadline still yields a single terminal result.
	e.Cancel(token)
	c.wait(t)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, c.count())
	assert.Equal(t, 0, e.Pending())

	close(ts.release)
}

func TestSubmitAfterClose(t *testing.T) {
	e := New(tool.Static{}, 1, 4)
	e.Close()

	_, err := e.Submit(tool.GenerateQuestion, questionArgs(), time.Second, newCollector())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNoTokenRetention(t *testing.T) {
	e := New(tool.Static{}, 2, 16)
	defer e.Close()

	c := newCollector()
	for i := 0; i < 10; i++ {
		_, err := e.Submit(tool.ClassifyIntent, tool.IntentArgs{Message: "ok"}, time.Second, c)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		c.wait(t)
	}

	assert.Equal(t, 0, e.Pending())
}
