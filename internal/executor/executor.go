// Package executor runs tool calls asynchronously on behalf of sessions.
// Each submission gets a correlation token; the terminal result is
// delivered exactly once to the submitting receiver, tagged with that
// token. Capacity is bounded: a fixed worker pool drains a fixed-size
// FIFO queue, and submissions beyond both are rejected with ErrBusy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/internal/tool"
)

var (
	// ErrBusy is returned when the queue is full.
	ErrBusy = errors.New("executor at capacity")
	// ErrClosed is returned for submissions after shutdown.
	ErrClosed = errors.New("executor closed")
)

// Outcome classifies how a tool call terminated.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Result is the terminal result of a tool call. Value is set only for
// OutcomeOK; Err only for OutcomeError.
type Result struct {
	Token   string
	Name    tool.Name
	Outcome Outcome
	Value   any
	Err     error
}

// Receiver accepts terminal tool results. Sessions implement it by
// forwarding into their inbox, so delivery must not assume the receiver
// is still running.
type Receiver interface {
	DeliverToolResult(res Result)
}

type task struct {
	token    string
	name     tool.Name
	args     any
	receiver Receiver
	ctx      context.Context
	cancel   context.CancelFunc
}

// Executor dispatches tool calls onto a shared toolset.
type Executor struct {
	toolset tool.Toolset
	queue   chan *task

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	closed   bool

	wg sync.WaitGroup
}

// New creates an executor with the given worker pool size and queue
// capacity and starts its workers.
func New(toolset tool.Toolset, concurrency, queueCap int) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueCap < 0 {
		queueCap = 0
	}

	e := &Executor{
		toolset:  toolset,
		queue:    make(chan *task, queueCap),
		inflight: make(map[string]context.CancelFunc),
	}

	e.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go e.worker()
	}

	return e
}

// Submit enqueues a tool call and returns its correlation token. The
// deadline covers queue wait plus execution. Returns ErrBusy when the
// queue is full and ErrClosed after shutdown.
func (e *Executor) Submit(name tool.Name, args any, deadline time.Duration, receiver Receiver) (string, error) {
	if receiver == nil {
		return "", fmt.Errorf("submit %s: nil receiver", name)
	}

	token := ulid.Make().String()

	ctx := context.Background()
	var cancel context.CancelFunc
	if deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	t := &task{
		token:    token,
		name:     name,
		args:     args,
		receiver: receiver,
		ctx:      ctx,
		cancel:   cancel,
	}

	// The enqueue happens under the mutex so Close cannot close the queue
	// between the closed check and the send. The select never blocks.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return "", ErrClosed
	}

	select {
	case e.queue <- t:
		e.inflight[token] = cancel
		e.mu.Unlock()
		logging.Debug().Str("token", token).Str("tool", string(name)).Msg("tool call queued")
		return token, nil
	default:
		e.mu.Unlock()
		cancel()
		return "", ErrBusy
	}
}

// Cancel aborts an in-flight or queued call. The call still resolves
// through the receiver, with OutcomeCancelled. Cancelling an unknown
// token is a no-op.
func (e *Executor) Cancel(token string) {
	e.mu.Lock()
	cancel, ok := e.inflight[token]
	e.mu.Unlock()

	if ok {
		cancel()
	}
}

// Close stops accepting submissions, cancels everything in flight and
// waits for the workers to drain.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, cancel := range e.inflight {
		cancel()
	}
	close(e.queue)
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for t := range e.queue {
		e.run(t)
	}
}

func (e *Executor) run(t *task) {
	defer t.cancel()

	res := Result{Token: t.token, Name: t.name}

	// Resolve before the tool runs when the deadline already fired while
	// the task sat in the queue.
	if err := t.ctx.Err(); err != nil {
		res.Outcome = outcomeFromContext(err)
		e.resolve(t, res)
		return
	}

	value, err := e.invoke(t)

	switch {
	case t.ctx.Err() != nil:
		res.Outcome = outcomeFromContext(t.ctx.Err())
	case err != nil:
		res.Outcome = OutcomeError
		res.Err = err
	default:
		res.Outcome = OutcomeOK
		res.Value = value
	}

	e.resolve(t, res)
}

// invoke runs the tool with panic containment. A panicking tool resolves
// as OutcomeError rather than taking a worker down.
func (e *Executor) invoke(t *task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("tool", string(t.name)).
				Str("token", t.token).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("tool call panicked")
			err = fmt.Errorf("tool %s panicked: %v", t.name, r)
		}
	}()

	return tool.Invoke(t.ctx, e.toolset, t.name, t.args)
}

// resolve delivers the terminal result exactly once and drops the token.
func (e *Executor) resolve(t *task, res Result) {
	e.forget(t.token)

	logging.Debug().
		Str("token", t.token).
		Str("tool", string(t.name)).
		Str("outcome", string(res.Outcome)).
		Msg("tool call resolved")

	t.receiver.DeliverToolResult(res)
}

func (e *Executor) forget(token string) {
	e.mu.Lock()
	delete(e.inflight, token)
	e.mu.Unlock()
}

// Pending returns the number of calls queued or running.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

func outcomeFromContext(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	return OutcomeCancelled
}
