// Package session implements the per-learner tutoring actor. Each session
// owns its conversation state exclusively and processes its inbox one
// envelope at a time, so no locking is needed inside a session. Tool work
// is handed to the executor and correlated back by token; the session
// never blocks on a tool or on the transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mentora-ai/mentora/internal/event"
	"github.com/mentora-ai/mentora/internal/executor"
	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/internal/psm"
	"github.com/mentora-ai/mentora/internal/tool"
	"github.com/mentora-ai/mentora/pkg/types"
)

// ErrTerminated is returned by external operations on a dead session.
var ErrTerminated = errors.New("session terminated")

// Syllabus supplies the learning track. Implemented by the syllabus
// package; faked in tests.
type Syllabus interface {
	First() (*types.Topic, bool)
	Next(current types.Topic) (*types.Topic, bool)
}

// Store is the persistence collaborator. Persist failures are advisory.
type Store interface {
	Persist(ctx context.Context, snap *types.Snapshot) error
}

// ToolRunner is the executor surface a session uses. Satisfied by
// *executor.Executor.
type ToolRunner interface {
	Submit(name tool.Name, args any, deadline time.Duration, receiver executor.Receiver) (string, error)
	Cancel(token string)
}

// Params configures a new session.
type Params struct {
	LearnerID string
	Config    *types.Config
	Executor  ToolRunner
	Syllabus  Syllabus
	Store     Store               // nil disables persistence
	Sink      types.TransportSink // nil until a transport connects
	Snapshot  *types.Snapshot     // non-nil rehydrates a persisted session
	OnExit    func(s *Session)    // called once, after the run loop ends
}

// inbox envelopes

type userMsg struct {
	content string
	sink    types.TransportSink
}

type toolResult struct {
	res executor.Result
}

type tickMsg struct{}

type shutdownMsg struct {
	graceful bool
	reason   string
}

type snapshotReq struct {
	reply chan types.PublicView
}

type bindSinkMsg struct {
	sink   types.TransportSink
	expect types.TransportSink // an unbind applies only while expect is still bound
}

type pendingCall struct {
	name      tool.Name
	tag       string
	args      any
	startedAt time.Time
	deadline  time.Duration
	retried   bool
}

// Session is one learner's tutoring actor.
type Session struct {
	learnerID string
	sessionID string
	cfg       *types.Config
	exec      ToolRunner
	syllabus  Syllabus
	store     Store
	onExit    func(*Session)
	log       zerolog.Logger

	inbox chan any
	done  chan struct{}

	// Everything below is owned by the run loop.
	state        psm.State
	topic        *types.Topic
	question     *types.Question
	history      []types.HistoryEntry
	metrics      types.Metrics
	attemptCount int
	pending      map[string]*pendingCall
	sink         types.TransportSink
	disconnected int64 // unix ms of last sink unbind; 0 while bound or fresh
	createdAt    int64
	stopping     bool
	endReason    string
	endGraceful  bool
	persistedEnd bool

	// finalView is written in finalize, before done closes, and is the
	// view served to Snapshot callers after termination.
	finalView types.PublicView
}

// Start creates a session and begins its run loop. When Params.Snapshot is
// set the session resumes from it instead of starting fresh.
func Start(p Params) (*Session, error) {
	if p.LearnerID == "" {
		return nil, fmt.Errorf("learner id required")
	}
	if p.Executor == nil || p.Syllabus == nil {
		return nil, fmt.Errorf("executor and syllabus required")
	}
	cfg := p.Config
	if cfg == nil {
		cfg = (&types.Config{}).WithDefaults()
	}

	s := &Session{
		learnerID: p.LearnerID,
		sessionID: p.LearnerID + "-" + ulid.Make().String(),
		cfg:       cfg,
		exec:      p.Executor,
		syllabus:  p.Syllabus,
		store:     p.Store,
		onExit:    p.OnExit,
		inbox:     make(chan any, 64),
		done:      make(chan struct{}),
		state:     psm.Initial(),
		pending:   make(map[string]*pendingCall),
		sink:      p.Sink,
		createdAt: time.Now().UnixMilli(),
	}
	s.metrics.StartedAt = s.createdAt
	s.metrics.LastActivity = s.createdAt
	s.log = logging.Component("session").With().
		Str("learnerID", s.learnerID).
		Str("sessionID", s.sessionID).
		Logger()

	resumed := false
	if p.Snapshot != nil {
		if err := s.rehydrate(p.Snapshot); err != nil {
			s.log.Warn().Err(err).Msg("ignoring unusable snapshot")
		} else {
			resumed = true
		}
	}

	go s.run(resumed)
	return s, nil
}

// rehydrate restores actor state from a persisted snapshot. Unknown or
// terminal states reject the snapshot so the session starts fresh.
func (s *Session) rehydrate(snap *types.Snapshot) error {
	state := psm.State(snap.State)
	if !psm.Known(state) {
		return fmt.Errorf("unknown state %q", snap.State)
	}
	if psm.IsTerminal(state) {
		return fmt.Errorf("snapshot is terminal")
	}

	// Tool-dependent states cannot resume mid-call; the pending table does
	// not survive a restart. Fall back to the nearest input-accepting state.
	switch {
	case psm.AcceptsUserInput(state):
		s.state = state
	case state == psm.EvaluatingAnswer || state == psm.AwaitingToolResult || state == psm.SettingQuestion:
		if snap.Question != nil {
			s.state = psm.AwaitingAnswer
		} else {
			s.state = psm.Exposition
		}
	default:
		s.state = state
	}

	if snap.SessionID != "" {
		s.sessionID = snap.SessionID
	}
	s.topic = snap.Topic
	s.question = snap.Question
	s.history = append([]types.HistoryEntry(nil), snap.History...)
	s.metrics = snap.Metrics
	s.attemptCount = snap.AttemptCount
	s.metrics.LastActivity = time.Now().UnixMilli()
	return nil
}

// LearnerID returns the stable learner identifier.
func (s *Session) LearnerID() string { return s.learnerID }

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// Done is closed when the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Alive reports whether the run loop is still consuming the inbox.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// HandleUserMessage enqueues a learner message. It returns immediately;
// ErrTerminated is the only rejection.
func (s *Session) HandleUserMessage(content string) error {
	return s.send(userMsg{content: content})
}

// BindSink points outbound emission at a new transport sink. A nil sink
// unbinds unconditionally (learner disconnected).
func (s *Session) BindSink(sink types.TransportSink) error {
	return s.send(bindSinkMsg{sink: sink})
}

// UnbindSink detaches sink only if it is still the bound one. On a
// reconnect the old connection closes after the new stream has already
// bound its sink; that late close must not detach the replacement.
func (s *Session) UnbindSink(sink types.TransportSink) error {
	return s.send(bindSinkMsg{expect: sink})
}

// Snapshot returns a read-only view of the session. It round-trips
// through the inbox so the view is consistent with message order. After
// termination the final view is served directly.
func (s *Session) Snapshot() (types.PublicView, error) {
	reply := make(chan types.PublicView, 1)
	if err := s.send(snapshotReq{reply: reply}); err != nil {
		return s.finalView, nil
	}
	select {
	case view := <-reply:
		return view, nil
	case <-s.done:
		return s.finalView, nil
	}
}

// RequestShutdown enqueues a shutdown. Graceful shutdown persists and
// emits a summary before exit.
func (s *Session) RequestShutdown(graceful bool) error {
	return s.send(shutdownMsg{graceful: graceful, reason: "shutdown"})
}

// DeliverToolResult implements executor.Receiver. Results arriving after
// termination are dropped.
func (s *Session) DeliverToolResult(res executor.Result) {
	_ = s.send(toolResult{res: res})
}

func (s *Session) send(env any) error {
	select {
	case <-s.done:
		return ErrTerminated
	default:
	}
	select {
	case s.inbox <- env:
		return nil
	case <-s.done:
		return ErrTerminated
	}
}

// run is the actor loop. A panic while handling an envelope terminates
// this session only; the supervisor drops the registry entry via onExit.
func (s *Session) run(resumed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("session crashed")
			event.Publish(event.Event{Type: event.SessionFailed, Data: event.SessionFailedData{
				SessionID: s.sessionID,
				LearnerID: s.learnerID,
				Error:     fmt.Sprint(r),
			}})
			s.endReason = "failure"
			s.endGraceful = false
			s.finalize()
		}
		close(s.done)
		if s.onExit != nil {
			s.onExit(s)
		}
	}()

	if resumed {
		s.log.Info().Str("state", string(s.state)).Msg("session resumed")
		event.Publish(event.Event{Type: event.SessionResumed, Data: event.SessionResumedData{
			SessionID: s.sessionID,
			LearnerID: s.learnerID,
			State:     string(s.state),
		}})
		s.emitSystem("Welcome back! Let's pick up where we left off.")
		if s.state == psm.AwaitingAnswer && s.question != nil {
			s.emitSystem(s.question.Text)
		}
	} else {
		s.log.Info().Msg("session started")
		event.Publish(event.Event{Type: event.SessionStarted, Data: event.SessionStartedData{
			SessionID: s.sessionID,
			LearnerID: s.learnerID,
		}})
		s.begin()
	}

	if s.stopping {
		s.finalize()
		return
	}

	ticker := time.NewTicker(time.Duration(s.cfg.TickMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case env := <-s.inbox:
			s.handle(env)
		case <-ticker.C:
			s.handle(tickMsg{})
		}
		if s.stopping {
			s.finalize()
			return
		}
	}
}

// begin runs the initialized transition and opens the first topic.
func (s *Session) begin() {
	s.apply(psm.Initialized)

	if s.topic == nil {
		topic, ok := s.syllabus.First()
		if !ok {
			s.emitSystem("There are no topics available right now. Please come back later.")
			s.terminate("complete", true)
			return
		}
		s.topic = topic
	}

	s.emitSystem(fmt.Sprintf("Welcome! Today we're working on %s. Say \"ready\" when you want a question, or ask me anything about it.", s.topic.Name))
}

// handle processes one inbox envelope.
func (s *Session) handle(env any) {
	switch m := env.(type) {
	case userMsg:
		s.onUserMessage(m)
	case toolResult:
		s.onToolResult(m.res)
	case tickMsg:
		s.onTick()
	case shutdownMsg:
		s.terminate(m.reason, m.graceful)
	case snapshotReq:
		m.reply <- s.publicView()
	case bindSinkMsg:
		if m.sink == nil {
			if m.expect != nil && s.sink != m.expect {
				s.log.Debug().Msg("stale unbind from replaced connection ignored")
				return
			}
			if s.sink != nil {
				s.disconnected = time.Now().UnixMilli()
			}
			s.sink = nil
			return
		}
		s.disconnected = 0
		s.sink = m.sink
	default:
		s.log.Warn().Str("type", fmt.Sprintf("%T", env)).Msg("unknown inbox envelope")
	}
}

// terminate marks the session for teardown; finalize runs after the
// current envelope completes.
func (s *Session) terminate(reason string, graceful bool) {
	if s.stopping {
		return
	}
	s.stopping = true
	s.endReason = reason
	s.endGraceful = graceful
}

// finalize cancels outstanding tools, offers a last snapshot to the store
// exactly once, and announces the end.
func (s *Session) finalize() {
	for token := range s.pending {
		s.exec.Cancel(token)
		delete(s.pending, token)
	}

	if s.endGraceful {
		s.emitSystem(s.summary())
	}
	s.persistSnapshot(true)

	s.finalView = s.publicView()

	s.log.Info().Str("reason", s.endReason).Msg("session ended")
	event.Publish(event.Event{Type: event.SessionEnded, Data: event.SessionEndedData{
		SessionID: s.sessionID,
		LearnerID: s.learnerID,
		Reason:    s.endReason,
		Graceful:  s.endGraceful,
	}})
}

// onTick drives inactivity and reconnect-grace checks plus periodic
// persistence.
func (s *Session) onTick() {
	now := time.Now().UnixMilli()

	if idle := now - s.metrics.LastActivity; idle > int64(s.cfg.InactivityMS) {
		s.log.Info().Int64("idleMS", idle).Msg("inactivity timeout")
		s.terminate("inactivity", true)
		return
	}

	// A learner whose transport dropped gets a reconnect grace window;
	// activity through the message ingress keeps the session alive too.
	if s.sink == nil && s.disconnected > 0 &&
		s.disconnected > s.metrics.LastActivity &&
		now-s.disconnected > int64(s.cfg.TransportReconnectGraceMS) {
		s.log.Info().Msg("reconnect grace expired")
		s.terminate("disconnect", true)
		return
	}

	s.persistSnapshot(false)
}

// persistSnapshot offers the current state to the store. Failures are
// logged only; persistence never affects liveness. The terminal offer
// happens at most once.
func (s *Session) persistSnapshot(terminal bool) {
	if s.store == nil || !s.cfg.Persistence() {
		return
	}
	if terminal {
		if s.persistedEnd {
			return
		}
		s.persistedEnd = true
	}

	if err := s.store.Persist(context.Background(), s.snapshot()); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist snapshot")
	}
}

func (s *Session) snapshot() *types.Snapshot {
	now := time.Now().UnixMilli()
	return &types.Snapshot{
		SessionID:    s.sessionID,
		LearnerID:    s.learnerID,
		State:        string(s.state),
		Topic:        s.topic,
		Question:     s.question,
		History:      append([]types.HistoryEntry(nil), s.history...),
		Metrics:      s.metrics,
		AttemptCount: s.attemptCount,
		Version:      "1",
		Time:         types.SnapshotTime{Created: s.createdAt, Updated: now},
	}
}

func (s *Session) publicView() types.PublicView {
	history := s.history
	if n := s.cfg.HistoryRetained; len(history) > n {
		history = history[len(history)-n:]
	}
	return types.PublicView{
		SessionID:    s.sessionID,
		LearnerID:    s.learnerID,
		State:        string(s.state),
		Topic:        s.topic,
		Question:     s.question,
		History:      append([]types.HistoryEntry(nil), history...),
		Metrics:      s.metrics,
		AttemptCount: s.attemptCount,
		PendingTools: len(s.pending),
	}
}

func (s *Session) summary() string {
	return fmt.Sprintf("Session summary: %d questions attempted, %d correct, %d topics covered. See you next time!",
		s.metrics.QuestionsAttempted, s.metrics.QuestionsCorrect, len(s.metrics.TopicsCovered))
}
