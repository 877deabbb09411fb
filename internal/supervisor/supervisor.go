// Package supervisor allocates one session per learner, makes it
// discoverable by learner id, and isolates failures. The registry is the
// only shared mutable structure in the core; a single mutex gives it
// atomic insert-if-absent semantics.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/internal/psm"
	"github.com/mentora-ai/mentora/internal/session"
	"github.com/mentora-ai/mentora/internal/storage"
	"github.com/mentora-ai/mentora/pkg/types"
)

// ErrNotFound is returned when no live session exists for a learner id.
var ErrNotFound = errors.New("session not found")

// Store is the snapshot store the supervisor restores from and cleans up.
// *storage.Store satisfies it.
type Store interface {
	Persist(ctx context.Context, snap *types.Snapshot) error
	Restore(ctx context.Context, learnerID string) (*types.Snapshot, error)
	Delete(ctx context.Context, learnerID string) error
}

// Params configures a supervisor.
type Params struct {
	Config   *types.Config
	Executor session.ToolRunner
	Syllabus session.Syllabus
	Store    Store // nil disables persistence
}

// Supervisor owns the learner-id registry and session lifecycles.
type Supervisor struct {
	cfg      *types.Config
	exec     session.ToolRunner
	syllabus session.Syllabus
	store    Store
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates a supervisor.
func New(p Params) *Supervisor {
	cfg := p.Config
	if cfg == nil {
		cfg = (&types.Config{}).WithDefaults()
	}
	return &Supervisor{
		cfg:      cfg,
		exec:     p.Executor,
		syllabus: p.Syllabus,
		store:    p.Store,
		log:      logging.Component("supervisor"),
		sessions: make(map[string]*session.Session),
	}
}

// StartSession returns the live session for a learner, creating one if
// none exists. A concurrent start for the same id returns the same
// handle. When persistence is enabled a new session rehydrates from the
// learner's last snapshot.
func (sv *Supervisor) StartSession(learnerID string, sink types.TransportSink) (*session.Session, error) {
	if learnerID == "" {
		return nil, errors.New("learner id required")
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if s, ok := sv.sessions[learnerID]; ok {
		if s.Alive() {
			if sink != nil {
				_ = s.BindSink(sink)
			}
			return s, nil
		}
		delete(sv.sessions, learnerID)
	}

	var snap *types.Snapshot
	if sv.store != nil && sv.cfg.Persistence() {
		restored, err := sv.store.Restore(context.Background(), learnerID)
		switch {
		case err == nil:
			snap = restored
		case errors.Is(err, storage.ErrNotFound):
		default:
			sv.log.Warn().Err(err).Str("learnerID", learnerID).Msg("failed to restore snapshot")
		}
	}

	s, err := session.Start(session.Params{
		LearnerID: learnerID,
		Config:    sv.cfg,
		Executor:  sv.exec,
		Syllabus:  sv.syllabus,
		Store:     sv.store,
		Sink:      sink,
		Snapshot:  snap,
		OnExit:    sv.onExit,
	})
	if err != nil {
		return nil, err
	}

	sv.sessions[learnerID] = s
	sv.log.Info().Str("learnerID", learnerID).Bool("resumed", snap != nil).Msg("session registered")
	return s, nil
}

// onExit drops the registry entry for an ended session. The comparison is
// by handle so a replacement session registered in the meantime survives.
// Completed sessions also drop their persisted snapshot.
func (sv *Supervisor) onExit(s *session.Session) {
	sv.mu.Lock()
	if cur, ok := sv.sessions[s.LearnerID()]; ok && cur == s {
		delete(sv.sessions, s.LearnerID())
	}
	sv.mu.Unlock()

	if sv.store != nil {
		if view, err := s.Snapshot(); err == nil && psm.IsTerminal(psm.State(view.State)) {
			if err := sv.store.Delete(context.Background(), s.LearnerID()); err != nil {
				sv.log.Warn().Err(err).Str("learnerID", s.LearnerID()).Msg("failed to delete snapshot")
			}
		}
	}
}

// Lookup returns the live session for a learner id. A dead session is a
// NotFound even if its registry entry has not been reaped yet.
func (sv *Supervisor) Lookup(learnerID string) (*session.Session, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	s, ok := sv.sessions[learnerID]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.Alive() {
		delete(sv.sessions, learnerID)
		return nil, ErrNotFound
	}
	return s, nil
}

// StopSession requests graceful shutdown of a learner's session.
func (sv *Supervisor) StopSession(learnerID string) error {
	s, err := sv.Lookup(learnerID)
	if err != nil {
		return err
	}
	return s.RequestShutdown(true)
}

// ActiveIDs returns the learner ids with live sessions.
func (sv *Supervisor) ActiveIDs() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	ids := make([]string, 0, len(sv.sessions))
	for id, s := range sv.sessions {
		if s.Alive() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown gracefully stops every session and waits for them to end, up
// to the context deadline.
func (sv *Supervisor) Shutdown(ctx context.Context) {
	sv.mu.Lock()
	live := make([]*session.Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		live = append(live, s)
	}
	sv.mu.Unlock()

	for _, s := range live {
		_ = s.RequestShutdown(true)
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no sessions are live or the timeout elapses.
// Introspection helper for tests and drain endpoints.
func (sv *Supervisor) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(sv.ActiveIDs()) == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(sv.ActiveIDs()) == 0
}
