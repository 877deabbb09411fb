package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-ai/mentora/internal/executor"
	"github.com/mentora-ai/mentora/internal/psm"
	"github.com/mentora-ai/mentora/internal/session"
	"github.com/mentora-ai/mentora/internal/storage"
	"github.com/mentora-ai/mentora/internal/tool"
	"github.com/mentora-ai/mentora/pkg/types"
)

type listSyllabus struct {
	topics []types.Topic
}

func (l *listSyllabus) First() (*types.Topic, bool) {
	if len(l.topics) == 0 {
		return nil, false
	}
	t := l.topics[0]
	return &t, true
}

func (l *listSyllabus) Next(current types.Topic) (*types.Topic, bool) {
	for i, t := range l.topics {
		if t.ID == current.ID && i+1 < len(l.topics) {
			next := l.topics[i+1]
			return &next, true
		}
	}
	return nil, false
}

type nopSink struct{}

func (nopSink) Deliver(types.OutboundMessage) {}

type panicSink struct{}

func (panicSink) Deliver(types.OutboundMessage) { panic("transport exploded") }

func newSupervisor(t *testing.T, store Store) (*Supervisor, *executor.Executor) {
	t.Helper()
	exec := executor.New(tool.Static{}, 4, 32)
	t.Cleanup(exec.Close)

	sv := New(Params{
		Config:   (&types.Config{TickMS: 60_000}).WithDefaults(),
		Executor: exec,
		Syllabus: &listSyllabus{topics: []types.Topic{{ID: 1, Name: "Addition"}}},
		Store:    store,
	})
	return sv, exec
}

func TestStartSessionUniqueness(t *testing.T) {
	sv, _ := newSupervisor(t, nil)

	var wg sync.WaitGroup
	handles := make([]*session.Session, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := sv.StartSession("learner-1", nopSink{})
			require.NoError(t, err)
			handles[i] = s
		}(i)
	}
	wg.Wait()

	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, []string{"learner-1"}, sv.ActiveIDs())
}

func TestLookup(t *testing.T) {
	sv, _ := newSupervisor(t, nil)

	_, err := sv.Lookup("nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := sv.StartSession("learner-1", nopSink{})
	require.NoError(t, err)

	got, err := sv.Lookup("learner-1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, sv.StopSession("learner-1"))
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	require.Eventually(t, func() bool {
		_, err := sv.Lookup("learner-1")
		return err == ErrNotFound
	}, time.Second, 5*time.Millisecond)
}

func TestStopSessionNotFound(t *testing.T) {
	sv, _ := newSupervisor(t, nil)
	assert.ErrorIs(t, sv.StopSession("nobody"), ErrNotFound)
}

// A crash in one session must not disturb any other session, and the
// crashed learner must be restartable.
func TestCrashIsolation(t *testing.T) {
	store := storage.New(t.TempDir())
	sv, _ := newSupervisor(t, store)

	b, err := sv.StartSession("learner-b", nopSink{})
	require.NoError(t, err)

	// The welcome emission panics through the sink, crashing A's loop.
	a, err := sv.StartSession("learner-a", panicSink{})
	require.NoError(t, err)

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("crashed session did not exit")
	}

	require.Eventually(t, func() bool {
		_, err := sv.Lookup("learner-a")
		return err == ErrNotFound
	}, time.Second, 5*time.Millisecond)

	// B is untouched and still serving.
	require.True(t, b.Alive())
	view, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, string(psm.Exposition), view.State)
	require.NoError(t, b.HandleUserMessage("ready"))

	// Restarting A succeeds and resumes from the crash snapshot.
	a2, err := sv.StartSession("learner-a", nopSink{})
	require.NoError(t, err)
	assert.NotSame(t, a, a2)
	assert.True(t, a2.Alive())
}

func TestCompletedSessionDropsSnapshot(t *testing.T) {
	store := storage.New(t.TempDir())
	sv, _ := newSupervisor(t, store)

	s, err := sv.StartSession("learner-1", nopSink{})
	require.NoError(t, err)

	// Drive the offline toolset to completion.
	require.NoError(t, s.HandleUserMessage("ready"))
	require.Eventually(t, func() bool {
		view, err := s.Snapshot()
		return err == nil && view.State == string(psm.AwaitingAnswer)
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.HandleUserMessage("15"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not complete")
	}

	require.Eventually(t, func() bool {
		return !store.Exists(context.Background(), "learner-1")
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownStopsAll(t *testing.T) {
	sv, _ := newSupervisor(t, nil)

	a, err := sv.StartSession("learner-a", nopSink{})
	require.NoError(t, err)
	b, err := sv.StartSession("learner-b", nopSink{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sv.Shutdown(ctx)

	assert.False(t, a.Alive())
	assert.False(t, b.Alive())
	assert.True(t, sv.WaitIdle(time.Second))
}
