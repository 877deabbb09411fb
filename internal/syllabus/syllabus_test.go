package syllabus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-ai/mentora/pkg/types"
)

const sample = `topics:
  - id: 1
    name: Addition
    tier: 1
  - id: 2
    name: Subtraction
    tier: 1
`

func writeSyllabus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syllabus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	s, err := Load(writeSyllabus(t, sample))
	require.NoError(t, err)

	topics := s.Topics()
	require.Len(t, topics, 2)
	assert.Equal(t, "Addition", topics[0].Name)
	assert.Equal(t, 1, topics[0].Tier)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	_, err := Load(writeSyllabus(t, "topics: []"))
	assert.ErrorContains(t, err, "no topics")

	_, err = Load(writeSyllabus(t, "topics:\n  - id: 1\n    name: A\n  - id: 1\n    name: B\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Load(writeSyllabus(t, "topics:\n  - id: 1\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFirstAndNext(t *testing.T) {
	s := Default()

	first, ok := s.First()
	require.True(t, ok)
	assert.Equal(t, "Addition", first.Name)

	second, ok := s.Next(*first)
	require.True(t, ok)
	assert.Equal(t, "Subtraction", second.Name)

	last := s.Topics()[len(s.Topics())-1]
	_, ok = s.Next(last)
	assert.False(t, ok)

	// Unknown topic restarts the track.
	restart, ok := s.Next(types.Topic{ID: 999})
	require.True(t, ok)
	assert.Equal(t, first.ID, restart.ID)
}

func TestWatchReload(t *testing.T) {
	path := writeSyllabus(t, sample)
	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Watch())
	defer s.Close()

	updated := sample + `  - id: 3
    name: Multiplication
    tier: 2
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	require.Eventually(t, func() bool {
		return len(s.Topics()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// A broken edit keeps the previous topics.
	require.NoError(t, os.WriteFile(path, []byte("topics: ["), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, s.Topics(), 3)
}
