// Package syllabus supplies the learning track sessions walk through.
// Topics load from a YAML file and hot-reload on change; without a file a
// built-in arithmetic track is served.
package syllabus

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/pkg/types"
)

type topicEntry struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
	Tier int    `yaml:"tier"`
}

type fileFormat struct {
	Topics []topicEntry `yaml:"topics"`
}

// Syllabus is an ordered topic list. Reads are lock-guarded because the
// watcher may swap the list while sessions iterate.
type Syllabus struct {
	mu      sync.RWMutex
	topics  []types.Topic
	path    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

// Default returns the built-in arithmetic track.
func Default() *Syllabus {
	return &Syllabus{
		topics: []types.Topic{
			{ID: 1, Name: "Addition", Tier: 1},
			{ID: 2, Name: "Subtraction", Tier: 1},
			{ID: 3, Name: "Multiplication", Tier: 2},
			{ID: 4, Name: "Division", Tier: 2},
		},
		log: logging.Component("syllabus"),
	}
}

// Load reads a syllabus file.
func Load(path string) (*Syllabus, error) {
	s := &Syllabus{path: path, log: logging.Component("syllabus")}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func parse(data []byte) ([]types.Topic, error) {
	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse syllabus: %w", err)
	}
	if len(file.Topics) == 0 {
		return nil, fmt.Errorf("syllabus has no topics")
	}

	seen := make(map[int]bool, len(file.Topics))
	topics := make([]types.Topic, 0, len(file.Topics))
	for _, e := range file.Topics {
		if e.Name == "" {
			return nil, fmt.Errorf("topic %d has no name", e.ID)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate topic id %d", e.ID)
		}
		seen[e.ID] = true
		topics = append(topics, types.Topic{ID: e.ID, Name: e.Name, Tier: e.Tier})
	}
	return topics, nil
}

func (s *Syllabus) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read syllabus: %w", err)
	}
	topics, err := parse(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.topics = topics
	s.mu.Unlock()
	return nil
}

// Watch reloads the syllabus whenever the file changes. A broken edit
// keeps the previous topics. Call Close to stop watching.
func (s *Syllabus) Watch() error {
	if s.path == "" {
		return fmt.Errorf("no syllabus file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.log.Warn().Err(err).Msg("syllabus reload failed, keeping previous topics")
					continue
				}
				s.log.Info().Int("topics", len(s.Topics())).Msg("syllabus reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("syllabus watcher error")
			}
		}
	}()

	return nil
}

// Close stops the file watcher.
func (s *Syllabus) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

// First returns the opening topic.
func (s *Syllabus) First() (*types.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.topics) == 0 {
		return nil, false
	}
	t := s.topics[0]
	return &t, true
}

// Next returns the topic after current, or false at the end of the track.
// An unknown current topic restarts from the beginning.
func (s *Syllabus) Next(current types.Topic) (*types.Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, t := range s.topics {
		if t.ID == current.ID {
			if i+1 < len(s.topics) {
				next := s.topics[i+1]
				return &next, true
			}
			return nil, false
		}
	}
	if len(s.topics) > 0 {
		t := s.topics[0]
		return &t, true
	}
	return nil, false
}

// Topics returns a copy of the full track.
func (s *Syllabus) Topics() []types.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Topic(nil), s.topics...)
}
