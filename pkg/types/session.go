// Package types contains the shared data model for the Mentora session core.
package types

// Topic identifies a learning track entry from the syllabus.
type Topic struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Tier int    `json:"tier,omitempty"`
}

// Question is the active question a learner is working on.
type Question struct {
	Text          string `json:"text"`
	CorrectAnswer string `json:"correct_answer"`
	Type          string `json:"type,omitempty"`
	Difficulty    string `json:"difficulty,omitempty"`
	Hint          string `json:"hint,omitempty"`
}

// History entry roles.
const (
	RoleUser   = "user"
	RoleSystem = "system"
)

// HistoryEntry is a single turn in the tutoring dialogue.
type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Metrics tracks per-session progress counters.
// QuestionsCorrect never exceeds QuestionsAttempted; LastActivity is the
// only non-monotonic field.
type Metrics struct {
	StartedAt          int64    `json:"started_at"`
	QuestionsAttempted int      `json:"questions_attempted"`
	QuestionsCorrect   int      `json:"questions_correct"`
	TopicsCovered      []string `json:"topics_covered,omitempty"`
	LastActivity       int64    `json:"last_activity"`
}

// Snapshot is the persistable state of a session. It carries everything
// needed to rehydrate a session after a crash or restart.
type Snapshot struct {
	SessionID    string         `json:"sessionID"`
	LearnerID    string         `json:"learnerID"`
	State        string         `json:"state"`
	Topic        *Topic         `json:"topic,omitempty"`
	Question     *Question      `json:"question,omitempty"`
	History      []HistoryEntry `json:"history,omitempty"`
	Metrics      Metrics        `json:"metrics"`
	AttemptCount int            `json:"attempt_count"`
	Version      string         `json:"version"`
	Time         SnapshotTime   `json:"time"`
}

// SnapshotTime records snapshot timestamps in unix milliseconds.
type SnapshotTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// PublicView is the read-only view of a live session returned by Snapshot
// requests. History is truncated to the configured retention window.
type PublicView struct {
	SessionID    string         `json:"sessionID"`
	LearnerID    string         `json:"learnerID"`
	State        string         `json:"state"`
	Topic        *Topic         `json:"topic,omitempty"`
	Question     *Question      `json:"question,omitempty"`
	History      []HistoryEntry `json:"history,omitempty"`
	Metrics      Metrics        `json:"metrics"`
	AttemptCount int            `json:"attempt_count"`
	PendingTools int            `json:"pending_tools"`
}

// OutboundKind discriminates transport egress messages.
type OutboundKind string

const (
	OutboundSystem      OutboundKind = "system_message"
	OutboundStateChange OutboundKind = "state_change"
	OutboundError       OutboundKind = "error"
)

// OutboundMessage is a message emitted by a session toward its transport
// sink. Content is set for system messages, State for state changes and
// Reason for user-visible degradations.
type OutboundMessage struct {
	Kind      OutboundKind `json:"kind"`
	SessionID string       `json:"sessionID"`
	Content   string       `json:"content,omitempty"`
	State     string       `json:"state,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// TransportSink receives outbound messages for delivery to the learner.
// Deliver must not block the calling session; slow consumers drop.
type TransportSink interface {
	Deliver(msg OutboundMessage)
}
