package event

import "github.com/mentora-ai/mentora/pkg/types"

// SessionStartedData is the data for session.started events.
type SessionStartedData struct {
	SessionID string `json:"sessionID"`
	LearnerID string `json:"learnerID"`
}

// SessionResumedData is the data for session.resumed events, published when
// a session is rehydrated from a persisted snapshot.
type SessionResumedData struct {
	SessionID string `json:"sessionID"`
	LearnerID string `json:"learnerID"`
	State     string `json:"state"`
}

// SessionEndedData is the data for session.ended events.
type SessionEndedData struct {
	SessionID string `json:"sessionID"`
	LearnerID string `json:"learnerID"`
	Reason    string `json:"reason"` // "complete" | "inactivity" | "shutdown"
	Graceful  bool   `json:"graceful"`
}

// SessionFailedData is the data for session.failed events, published when a
// session task terminates abnormally.
type SessionFailedData struct {
	SessionID string `json:"sessionID"`
	LearnerID string `json:"learnerID"`
	Error     string `json:"error"`
}

// StateChangedData is the data for session.state_changed events.
type StateChangedData struct {
	SessionID string `json:"sessionID"`
	From      string `json:"from"`
	To        string `json:"to"`
	Event     string `json:"event"`
}

// MessageEmittedData is the data for message.emitted events.
type MessageEmittedData struct {
	SessionID string                `json:"sessionID"`
	Message   types.OutboundMessage `json:"message"`
}

// ToolDispatchedData is the data for tool.dispatched events.
type ToolDispatchedData struct {
	SessionID string `json:"sessionID"`
	Token     string `json:"token"`
	Tool      string `json:"tool"`
}

// ToolResolvedData is the data for tool.resolved events.
type ToolResolvedData struct {
	SessionID string `json:"sessionID"`
	Token     string `json:"token"`
	Tool      string `json:"tool"`
	Outcome   string `json:"outcome"` // "ok" | "error" | "timeout" | "cancelled"
}
