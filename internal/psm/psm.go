// Package psm implements the pedagogical state machine that governs
// session flow. It is pure: no I/O, no logging, no clocks. All observable
// side effects belong to the session actor.
package psm

import (
	"errors"
	"fmt"
)

// State is a pedagogical state.
type State string

const (
	Initializing             State = "initializing"
	Exposition               State = "exposition"
	SettingQuestion          State = "setting_question"
	AwaitingAnswer           State = "awaiting_answer"
	EvaluatingAnswer         State = "evaluating_answer"
	ProvidingFeedbackCorrect State = "providing_feedback_correct"
	RemediatingKnownError    State = "remediating_known_error"
	RemediatingUnknownError  State = "remediating_unknown_error"
	GuidingStudent           State = "guiding_student"
	AwaitingToolResult       State = "awaiting_tool_result"
	SessionComplete          State = "session_complete"
)

// Event triggers a state transition.
type Event string

const (
	Initialized          Event = "initialized"
	InstructionComplete  Event = "instruction_complete"
	QuestionPresented    Event = "question_presented"
	AnswerReceived       Event = "answer_received"
	AnswerCorrect        Event = "answer_correct"
	KnownErrorDetected   Event = "known_error_detected"
	UnknownErrorDetected Event = "unknown_error_detected"
	GuidanceComplete     Event = "guidance_complete"
	RetryQuestion        Event = "retry_question"
	NextTopic            Event = "next_topic"
	SyllabusComplete     Event = "syllabus_complete"
	ToolRequested        Event = "tool_requested"
	ToolCompleted        Event = "tool_completed"
)

// Action is the entry action a state demands from the session.
type Action string

const (
	ActionNone              Action = ""
	ActionSelectQuestion    Action = "select_question"
	ActionEvaluateAnswer    Action = "evaluate_answer"
	ActionCreateRemediation Action = "create_remediation"
	ActionSocraticPrompt    Action = "socratic_prompt"
)

// Flow tags a state with its pedagogical flow pattern.
type Flow string

const (
	FlowPrimaryLearning Flow = "primary_learning"
	FlowRemediation     Flow = "remediation"
	FlowGuidance        Flow = "guidance"
	FlowTerminal        Flow = "terminal"
)

// ErrInvalidTransition is returned when an event is not admissible in the
// current state.
var ErrInvalidTransition = errors.New("invalid transition")

// transitions is the complete transition table. Any (state, event) pair
// absent from it is invalid.
var transitions = map[State]map[Event]State{
	Initializing: {
		Initialized: Exposition,
	},
	Exposition: {
		InstructionComplete: SettingQuestion,
		ToolRequested:       AwaitingToolResult,
	},
	SettingQuestion: {
		QuestionPresented: AwaitingAnswer,
		ToolRequested:     AwaitingToolResult,
	},
	AwaitingAnswer: {
		AnswerReceived: EvaluatingAnswer,
	},
	EvaluatingAnswer: {
		AnswerCorrect:        ProvidingFeedbackCorrect,
		KnownErrorDetected:   RemediatingKnownError,
		UnknownErrorDetected: RemediatingUnknownError,
	},
	ProvidingFeedbackCorrect: {
		NextTopic:        Exposition,
		SyllabusComplete: SessionComplete,
	},
	RemediatingKnownError: {
		RetryQuestion: AwaitingAnswer,
	},
	RemediatingUnknownError: {
		GuidanceComplete: GuidingStudent,
	},
	GuidingStudent: {
		RetryQuestion: AwaitingAnswer,
	},
	AwaitingToolResult: {
		ToolCompleted:       Exposition,
		QuestionPresented:   AwaitingAnswer,
		InstructionComplete: SettingQuestion,
	},
	SessionComplete: {},
}

// entryActions maps states to the action the session performs on entry.
var entryActions = map[State]Action{
	SettingQuestion:         ActionSelectQuestion,
	EvaluatingAnswer:        ActionEvaluateAnswer,
	RemediatingKnownError:   ActionCreateRemediation,
	RemediatingUnknownError: ActionSocraticPrompt,
}

// acceptsInput lists the states in which a learner message drives the
// machine directly rather than being acknowledged as "still processing".
var acceptsInput = map[State]bool{
	AwaitingAnswer: true,
	GuidingStudent: true,
	Exposition:     true,
}

// requiresTool lists the states whose entry action dispatches async tool
// work. EvaluatingAnswer and AwaitingToolResult double as lock states: they
// accept no fresh answer events until the outstanding tool resolves.
var requiresTool = map[State]bool{
	EvaluatingAnswer:        true,
	RemediatingKnownError:   true,
	RemediatingUnknownError: true,
	AwaitingToolResult:      true,
}

var flows = map[State]Flow{
	Initializing:             FlowPrimaryLearning,
	Exposition:               FlowPrimaryLearning,
	SettingQuestion:          FlowPrimaryLearning,
	AwaitingAnswer:           FlowPrimaryLearning,
	EvaluatingAnswer:         FlowPrimaryLearning,
	ProvidingFeedbackCorrect: FlowPrimaryLearning,
	RemediatingKnownError:    FlowRemediation,
	RemediatingUnknownError:  FlowRemediation,
	GuidingStudent:           FlowGuidance,
	AwaitingToolResult:       FlowPrimaryLearning,
	SessionComplete:          FlowTerminal,
}

// Initial returns the starting state of a fresh session.
func Initial() State {
	return Initializing
}

// Transition applies event to state. It returns ErrInvalidTransition
// (wrapped with the offending pair) for inadmissible events.
func Transition(state State, event Event) (State, error) {
	if next, ok := transitions[state][event]; ok {
		return next, nil
	}
	return state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, state)
}

// ValidEvents returns the set of admissible events in state.
func ValidEvents(state State) []Event {
	row := transitions[state]
	events := make([]Event, 0, len(row))
	for e := range row {
		events = append(events, e)
	}
	return events
}

// EntryAction returns the action the session performs when entering state,
// or ActionNone.
func EntryAction(state State) Action {
	return entryActions[state]
}

// AcceptsUserInput reports whether a learner message is handled in state.
func AcceptsUserInput(state State) bool {
	return acceptsInput[state]
}

// RequiresTool reports whether state depends on async tool execution.
func RequiresTool(state State) bool {
	return requiresTool[state]
}

// IsTerminal reports whether state ends the session.
func IsTerminal(state State) bool {
	return state == SessionComplete
}

// FlowOf returns the flow-pattern tag for state.
func FlowOf(state State) Flow {
	return flows[state]
}

// Known reports whether state is part of the machine. Useful when
// rehydrating persisted snapshots from untrusted storage.
func Known(state State) bool {
	_, ok := transitions[state]
	return ok
}
