package psm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allStates() []State {
	return []State{
		Initializing, Exposition, SettingQuestion, AwaitingAnswer,
		EvaluatingAnswer, ProvidingFeedbackCorrect, RemediatingKnownError,
		RemediatingUnknownError, GuidingStudent, AwaitingToolResult,
		SessionComplete,
	}
}

func allEvents() []Event {
	return []Event{
		Initialized, InstructionComplete, QuestionPresented, AnswerReceived,
		AnswerCorrect, KnownErrorDetected, UnknownErrorDetected,
		GuidanceComplete, RetryQuestion, NextTopic, SyllabusComplete,
		ToolRequested, ToolCompleted,
	}
}

func TestInitial(t *testing.T) {
	assert.Equal(t, Initializing, Initial())
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from  State
		event Event
		to    State
	}{
		{Initializing, Initialized, Exposition},
		{Exposition, InstructionComplete, SettingQuestion},
		{Exposition, ToolRequested, AwaitingToolResult},
		{SettingQuestion, QuestionPresented, AwaitingAnswer},
		{SettingQuestion, ToolRequested, AwaitingToolResult},
		{AwaitingAnswer, AnswerReceived, EvaluatingAnswer},
		{EvaluatingAnswer, AnswerCorrect, ProvidingFeedbackCorrect},
		{EvaluatingAnswer, KnownErrorDetected, RemediatingKnownError},
		{EvaluatingAnswer, UnknownErrorDetected, RemediatingUnknownError},
		{ProvidingFeedbackCorrect, NextTopic, Exposition},
		{ProvidingFeedbackCorrect, SyllabusComplete, SessionComplete},
		{RemediatingKnownError, RetryQuestion, AwaitingAnswer},
		{RemediatingUnknownError, GuidanceComplete, GuidingStudent},
		{GuidingStudent, RetryQuestion, AwaitingAnswer},
		{AwaitingToolResult, ToolCompleted, Exposition},
		{AwaitingToolResult, QuestionPresented, AwaitingAnswer},
		{AwaitingToolResult, InstructionComplete, SettingQuestion},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			next, err := Transition(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, next)
		})
	}
}

// Every (state, event) pair not listed in ValidEvents must be invalid, and
// every listed pair must succeed and land on a known state.
func TestTransitionTotality(t *testing.T) {
	for _, s := range allStates() {
		valid := make(map[Event]bool)
		for _, e := range ValidEvents(s) {
			valid[e] = true
		}

		for _, e := range allEvents() {
			next, err := Transition(s, e)
			if valid[e] {
				require.NoError(t, err, "state %s event %s", s, e)
				assert.True(t, Known(next), "state %s event %s lands on unknown state %s", s, e, next)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "state %s event %s", s, e)
				assert.Equal(t, s, next, "invalid transition must not move")
			}
		}
	}
}

// All states in the table must be reachable from Initial.
func TestReachability(t *testing.T) {
	reached := map[State]bool{Initial(): true}
	frontier := []State{Initial()}
	for len(frontier) > 0 {
		s := frontier[0]
		frontier = frontier[1:]
		for _, e := range ValidEvents(s) {
			next, err := Transition(s, e)
			require.NoError(t, err)
			if !reached[next] {
				reached[next] = true
				frontier = append(frontier, next)
			}
		}
	}

	for _, s := range allStates() {
		assert.True(t, reached[s], "state %s unreachable", s)
	}
}

func TestTerminalHasNoEvents(t *testing.T) {
	for _, s := range allStates() {
		if IsTerminal(s) {
			assert.Empty(t, ValidEvents(s), "terminal state %s admits events", s)
		}
	}
}

func TestStateMetadata(t *testing.T) {
	assert.True(t, AcceptsUserInput(Exposition))
	assert.True(t, AcceptsUserInput(AwaitingAnswer))
	assert.True(t, AcceptsUserInput(GuidingStudent))
	assert.False(t, AcceptsUserInput(EvaluatingAnswer))
	assert.False(t, AcceptsUserInput(SettingQuestion))
	assert.False(t, AcceptsUserInput(AwaitingToolResult))

	assert.True(t, RequiresTool(EvaluatingAnswer))
	assert.True(t, RequiresTool(RemediatingKnownError))
	assert.True(t, RequiresTool(RemediatingUnknownError))
	assert.True(t, RequiresTool(AwaitingToolResult))
	assert.False(t, RequiresTool(AwaitingAnswer))

	assert.Equal(t, ActionSelectQuestion, EntryAction(SettingQuestion))
	assert.Equal(t, ActionEvaluateAnswer, EntryAction(EvaluatingAnswer))
	assert.Equal(t, ActionCreateRemediation, EntryAction(RemediatingKnownError))
	assert.Equal(t, ActionSocraticPrompt, EntryAction(RemediatingUnknownError))
	assert.Equal(t, ActionNone, EntryAction(Exposition))

	assert.Equal(t, FlowTerminal, FlowOf(SessionComplete))
	assert.Equal(t, FlowRemediation, FlowOf(RemediatingKnownError))
	assert.Equal(t, FlowGuidance, FlowOf(GuidingStudent))
	assert.Equal(t, FlowPrimaryLearning, FlowOf(Exposition))
}

// The lock states never transition outside the lock set on any event a
// learner message could produce.
func TestLockStates(t *testing.T) {
	lock := map[State]bool{EvaluatingAnswer: true, AwaitingToolResult: true}
	userEvents := []Event{AnswerReceived, RetryQuestion, InstructionComplete}

	for s := range lock {
		for _, e := range userEvents {
			next, err := Transition(s, e)
			if err == nil && s == EvaluatingAnswer {
				t.Errorf("lock state %s accepted user event %s -> %s", s, e, next)
			}
		}
	}
}
