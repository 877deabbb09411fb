package session

import (
	"fmt"
	"time"

	"github.com/mentora-ai/mentora/internal/diagnose"
	"github.com/mentora-ai/mentora/internal/event"
	"github.com/mentora-ai/mentora/internal/executor"
	"github.com/mentora-ai/mentora/internal/psm"
	"github.com/mentora-ai/mentora/internal/tool"
	"github.com/mentora-ai/mentora/pkg/types"
)

// stillProcessingMsg acknowledges input that arrives while a tool call is
// outstanding. The text is stable; tests and transports rely on it.
const stillProcessingMsg = "One moment, I'm still working on your previous message."

// intent tags record what the session will do with a tool result.
const (
	tagIntent    = "classify_intent"
	tagGenerate  = "generate_question"
	tagCheck     = "check_answer"
	tagDiagnose  = "diagnose_error"
	tagRemediate = "create_remediation"
	tagSocratic  = "socratic_prompt"
	tagHint      = "provide_hint"
	tagExplain   = "explain_concept"
)

// apply advances the state machine. Inadmissible events are logged and
// acknowledged without a state change; they never crash the session.
func (s *Session) apply(ev psm.Event) bool {
	next, err := psm.Transition(s.state, ev)
	if err != nil {
		s.log.Warn().Err(err).Str("state", string(s.state)).Msg("rejected transition")
		s.emitSystem(stillProcessingMsg)
		return false
	}

	from := s.state
	s.state = next
	s.log.Debug().Str("from", string(from)).Str("to", string(next)).Str("event", string(ev)).Msg("state changed")

	event.Publish(event.Event{Type: event.StateChanged, Data: event.StateChangedData{
		SessionID: s.sessionID,
		From:      string(from),
		To:        string(next),
		Event:     string(ev),
	}})
	s.deliver(types.OutboundMessage{
		Kind:      types.OutboundStateChange,
		SessionID: s.sessionID,
		State:     string(next),
	})
	return true
}

// setState forces a recovery jump outside the transition table. It
// announces the change exactly like apply so observers and transports
// never miss a transition.
func (s *Session) setState(next psm.State, reason string) {
	if next == s.state {
		return
	}
	from := s.state
	s.state = next
	s.log.Debug().Str("from", string(from)).Str("to", string(next)).Str("event", reason).Msg("state changed")

	event.Publish(event.Event{Type: event.StateChanged, Data: event.StateChangedData{
		SessionID: s.sessionID,
		From:      string(from),
		To:        string(next),
		Event:     reason,
	}})
	s.deliver(types.OutboundMessage{
		Kind:      types.OutboundStateChange,
		SessionID: s.sessionID,
		State:     string(next),
	})
}

// emitSystem appends a tutor utterance to history and delivers it.
func (s *Session) emitSystem(content string) {
	s.appendHistory(types.RoleSystem, content, time.Now().UnixMilli())
	s.deliver(types.OutboundMessage{
		Kind:      types.OutboundSystem,
		SessionID: s.sessionID,
		Content:   content,
	})
}

// emitError delivers a user-visible degradation notice.
func (s *Session) emitError(reason string) {
	s.deliver(types.OutboundMessage{
		Kind:      types.OutboundError,
		SessionID: s.sessionID,
		Reason:    reason,
	})
}

// deliver hands a message to the bound sink, if any, and mirrors it on the
// event bus for observers.
func (s *Session) deliver(msg types.OutboundMessage) {
	event.Publish(event.Event{Type: event.MessageEmitted, Data: event.MessageEmittedData{
		SessionID: s.sessionID,
		Message:   msg,
	}})
	if s.sink != nil {
		s.sink.Deliver(msg)
	}
}

func (s *Session) appendHistory(role, content string, ts int64) {
	s.history = append(s.history, types.HistoryEntry{Role: role, Content: content, Timestamp: ts})
	if ts > s.metrics.LastActivity {
		s.metrics.LastActivity = ts
	}
	// Retention is bounded at twice the served window so the public view
	// never runs short right after a trim.
	if limit := s.cfg.HistoryRetained * 2; limit > 0 && len(s.history) > limit {
		s.history = append([]types.HistoryEntry(nil), s.history[len(s.history)-s.cfg.HistoryRetained:]...)
	}
}

func (s *Session) recentHistory(n int) []types.HistoryEntry {
	if len(s.history) <= n {
		return append([]types.HistoryEntry(nil), s.history...)
	}
	return append([]types.HistoryEntry(nil), s.history[len(s.history)-n:]...)
}

// acceptsInputNow extends the machine's input gate: the remediation states
// run a sub-dialogue once their entry tool has resolved.
func (s *Session) acceptsInputNow() bool {
	if psm.AcceptsUserInput(s.state) {
		return true
	}
	if (s.state == psm.RemediatingKnownError || s.state == psm.RemediatingUnknownError) && len(s.pending) == 0 {
		return true
	}
	return false
}

// onUserMessage is the per-message processing algorithm.
func (s *Session) onUserMessage(m userMsg) {
	if m.sink != nil {
		s.sink = m.sink
	}
	s.appendHistory(types.RoleUser, m.content, time.Now().UnixMilli())

	if !s.acceptsInputNow() {
		s.emitSystem(stillProcessingMsg)
		return
	}

	switch s.state {
	case psm.Exposition:
		s.handleExposition(m.content)
	case psm.AwaitingAnswer:
		s.handleAwaitingAnswer(m.content)
	case psm.GuidingStudent:
		s.handleGuiding(m.content)
	case psm.RemediatingKnownError:
		s.handleRemediatingKnown(m.content)
	case psm.RemediatingUnknownError:
		// The socratic prompt already resolved, so guidance is open.
		if s.apply(psm.GuidanceComplete) {
			s.handleGuiding(m.content)
		}
	}
}

// handleExposition routes a message through intent classification. The
// classification itself is a tool call, so the machine locks on
// AwaitingToolResult until it resolves.
func (s *Session) handleExposition(content string) {
	if !s.apply(psm.ToolRequested) {
		return
	}
	s.dispatch(tool.ClassifyIntent, tagIntent, tool.IntentArgs{
		Message: content,
		History: s.recentHistory(6),
	})
}

func (s *Session) handleAwaitingAnswer(content string) {
	if s.question == nil {
		// No open question; treat the message as exposition chat.
		s.setState(psm.Exposition, "question_missing")
		s.handleExposition(content)
		return
	}
	if !s.apply(psm.AnswerReceived) {
		return
	}
	s.attemptCount++
	s.dispatch(tool.CheckAnswer, tagCheck, tool.CheckArgs{
		Question:      *s.question,
		StudentAnswer: content,
	})
}

func (s *Session) handleGuiding(content string) {
	if tool.HeuristicIntent(content) == types.IntentUnderstandingConfirmation {
		if s.apply(psm.RetryQuestion) {
			s.reofferQuestion()
		}
		return
	}
	if s.question == nil {
		s.setState(psm.Exposition, "question_missing")
		s.handleExposition(content)
		return
	}
	s.dispatch(tool.ProvideHint, tagHint, tool.HintArgs{
		Question: *s.question,
		Context:  content,
	})
}

func (s *Session) handleRemediatingKnown(content string) {
	if tool.HeuristicIntent(content) == types.IntentUnderstandingConfirmation {
		if s.apply(psm.RetryQuestion) {
			s.reofferQuestion()
		}
		return
	}
	// Continue the remediation sub-dialogue without leaving the state.
	s.dispatch(tool.ExplainConcept, tagExplain, tool.ExplainArgs{
		Topic:   s.topic,
		Message: content,
		History: s.recentHistory(10),
	})
}

func (s *Session) reofferQuestion() {
	if s.question != nil {
		s.emitSystem(fmt.Sprintf("Let's try again: %s", s.question.Text))
	}
}

// dispatch submits a tool call and records the pending entry under its
// correlation token. A saturated executor degrades straight to the tool's
// deterministic fallback so the learner still gets a next utterance.
func (s *Session) dispatch(name tool.Name, tag string, args any) {
	deadline := time.Duration(s.cfg.ToolDeadlineMS) * time.Millisecond
	pc := &pendingCall{
		name:      name,
		tag:       tag,
		args:      args,
		startedAt: time.Now(),
		deadline:  deadline,
	}

	token, err := s.exec.Submit(name, args, deadline, s)
	if err != nil {
		s.log.Warn().Err(err).Str("tool", string(name)).Msg("tool submission rejected")
		s.degrade(pc)
		return
	}

	s.pending[token] = pc
	event.Publish(event.Event{Type: event.ToolDispatched, Data: event.ToolDispatchedData{
		SessionID: s.sessionID,
		Token:     token,
		Tool:      string(name),
	}})
}

// onToolResult correlates a terminal result with its pending entry.
// Unknown tokens are late or duplicate deliveries and are dropped.
func (s *Session) onToolResult(res executor.Result) {
	pc, ok := s.pending[res.Token]
	if !ok {
		s.log.Debug().Str("token", res.Token).Msg("result for unknown token dropped")
		return
	}
	delete(s.pending, res.Token)

	event.Publish(event.Event{Type: event.ToolResolved, Data: event.ToolResolvedData{
		SessionID: s.sessionID,
		Token:     res.Token,
		Tool:      string(res.Name),
		Outcome:   string(res.Outcome),
	}})

	switch res.Outcome {
	case executor.OutcomeOK:
		s.applyResult(pc, res.Value)
	case executor.OutcomeCancelled:
		// Cancellation is always session-initiated; nothing to say.
	case executor.OutcomeError, executor.OutcomeTimeout:
		if !pc.retried {
			pc.retried = true
			s.log.Warn().
				Str("tool", string(pc.name)).
				Str("outcome", string(res.Outcome)).
				Msg("tool call failed, retrying once")
			token, err := s.exec.Submit(pc.name, pc.args, pc.deadline, s)
			if err == nil {
				s.pending[token] = pc
				return
			}
		}
		s.degrade(pc)
	}
}

// degrade applies a tool's deterministic fallback after its real call has
// conclusively failed.
func (s *Session) degrade(pc *pendingCall) {
	s.emitError("The tutor is responding in a simplified mode for a moment.")

	value, err := tool.Fallback(pc.name, pc.args)
	if err != nil {
		s.log.Error().Err(err).Str("tool", string(pc.name)).Msg("fallback unavailable")
		s.recoverToSafeState()
		return
	}
	s.applyResult(pc, value)
}

// recoverToSafeState unwinds a lock state when no result can be produced.
func (s *Session) recoverToSafeState() {
	switch s.state {
	case psm.AwaitingToolResult:
		s.apply(psm.ToolCompleted)
	case psm.EvaluatingAnswer, psm.SettingQuestion:
		s.setState(psm.Exposition, "recovery")
		s.emitSystem("Let's take that from the top. Ask me anything, or say \"ready\" for a question.")
	}
}

// applyResult routes a successful (or fallback) tool value by intent tag.
func (s *Session) applyResult(pc *pendingCall, value any) {
	switch pc.tag {
	case tagIntent:
		intent, ok := value.(types.Intent)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.routeIntent(intent, pc.args)

	case tagGenerate:
		q, ok := value.(*types.Question)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.question = q
		s.attemptCount = 0
		if s.apply(psm.QuestionPresented) {
			s.emitSystem(q.Text)
		}

	case tagCheck:
		r, ok := value.(*types.CheckResult)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.onAnswerChecked(r)

	case tagDiagnose:
		d, ok := value.(*types.Diagnosis)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.onDiagnosis(d)

	case tagRemediate:
		text, ok := value.(string)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.emitSystem(text)
		s.emitSystem("Say \"ready\" when you'd like another go at the question.")

	case tagSocratic:
		text, ok := value.(string)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.emitSystem(text)
		s.apply(psm.GuidanceComplete)

	case tagHint:
		text, ok := value.(string)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.emitSystem(text)

	case tagExplain:
		text, ok := value.(string)
		if !ok {
			s.badResult(pc, value)
			return
		}
		s.emitSystem(text)
		if s.state == psm.AwaitingToolResult {
			s.apply(psm.ToolCompleted)
		}

	default:
		s.log.Error().Str("tag", pc.tag).Msg("unknown intent tag")
	}
}

func (s *Session) badResult(pc *pendingCall, value any) {
	s.log.Error().
		Str("tool", string(pc.name)).
		Str("tag", pc.tag).
		Str("type", fmt.Sprintf("%T", value)).
		Msg("tool result has unexpected type")
	s.recoverToSafeState()
}

// routeIntent acts on a classified learner intent from Exposition.
func (s *Session) routeIntent(intent types.Intent, args any) {
	message := ""
	if a, ok := args.(tool.IntentArgs); ok {
		message = a.Message
	}

	switch intent {
	case types.IntentRequestQuestion, types.IntentUnderstandingConfirmation, types.IntentAnswerAttempt:
		if s.topic != nil {
			if s.apply(psm.InstructionComplete) {
				s.dispatch(tool.GenerateQuestion, tagGenerate, tool.QuestionArgs{
					Topic:   *s.topic,
					History: s.recentHistory(10),
				})
			}
			return
		}
		fallthrough
	default:
		// Explanation covers help, confusion and general chat; the framing
		// differs only in the message passed through.
		s.dispatch(tool.ExplainConcept, tagExplain, tool.ExplainArgs{
			Topic:   s.topic,
			Message: message,
			History: s.recentHistory(10),
		})
	}
}

// onAnswerChecked updates counters and branches on correctness.
func (s *Session) onAnswerChecked(r *types.CheckResult) {
	s.metrics.QuestionsAttempted++

	if r.IsCorrect {
		s.metrics.QuestionsCorrect++
		s.coverTopic()
		if s.apply(psm.AnswerCorrect) {
			feedback := r.Feedback
			if feedback == "" {
				feedback = "Correct, well done!"
			}
			s.emitSystem(feedback)
			s.advanceTopic()
		}
		return
	}

	feedback := r.Feedback
	if feedback == "" {
		feedback = "That's not quite right. Let me take a closer look."
	}
	s.emitSystem(feedback)

	// Still in the evaluating lock; diagnosis decides the remediation flow.
	s.dispatch(tool.DiagnoseError, tagDiagnose, tool.DiagnoseArgs{
		Question:      *s.question,
		StudentAnswer: r.StudentAnswer,
		CorrectAnswer: s.question.CorrectAnswer,
		IsCorrect:     false,
	})
}

// onDiagnosis classifies the diagnosis and enters the matching
// remediation state, whose entry action dispatches the follow-up tool.
func (s *Session) onDiagnosis(d *types.Diagnosis) {
	cls := diagnose.ClassifyDiagnosis(*d, s.cfg.DiagnosisThreshold())
	level := diagnose.InterventionLevel(s.attemptCount, cls.Confidence)

	if cls.Known {
		if s.apply(psm.KnownErrorDetected) {
			s.dispatch(tool.CreateRemediation, tagRemediate, tool.RemediationArgs{
				Topic:     topicOrZero(s.topic),
				Diagnosis: *d,
			})
		}
		return
	}

	if s.apply(psm.UnknownErrorDetected) {
		s.dispatch(tool.ProvideHint, tagSocratic, tool.HintArgs{
			Question: *s.question,
			Context:  fmt.Sprintf("The student's error is unclear. Ask a %s guiding question that makes them re-examine their approach.", level),
		})
	}
}

// advanceTopic moves to the next syllabus entry or completes the session.
func (s *Session) advanceTopic() {
	next, ok := s.syllabus.Next(topicOrZero(s.topic))
	if !ok {
		if s.apply(psm.SyllabusComplete) {
			s.emitSystem("That was the last topic. Fantastic work today!")
			s.terminate("complete", true)
		}
		return
	}

	if s.apply(psm.NextTopic) {
		s.topic = next
		s.question = nil
		s.attemptCount = 0
		s.emitSystem(fmt.Sprintf("Great work! Next up: %s. Say \"ready\" when you want a question.", next.Name))
	}
}

func (s *Session) coverTopic() {
	if s.topic == nil {
		return
	}
	for _, name := range s.metrics.TopicsCovered {
		if name == s.topic.Name {
			return
		}
	}
	s.metrics.TopicsCovered = append(s.metrics.TopicsCovered, s.topic.Name)
}

func topicOrZero(t *types.Topic) types.Topic {
	if t == nil {
		return types.Topic{}
	}
	return *t
}
