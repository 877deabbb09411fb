package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Intent is the classification of a learner message.
type Intent string

const (
	IntentRequestQuestion           Intent = "request_question"
	IntentRequestHelp               Intent = "request_help"
	IntentUnderstandingConfirmation Intent = "understanding_confirmation"
	IntentConfusion                 Intent = "confusion"
	IntentAnswerAttempt             Intent = "answer_attempt"
	IntentGeneral                   Intent = "general"
)

// ParseIntent maps a raw classification string onto a known Intent.
// Unrecognized values fall back to IntentGeneral.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentRequestQuestion, IntentRequestHelp, IntentUnderstandingConfirmation,
		IntentConfusion, IntentAnswerAttempt, IntentGeneral:
		return Intent(strings.ToLower(strings.TrimSpace(s)))
	default:
		return IntentGeneral
	}
}

// CheckResult is the outcome of a check_answer tool call.
type CheckResult struct {
	IsCorrect     bool   `json:"is_correct"`
	Feedback      string `json:"feedback,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
	StudentAnswer string `json:"student_answer,omitempty"`
	CorrectAnswer string `json:"correct_answer,omitempty"`
}

// Diagnosis is the outcome of a diagnose_error tool call. Provider schemas
// are not trusted beyond these fields; missing confidence defaults to 0.5
// at classification time.
type Diagnosis struct {
	ErrorIdentified   bool        `json:"error_identified"`
	ErrorCategory     string      `json:"error_category,omitempty"`
	ErrorDescription  string      `json:"error_description,omitempty"`
	Misconception     string      `json:"misconception,omitempty"`
	Confidence        *Confidence `json:"confidence,omitempty"`
	SuggestedApproach string      `json:"suggested_approach,omitempty"`
}

// Confidence is a [0,1] value that tolerates numeric and numeric-string
// JSON encodings. Unparseable values decode to 0.5.
type Confidence float64

// UnmarshalJSON accepts numbers and numeric strings, clamping to [0,1].
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*c = clampConfidence(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*c = clampConfidence(n)
			return nil
		}
	}

	*c = 0.5
	return nil
}

func clampConfidence(n float64) Confidence {
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return Confidence(n)
}

// Value returns the confidence, defaulting to 0.5 when absent.
func (c *Confidence) Value() float64 {
	if c == nil {
		return 0.5
	}
	return float64(*c)
}
