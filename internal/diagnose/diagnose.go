// Package diagnose interprets diagnose_error tool output and decides how
// direct the next remediation should be. All functions are pure, total and
// deterministic; they never log or touch I/O.
package diagnose

import "github.com/mentora-ai/mentora/pkg/types"

// DefaultThreshold is the Known/Unknown confidence boundary.
const DefaultThreshold = 0.5

// Classification is the result of interpreting a diagnosis payload.
type Classification struct {
	Known           bool
	Category        string
	Confidence      float64
	RemediationHint string
}

// ClassifyDiagnosis decides whether a diagnosis identifies a known error.
// A diagnosis is Known when the provider identified an error with
// confidence at or above threshold; anything else is Unknown. Missing or
// unparseable confidence defaults to 0.5.
func ClassifyDiagnosis(d types.Diagnosis, threshold float64) Classification {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	confidence := d.Confidence.Value()
	if d.ErrorIdentified && confidence >= threshold {
		return Classification{
			Known:           true,
			Category:        d.ErrorCategory,
			Confidence:      confidence,
			RemediationHint: d.SuggestedApproach,
		}
	}
	return Classification{Known: false, Confidence: confidence}
}

// Level is the ordinal directness of an intervention.
type Level int

const (
	Subtle Level = iota
	Moderate
	Explicit
	WorkedExample
)

// String returns the level label.
func (l Level) String() string {
	switch l {
	case Subtle:
		return "subtle"
	case Moderate:
		return "moderate"
	case Explicit:
		return "explicit"
	case WorkedExample:
		return "worked_example"
	default:
		return "subtle"
	}
}

// InterventionLevel picks the intervention directness for a given attempt
// on the active question. Early attempts with low diagnostic confidence
// stay subtle; repeated failure escalates toward a worked example.
func InterventionLevel(attemptCount int, confidence float64) Level {
	switch {
	case attemptCount <= 1:
		return Subtle
	case attemptCount == 2:
		if confidence > 0.7 {
			return Moderate
		}
		return Subtle
	case attemptCount == 3:
		return Moderate
	case attemptCount == 4:
		return Explicit
	default:
		return WorkedExample
	}
}

// NextInterventionLevel returns the next, more direct level, or false when
// the chain is exhausted. The chain is strictly monotone.
func NextInterventionLevel(level Level) (Level, bool) {
	switch level {
	case Subtle:
		return Moderate, true
	case Moderate:
		return Explicit, true
	case Explicit:
		return WorkedExample, true
	default:
		return level, false
	}
}
