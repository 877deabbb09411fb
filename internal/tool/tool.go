// Package tool defines the pedagogical tool contract consumed by the
// session core. The seven operations are fixed; concrete providers (the
// LLM-backed toolset, the deterministic static toolset used as fallback)
// implement Toolset. Sessions never call a toolset directly: every call
// goes through the executor.
package tool

import (
	"context"
	"fmt"

	"github.com/mentora-ai/mentora/pkg/types"
)

// Name identifies a tool operation.
type Name string

const (
	GenerateQuestion  Name = "generate_question"
	CheckAnswer       Name = "check_answer"
	DiagnoseError     Name = "diagnose_error"
	CreateRemediation Name = "create_remediation"
	ExplainConcept    Name = "explain_concept"
	ProvideHint       Name = "provide_hint"
	ClassifyIntent    Name = "classify_intent"
)

// QuestionArgs are the inputs to generate_question.
type QuestionArgs struct {
	Topic   types.Topic
	History []types.HistoryEntry
}

// CheckArgs are the inputs to check_answer.
type CheckArgs struct {
	Question      types.Question
	StudentAnswer string
}

// DiagnoseArgs are the inputs to diagnose_error.
type DiagnoseArgs struct {
	Question      types.Question
	StudentAnswer string
	CorrectAnswer string
	IsCorrect     bool
}

// RemediationArgs are the inputs to create_remediation.
type RemediationArgs struct {
	Topic     types.Topic
	Diagnosis types.Diagnosis
}

// ExplainArgs are the inputs to explain_concept.
type ExplainArgs struct {
	Topic   *types.Topic
	Message string
	History []types.HistoryEntry
}

// HintArgs are the inputs to provide_hint.
type HintArgs struct {
	Question types.Question
	Context  string
}

// IntentArgs are the inputs to classify_intent.
type IntentArgs struct {
	Message string
	History []types.HistoryEntry
}

// Toolset is the set of pedagogical operations an external provider
// implements. Every method honors ctx cancellation and deadlines.
type Toolset interface {
	GenerateQuestion(ctx context.Context, args QuestionArgs) (*types.Question, error)
	CheckAnswer(ctx context.Context, args CheckArgs) (*types.CheckResult, error)
	DiagnoseError(ctx context.Context, args DiagnoseArgs) (*types.Diagnosis, error)
	CreateRemediation(ctx context.Context, args RemediationArgs) (string, error)
	ExplainConcept(ctx context.Context, args ExplainArgs) (string, error)
	ProvideHint(ctx context.Context, args HintArgs) (string, error)
	ClassifyIntent(ctx context.Context, args IntentArgs) (types.Intent, error)
}

// Invoke dispatches a named call onto a toolset. The executor uses it so
// submissions can carry (name, args) pairs without reflection.
func Invoke(ctx context.Context, ts Toolset, name Name, args any) (any, error) {
	switch name {
	case GenerateQuestion:
		a, ok := args.(QuestionArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.GenerateQuestion(ctx, a)
	case CheckAnswer:
		a, ok := args.(CheckArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.CheckAnswer(ctx, a)
	case DiagnoseError:
		a, ok := args.(DiagnoseArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.DiagnoseError(ctx, a)
	case CreateRemediation:
		a, ok := args.(RemediationArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.CreateRemediation(ctx, a)
	case ExplainConcept:
		a, ok := args.(ExplainArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.ExplainConcept(ctx, a)
	case ProvideHint:
		a, ok := args.(HintArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.ProvideHint(ctx, a)
	case ClassifyIntent:
		a, ok := args.(IntentArgs)
		if !ok {
			return nil, badArgs(name, args)
		}
		return ts.ClassifyIntent(ctx, a)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func badArgs(name Name, args any) error {
	return fmt.Errorf("tool %s: unexpected args type %T", name, args)
}
