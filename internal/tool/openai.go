package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/pkg/types"
)

const defaultModel = "gpt-4o-mini"

// OpenAI implements Toolset against an OpenAI-compatible chat API.
// Transient failures are retried with exponential backoff; anything still
// failing after the retries surfaces as an error for the session's
// fallback handling.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a toolset from provider configuration.
func NewOpenAI(cfg types.ProviderConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

var _ Toolset = (*OpenAI)(nil)

// complete runs a single chat completion with retries. The context bounds
// the whole attempt chain, so an executor deadline cuts retries short.
func (o *OpenAI) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	operation := func() error {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			logging.Debug().Err(err).Str("model", o.model).Msg("chat completion attempt failed")
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return content, nil
}

// stripFences removes a markdown code fence around a JSON payload.
// Some models wrap structured output despite JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func historyTranscript(history []types.HistoryEntry, max int) string {
	if len(history) > max {
		history = history[len(history)-max:]
	}
	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
	}
	return b.String()
}

func (o *OpenAI) GenerateQuestion(ctx context.Context, args QuestionArgs) (*types.Question, error) {
	system := "You are a math tutor generating practice questions. " +
		"Respond with a JSON object: {\"text\", \"correct_answer\", \"type\", \"difficulty\", \"hint\"}. " +
		"The question must have a single unambiguous answer."
	user := fmt.Sprintf("Topic: %s\nRecent dialogue:\n%s\nGenerate the next practice question.",
		args.Topic.Name, historyTranscript(args.History, 10))

	raw, err := o.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}

	var q types.Question
	if err := json.Unmarshal([]byte(stripFences(raw)), &q); err != nil {
		return nil, fmt.Errorf("failed to parse question: %w", err)
	}
	if q.Text == "" || q.CorrectAnswer == "" {
		return nil, fmt.Errorf("incomplete question from provider")
	}
	return &q, nil
}

func (o *OpenAI) CheckAnswer(ctx context.Context, args CheckArgs) (*types.CheckResult, error) {
	system := "You are a math tutor grading a student answer. " +
		"Respond with a JSON object: {\"is_correct\", \"feedback\", \"explanation\"}. " +
		"Accept mathematically equivalent forms of the correct answer."
	user := fmt.Sprintf("Question: %s\nCorrect answer: %s\nStudent answer: %s",
		args.Question.Text, args.Question.CorrectAnswer, args.StudentAnswer)

	raw, err := o.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}

	var r types.CheckResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return nil, fmt.Errorf("failed to parse check result: %w", err)
	}
	r.StudentAnswer = args.StudentAnswer
	r.CorrectAnswer = args.Question.CorrectAnswer
	return &r, nil
}

func (o *OpenAI) DiagnoseError(ctx context.Context, args DiagnoseArgs) (*types.Diagnosis, error) {
	system := "You are a math tutor diagnosing why a student answer is wrong. " +
		"Respond with a JSON object: {\"error_identified\", \"error_category\", \"error_description\", " +
		"\"misconception\", \"confidence\", \"suggested_approach\"}. " +
		"Set error_identified false if you cannot pin down a specific error. Confidence is 0 to 1."
	user := fmt.Sprintf("Question: %s\nCorrect answer: %s\nStudent answer: %s",
		args.Question.Text, args.CorrectAnswer, args.StudentAnswer)

	raw, err := o.complete(ctx, system, user, true)
	if err != nil {
		return nil, err
	}

	var d types.Diagnosis
	if err := json.Unmarshal([]byte(stripFences(raw)), &d); err != nil {
		return nil, fmt.Errorf("failed to parse diagnosis: %w", err)
	}
	return &d, nil
}

func (o *OpenAI) CreateRemediation(ctx context.Context, args RemediationArgs) (string, error) {
	system := "You are a math tutor. Write a short remediation message that re-teaches the concept " +
		"behind a diagnosed error. Plain text, no markdown, at most four sentences."
	user := fmt.Sprintf("Topic: %s\nDiagnosed error: %s\nMisconception: %s",
		args.Topic.Name, args.Diagnosis.ErrorDescription, args.Diagnosis.Misconception)

	return o.complete(ctx, system, user, false)
}

func (o *OpenAI) ExplainConcept(ctx context.Context, args ExplainArgs) (string, error) {
	topic := "the current topic"
	if args.Topic != nil {
		topic = args.Topic.Name
	}
	system := "You are a math tutor. Explain the concept the student asked about, clearly and briefly. " +
		"Plain text, no markdown."
	user := fmt.Sprintf("Topic: %s\nStudent message: %s\nRecent dialogue:\n%s",
		topic, args.Message, historyTranscript(args.History, 10))

	return o.complete(ctx, system, user, false)
}

func (o *OpenAI) ProvideHint(ctx context.Context, args HintArgs) (string, error) {
	system := "You are a math tutor. Give one hint for the question without revealing the answer. " +
		"Plain text, one or two sentences."
	user := fmt.Sprintf("Question: %s\nContext: %s", args.Question.Text, args.Context)

	return o.complete(ctx, system, user, false)
}

func (o *OpenAI) ClassifyIntent(ctx context.Context, args IntentArgs) (types.Intent, error) {
	system := "Classify the student's message into exactly one of: request_question, request_help, " +
		"understanding_confirmation, confusion, answer_attempt, general. " +
		"Respond with a JSON object: {\"intent\"}."
	user := fmt.Sprintf("Message: %s\nRecent dialogue:\n%s",
		args.Message, historyTranscript(args.History, 6))

	raw, err := o.complete(ctx, system, user, true)
	if err != nil {
		return types.IntentGeneral, err
	}

	var out struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return types.IntentGeneral, fmt.Errorf("failed to parse intent: %w", err)
	}
	return types.ParseIntent(out.Intent), nil
}
