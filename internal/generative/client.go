// Package generative wraps the remote AI text service behind typed
// operations. Every call is synchronous and single-attempt; transport
// failures, non-success responses and malformed response envelopes all
// surface uniformly as *UpstreamError, never as a panic or an untyped
// failure crossing this boundary.
package generative

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
	"github.com/TonniChopper/DeutschLearner/internal/llm"
)

// ProfileContext carries the learner state prompts are conditioned on
type ProfileContext struct {
	LanguageLevel      string
	Progress           int
	Errors             int
	PreferredTaskTypes []domain.TaskType
}

// UpstreamError is the typed failure for any remote generative call
type UpstreamError struct {
	Op     string // operation that failed, e.g. "generate_task"
	Detail string
	Raw    string // raw model payload when the envelope was malformed
	cause  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *UpstreamError) Unwrap() error {
	return e.cause
}

// Is makes every UpstreamError match domain.ErrUpstream
func (e *UpstreamError) Is(target error) bool {
	return target == domain.ErrUpstream
}

func upstreamErr(op, detail, raw string, cause error) *UpstreamError {
	return &UpstreamError{Op: op, Detail: detail, Raw: raw, cause: cause}
}

// TaskResult is the payload of a successful task generation
type TaskResult struct {
	Text       string
	PromptUsed string
}

// GradeResult is the payload of a successful submission grading
type GradeResult struct {
	FeedbackText string
	Score        float64 // 0.0 - 1.0
}

// EvaluationResult is the payload of a successful level test evaluation
type EvaluationResult struct {
	EvaluationText  string
	DeterminedLevel string
	TotalScore      float64
}

// Client is the operation surface consumed by the state machines
type Client interface {
	GenerateTask(ctx context.Context, profile ProfileContext, taskType domain.TaskType, difficulty string) (*TaskResult, error)
	GradeSubmission(ctx context.Context, taskText, submissionText string) (*GradeResult, error)
	GenerateRecommendations(ctx context.Context, profile ProfileContext) (*TaskResult, error)
	GenerateLevelTest(ctx context.Context, testType domain.TestType) (*TaskResult, error)
	EvaluateLevelTest(ctx context.Context, testText string, answers map[string]string) (*EvaluationResult, error)
}

// Service implements Client on top of an llm.Provider
type Service struct {
	provider llm.Provider
	prompts  PromptSet
}

// NewService creates a generative client using the given provider
func NewService(provider llm.Provider, prompts PromptSet) *Service {
	return &Service{provider: provider, prompts: prompts}
}

// GenerateTask asks the model for a new exercise of the given type
func (s *Service) GenerateTask(ctx context.Context, profile ProfileContext, taskType domain.TaskType, difficulty string) (*TaskResult, error) {
	prompt := s.prompts.taskPrompt(profile, taskType, difficulty)

	content, err := s.complete(ctx, "generate_task", s.prompts.TaskSystem, prompt, 0.7)
	if err != nil {
		return nil, err
	}

	return &TaskResult{Text: content, PromptUsed: prompt}, nil
}

// GradeSubmission asks the model to grade a learner submission against
// the generated task. The score is extracted from the feedback envelope;
// a missing or out-of-range score is a malformed envelope, not a partial
// success.
func (s *Service) GradeSubmission(ctx context.Context, taskText, submissionText string) (*GradeResult, error) {
	prompt := s.prompts.gradePrompt(taskText, submissionText)

	content, err := s.complete(ctx, "grade_submission", s.prompts.GradeSystem, prompt, 0.3)
	if err != nil {
		return nil, err
	}

	score, ok := extractScore(content, "score")
	if !ok {
		return nil, upstreamErr("grade_submission", "response envelope has no valid <score>", content, nil)
	}

	return &GradeResult{FeedbackText: content, Score: score}, nil
}

// GenerateRecommendations asks the model for personalized study advice
func (s *Service) GenerateRecommendations(ctx context.Context, profile ProfileContext) (*TaskResult, error) {
	prompt := s.prompts.recommendationsPrompt(profile)

	content, err := s.complete(ctx, "generate_recommendations", s.prompts.RecommendSystem, prompt, 0.7)
	if err != nil {
		return nil, err
	}

	return &TaskResult{Text: content, PromptUsed: prompt}, nil
}

// GenerateLevelTest asks the model for a placement or progress test
func (s *Service) GenerateLevelTest(ctx context.Context, testType domain.TestType) (*TaskResult, error) {
	prompt := s.prompts.levelTestPrompt(testType)

	content, err := s.complete(ctx, "generate_level_test", s.prompts.LevelTestSystem, prompt, 0.5)
	if err != nil {
		return nil, err
	}

	return &TaskResult{Text: content, PromptUsed: prompt}, nil
}

// EvaluateLevelTest asks the model to evaluate the learner's answers
// against the generated test and extracts level and total score from
// the evaluation envelope
func (s *Service) EvaluateLevelTest(ctx context.Context, testText string, answers map[string]string) (*EvaluationResult, error) {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return nil, upstreamErr("evaluate_level_test", "encode answers: "+err.Error(), "", err)
	}

	prompt := s.prompts.evaluatePrompt(testText, string(answersJSON))

	content, err := s.complete(ctx, "evaluate_level_test", s.prompts.EvaluateSystem, prompt, 0.2)
	if err != nil {
		return nil, err
	}

	level, ok := extractTag(content, "level")
	if !ok || !domain.ValidLanguageLevel(level) {
		return nil, upstreamErr("evaluate_level_test", "response envelope has no valid <level>", content, nil)
	}

	score, ok := extractScore(content, "total_score")
	if !ok {
		return nil, upstreamErr("evaluate_level_test", "response envelope has no valid <total_score>", content, nil)
	}

	return &EvaluationResult{
		EvaluationText:  content,
		DeterminedLevel: level,
		TotalScore:      score,
	}, nil
}

// complete performs one provider round trip and normalizes failures
func (s *Service) complete(ctx context.Context, op, system, prompt string, temperature float64) (string, error) {
	resp, err := s.provider.Generate(ctx, &llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", upstreamErr(op, err.Error(), "", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", upstreamErr(op, "empty completion", "", nil)
	}
	return resp.Content, nil
}

// extractTag pulls the trimmed value of a single <tag> from raw text
func extractTag(raw, tag string) (string, bool) {
	opening, closing := "<"+tag+">", "</"+tag+">"
	start := strings.Index(raw, opening)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(opening):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractScore pulls a numeric tag value and validates the 0.0-1.0 range
func extractScore(raw, tag string) (float64, bool) {
	value, ok := extractTag(raw, tag)
	if !ok {
		return 0, false
	}
	score, err := strconv.ParseFloat(value, 64)
	if err != nil || score < 0 || score > 1 {
		return 0, false
	}
	return score, true
}
