package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of exercise generated for a learner
type TaskType string

const (
	TaskGrammar     TaskType = "grammar"
	TaskVocabulary  TaskType = "vocabulary"
	TaskTranslation TaskType = "translation"
	TaskReading     TaskType = "reading"
	TaskWriting     TaskType = "writing"
)

// TaskTypes lists all valid task types in a stable order
func TaskTypes() []TaskType {
	return []TaskType{TaskGrammar, TaskVocabulary, TaskTranslation, TaskReading, TaskWriting}
}

// Valid reports whether t is a known task type
func (t TaskType) Valid() bool {
	switch t {
	case TaskGrammar, TaskVocabulary, TaskTranslation, TaskReading, TaskWriting:
		return true
	}
	return false
}

// CompletionStatus is the lifecycle state of an exercise record
type CompletionStatus string

const (
	StatusInProgress CompletionStatus = "in_progress"
	StatusCompleted  CompletionStatus = "completed"
	StatusPartial    CompletionStatus = "partial"
	StatusFailed     CompletionStatus = "failed"
)

// Terminal reports whether the status is a final, scored state
func (s CompletionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// StatusForScore derives the completion status from a grading score.
// Status is a pure function of the score once scoring occurs:
// score >= 0.6 completes, score < 0.4 fails, anything between is partial.
func StatusForScore(score float64) CompletionStatus {
	switch {
	case score >= 0.6:
		return StatusCompleted
	case score < 0.4:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// ExerciseRecord is one generated task and its lifecycle through
// submission and grading
type ExerciseRecord struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	TaskType         TaskType
	Prompt           string            // prompt sent to the generative service
	GeneratedText    string            // raw generated task text
	ParsedTask       map[string]string // structured task, possibly partial
	SubmissionRaw    string
	SubmissionParsed map[string]string
	FeedbackText     string
	ParsedFeedback   map[string]string
	Score            *float64 // 0.0-1.0, nil until graded
	Status           CompletionStatus
	ParseErrors      []string // ordered, append-only diagnostics
	CreatedAt        time.Time
}

// NewExerciseRecord creates a fresh in-progress record for a generated task
func NewExerciseRecord(userID uuid.UUID, taskType TaskType, prompt, generatedText string) *ExerciseRecord {
	return &ExerciseRecord{
		ID:            uuid.New(),
		UserID:        userID,
		TaskType:      taskType,
		Prompt:        prompt,
		GeneratedText: generatedText,
		Status:        StatusInProgress,
		CreatedAt:     time.Now(),
	}
}

// AppendParseError records a non-fatal parse diagnostic.
// The list only grows; existing entries are never replaced.
func (r *ExerciseRecord) AppendParseError(msg string) {
	r.ParseErrors = append(r.ParseErrors, msg)
}

// ApplyScore stores the grading outcome and derives the terminal status
func (r *ExerciseRecord) ApplyScore(score float64) {
	s := score
	r.Score = &s
	r.Status = StatusForScore(score)
}

// Degraded reports whether the record carries parse diagnostics
func (r *ExerciseRecord) Degraded() bool {
	return len(r.ParseErrors) > 0
}
