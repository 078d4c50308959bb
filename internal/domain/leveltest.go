package domain

import (
	"time"

	"github.com/google/uuid"
)

// TestType distinguishes the initial placement test from periodic progress tests
type TestType string

const (
	TestInitial  TestType = "initial"
	TestPeriodic TestType = "periodic"
)

// Valid reports whether t is a known test type
func (t TestType) Valid() bool {
	return t == TestInitial || t == TestPeriodic
}

// LevelTestRecord is one placement or progress test instance.
// At most one record per user may be active at any time, and the
// active -> completed transition happens exactly once.
type LevelTestRecord struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	TestType        TestType
	Prompt          string
	GeneratedText   string
	Answers         map[string]string // question id -> answer
	EvaluationText  string
	DeterminedLevel string
	TotalScore      float64
	Active          bool
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// NewLevelTestRecord creates a fresh active test with no answers
func NewLevelTestRecord(userID uuid.UUID, testType TestType, prompt, generatedText string) *LevelTestRecord {
	return &LevelTestRecord{
		ID:            uuid.New(),
		UserID:        userID,
		TestType:      testType,
		Prompt:        prompt,
		GeneratedText: generatedText,
		Active:        true,
		StartedAt:     time.Now(),
	}
}

// Complete records the evaluation outcome and closes the test
func (r *LevelTestRecord) Complete(answers map[string]string, evaluationText, level string, totalScore float64) {
	now := time.Now()
	r.Answers = answers
	r.EvaluationText = evaluationText
	r.DeterminedLevel = level
	r.TotalScore = totalScore
	r.Active = false
	r.CompletedAt = &now
}

// LanguageLevels lists the CEFR levels a test evaluation may determine
func LanguageLevels() []string {
	return []string{"A1", "A2", "B1", "B2", "C1", "C2"}
}

// ValidLanguageLevel reports whether level is a known CEFR level
func ValidLanguageLevel(level string) bool {
	for _, l := range LanguageLevels() {
		if l == level {
			return true
		}
	}
	return false
}
