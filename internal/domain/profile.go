package domain

import (
	"time"

	"github.com/google/uuid"
)

// Profile stores per-user learning state: language level, progress
// and error counters, and level-test flags. It is a simple mutable
// record keyed by user id, owned by the account aggregate.
type Profile struct {
	UserID               uuid.UUID
	Name                 string
	Surname              string
	LanguageLevel        string // CEFR level, empty until determined
	Progress             int
	Errors               int
	PreferredTaskTypes   []TaskType
	InitialTestCompleted bool
	LastLevelTestDate    *time.Time
	UpdatedAt            time.Time
}

// NewProfile creates an empty profile for a user
func NewProfile(userID uuid.UUID) *Profile {
	return &Profile{
		UserID:    userID,
		UpdatedAt: time.Now(),
	}
}

// RecordTestResult applies a completed level test to the profile.
// The initial-test-completed flag is a one-way transition; it is never
// reset by this path.
func (p *Profile) RecordTestResult(level string, testType TestType, at time.Time) {
	p.LanguageLevel = level
	p.LastLevelTestDate = &at
	if testType == TestInitial {
		p.InitialTestCompleted = true
	}
}

// Experience is the per-user experience aggregate, updated best-effort
// after grading
type Experience struct {
	UserID             uuid.UUID
	TotalXP            int
	CompletedExercises int
	UpdatedAt          time.Time
}

// XPForScore converts a grading score into experience points,
// up to 50 XP per exercise
func XPForScore(score float64) int {
	return int(score * 50)
}

// Recommendation is one generated set of personalized study recommendations
type Recommendation struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Prompt        string
	GeneratedText string
	CreatedAt     time.Time
}

// NewRecommendation creates a recommendation record for a user
func NewRecommendation(userID uuid.UUID, prompt, generatedText string) *Recommendation {
	return &Recommendation{
		ID:            uuid.New(),
		UserID:        userID,
		Prompt:        prompt,
		GeneratedText: generatedText,
		CreatedAt:     time.Now(),
	}
}
