package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewLevelTestRecord(t *testing.T) {
	userID := uuid.New()
	rec := NewLevelTestRecord(userID, TestInitial, "prompt", "<test></test>")

	if !rec.Active {
		t.Error("new test should be active")
	}
	if len(rec.Answers) != 0 {
		t.Errorf("new test answers = %v, want empty", rec.Answers)
	}
	if rec.CompletedAt != nil {
		t.Error("new test should have no completion timestamp")
	}
	if rec.UserID != userID {
		t.Errorf("user id = %v, want %v", rec.UserID, userID)
	}
}

func TestLevelTestRecord_Complete(t *testing.T) {
	rec := NewLevelTestRecord(uuid.New(), TestPeriodic, "prompt", "<test></test>")
	answers := map[string]string{"q1": "der", "q2": "die"}

	rec.Complete(answers, "<evaluation>...</evaluation>", "B1", 0.72)

	if rec.Active {
		t.Error("completed test still active")
	}
	if rec.CompletedAt == nil {
		t.Fatal("completion timestamp not stamped")
	}
	if rec.DeterminedLevel != "B1" {
		t.Errorf("determined level = %q, want B1", rec.DeterminedLevel)
	}
	if rec.TotalScore != 0.72 {
		t.Errorf("total score = %v, want 0.72", rec.TotalScore)
	}
	if rec.Answers["q2"] != "die" {
		t.Errorf("answers not persisted: %v", rec.Answers)
	}
}

func TestProfile_RecordTestResult(t *testing.T) {
	p := NewProfile(uuid.New())
	now := time.Now()

	p.RecordTestResult("A2", TestInitial, now)

	if p.LanguageLevel != "A2" {
		t.Errorf("language level = %q, want A2", p.LanguageLevel)
	}
	if !p.InitialTestCompleted {
		t.Error("initial test flag not set")
	}
	if p.LastLevelTestDate == nil || !p.LastLevelTestDate.Equal(now) {
		t.Errorf("last test date = %v, want %v", p.LastLevelTestDate, now)
	}

	// Periodic test must not reset the one-way flag
	p.RecordTestResult("B1", TestPeriodic, now.Add(time.Hour))
	if !p.InitialTestCompleted {
		t.Error("initial test flag reset by periodic test")
	}
	if p.LanguageLevel != "B1" {
		t.Errorf("language level = %q, want B1", p.LanguageLevel)
	}
}

func TestValidLanguageLevel(t *testing.T) {
	for _, level := range LanguageLevels() {
		if !ValidLanguageLevel(level) {
			t.Errorf("ValidLanguageLevel(%q) = false", level)
		}
	}
	for _, level := range []string{"", "D1", "b1", "native"} {
		if ValidLanguageLevel(level) {
			t.Errorf("ValidLanguageLevel(%q) = true", level)
		}
	}
}
