package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by repositories
// and services to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Exercise errors
var (
	ErrExerciseNotFound = errors.New("exercise not found")
	ErrExerciseResolved = errors.New("exercise already resolved")
	ErrNoGeneratedTask  = errors.New("exercise has no generated task text")
)

// Level test errors
var (
	ErrLevelTestNotFound = errors.New("level test not found")
	ErrActiveTestExists  = errors.New("an active level test already exists")
)

// Profile errors
var (
	ErrProfileNotFound    = errors.New("profile not found")
	ErrExperienceNotFound = errors.New("experience summary not found")
)

// General errors
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream generation failed")
)
