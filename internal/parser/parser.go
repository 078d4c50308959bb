// Package parser converts raw generated text into structured records.
//
// Generated task and feedback text arrives from an untrusted remote model
// in a loose tag format. Parsing is partial-failure tolerant: every parse
// function returns whatever structure it could recover alongside any
// *ParseError, so callers can persist degraded results instead of failing.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// excerptLen bounds how much offending text a ParseError may carry
const excerptLen = 160

// ParseError describes why generated text could not be fully structured.
// Callers must treat it as recoverable, never fatal.
type ParseError struct {
	Kind        string   // "task" or "feedback"
	MissingTags []string // required tags absent from the input
	Excerpt     string   // bounded slice of the offending text, when structural
	msg         string
}

func (e *ParseError) Error() string {
	return e.msg
}

func newMissingTagsError(kind string, tags []string) *ParseError {
	return &ParseError{
		Kind:        kind,
		MissingTags: tags,
		msg:         fmt.Sprintf("%s parse: missing required tag(s): %s", kind, strings.Join(tags, ", ")),
	}
}

func newStructuralError(kind, detail, offending string) *ParseError {
	return &ParseError{
		Kind:    kind,
		Excerpt: excerpt(offending),
		msg:     fmt.Sprintf("%s parse: %s: %q", kind, detail, excerpt(offending)),
	}
}

// StructuredTask is the structured form of a generated task.
// Fields holds one entry per known tag; list-like tags (questions, words)
// keep their inner markup as the value.
type StructuredTask struct {
	TaskType domain.TaskType
	Fields   map[string]string
}

// StructuredFeedback is the structured form of grading feedback
type StructuredFeedback struct {
	Fields map[string]string
}

// Required and known-optional tags per task type. Tags outside these sets
// are dropped for forward compatibility.
var taskRequiredTags = map[domain.TaskType][]string{
	domain.TaskGrammar:     {"title", "instructions", "questions"},
	domain.TaskVocabulary:  {"title", "instructions", "words"},
	domain.TaskTranslation: {"title", "instructions", "source_text"},
	domain.TaskReading:     {"title", "instructions", "text", "questions"},
	domain.TaskWriting:     {"title", "instructions", "topic"},
}

var taskOptionalTags = []string{"difficulty", "example", "hints", "grammar_focus"}

var feedbackRequiredTags = []string{"overall"}

var feedbackOptionalTags = []string{"score", "corrections", "suggestions", "strengths"}

// ParseTask structures the raw text of a generated task. The returned task
// is never nil; on error it holds whatever fields were recovered.
func ParseTask(taskType domain.TaskType, raw string) (*StructuredTask, *ParseError) {
	known := knownTagSet(taskRequiredTags[taskType], taskOptionalTags)

	fields, structuralErr := extractTags("task", raw, known)
	task := &StructuredTask{TaskType: taskType, Fields: fields}

	if structuralErr != nil {
		return task, structuralErr
	}
	if missing := missingTags(taskRequiredTags[taskType], fields); len(missing) > 0 {
		return task, newMissingTagsError("task", missing)
	}
	return task, nil
}

// ParseFeedback structures the raw text of grading feedback
func ParseFeedback(raw string) (*StructuredFeedback, *ParseError) {
	known := knownTagSet(feedbackRequiredTags, feedbackOptionalTags)

	fields, structuralErr := extractTags("feedback", raw, known)
	fb := &StructuredFeedback{Fields: fields}

	if structuralErr != nil {
		return fb, structuralErr
	}
	if missing := missingTags(feedbackRequiredTags, fields); len(missing) > 0 {
		return fb, newMissingTagsError("feedback", missing)
	}
	return fb, nil
}

var openTagRe = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_]*)>`)

// extractTags walks the input collecting top-level <tag>value</tag> pairs.
// Known tags must be terminated; an unterminated known tag is a structural
// error. Unknown tags are skipped entirely, terminated or not. Scanning
// continues past errors so partial structure is still recovered.
func extractTags(kind, raw string, known map[string]bool) (map[string]string, *ParseError) {
	fields := make(map[string]string)
	body := stripRoot(raw, kind)

	var structuralErr *ParseError

	pos := 0
	for pos < len(body) {
		loc := openTagRe.FindStringSubmatchIndex(body[pos:])
		if loc == nil {
			break
		}
		name := body[pos+loc[2] : pos+loc[3]]
		contentStart := pos + loc[1]

		closing := "</" + name + ">"
		end := strings.Index(body[contentStart:], closing)
		if end < 0 {
			if known[name] {
				if structuralErr == nil {
					structuralErr = newStructuralError(kind, "unterminated tag <"+name+">", body[pos+loc[0]:])
				}
			}
			// No boundary to trust; resume after the opening tag
			pos = contentStart
			continue
		}

		if known[name] {
			if _, dup := fields[name]; !dup {
				fields[name] = strings.TrimSpace(body[contentStart : contentStart+end])
			}
		}
		pos = contentStart + end + len(closing)
	}

	return fields, structuralErr
}

// stripRoot unwraps an optional <task>/<feedback> root element
func stripRoot(raw, kind string) string {
	trimmed := strings.TrimSpace(raw)
	openTag, closeTag := "<"+kind+">", "</"+kind+">"
	if strings.HasPrefix(trimmed, openTag) && strings.HasSuffix(trimmed, closeTag) {
		return trimmed[len(openTag) : len(trimmed)-len(closeTag)]
	}
	return trimmed
}

func knownTagSet(required, optional []string) map[string]bool {
	set := make(map[string]bool, len(required)+len(optional))
	for _, t := range required {
		set[t] = true
	}
	for _, t := range optional {
		set[t] = true
	}
	return set
}

func missingTags(required []string, fields map[string]string) []string {
	var missing []string
	for _, tag := range required {
		if _, ok := fields[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	return missing
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLen {
		return s
	}
	return s[:excerptLen] + "..."
}
