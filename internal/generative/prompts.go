package generative

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TonniChopper/DeutschLearner/internal/domain"
)

// PromptSet holds the system prompts for each generative operation.
// Deployments can override individual prompts from a YAML file; empty
// fields keep their defaults.
type PromptSet struct {
	TaskSystem      string `yaml:"task_system"`
	GradeSystem     string `yaml:"grade_system"`
	RecommendSystem string `yaml:"recommend_system"`
	LevelTestSystem string `yaml:"level_test_system"`
	EvaluateSystem  string `yaml:"evaluate_system"`
}

// DefaultPromptSet returns the built-in prompts
func DefaultPromptSet() PromptSet {
	return PromptSet{
		TaskSystem: "You are a German language tutor. Generate one exercise in the exact tag format " +
			"requested. Wrap the whole answer in <task>...</task> and emit every required tag. " +
			"Do not add commentary outside the tags.",
		GradeSystem: "You are a German language examiner. Grade the learner's submission against the task. " +
			"Wrap the whole answer in <feedback>...</feedback> with an <overall> summary, optional " +
			"<corrections> and <suggestions>, and a <score> between 0.0 and 1.0.",
		RecommendSystem: "You are a German language coach. Produce personalized study recommendations " +
			"wrapped in <recommendations>...</recommendations> with one <item> per suggestion.",
		LevelTestSystem: "You are a German language assessor. Generate a placement test wrapped in " +
			"<test>...</test> containing <question id=\"qN\"> elements covering A1 through C2 material.",
		EvaluateSystem: "You are a German language assessor. Evaluate the learner's answers to the test. " +
			"Wrap the whole answer in <evaluation>...</evaluation> with per-question remarks, a " +
			"<level> tag holding one CEFR level (A1, A2, B1, B2, C1 or C2) and a <total_score> " +
			"between 0.0 and 1.0.",
	}
}

// LoadPromptSet reads prompt overrides from a YAML file and merges them
// over the defaults
func LoadPromptSet(path string) (PromptSet, error) {
	prompts := DefaultPromptSet()

	data, err := os.ReadFile(path)
	if err != nil {
		return prompts, fmt.Errorf("read prompt overrides: %w", err)
	}

	var overrides PromptSet
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return prompts, fmt.Errorf("parse prompt overrides: %w", err)
	}

	prompts.merge(overrides)
	return prompts, nil
}

func (p *PromptSet) merge(o PromptSet) {
	if o.TaskSystem != "" {
		p.TaskSystem = o.TaskSystem
	}
	if o.GradeSystem != "" {
		p.GradeSystem = o.GradeSystem
	}
	if o.RecommendSystem != "" {
		p.RecommendSystem = o.RecommendSystem
	}
	if o.LevelTestSystem != "" {
		p.LevelTestSystem = o.LevelTestSystem
	}
	if o.EvaluateSystem != "" {
		p.EvaluateSystem = o.EvaluateSystem
	}
}

func (p PromptSet) taskPrompt(profile ProfileContext, taskType domain.TaskType, difficulty string) string {
	if difficulty == "" {
		difficulty = profile.LanguageLevel
	}
	if difficulty == "" {
		difficulty = "A1"
	}

	var sb strings.Builder
	sb.WriteString("Generate one German ")
	sb.WriteString(string(taskType))
	sb.WriteString(" exercise at level ")
	sb.WriteString(difficulty)
	sb.WriteString(".\n\n")
	writeProfileContext(&sb, profile)
	sb.WriteString("Required tags for this task type: ")
	sb.WriteString(strings.Join(requiredTagHint(taskType), ", "))
	sb.WriteString(".\n")
	return sb.String()
}

func (p PromptSet) gradePrompt(taskText, submissionText string) string {
	var sb strings.Builder
	sb.WriteString("TASK:\n")
	sb.WriteString(taskText)
	sb.WriteString("\n\nLEARNER SUBMISSION:\n")
	sb.WriteString(submissionText)
	sb.WriteString("\n")
	return sb.String()
}

func (p PromptSet) recommendationsPrompt(profile ProfileContext) string {
	var sb strings.Builder
	sb.WriteString("Suggest what this learner should practice next.\n\n")
	writeProfileContext(&sb, profile)
	return sb.String()
}

func (p PromptSet) levelTestPrompt(testType domain.TestType) string {
	if testType == domain.TestInitial {
		return "Generate an initial placement test for a new learner with unknown level.\n"
	}
	return "Generate a periodic progress test to re-assess the learner's current level.\n"
}

func (p PromptSet) evaluatePrompt(testText, answersJSON string) string {
	var sb strings.Builder
	sb.WriteString("TEST:\n")
	sb.WriteString(testText)
	sb.WriteString("\n\nANSWERS (question id -> answer):\n")
	sb.WriteString(answersJSON)
	sb.WriteString("\n")
	return sb.String()
}

func writeProfileContext(sb *strings.Builder, profile ProfileContext) {
	sb.WriteString("LEARNER CONTEXT:\n")
	level := profile.LanguageLevel
	if level == "" {
		level = "unknown"
	}
	fmt.Fprintf(sb, "- language level: %s\n", level)
	fmt.Fprintf(sb, "- progress points: %d\n", profile.Progress)
	fmt.Fprintf(sb, "- recorded errors: %d\n", profile.Errors)
	if len(profile.PreferredTaskTypes) > 0 {
		types := make([]string, len(profile.PreferredTaskTypes))
		for i, t := range profile.PreferredTaskTypes {
			types[i] = string(t)
		}
		fmt.Fprintf(sb, "- preferred task types: %s\n", strings.Join(types, ", "))
	}
	sb.WriteString("\n")
}

// requiredTagHint mirrors the parser's required tag sets so the model is
// told exactly what the parser will look for
func requiredTagHint(taskType domain.TaskType) []string {
	switch taskType {
	case domain.TaskGrammar:
		return []string{"title", "instructions", "questions"}
	case domain.TaskVocabulary:
		return []string{"title", "instructions", "words"}
	case domain.TaskTranslation:
		return []string{"title", "instructions", "source_text"}
	case domain.TaskReading:
		return []string{"title", "instructions", "text", "questions"}
	case domain.TaskWriting:
		return []string{"title", "instructions", "topic"}
	default:
		return []string{"title", "instructions"}
	}
}
