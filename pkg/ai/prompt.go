package ai

import (
	"fmt"
	"strings"
)

// DefaultLanguage is the feedback language requested from the model.
const DefaultLanguage = "Korean"

func evaluatorSystemPrompt(language string) string {
	return strings.TrimSpace(fmt.Sprintf(`
You are a strict grader. Output must be valid JSON only, without any extra explanation.
Do not use markdown code blocks or comments.

Output format:
{"score": number(0-%d, integer), "feedback": string, "highlights": string[]}

"highlights" must be non-empty if score < %d.
Language: %s only.`, MaxScore, MaxScore, language))
}

func buildUserPrompt(input EvaluationInput) string {
	lines := []string{
		"componentType: " + input.ComponentType,
		`Student essay: """` + input.SubmitText + `"""`,
		"Requirements:",
		fmt.Sprintf("- score: integer from 0 to %d", MaxScore),
		"- feedback: Short paragraph-level comments",
		fmt.Sprintf("- highlights: Penalized sentences or words copied verbatim from the essay. Must not be empty if score < %d.", MaxScore),
		`Output ONLY valid JSON that matches this schema: {"score": number, "feedback": string, "highlights": string[]}`,
	}
	return strings.Join(lines, "\n")
}
