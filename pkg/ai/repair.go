package ai

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxFeedbackRunes bounds the stored feedback length.
const MaxFeedbackRunes = 2000

const (
	maxHighlights      = 10
	filledHighlights   = 3
	fallbackScore      = 5
	formatErrorMessage = "형식 오류: 기본 평가를 반환합니다."
	schemaErrorMessage = "스키마 불일치: 기본 평가를 반환합니다."
)

const evaluationSchema = `{
  "type": "object",
  "required": ["score", "feedback"],
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 10},
    "feedback": {"type": "string"},
    "highlights": {"type": "array", "items": {"type": "string"}}
  }
}`

var compiledSchema = jsonschema.MustCompileString("evaluation.schema.json", evaluationSchema)

// RepairResponse turns raw model output into a valid result. Malformed or
// off-schema output yields a fixed fallback result instead of an error.
func RepairResponse(raw string) EvaluationResult {
	cleaned := extractJSON(raw)

	decoder := json.NewDecoder(strings.NewReader(cleaned))
	decoder.UseNumber()
	var document interface{}
	if err := decoder.Decode(&document); err != nil || decoder.More() {
		return fallbackResult(formatErrorMessage, RepairFormatError)
	}

	if err := compiledSchema.Validate(document); err != nil {
		return fallbackResult(schemaErrorMessage, RepairSchemaMismatch)
	}

	var payload struct {
		Score      json.Number `json:"score"`
		Feedback   string      `json:"feedback"`
		Highlights []string    `json:"highlights"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return fallbackResult(schemaErrorMessage, RepairSchemaMismatch)
	}
	score, err := payload.Score.Float64()
	if err != nil {
		return fallbackResult(schemaErrorMessage, RepairSchemaMismatch)
	}

	result := EvaluationResult{
		Score:      int(score),
		Feedback:   payload.Feedback,
		Highlights: payload.Highlights,
	}
	if result.Highlights == nil {
		result.Highlights = []string{}
	}

	if result.Score < MaxScore && len(result.Highlights) == 0 {
		if filled := highlightsFromFeedback(result.Feedback); len(filled) > 0 {
			result.Highlights = filled
			result.Repair = RepairHighlightsFilled
		}
	}

	result.Feedback = truncateRunes(result.Feedback, MaxFeedbackRunes)
	if len(result.Highlights) > maxHighlights {
		result.Highlights = result.Highlights[:maxHighlights]
	}

	return result
}

func fallbackResult(feedback, repair string) EvaluationResult {
	return EvaluationResult{
		Score:      fallbackScore,
		Feedback:   feedback,
		Highlights: []string{},
		Repair:     repair,
	}
}

// extractJSON strips a fenced code block, or else keeps the text between the
// first '{' and the last '}'.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "```") {
		body := strings.TrimPrefix(trimmed, "```")
		if newline := strings.IndexByte(body, '\n'); newline >= 0 {
			body = body[newline+1:]
		} else {
			body = strings.TrimPrefix(body, "json")
		}
		if end := strings.LastIndex(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}

	return trimmed
}

// highlightsFromFeedback returns up to three of the longest feedback sentences.
func highlightsFromFeedback(feedback string) []string {
	sentences := splitSentences(feedback)
	sort.SliceStable(sentences, func(i, j int) bool {
		return utf8.RuneCountInString(sentences[i]) > utf8.RuneCountInString(sentences[j])
	})
	if len(sentences) > filledHighlights {
		sentences = sentences[:filledHighlights]
	}
	return sentences
}

// splitSentences breaks text after sentence punctuation or a newline that is
// followed by whitespace.
func splitSentences(text string) []string {
	runes := []rune(text)
	sentences := []string{}
	var current bytes.Buffer

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isTerminator(runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		flush()
		for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			i++
		}
	}
	flush()

	return sentences
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '\n':
		return true
	}
	return false
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
