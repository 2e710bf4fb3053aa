package extract

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/terms-cli/internal/resilience"
)

// itemAnswer is one provider answer for a single coverage item, as emitted
// by the phase-2 prompt's JSON array.
type itemAnswer struct {
	BenefitName  string `json:"benefit_name"`
	TemplateName string `json:"template_name"`
	InferredCode string `json:"inferred_code"`
	Confidence   string `json:"confidence"`
	Source       string `json:"source"`
	RefPage      string `json:"ref_page"`
	RefSentence  string `json:"ref_sentence"`
}

// stripCodeFences removes a surrounding markdown code fence, which models
// emit despite being told not to.
func stripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// parsePhase1Object validates that text contains a JSON object and returns it
// compacted, for injection into the phase-2 prompt.
func parsePhase1Object(providerName, text string) (string, error) {
	s := stripCodeFences(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", &resilience.SchemaViolationError{Provider: providerName, Detail: "no JSON object in phase-1 response"}
	}
	s = s[start : end+1]

	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return "", &resilience.SchemaViolationError{Provider: providerName, Detail: "phase-1 response is not valid JSON: " + err.Error()}
	}

	compact, err := json.Marshal(obj)
	if err != nil {
		return "", &resilience.SchemaViolationError{Provider: providerName, Detail: err.Error()}
	}
	return string(compact), nil
}

// parsePhase2Array parses the phase-2 JSON array. When the array as a whole
// does not parse (truncated output, trailing commentary), it falls back to
// recovering the individual objects that do parse.
func parsePhase2Array(providerName, text string) ([]itemAnswer, error) {
	s := stripCodeFences(text)
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		var answers []itemAnswer
		if err := json.Unmarshal([]byte(s[start:end+1]), &answers); err == nil {
			return answers, nil
		}
	}

	answers := recoverObjects(s)
	if len(answers) == 0 {
		return nil, &resilience.SchemaViolationError{Provider: providerName, Detail: "no parsable objects in phase-2 response"}
	}
	return answers, nil
}

// recoverObjects scans text for balanced top-level JSON objects and keeps
// those that decode as item answers.
func recoverObjects(text string) []itemAnswer {
	var answers []itemAnswer
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				var a itemAnswer
				if err := json.Unmarshal([]byte(text[start:i+1]), &a); err == nil && a.BenefitName != "" {
					answers = append(answers, a)
				}
				start = -1
			}
		}
	}
	return answers
}
