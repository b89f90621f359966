package analysis

import (
	"encoding/json"
	"strings"
)

// requiredFields must all be present in the reply, even if empty.
var requiredFields = []string{
	"semanticDescription",
	"offloadRecommendation",
	"dataExtractionPaths",
	"preserveInlinePaths",
}

// ParseReply turns the agent's textual reply into a Result. The reply is
// unwrapped from a fenced code block if present; line comments and trailing
// commas are stripped before the JSON parse. A missing required field fails
// with a validate-stage Error.
func ParseReply(reply string) (*Result, error) {
	cleaned := stripTrailingCommas(stripLineComments(unwrapCodeFence(reply)))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, &Error{Stage: "parse", Message: "reply is not a JSON object", Err: err}
	}

	for _, field := range requiredFields {
		if _, ok := fields[field]; !ok {
			return nil, &Error{Stage: "validate", Message: "reply is missing required field " + field}
		}
	}

	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, &Error{Stage: "parse", Message: "reply fields have wrong types", Err: err}
	}

	switch result.OffloadRecommendation {
	case RecommendOffloadAll, RecommendOffloadArray, RecommendKeepInline, RecommendAggregateFirst:
	default:
		return nil, &Error{Stage: "validate",
			Message: "unknown offloadRecommendation " + result.OffloadRecommendation}
	}

	return &result, nil
}

// unwrapCodeFence extracts the body of a ```/```json fenced block.
func unwrapCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		// Drop the language tag line ("json").
		trimmed = trimmed[newline+1:]
	}
	if fence := strings.LastIndex(trimmed, "```"); fence >= 0 {
		trimmed = trimmed[:fence]
	}
	return strings.TrimSpace(trimmed)
}

// stripLineComments removes // comments outside string literals.
func stripLineComments(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}

		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				out.WriteByte('\n')
			}
			continue
		}

		out.WriteByte(c)
	}
	return out.String()
}

// stripTrailingCommas removes commas that directly precede a closing brace
// or bracket, outside string literals.
func stripTrailingCommas(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}

		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}

		out.WriteByte(c)
	}
	return out.String()
}
