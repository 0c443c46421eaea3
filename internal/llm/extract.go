package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON value out of a model's free-form text response.
// Models routinely wrap their JSON in prose or markdown fences, so this
// tries, in order of preference: the whole string as-is, the first
// ```json fenced block, then a hand-scanned balanced bracket region. The
// scanner (not a regex) tracks string/escape state so brackets inside
// string literals never confuse the match.
func ExtractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)

	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	if fenced, ok := extractFenced(trimmed); ok && json.Valid([]byte(fenced)) {
		return json.RawMessage(fenced), nil
	}

	if scanned, ok := extractBalanced(trimmed); ok && json.Valid([]byte(scanned)) {
		return json.RawMessage(scanned), nil
	}

	return nil, fmt.Errorf("no valid JSON found in response")
}

func extractFenced(s string) (string, bool) {
	const openTag = "```json"
	start := strings.Index(s, openTag)
	if start == -1 {
		start = strings.Index(s, "```")
		if start == -1 {
			return "", false
		}
		start += len("```")
	} else {
		start += len(openTag)
	}

	end := strings.Index(s[start:], "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(s[start : start+end]), true
}

// extractBalanced scans for the first top-level balanced {...} or [...]
// region, respecting quoted strings and backslash escapes so brackets
// appearing inside string literals are not mistaken for structure.
func extractBalanced(s string) (string, bool) {
	startIdx := -1
	var openCh, closeCh byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			startIdx = i
			openCh = s[i]
			if openCh == '{' {
				closeCh = '}'
			} else {
				closeCh = ']'
			}
			break
		}
	}
	if startIdx == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := startIdx; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return s[startIdx : i+1], true
			}
		}
	}
	return "", false
}
