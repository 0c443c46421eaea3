package persistence

import "strings"

// joinLines and splitLines store a string slice as newline-separated text
// rather than JSON, since every element here is a short, single-line
// natural-language sentence (a strength, a weakness, an adjustment-plan
// item) and a plain TEXT column is sufficient and keeps the reflections
// table grep-able.
func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// NormalizeDate accepts either YYYYMMDD or YYYY-MM-DD and returns the
// canonical dash-free YYYYMMDD form used throughout the arena database.
func NormalizeDate(s string) string {
	return strings.ReplaceAll(s, "-", "")
}
