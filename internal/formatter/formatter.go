// Package formatter normalises model replies into one bulleted block per
// patient record.
package formatter

import (
	"log/slog"
	"regexp"
	"strings"
)

// Apology is returned when the model produced no text.
const Apology = "I'm sorry, I couldn't generate a response. Please try again."

var (
	codeFence   = regexp.MustCompile("(?s)```.*?```")
	recordLabel = regexp.MustCompile(`\*\*(?:Patient|MRN)\*\*:`)
	fieldSpan   = regexp.MustCompile(`\*\*[^*]+\*\*:\s*[^\n]+`)
	leadingDash = regexp.MustCompile(`^-+\s*`)
)

// Format rewrites text so each record starts with "- " and its remaining
// "**Label**: value" fields follow on indented lines. Text without labelled
// fields passes through unchanged.
func Format(text string) string {
	if strings.TrimSpace(text) == "" {
		slog.Warn("empty response received from model")
		return Apology
	}

	stripped := codeFence.ReplaceAllString(text, "")

	var out []string
	for _, rec := range splitRecords(stripped) {
		// A bullet preceding a label is left behind in the previous record.
		rec = leadingDash.ReplaceAllString(strings.TrimSpace(rec), "")
		if rec == "" {
			continue
		}

		fields := fieldSpan.FindAllString(rec, -1)
		if len(fields) == 0 {
			out = append(out, rec)
			continue
		}

		var b strings.Builder
		b.WriteString("- ")
		for i, f := range fields {
			if i > 0 {
				b.WriteString("\n  ")
			}
			b.WriteString(strings.TrimSpace(f))
		}
		out = append(out, b.String())
	}

	result := strings.TrimSpace(strings.Join(out, "\n\n"))
	if result == "" {
		slog.Warn("formatted result is empty, returning original response")
		return text
	}
	return result
}

// splitRecords cuts s immediately before every Patient or MRN label.
func splitRecords(s string) []string {
	locs := recordLabel.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	parts := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		if loc[0] > start {
			parts = append(parts, s[start:loc[0]])
		}
		start = loc[0]
	}
	return append(parts, s[start:])
}
