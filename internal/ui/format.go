package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// MakePrompt creates a colored prompt with white text on gray background.
func MakePrompt(text string) string {
	colorStart := "\033[97;100m"
	colorEnd := "\033[0m"
	return colorStart + text + colorEnd
}

// FormatToolArgs renders a tool call's raw JSON parameters for compact
// display: key=value pairs with long strings truncated.
func FormatToolArgs(rawParams string) string {
	parsed := gjson.Parse(rawParams)
	if !parsed.IsObject() {
		return truncate(rawParams, 50)
	}

	var parts []string
	parsed.ForEach(func(key, value gjson.Result) bool {
		valStr := value.Raw
		if value.Type == gjson.String {
			valStr = fmt.Sprintf("%q", truncate(value.String(), 47))
		} else {
			valStr = truncate(valStr, 50)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", key.String(), valStr))
		return true
	})
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// FormatChars formats a character count in a human-readable way ("1.5k").
func FormatChars(chars int) string {
	if chars < 1000 {
		return fmt.Sprintf("%d", chars)
	}
	k := float64(chars) / 1000.0
	if k < 10 {
		return fmt.Sprintf("%.1fk", k)
	}
	return fmt.Sprintf("%.0fk", k)
}

// SummarizeToolContent builds a one-line size summary of a tool's textual
// result.
func SummarizeToolContent(content string) string {
	if content == "" {
		return "empty output"
	}
	lines := strings.Count(content, "\n") + 1
	if lines == 1 {
		return fmt.Sprintf("1 line, %s chars", FormatChars(len(content)))
	}
	return fmt.Sprintf("%d lines, %s chars", lines, FormatChars(len(content)))
}
