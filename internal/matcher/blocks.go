// Package matcher locates the file region a model-proposed edit refers to,
// tolerating minor whitespace and line-count drift, and applies search/replace
// blocks to file text.
package matcher

import (
	"fmt"
	"regexp"
	"strings"
)

// Block is one search/replace pair extracted from a diff-block payload.
type Block struct {
	Search  string
	Replace string
}

const (
	markerOriginal = "<<<<<<< ORIGINAL"
	markerDivider  = "======="
	markerUpdated  = ">>>>>>> UPDATED"
)

var (
	openMarkerRe    = regexp.MustCompile(`^\s*<{4,}\s*(ORIGINAL|SEARCH|HEAD)?\s*$`)
	dividerMarkerRe = regexp.MustCompile(`^\s*={4,}\s*$`)
	closeMarkerRe   = regexp.MustCompile(`^\s*>{4,}\s*(UPDATED|REPLACE)?\s*$`)
)

// NormalizeMarkers rewrites any accepted marker spelling (longer runs,
// alternate keywords) to the canonical three-line form.
func NormalizeMarkers(payload string) string {
	lines := strings.Split(normalizeLineEndings(payload), "\n")
	for i, line := range lines {
		switch {
		case openMarkerRe.MatchString(line):
			lines[i] = markerOriginal
		case dividerMarkerRe.MatchString(line):
			lines[i] = markerDivider
		case closeMarkerRe.MatchString(line):
			lines[i] = markerUpdated
		}
	}
	return strings.Join(lines, "\n")
}

// ParseBlocks extracts search/replace blocks from a diff-block payload.
// Markers are normalized first. A payload containing a lone divider and no
// open/close markers is accepted as a single-block shorthand.
func ParseBlocks(payload string) ([]Block, error) {
	normalized := NormalizeMarkers(payload)
	lines := strings.Split(normalized, "\n")

	hasOpen := false
	for _, line := range lines {
		if line == markerOriginal {
			hasOpen = true
			break
		}
	}

	if !hasOpen {
		return parseLoneDivider(lines)
	}

	var blocks []Block
	const (
		outside = iota
		inSearch
		inReplace
	)
	state := outside
	var search, replace []string

	for _, line := range lines {
		switch state {
		case outside:
			if line == markerOriginal {
				state = inSearch
				search = nil
				replace = nil
			}
		case inSearch:
			if line == markerDivider {
				state = inReplace
			} else {
				search = append(search, line)
			}
		case inReplace:
			if line == markerUpdated {
				blocks = append(blocks, Block{
					Search:  strings.Join(search, "\n"),
					Replace: strings.Join(replace, "\n"),
				})
				state = outside
			} else {
				replace = append(replace, line)
			}
		}
	}

	if state != outside {
		return nil, fmt.Errorf("unterminated edit block: missing %q or %q marker", markerDivider, markerUpdated)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no edit blocks found in payload")
	}
	return blocks, nil
}

// parseLoneDivider handles the shorthand form: search text, a single
// ======= line, replace text, no surrounding markers.
func parseLoneDivider(lines []string) ([]Block, error) {
	dividerAt := -1
	for i, line := range lines {
		if line == markerDivider {
			if dividerAt >= 0 {
				return nil, fmt.Errorf("multiple dividers without block markers")
			}
			dividerAt = i
		}
	}
	if dividerAt < 0 {
		return nil, fmt.Errorf("no edit blocks found in payload")
	}
	return []Block{{
		Search:  strings.Join(lines[:dividerAt], "\n"),
		Replace: strings.Join(lines[dividerAt+1:], "\n"),
	}}, nil
}

func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
