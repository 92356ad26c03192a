package matcher

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"relay/internal/config"
)

// Tier names reported in match results, in priority order.
const (
	TierExact            = "exact"
	TierAnchorExact      = "anchor_exact"
	TierAnchorWhitespace = "anchor_whitespace"
	TierDualAnchor       = "dual_anchor"
	TierSliding          = "sliding"
	TierSplice           = "splice"
)

// Match describes the file region a search block resolved to. Line indices
// are zero-based; EndLine is exclusive.
type Match struct {
	StartLine  int
	EndLine    int
	Similarity float64
	Tier       string
}

// BlockResult reports the outcome of applying one block.
type BlockResult struct {
	Fixed      bool
	Tier       string
	Similarity float64
	StartLine  int
}

// ApplyResult is the outcome of applying a full set of blocks.
type ApplyResult struct {
	Text    string
	Blocks  []BlockResult
	Applied int
}

// Matcher is stateless: a pure function of text in, edit plan out. The
// config only carries acceptance thresholds and cost bounds.
type Matcher struct {
	cfg config.MatcherConfig
}

func New(cfg config.MatcherConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// Default returns a matcher with the standard thresholds.
func Default() *Matcher {
	return New(config.Default().Matcher)
}

// Find locates the best region for search within fileLines, trying each
// tier strictly in priority order and stopping at the first confident
// match. An exact containment short-circuits with similarity 1.0.
func (m *Matcher) Find(fileLines []string, search string) (Match, bool) {
	searchLines := strings.Split(normalizeLineEndings(search), "\n")
	searchLines = trimTrailingBlank(searchLines)
	if len(searchLines) == 0 {
		return Match{}, false
	}

	if match, ok := findExact(fileLines, searchLines); ok {
		return match, true
	}
	if match, ok := m.findAnchorExact(fileLines, searchLines); ok {
		return match, true
	}
	if match, ok := m.findAnchorWhitespace(fileLines, searchLines); ok {
		return match, true
	}
	if match, ok := m.findDualAnchor(fileLines, searchLines); ok {
		return match, true
	}
	if match, ok := m.findSliding(fileLines, searchLines); ok {
		return match, true
	}
	return Match{}, false
}

// Apply resolves and applies every block against fileText. Blocks that fail
// on the first pass (unmatched, or overlapping a higher-priority match) are
// retried independently against the updated text, and finally via
// whole-text splicing. The returned error is non-nil only when no block
// could be applied at all.
func (m *Matcher) Apply(fileText string, blocks []Block) (*ApplyResult, error) {
	lines := strings.Split(normalizeLineEndings(fileText), "\n")
	results := make([]BlockResult, len(blocks))

	type plannedEdit struct {
		block int
		match Match
	}

	// First pass: match every block against the original text.
	var planned []plannedEdit
	var failed []int
	for i, b := range blocks {
		match, ok := m.Find(lines, b.Search)
		if !ok {
			failed = append(failed, i)
			continue
		}
		planned = append(planned, plannedEdit{block: i, match: match})
	}

	// Overlapping matches cannot be applied together. Keep the earliest,
	// push the rest to the independent-retry pass.
	sort.Slice(planned, func(a, b int) bool {
		return planned[a].match.StartLine < planned[b].match.StartLine
	})
	var accepted []plannedEdit
	for _, p := range planned {
		if len(accepted) > 0 && p.match.StartLine < accepted[len(accepted)-1].match.EndLine {
			failed = append(failed, p.block)
			continue
		}
		accepted = append(accepted, p)
	}

	// Apply accepted edits bottom-up so earlier line indices stay valid.
	for i := len(accepted) - 1; i >= 0; i-- {
		p := accepted[i]
		lines = splice(lines, p.match.StartLine, p.match.EndLine, replaceLines(blocks[p.block].Replace))
		results[p.block] = BlockResult{
			Fixed:      true,
			Tier:       p.match.Tier,
			Similarity: p.match.Similarity,
			StartLine:  p.match.StartLine,
		}
	}

	// Second pass: retry each failed block on its own against the updated
	// text, then fall back to whole-text splicing.
	sort.Ints(failed)
	for _, i := range failed {
		b := blocks[i]
		if match, ok := m.Find(lines, b.Search); ok {
			lines = splice(lines, match.StartLine, match.EndLine, replaceLines(b.Replace))
			results[i] = BlockResult{Fixed: true, Tier: match.Tier, Similarity: match.Similarity, StartLine: match.StartLine}
			continue
		}
		if newLines, start, ok := spliceWholeText(lines, b); ok {
			lines = newLines
			results[i] = BlockResult{Fixed: true, Tier: TierSplice, StartLine: start}
			continue
		}
		results[i] = BlockResult{Fixed: false}
	}

	applied := 0
	for _, r := range results {
		if r.Fixed {
			applied++
		}
	}
	out := &ApplyResult{Text: strings.Join(lines, "\n"), Blocks: results, Applied: applied}
	if applied == 0 {
		return out, fmt.Errorf("no edit block could be matched to the file content")
	}
	return out, nil
}

// findExact looks for verbatim containment of the search lines.
func findExact(fileLines, searchLines []string) (Match, bool) {
	n := len(searchLines)
	for i := 0; i+n <= len(fileLines); i++ {
		equal := true
		for k := 0; k < n; k++ {
			if fileLines[i+k] != searchLines[k] {
				equal = false
				break
			}
		}
		if equal {
			return Match{StartLine: i, EndLine: i + n, Similarity: 1.0, Tier: TierExact}, true
		}
	}
	return Match{}, false
}

func (m *Matcher) findAnchorExact(fileLines, searchLines []string) (Match, bool) {
	anchorIdx := firstNonBlank(searchLines)
	if anchorIdx < 0 {
		return Match{}, false
	}
	anchor := strings.TrimSpace(searchLines[anchorIdx])
	var candidates []int
	for i, line := range fileLines {
		if strings.TrimSpace(line) == anchor {
			candidates = append(candidates, i)
		}
	}
	n := len(searchLines)
	sizes := windowSizes(n, 2)
	best, ok := bestAnchorWindow(fileLines, searchLines, candidates, anchorIdx, sizes, trimNorm)
	if ok && best.Similarity >= m.cfg.AnchorExactThreshold {
		best.Tier = TierAnchorExact
		return best, true
	}
	return Match{}, false
}

func (m *Matcher) findAnchorWhitespace(fileLines, searchLines []string) (Match, bool) {
	anchorIdx := firstNonBlank(searchLines)
	if anchorIdx < 0 {
		return Match{}, false
	}
	anchor := stripWhitespace(searchLines[anchorIdx])
	var candidates []int
	for i, line := range fileLines {
		if stripWhitespace(line) == anchor {
			candidates = append(candidates, i)
		}
	}
	// Whitespace-blind anchors can explode on common lines like "}"; the
	// candidate cap bounds the cost.
	if len(candidates) == 0 || len(candidates) > m.cfg.MaxWhitespaceCandidates {
		return Match{}, false
	}
	n := len(searchLines)
	sizes := windowSizes(n, 2)
	best, ok := bestAnchorWindow(fileLines, searchLines, candidates, anchorIdx, sizes, stripWhitespace)
	if ok && best.Similarity >= m.cfg.AnchorWhitespaceThreshold {
		best.Tier = TierAnchorWhitespace
		return best, true
	}
	return Match{}, false
}

func (m *Matcher) findDualAnchor(fileLines, searchLines []string) (Match, bool) {
	if countNonBlank(searchLines) < 3 {
		return Match{}, false
	}
	firstIdx := firstNonBlank(searchLines)
	lastIdx := lastNonBlank(searchLines)
	first := strings.TrimSpace(searchLines[firstIdx])
	last := strings.TrimSpace(searchLines[lastIdx])
	n := len(searchLines)

	var best Match
	found := false
	for i, line := range fileLines {
		if strings.TrimSpace(line) != first {
			continue
		}
		start := i - firstIdx
		if start < 0 {
			continue
		}
		for j := i; j < len(fileLines); j++ {
			if strings.TrimSpace(fileLines[j]) != last {
				continue
			}
			end := j + (n - 1 - lastIdx) + 1
			size := end - start
			if size < n-2 || size > n+2 {
				if size > n+2 {
					break
				}
				continue
			}
			if end > len(fileLines) {
				continue
			}
			sim := lineRatio(fileLines[start:end], searchLines, trimNorm)
			if !found || sim > best.Similarity {
				best = Match{StartLine: start, EndLine: end, Similarity: sim}
				found = true
			}
		}
	}
	if found && best.Similarity >= m.cfg.DualAnchorThreshold {
		best.Tier = TierDualAnchor
		return best, true
	}
	return Match{}, false
}

func (m *Matcher) findSliding(fileLines, searchLines []string) (Match, bool) {
	if len(fileLines) > m.cfg.SlidingMaxFileLines && len(searchLines) > m.cfg.SlidingMaxSearchLines {
		return Match{}, false
	}
	n := len(searchLines)
	var best Match
	found := false
	for _, size := range windowSizes(n, 1) {
		for start := 0; start+size <= len(fileLines); start++ {
			sim := lineRatio(fileLines[start:start+size], searchLines, trimNorm)
			if !found || sim > best.Similarity {
				best = Match{StartLine: start, EndLine: start + size, Similarity: sim}
				found = true
			}
		}
	}
	if found && best.Similarity >= m.cfg.SlidingThreshold {
		best.Tier = TierSliding
		return best, true
	}
	return Match{}, false
}

// bestAnchorWindow scores windows around each anchor candidate at the given
// sizes, each shifted by -1/0/+1, and returns the highest-scoring one.
func bestAnchorWindow(fileLines, searchLines []string, candidates []int, anchorIdx int, sizes []int, norm func(string) string) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		base := c - anchorIdx
		for _, size := range sizes {
			for _, offset := range []int{-1, 0, 1} {
				start := base + offset
				end := start + size
				if start < 0 || end > len(fileLines) {
					continue
				}
				sim := lineRatio(fileLines[start:end], searchLines, norm)
				if !found || sim > best.Similarity {
					best = Match{StartLine: start, EndLine: end, Similarity: sim}
					found = true
				}
			}
		}
	}
	return best, found
}

// lineRatio is the per-line equality ratio: matching lines over the longer
// of the two blocks.
func lineRatio(a, b []string, norm func(string) string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	matches := 0
	for i := 0; i < shorter; i++ {
		if norm(a[i]) == norm(b[i]) {
			matches++
		}
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(matches) / float64(longer)
}

// spliceWholeText is the last-resort fallback: match the search block with
// all whitespace stripped, then splice the replacement in with each line's
// indentation shifted by the column delta observed at the match site. This
// catches blocks the anchor tiers refused, e.g. when the anchor line is too
// common to pass the candidate cap.
func spliceWholeText(fileLines []string, b Block) ([]string, int, bool) {
	searchLines := trimTrailingBlank(strings.Split(normalizeLineEndings(b.Search), "\n"))
	n := len(searchLines)
	if n == 0 {
		return nil, 0, false
	}
	for start := 0; start+n <= len(fileLines); start++ {
		equal := true
		for k := 0; k < n; k++ {
			if stripWhitespace(fileLines[start+k]) != stripWhitespace(searchLines[k]) {
				equal = false
				break
			}
		}
		if !equal {
			continue
		}
		k0 := firstNonBlank(searchLines)
		delta := 0
		if k0 >= 0 {
			delta = len(leadingWhitespace(fileLines[start+k0])) - len(leadingWhitespace(searchLines[k0]))
		}
		var repl []string
		for _, line := range replaceLines(b.Replace) {
			repl = append(repl, shiftIndent(line, delta))
		}
		return splice(fileLines, start, start+n, repl), start, true
	}
	return nil, 0, false
}

func splice(lines []string, start, end int, repl []string) []string {
	out := make([]string, 0, len(lines)-(end-start)+len(repl))
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end:]...)
	return out
}

func replaceLines(replace string) []string {
	if replace == "" {
		return nil
	}
	return strings.Split(normalizeLineEndings(replace), "\n")
}

func shiftIndent(line string, delta int) string {
	if delta == 0 || strings.TrimSpace(line) == "" {
		return line
	}
	indent := leadingWhitespace(line)
	body := line[len(indent):]
	width := len(indent) + delta
	if width < 0 {
		width = 0
	}
	return strings.Repeat(" ", width) + body
}

func windowSizes(n, spread int) []int {
	sizes := []int{n}
	for d := 1; d <= spread; d++ {
		if n-d >= 1 {
			sizes = append(sizes, n-d)
		}
		sizes = append(sizes, n+d)
	}
	return sizes
}

func trimNorm(s string) string { return strings.TrimSpace(s) }

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func firstNonBlank(lines []string) int {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return i
		}
	}
	return -1
}

func lastNonBlank(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

func countNonBlank(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func leadingWhitespace(s string) string {
	for i, r := range s {
		if !unicode.IsSpace(r) {
			return s[:i]
		}
	}
	return s
}

// trimTrailingBlank drops a single trailing empty line produced by a search
// block ending in a newline.
func trimTrailingBlank(lines []string) []string {
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	return lines
}
