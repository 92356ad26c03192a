package matcher

import (
	"strings"
	"testing"
)

func lines(s string) []string {
	return strings.Split(s, "\n")
}

func TestFindExactIsIdempotent(t *testing.T) {
	file := lines("alpha\nbeta\ngamma\ndelta")
	match, ok := Default().Find(file, "beta\ngamma")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tier != TierExact {
		t.Errorf("tier = %q, want %q", match.Tier, TierExact)
	}
	if match.Similarity != 1.0 {
		t.Errorf("similarity = %f, want 1.0", match.Similarity)
	}
	if match.StartLine != 1 || match.EndLine != 3 {
		t.Errorf("region = [%d,%d), want [1,3)", match.StartLine, match.EndLine)
	}
}

func TestFindAnchorExactToleratesDriftedBody(t *testing.T) {
	file := lines(`func process(items []string) error {
	for _, item := range items {
		if item == "" {
			continue
		}
		handle(item)
		count++
	}
	return nil
}`)
	// One body line drifted; the anchor line and nine of ten lines agree.
	search := `func process(items []string) error {
	for _, item := range items {
		if len(item) == 0 {
			continue
		}
		handle(item)
		count++
	}
	return nil
}`
	match, ok := Default().Find(file, search)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tier != TierAnchorExact {
		t.Errorf("tier = %q, want %q", match.Tier, TierAnchorExact)
	}
	if match.StartLine != 0 || match.EndLine != 10 {
		t.Errorf("region = [%d,%d), want [0,10)", match.StartLine, match.EndLine)
	}
	if match.Similarity < 0.90 {
		t.Errorf("similarity = %f, want >= 0.90", match.Similarity)
	}
}

func TestFindAnchorWhitespaceSpacingDrift(t *testing.T) {
	file := lines("const x = 1;\nfunction add(a,b){return a+b}\nconst y = 2;")
	search := "function add(a, b) { return a + b }"

	m := Default()
	match, ok := m.Find(file, search)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tier != TierAnchorWhitespace {
		t.Errorf("tier = %q, want %q", match.Tier, TierAnchorWhitespace)
	}
	if match.StartLine != 1 || match.EndLine != 2 {
		t.Errorf("region = [%d,%d), want [1,2)", match.StartLine, match.EndLine)
	}

	result, err := m.Apply(strings.Join(file, "\n"), []Block{{
		Search:  search,
		Replace: "function add(a, b) { return a + b + 1 }",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "const x = 1;\nfunction add(a, b) { return a + b + 1 }\nconst y = 2;"
	if result.Text != want {
		t.Errorf("text = %q, want %q", result.Text, want)
	}
}

func TestFindDualAnchorDisambiguatesRepeats(t *testing.T) {
	// The opening line repeats; only the dual anchor pins the right region
	// when one middle line has drifted.
	file := lines(`if ok {
	doA()
	prep()
	cleanup()
}
if ok {
	doB()
	log()
	finish()
}`)
	search := `if ok {
	doX()
	log()
	finish()
}`
	match, ok := Default().Find(file, search)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tier != TierDualAnchor {
		t.Errorf("tier = %q, want %q", match.Tier, TierDualAnchor)
	}
	if match.StartLine != 5 {
		t.Errorf("start = %d, want 5", match.StartLine)
	}
}

func TestFindSlidingSmallFile(t *testing.T) {
	file := lines("alpha()\nbeta()\ngamma()\ndelta()\nomega()")
	// The first search line has drifted, so no anchor tier can place the
	// block, but four of five lines still agree.
	search := "alphaX()\nbeta()\ngamma()\ndelta()\nomega()"
	match, ok := Default().Find(file, search)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tier != TierSliding {
		t.Errorf("tier = %q, want %q", match.Tier, TierSliding)
	}
	if match.Similarity < 0.80 {
		t.Errorf("similarity = %f", match.Similarity)
	}
	if match.StartLine != 0 {
		t.Errorf("start = %d, want 0", match.StartLine)
	}
}

func TestFindSlidingGateOnLargeFile(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 2500; i++ {
		sb.WriteString("line\n")
	}
	file := lines(sb.String())
	// Six search lines, none anchoring: sliding is gated off for a large
	// file, so there must be no match.
	search := "q1\nq2\nq3\nq4\nq5\nq6"
	if _, ok := Default().Find(file, search); ok {
		t.Error("sliding tier should be skipped for large file and long search")
	}
}

func TestFindNoMatch(t *testing.T) {
	file := lines("alpha\nbeta")
	if _, ok := Default().Find(file, "completely\nunrelated\ncontent"); ok {
		t.Error("expected no match")
	}
}

func TestApplyMultipleBlocks(t *testing.T) {
	file := "one\ntwo\nthree\nfour\nfive"
	result, err := Default().Apply(file, []Block{
		{Search: "two", Replace: "TWO"},
		{Search: "four", Replace: "FOUR"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Applied != 2 {
		t.Fatalf("applied = %d, want 2", result.Applied)
	}
	want := "one\nTWO\nthree\nFOUR\nfive"
	if result.Text != want {
		t.Errorf("text = %q, want %q", result.Text, want)
	}
}

func TestApplyRetriesFailedBlockIndependently(t *testing.T) {
	// Both blocks resolve to the same region on the first pass; the second
	// must be retried after the first is applied.
	file := "start\nvalue = 1\nend"
	result, err := Default().Apply(file, []Block{
		{Search: "value = 1", Replace: "value = 2"},
		{Search: "value = 2", Replace: "value = 3"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Applied != 2 {
		t.Fatalf("applied = %d, want 2", result.Applied)
	}
	if result.Text != "start\nvalue = 3\nend" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestApplySpliceFallbackPreservesIndentation(t *testing.T) {
	// 25 whitespace-blind anchor candidates push the block past the
	// anchor-without-whitespace candidate cap, and the spacing drift defeats
	// every trimmed-line tier. Only whole-text splicing can place it.
	var sb strings.Builder
	for i := 0; i < 24; i++ {
		sb.WriteString("\tdoIt()\n")
	}
	sb.WriteString("\tdoIt()\n\tfinal()")
	file := sb.String()

	result, err := Default().Apply(file, []Block{{
		Search:  "doIt ()\nfinal ()",
		Replace: "done()",
	}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	blockResult := result.Blocks[0]
	if !blockResult.Fixed {
		t.Fatal("block should be fixed")
	}
	if blockResult.Tier != TierSplice {
		t.Errorf("tier = %q, want %q", blockResult.Tier, TierSplice)
	}
	if !strings.HasSuffix(result.Text, "\n done()") {
		t.Errorf("replacement lost the match site's indentation: %q", result.Text)
	}
}

func TestApplyReportsUnmatchedBlock(t *testing.T) {
	file := "alpha\nbeta"
	result, err := Default().Apply(file, []Block{
		{Search: "alpha", Replace: "ALPHA"},
		{Search: "nothing like this\nanywhere at all", Replace: "x"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Blocks[0].Fixed {
		t.Error("block 0 should be fixed")
	}
	if result.Blocks[1].Fixed {
		t.Error("block 1 should report fixed=false")
	}
	if result.Applied != 1 {
		t.Errorf("applied = %d, want 1", result.Applied)
	}
}

func TestApplyAllBlocksFail(t *testing.T) {
	_, err := Default().Apply("alpha", []Block{
		{Search: "missing\ncompletely", Replace: "x"},
	})
	if err == nil {
		t.Error("expected error when no block applies")
	}
}

func TestParseBlocks(t *testing.T) {
	payload := `<<<<<<< ORIGINAL
old line
=======
new line
>>>>>>> UPDATED
<<<<<<< ORIGINAL
second old
=======
second new
>>>>>>> UPDATED`
	blocks, err := ParseBlocks(payload)
	if err != nil {
		t.Fatalf("ParseBlocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if blocks[0].Search != "old line" || blocks[0].Replace != "new line" {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].Search != "second old" || blocks[1].Replace != "second new" {
		t.Errorf("block 1 = %+v", blocks[1])
	}
}

func TestParseBlocksNormalizesMarkers(t *testing.T) {
	payload := "<<<<<<<<<< SEARCH\nold\n==========\nnew\n>>>>>>>>>> REPLACE"
	blocks, err := ParseBlocks(payload)
	if err != nil {
		t.Fatalf("ParseBlocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Search != "old" || blocks[0].Replace != "new" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestParseBlocksLoneDividerShorthand(t *testing.T) {
	blocks, err := ParseBlocks("old content\n=======\nnew content")
	if err != nil {
		t.Fatalf("ParseBlocks: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	if blocks[0].Search != "old content" || blocks[0].Replace != "new content" {
		t.Errorf("block = %+v", blocks[0])
	}
}

func TestParseBlocksErrors(t *testing.T) {
	if _, err := ParseBlocks("no markers here"); err == nil {
		t.Error("payload without markers should fail")
	}
	if _, err := ParseBlocks("<<<<<<< ORIGINAL\nold\n======="); err == nil {
		t.Error("unterminated block should fail")
	}
}
