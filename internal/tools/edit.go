package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"relay/internal/checkpoint"
	"relay/internal/matcher"
)

// EditFileTool applies search/replace diff blocks to an existing file. The
// blocks are parsed during validation, so a malformed diff never touches
// the file; fuzzy placement happens at execution time against the current
// content.
type EditFileTool struct {
	root    string
	files   checkpoint.FileService
	matcher *matcher.Matcher
}

func NewEditFile(root string, files checkpoint.FileService, m *matcher.Matcher) *EditFileTool {
	return &EditFileTool{root: root, files: files, matcher: m}
}

type editParams struct {
	Path   string `json:"path"`
	Diff   string `json:"diff"`
	blocks []matcher.Block
}

type editResult struct {
	Path    string                `json:"path"`
	Applied int                   `json:"applied"`
	Failed  int                   `json:"failed"`
	Blocks  []matcher.BlockResult `json:"blocks"`
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by applying one or more search/replace blocks in the form " +
		"<<<<<<< ORIGINAL / ======= / >>>>>>> UPDATED. The ORIGINAL section must match " +
		"existing content; small whitespace and drift differences are tolerated."
}

func (t *EditFileTool) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, relative to the workspace root",
			},
			"diff": map[string]any{
				"type":        "string",
				"description": "One or more ORIGINAL/UPDATED search-replace blocks",
			},
		},
		"required": []string{"path", "diff"},
	}
}

func (t *EditFileTool) RequiresApproval() bool { return false }

func (t *EditFileTool) Validate(raw json.RawMessage) (any, error) {
	var p editParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Invalidf("edit_file: %v", err)
	}
	path, err := resolvePath(t.root, p.Path)
	if err != nil {
		return nil, err
	}
	p.Path = path
	blocks, err := matcher.ParseBlocks(p.Diff)
	if err != nil {
		return nil, Invalidf("edit_file: %v", err)
	}
	if len(blocks) == 0 {
		return nil, Invalidf("edit_file: diff contains no search/replace blocks")
	}
	p.blocks = blocks
	return p, nil
}

func (t *EditFileTool) MutatedPaths(params any) []string {
	return []string{params.(editParams).Path}
}

func (t *EditFileTool) Execute(_ context.Context, params any) (any, error) {
	p := params.(editParams)
	content, existed, err := t.files.Read(p.Path)
	if err != nil {
		return nil, Execf("read %s: %v", p.Path, err)
	}
	if !existed {
		return nil, Execf("file not found: %s (use write_file to create it)", p.Path)
	}

	applied, err := t.matcher.Apply(content, p.blocks)
	if err != nil {
		return nil, &ExecutionError{
			Message: fmt.Sprintf("no block matched the content of %s", p.Path),
			Details: map[string]any{"blocks": len(p.blocks)},
		}
	}
	if err := t.files.Save(p.Path, applied.Text); err != nil {
		return nil, Execf("write %s: %v", p.Path, err)
	}
	return editResult{
		Path:    p.Path,
		Applied: applied.Applied,
		Failed:  len(p.blocks) - applied.Applied,
		Blocks:  applied.Blocks,
	}, nil
}

func (t *EditFileTool) Stringify(_, result any) (string, error) {
	r := result.(editResult)
	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d of %d blocks to %s\n", r.Applied, r.Applied+r.Failed, r.Path)
	for i, br := range r.Blocks {
		if br.Fixed {
			fmt.Fprintf(&b, "  block %d: applied at line %d (%s, %.2f)\n", i+1, br.StartLine+1, br.Tier, br.Similarity)
		} else {
			fmt.Fprintf(&b, "  block %d: no match found\n", i+1)
		}
	}
	return b.String(), nil
}
