package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"relay/internal/checkpoint"
)

const readMaxBytes = 256 * 1024

// ReadFileTool returns file content from the workspace. Output is numbered
// per line so the model can reference locations in follow-up edits.
type ReadFileTool struct {
	root  string
	files checkpoint.FileService
}

func NewReadFile(root string, files checkpoint.FileService) *ReadFileTool {
	return &ReadFileTool{root: root, files: files}
}

type readParams struct {
	Path string `json:"path"`
}

type readResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Lines   int    `json:"lines"`
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Returns the content with line numbers."
}

func (t *ReadFileTool) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, relative to the workspace root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) RequiresApproval() bool { return false }

func (t *ReadFileTool) Validate(raw json.RawMessage) (any, error) {
	var p readParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Invalidf("read_file: %v", err)
	}
	path, err := resolvePath(t.root, p.Path)
	if err != nil {
		return nil, err
	}
	p.Path = path
	return p, nil
}

func (t *ReadFileTool) Execute(_ context.Context, params any) (any, error) {
	p := params.(readParams)
	content, existed, err := t.files.Read(p.Path)
	if err != nil {
		return nil, Execf("read %s: %v", p.Path, err)
	}
	if !existed {
		return nil, Execf("file not found: %s", p.Path)
	}
	if len(content) > readMaxBytes {
		content = content[:readMaxBytes] + "\n... (truncated)"
	}
	return readResult{
		Path:    p.Path,
		Content: content,
		Lines:   strings.Count(content, "\n") + 1,
	}, nil
}

func (t *ReadFileTool) Stringify(_, result any) (string, error) {
	r := result.(readResult)
	var b strings.Builder
	for i, line := range strings.Split(r.Content, "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return b.String(), nil
}
