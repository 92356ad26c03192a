package tools

import (
	"context"
	"encoding/json"

	"relay/internal/checkpoint"
)

// WriteFileTool creates or overwrites a file with the given content. The
// gateway snapshots the previous state before Execute runs, so the write is
// always reversible through a checkpoint jump.
type WriteFileTool struct {
	root  string
	files checkpoint.FileService
}

func NewWriteFile(root string, files checkpoint.FileService) *WriteFileTool {
	return &WriteFileTool{root: root, files: files}
}

type writeParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeResult struct {
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Created bool   `json:"created"`
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Create or overwrite a file with the given content. Parent directories are created as needed."
}

func (t *WriteFileTool) JSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, relative to the workspace root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full new content of the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) RequiresApproval() bool { return false }

func (t *WriteFileTool) Validate(raw json.RawMessage) (any, error) {
	var p writeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Invalidf("write_file: %v", err)
	}
	path, err := resolvePath(t.root, p.Path)
	if err != nil {
		return nil, err
	}
	p.Path = path
	return p, nil
}

func (t *WriteFileTool) MutatedPaths(params any) []string {
	return []string{params.(writeParams).Path}
}

func (t *WriteFileTool) Execute(_ context.Context, params any) (any, error) {
	p := params.(writeParams)
	_, existed, err := t.files.Read(p.Path)
	if err != nil {
		return nil, Execf("stat %s: %v", p.Path, err)
	}
	if err := t.files.Save(p.Path, p.Content); err != nil {
		return nil, Execf("write %s: %v", p.Path, err)
	}
	return writeResult{Path: p.Path, Bytes: len(p.Content), Created: !existed}, nil
}

func (t *WriteFileTool) Stringify(_, result any) (string, error) {
	return stringifyJSON(result)
}
