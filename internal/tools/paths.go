package tools

import (
	"path/filepath"
	"strings"
)

// resolvePath turns a model-supplied path into an absolute path inside the
// workspace root. Relative paths are joined onto the root; anything that
// escapes the root is refused.
func resolvePath(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", Invalidf("path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", Invalidf("path %s is outside the workspace", p)
	}
	return p, nil
}
