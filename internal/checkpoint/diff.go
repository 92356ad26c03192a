package checkpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"relay/internal/thread"
)

// DiffSinceLast renders a unified diff of everything that changed since the
// thread's last checkpoint, one file section per changed path.
func (m *Manager) DiffSinceLast(t *thread.Thread) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := t.LastCheckpointIndex()
	if last < 0 {
		return "", fmt.Errorf("thread %s has no checkpoint", t.ID)
	}

	paths := make(map[string]bool)
	for _, msg := range t.Messages {
		if msg.Kind != thread.KindCheckpoint {
			continue
		}
		for p := range msg.Checkpoint.Snapshots {
			paths[p] = true
		}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var out strings.Builder
	for _, p := range sorted {
		prev, ok := latestSnapshot(t, p, last, false)
		if !ok {
			continue
		}
		live := m.snapshotLive(p)
		if prev.Existed == live.Existed && prev.FileText == live.FileText {
			continue
		}
		text, err := unifiedDiff(p, prev, live)
		if err != nil {
			return "", err
		}
		out.WriteString(text)
	}
	return out.String(), nil
}

func unifiedDiff(path string, before, after thread.Snapshot) (string, error) {
	fromFile := "a/" + path
	if !before.Existed {
		fromFile = "/dev/null"
	}
	toFile := "b/" + path
	if !after.Existed {
		toFile = "/dev/null"
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before.FileText),
		B:        difflib.SplitLines(after.FileText),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", path, err)
	}
	return text, nil
}
