// Package checkpoint maintains the per-thread timeline of file snapshots:
// what changed since the last checkpoint, lazy pre-edit capture, and
// time-travel between checkpoints with rollback safety.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"relay/internal/thread"
)

// ErrJumpInProgress is returned when a second jump is requested for a
// thread while one is already running. The caller should surface a "try
// again" notice; the request is never queued.
var ErrJumpInProgress = errors.New("a checkpoint jump is already in progress for this thread, try again")

// RestoreError reports a failed jump. Cause is the save that failed.
// RollbackFailure is non-nil only when rolling the touched files back to
// their pre-jump content also failed; that is a critical condition the user
// must be told about explicitly.
type RestoreError struct {
	Cause           error
	RollbackFailure error
}

func (e *RestoreError) Error() string {
	if e.RollbackFailure != nil {
		return fmt.Sprintf("checkpoint restore failed (%v) and rollback also failed: %v", e.Cause, e.RollbackFailure)
	}
	return fmt.Sprintf("checkpoint restore failed, all files rolled back: %v", e.Cause)
}

func (e *RestoreError) Unwrap() error { return e.Cause }

// JumpResult describes a completed jump.
type JumpResult struct {
	// Target is the message index of the checkpoint jumped to.
	Target int

	// Restored lists files whose content was rewritten.
	Restored []string

	// RemoveManually lists files that did not exist at the target
	// checkpoint. They are never auto-deleted; the user is told to remove
	// them by hand.
	RemoveManually []string
}

// Manager owns checkpoint bookkeeping. It only appends and reads messages
// of kind checkpoint; the thread's message list stays the single source of
// truth.
type Manager struct {
	mu    sync.Mutex
	files FileService

	// captured is the per-thread membership cache of "paths already
	// snapshotted somewhere in this thread's history". Rebuilt lazily from
	// the message list on first use per thread.
	captured map[string]map[string]bool

	// jumping flags threads with a jump in flight.
	jumping map[string]bool
}

func NewManager(files FileService) *Manager {
	return &Manager{
		files:    files,
		captured: make(map[string]map[string]bool),
		jumping:  make(map[string]bool),
	}
}

// EnsureInitial appends the thread's first checkpoint if it has none yet.
// Must run before the first user message is accepted so that scanning
// backward from any message always reaches a checkpoint.
func (m *Manager) EnsureInitial(t *thread.Thread) int {
	if idx := t.LastCheckpointIndex(); idx >= 0 {
		return idx
	}
	return t.Append(thread.CheckpointMsg(nil))
}

// CaptureBeforeEdit records path's pre-mutation content into the thread's
// first checkpoint, unless any checkpoint in the thread already holds a
// snapshot of it. Disk content is preferred as ground truth; the in-memory
// buffer is the fallback; a file absent from both is recorded as an
// explicit "did not exist" snapshot. Idempotent via the membership cache.
func (m *Manager) CaptureBeforeEdit(t *thread.Thread, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cache := m.capturedSet(t)
	if cache[path] {
		return nil
	}

	first := -1
	for i, msg := range t.Messages {
		if msg.Kind == thread.KindCheckpoint {
			first = i
			break
		}
	}
	if first < 0 {
		return fmt.Errorf("thread %s has no checkpoint to capture into", t.ID)
	}

	snap := m.snapshotLive(path)
	t.Messages[first].Checkpoint.Snapshots[path] = snap
	cache[path] = true
	return nil
}

// Append writes a post-turn checkpoint holding the current snapshot of
// every file that changed since the previous checkpoint. touchedPaths are
// the files successful mutating tool calls reported during the turn.
//
// The checkpoint is suppressed (not appended) unless, since the previous
// checkpoint, there was at least one genuine user message and at least one
// visible output. Returns the new checkpoint's index and whether one was
// appended.
func (m *Manager) Append(t *thread.Thread, touchedPaths []string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := t.LastCheckpointIndex()
	if !m.turnWorthCheckpointing(t, last) {
		return -1, false
	}

	// Candidate set: every path any checkpoint has recorded, plus the
	// paths touched this turn.
	candidates := make(map[string]bool)
	for _, msg := range t.Messages {
		if msg.Kind != thread.KindCheckpoint {
			continue
		}
		for p := range msg.Checkpoint.Snapshots {
			candidates[p] = true
		}
	}
	for _, p := range touchedPaths {
		candidates[p] = true
	}

	snapshots := make(map[string]thread.Snapshot)
	for p := range candidates {
		live := m.snapshotLive(p)
		prev, ok := latestSnapshot(t, p, last, false)
		if ok && prev.Existed == live.Existed && prev.FileText == live.FileText {
			continue // unchanged, cheap no-op suppression
		}
		snapshots[p] = live
	}

	idx := t.Append(thread.CheckpointMsg(snapshots))
	cache := m.capturedSet(t)
	for p := range snapshots {
		cache[p] = true
	}
	return idx, true
}

// Jump moves the thread to the checkpoint nearest at or before targetIdx,
// restoring file contents in either direction. The whole operation is
// all-or-nothing over the set of touched files: if any save fails, every
// file already written is rolled back to its pre-jump content and the
// checkpoint pointer stays where it was.
func (m *Manager) Jump(t *thread.Thread, targetIdx int, includeUserEdits bool) (*JumpResult, error) {
	m.mu.Lock()
	if m.jumping[t.ID] {
		m.mu.Unlock()
		return nil, ErrJumpInProgress
	}
	m.jumping[t.ID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.jumping, t.ID)
		m.mu.Unlock()
	}()

	target := t.NearestCheckpointAt(targetIdx)
	if target < 0 {
		return nil, fmt.Errorf("no checkpoint at or before message %d", targetIdx)
	}

	current := t.LastCheckpointIndex()
	if t.UI.CurrentCheckpoint != nil {
		current = *t.UI.CurrentCheckpoint
	}
	if target == current {
		t.UI.CurrentCheckpoint = &target
		return &JumpResult{Target: target}, nil
	}

	lo, hi := target, current
	if current < target {
		lo, hi = current, target
	}
	paths := modifiedPaths(t, lo, hi)

	result := &JumpResult{Target: target}
	writes := make(map[string]string)
	for _, p := range paths {
		snap, ok := latestSnapshot(t, p, target, includeUserEdits)
		if !ok {
			// Never snapshotted before the target: current disk content is
			// the oldest state known, leave it alone.
			continue
		}
		if !snap.Existed {
			// The file did not exist at the target. Never auto-delete;
			// tell the user to remove it manually.
			result.RemoveManually = append(result.RemoveManually, p)
			continue
		}
		live, existed, err := m.files.Read(p)
		if err == nil && existed && live == snap.FileText {
			continue
		}
		writes[p] = snap.FileText
	}

	// Back up the live content of every file about to change, then apply
	// all restores.
	type backup struct {
		content string
		existed bool
	}
	backups := make(map[string]backup)
	for p := range writes {
		content, existed, err := m.files.Read(p)
		if err != nil {
			if buf, ok := m.files.ReadBuffer(p); ok {
				content, existed = buf, true
			} else {
				return nil, fmt.Errorf("back up %s before jump: %w", p, err)
			}
		}
		backups[p] = backup{content: content, existed: existed}
	}
	for p := range writes {
		if err := m.files.BeginEdit(p); err != nil {
			return nil, fmt.Errorf("file %s refused edit: %w", p, err)
		}
	}

	var written []string
	for p, content := range writes {
		if err := m.files.Save(p, content); err != nil {
			var rollbackErr error
			for _, w := range written {
				b := backups[w]
				if b.existed {
					rollbackErr = multierr.Append(rollbackErr, m.files.Save(w, b.content))
				} else {
					rollbackErr = multierr.Append(rollbackErr, m.files.Remove(w))
				}
			}
			return nil, &RestoreError{Cause: err, RollbackFailure: rollbackErr}
		}
		written = append(written, p)
	}

	result.Restored = written
	t.UI.CurrentCheckpoint = &target
	return result, nil
}

// RecordUserEdit captures an out-of-band human edit of path into the
// checkpoint the user is currently standing on. The agent-authored snapshot
// is never overwritten; the edit goes into the separate userModifications
// map so both views stay reconstructable.
func (m *Manager) RecordUserEdit(t *thread.Thread, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := t.LastCheckpointIndex()
	if t.UI.CurrentCheckpoint != nil {
		idx = *t.UI.CurrentCheckpoint
	}
	if idx < 0 {
		return fmt.Errorf("thread %s has no checkpoint to record a user edit against", t.ID)
	}
	cp := t.Messages[idx].Checkpoint
	if cp.UserModifications == nil {
		cp.UserModifications = make(map[string]thread.Snapshot)
	}
	cp.UserModifications[path] = m.snapshotLive(path)
	if t.UserTouchedFiles == nil {
		t.UserTouchedFiles = make(map[string]bool)
	}
	t.UserTouchedFiles[path] = true
	return nil
}

// Invalidate drops all per-thread state for id. Called when a thread is
// deleted so a recreated thread with the same id rebuilds its cache from
// scratch.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.captured, id)
	delete(m.jumping, id)
}

// capturedSet returns the membership cache for t, rebuilding it from the
// message history on first use. Callers hold m.mu.
func (m *Manager) capturedSet(t *thread.Thread) map[string]bool {
	if cache, ok := m.captured[t.ID]; ok {
		return cache
	}
	cache := make(map[string]bool)
	for _, msg := range t.Messages {
		if msg.Kind != thread.KindCheckpoint {
			continue
		}
		for p := range msg.Checkpoint.Snapshots {
			cache[p] = true
		}
		for p := range msg.Checkpoint.UserModifications {
			cache[p] = true
		}
	}
	m.captured[t.ID] = cache
	return cache
}

// snapshotLive reads path's current state, preferring disk, falling back to
// the in-memory buffer, and recording explicit non-existence otherwise.
func (m *Manager) snapshotLive(path string) thread.Snapshot {
	content, existed, err := m.files.Read(path)
	if err != nil {
		if buf, ok := m.files.ReadBuffer(path); ok {
			return thread.Snapshot{FileText: buf, Existed: true}
		}
		return thread.Snapshot{Existed: false}
	}
	if !existed {
		if buf, ok := m.files.ReadBuffer(path); ok {
			return thread.Snapshot{FileText: buf, Existed: true}
		}
		return thread.Snapshot{Existed: false}
	}
	return thread.Snapshot{FileText: content, Existed: true}
}

// turnWorthCheckpointing reports whether the messages after the last
// checkpoint contain at least one genuine user message and one visible
// output. Callers hold m.mu.
func (m *Manager) turnWorthCheckpointing(t *thread.Thread, last int) bool {
	genuineUser := false
	visibleOutput := false
	for i := last + 1; i < len(t.Messages); i++ {
		switch msg := t.Messages[i]; msg.Kind {
		case thread.KindUser:
			if !msg.User.Synthetic {
				genuineUser = true
			}
		case thread.KindAssistant:
			visibleOutput = true
		case thread.KindTool:
			if msg.Tool.Status == thread.ToolSuccess || msg.Tool.Status == thread.ToolRunning {
				visibleOutput = true
			}
		}
	}
	return genuineUser && visibleOutput
}

// latestSnapshot walks backward from uptoIdx and returns the most recent
// snapshot of path. With includeUserEdits set, a checkpoint's user
// modification of the path takes precedence over its agent snapshot.
func latestSnapshot(t *thread.Thread, path string, uptoIdx int, includeUserEdits bool) (thread.Snapshot, bool) {
	if uptoIdx >= len(t.Messages) {
		uptoIdx = len(t.Messages) - 1
	}
	for i := uptoIdx; i >= 0; i-- {
		if t.Messages[i].Kind != thread.KindCheckpoint {
			continue
		}
		cp := t.Messages[i].Checkpoint
		if includeUserEdits {
			if snap, ok := cp.UserModifications[path]; ok {
				return snap, true
			}
		}
		if snap, ok := cp.Snapshots[path]; ok {
			return snap, true
		}
	}
	return thread.Snapshot{}, false
}

// modifiedPaths collects every file path recorded by checkpoints or
// successful tool calls in message range (lo, hi].
func modifiedPaths(t *thread.Thread, lo, hi int) []string {
	if hi >= len(t.Messages) {
		hi = len(t.Messages) - 1
	}
	seen := make(map[string]bool)
	var paths []string
	for i := lo + 1; i <= hi; i++ {
		switch msg := t.Messages[i]; msg.Kind {
		case thread.KindCheckpoint:
			for p := range msg.Checkpoint.Snapshots {
				if !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
			for p := range msg.Checkpoint.UserModifications {
				if !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
		case thread.KindTool:
			if msg.Tool.Status != thread.ToolSuccess {
				continue
			}
			for _, p := range msg.Tool.Paths {
				if !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
		}
	}
	return paths
}
