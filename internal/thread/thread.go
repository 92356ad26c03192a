// Package thread defines the conversation data model: threads, the message
// union, file snapshots, and the per-thread stream state machine.
package thread

import (
	"time"

	"github.com/google/uuid"
)

// Thread is one conversation: an ordered message history plus the checkpoint
// timeline embedded in it. The message list is the single source of truth;
// everything else (stream state, UI state) is derived or transient.
type Thread struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Messages   []Message `json:"messages"`

	// UserTouchedFiles records files the user edited outside the agent while
	// this thread was active. Keyed by absolute path.
	UserTouchedFiles map[string]bool `json:"user_touched_files,omitempty"`

	// UI holds transient per-thread presentation state. Persisted alongside
	// the thread so a reload lands the user where they left off.
	UI UIState `json:"ui"`
}

// UIState is the per-thread presentation state.
type UIState struct {
	// CurrentCheckpoint is the message index of the checkpoint the user is
	// currently "standing on", or nil when viewing the live head.
	CurrentCheckpoint *int `json:"current_checkpoint,omitempty"`

	// Selections are context items staged for the next outgoing message.
	Selections []Selection `json:"selections,omitempty"`

	// MessageLinks maps message index to inline link targets rendered for it.
	MessageLinks map[int][]string `json:"message_links,omitempty"`
}

// Selection is a user-chosen context item attached to an outgoing message.
type Selection struct {
	Kind      string `json:"kind"` // "file", "range", "folder"
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// New creates an empty thread with a fresh identifier.
func New() *Thread {
	now := time.Now()
	return &Thread{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		ModifiedAt:       now,
		UserTouchedFiles: make(map[string]bool),
	}
}

// Append adds a message to the end of the thread and bumps ModifiedAt.
func (t *Thread) Append(m Message) int {
	t.Messages = append(t.Messages, m)
	t.ModifiedAt = time.Now()
	return len(t.Messages) - 1
}

// Replace swaps the message at idx in place. Used only to transition a tool
// call through its lifecycle; messages are never reordered or deleted.
func (t *Thread) Replace(idx int, m Message) {
	t.Messages[idx] = m
	t.ModifiedAt = time.Now()
}

// NearestCheckpointAt walks backward from idx (inclusive) and returns the
// index of the nearest checkpoint message, or -1 if none exists.
func (t *Thread) NearestCheckpointAt(idx int) int {
	if idx >= len(t.Messages) {
		idx = len(t.Messages) - 1
	}
	for i := idx; i >= 0; i-- {
		if t.Messages[i].Kind == KindCheckpoint {
			return i
		}
	}
	return -1
}

// LastCheckpointIndex returns the index of the last checkpoint in the thread,
// or -1 if the thread has none.
func (t *Thread) LastCheckpointIndex() int {
	return t.NearestCheckpointAt(len(t.Messages) - 1)
}

// Snapshot is the exact text of a file at a point in time plus whatever
// decoration state is needed to restore visual diff markers.
type Snapshot struct {
	FileText string `json:"file_text"`

	// Existed is false when the file was absent at capture time; FileText is
	// empty in that case and the pair records an explicit "did not exist".
	Existed bool `json:"existed"`

	// DiffAreaMetadata carries editor diff-region state, opaque to this layer.
	DiffAreaMetadata map[string]string `json:"diff_area_metadata,omitempty"`
}
