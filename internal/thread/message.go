package thread

import "encoding/json"

// MessageKind tags the message union.
type MessageKind string

const (
	KindUser        MessageKind = "user"
	KindAssistant   MessageKind = "assistant"
	KindTool        MessageKind = "tool"
	KindCheckpoint  MessageKind = "checkpoint"
	KindInterrupted MessageKind = "interrupted_streaming_tool"
)

// Message is a tagged union. Exactly one of the payload pointers matching
// Kind is non-nil. Messages are append-only once written; the only in-place
// replacement allowed is a tool message moving through its lifecycle.
type Message struct {
	Kind        MessageKind        `json:"kind"`
	User        *UserMessage       `json:"user,omitempty"`
	Assistant   *AssistantMessage  `json:"assistant,omitempty"`
	Tool        *ToolMessage       `json:"tool,omitempty"`
	Checkpoint  *CheckpointMessage `json:"checkpoint,omitempty"`
	Interrupted *InterruptedTool   `json:"interrupted,omitempty"`
}

// UserMessage is a human turn.
type UserMessage struct {
	Text       string      `json:"text"`
	Selections []Selection `json:"selections,omitempty"`
	Images     [][]byte    `json:"images,omitempty"`
	Editable   bool        `json:"editable"`

	// Synthetic marks auto-generated continuation prompts. Synthetic user
	// messages do not count toward checkpoint suppression rules.
	Synthetic bool `json:"synthetic,omitempty"`
}

// AssistantMessage is a model turn.
type AssistantMessage struct {
	Text        string `json:"text"`
	Reasoning   string `json:"reasoning,omitempty"`
	RawThinking string `json:"raw_thinking,omitempty"`

	// Partial marks text persisted from an aborted or failed stream.
	Partial bool `json:"partial,omitempty"`
}

// ToolStatus is the tool-call lifecycle tag.
type ToolStatus string

const (
	ToolRequest       ToolStatus = "tool_request" // awaiting approval
	ToolRunning       ToolStatus = "running_now"
	ToolSuccess       ToolStatus = "success"
	ToolError         ToolStatus = "tool_error"
	ToolRejected      ToolStatus = "rejected"
	ToolInvalidParams ToolStatus = "invalid_params"
)

// Terminal reports whether the status ends the tool call's lifecycle.
func (s ToolStatus) Terminal() bool {
	switch s {
	case ToolSuccess, ToolError, ToolRejected, ToolInvalidParams:
		return true
	}
	return false
}

// ToolMessage records one tool call through its lifecycle.
type ToolMessage struct {
	CallID string     `json:"call_id"`
	Name   string     `json:"name"`
	Status ToolStatus `json:"status"`

	// Params are the validated, normalized parameters. RawParams keeps the
	// model's original payload for audit and replay.
	Params    json.RawMessage `json:"params,omitempty"`
	RawParams string          `json:"raw_params,omitempty"`

	// Content is the human-readable summary shown in the transcript. Result
	// is the structured outcome serialized for the model.
	Content string          `json:"content,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`

	// Paths lists files this call mutated, filled by the gateway for edit
	// and write tools so the checkpoint manager can compute diffs.
	Paths []string `json:"paths,omitempty"`

	// Pruned marks a result replaced by a placeholder during context
	// compaction.
	Pruned bool `json:"pruned,omitempty"`
}

// CheckpointMessage records a per-file snapshot map: the state of every file
// that changed since the previous checkpoint.
type CheckpointMessage struct {
	Snapshots map[string]Snapshot `json:"snapshots"`

	// UserModifications captures out-of-band human edits made while standing
	// on this checkpoint. Kept separate so the agent-authored snapshot stays
	// reconstructable.
	UserModifications map[string]Snapshot `json:"user_modifications,omitempty"`
}

// InterruptedTool is a placeholder recording a tool call cut off mid-stream,
// before its parameters finished arriving.
type InterruptedTool struct {
	Name string `json:"name"`
}

// UserMsg builds a user message.
func UserMsg(text string) Message {
	return Message{Kind: KindUser, User: &UserMessage{Text: text, Editable: true}}
}

// AssistantMsg builds an assistant message.
func AssistantMsg(text, reasoning string) Message {
	return Message{Kind: KindAssistant, Assistant: &AssistantMessage{Text: text, Reasoning: reasoning}}
}

// CheckpointMsg builds a checkpoint message from a snapshot map.
func CheckpointMsg(snapshots map[string]Snapshot) Message {
	if snapshots == nil {
		snapshots = make(map[string]Snapshot)
	}
	return Message{Kind: KindCheckpoint, Checkpoint: &CheckpointMessage{
		Snapshots:         snapshots,
		UserModifications: make(map[string]Snapshot),
	}}
}

// ToolMsg builds a tool message in its initial lifecycle state.
func ToolMsg(callID, name string, status ToolStatus, params json.RawMessage, raw string) Message {
	return Message{Kind: KindTool, Tool: &ToolMessage{
		CallID:    callID,
		Name:      name,
		Status:    status,
		Params:    params,
		RawParams: raw,
	}}
}
