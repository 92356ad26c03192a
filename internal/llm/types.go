// Package llm defines the model transport contract and an OpenAI-compatible
// streaming client.
package llm

import "context"

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

type Message struct {
	Role             MessageRole `json:"role"`
	Content          string      `json:"content,omitempty"`
	ReasoningContent string      `json:"reasoning_content,omitempty"` // For models that return thinking/reasoning
	Name             string      `json:"name,omitempty"`
	ToolCalls        []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID       string      `json:"tool_call_id,omitempty"` // For tool role messages
}

type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON string
	} `json:"function"`
}

type ToolSpec struct {
	Type     string `json:"type"` // always "function"
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ChatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Temperature float32    `json:"temperature,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	ToolChoice  string     `json:"tool_choice,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the fully assembled result of one streamed model turn.
// ToolCalls is non-empty when the model requested tool invocations instead
// of (or in addition to) text.
type Completion struct {
	Text         string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// StreamHandler receives streaming callbacks during a model turn. OnText and
// OnReasoning deliver the accumulated partial so far, not the delta. Exactly
// one of OnFinal, OnError, or OnAbort fires last.
//
// Nil callbacks are skipped.
type StreamHandler struct {
	OnText          func(partial string)
	OnReasoning     func(partial string)
	OnToolCallDelta func(name string, argsSoFar string)
	OnFinal         func(c *Completion)
	OnError         func(err error)
	OnAbort         func()
}

// Transport is the model provider boundary. StreamChat blocks until a
// terminal callback has fired; cancelling ctx aborts the stream and fires
// OnAbort. Whatever partial output arrived before the abort is retained by
// the handler owner, never by the transport.
type Transport interface {
	StreamChat(ctx context.Context, req ChatRequest, h StreamHandler) error
}
