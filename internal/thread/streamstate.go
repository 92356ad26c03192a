package thread

import "context"

// StreamState is the per-thread running/idle state machine, replaced
// wholesale on every transition. Exactly one value exists per thread at any
// time; it is never persisted.
type StreamState interface {
	streamState()
}

// Idle means no turn is in flight.
type Idle struct{}

// RunningModel means a model completion is streaming.
type RunningModel struct {
	PartialText      string
	PartialReasoning string
	Cancel           context.CancelFunc
}

// RunningTool means a tool call is executing.
type RunningTool struct {
	MessageIndex int
	ToolName     string
	Cancel       context.CancelFunc
}

// AwaitingApproval means the loop is suspended on a tool approval decision.
type AwaitingApproval struct {
	MessageIndex int
	ToolName     string
}

func (Idle) streamState()             {}
func (RunningModel) streamState()     {}
func (RunningTool) streamState()      {}
func (AwaitingApproval) streamState() {}

// IsIdle reports whether s is nil or the idle state.
func IsIdle(s StreamState) bool {
	if s == nil {
		return true
	}
	_, ok := s.(Idle)
	return ok
}
