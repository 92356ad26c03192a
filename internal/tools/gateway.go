package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"relay/internal/checkpoint"
	"relay/internal/config"
	"relay/internal/llm"
	"relay/internal/thread"
)

// Decision is the gateway's answer after admitting a tool call.
type Decision int

const (
	// Completed means the call reached a terminal status (success,
	// tool_error, rejected, or invalid_params) and the loop may continue.
	Completed Decision = iota

	// NeedsApproval means the call is parked in tool_request state and the
	// loop must suspend until Approve or Reject is driven externally.
	NeedsApproval
)

// Gateway walks every model-proposed tool call through the lifecycle
// tool_request -> running_now -> {success | tool_error | rejected |
// invalid_params}, appending and replacing the thread's tool message at
// each transition.
type Gateway struct {
	registry  *Registry
	approvals config.ApprovalsConfig
	files     checkpoint.FileService
	ckpt      *checkpoint.Manager
}

func NewGateway(registry *Registry, approvals config.ApprovalsConfig, files checkpoint.FileService, ckpt *checkpoint.Manager) *Gateway {
	return &Gateway{registry: registry, approvals: approvals, files: files, ckpt: ckpt}
}

// Begin validates the call and appends its tool message. Malformed
// parameters terminate the call as invalid_params without executing.
// Approval-gated tools park in tool_request; everything else executes
// immediately.
func (g *Gateway) Begin(ctx context.Context, t *thread.Thread, call llm.ToolCall) (int, Decision) {
	name := call.Function.Name
	raw := call.Function.Arguments

	if !gjson.Valid(raw) {
		return g.appendInvalid(t, call, Invalidf("tool %s: parameters are not valid JSON", name)), Completed
	}

	tool := g.registry.Get(name)
	if tool == nil {
		return g.appendInvalid(t, call, Invalidf("unknown tool: %s", name)), Completed
	}

	params, err := tool.Validate(json.RawMessage(raw))
	if err != nil {
		return g.appendInvalid(t, call, err), Completed
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return g.appendInvalid(t, call, Invalidf("tool %s: parameters not serializable: %v", name, err)), Completed
	}

	idx := t.Append(thread.ToolMsg(call.ID, name, thread.ToolRequest, paramsJSON, raw))

	if tool.RequiresApproval() && !g.approvals.IsPreAuthorized(name) {
		return idx, NeedsApproval
	}

	g.run(ctx, t, idx)
	return idx, Completed
}

// Approve resumes a call parked in tool_request.
func (g *Gateway) Approve(ctx context.Context, t *thread.Thread, idx int) error {
	if err := g.checkPending(t, idx); err != nil {
		return err
	}
	g.run(ctx, t, idx)
	return nil
}

// Reject terminates a call parked in tool_request without executing it.
func (g *Gateway) Reject(t *thread.Thread, idx int) error {
	if err := g.checkPending(t, idx); err != nil {
		return err
	}
	msg := t.Messages[idx]
	msg.Tool.Status = thread.ToolRejected
	msg.Tool.Content = "Tool call rejected by user."
	t.Replace(idx, msg)
	return nil
}

func (g *Gateway) checkPending(t *thread.Thread, idx int) error {
	if idx < 0 || idx >= len(t.Messages) || t.Messages[idx].Kind != thread.KindTool {
		return fmt.Errorf("message %d is not a tool call", idx)
	}
	if status := t.Messages[idx].Tool.Status; status != thread.ToolRequest {
		return fmt.Errorf("tool call %d is %s, not awaiting approval", idx, status)
	}
	return nil
}

// run executes the call at idx and writes its terminal message. Lazy
// pre-edit capture happens synchronously before any mutating tool runs.
// Interruption never drops an in-flight result: whatever the tool returned
// before cancellation is still attached to the terminal message.
func (g *Gateway) run(ctx context.Context, t *thread.Thread, idx int) {
	msg := t.Messages[idx]
	tool := g.registry.Get(msg.Tool.Name)

	msg.Tool.Status = thread.ToolRunning
	t.Replace(idx, msg)

	// Validation is pure, so re-validating from the recorded raw params is
	// safe and lets an approval survive a process restart.
	params, err := tool.Validate(json.RawMessage(msg.Tool.RawParams))
	if err != nil {
		g.finish(t, idx, thread.ToolInvalidParams, FormatError(err), nil, nil)
		return
	}

	var paths []string
	if mutator, ok := tool.(FileMutator); ok {
		paths = mutator.MutatedPaths(params)
		for _, p := range paths {
			if err := g.ckpt.CaptureBeforeEdit(t, p); err != nil {
				g.finish(t, idx, thread.ToolError,
					FormatError(Execf("pre-edit snapshot of %s failed: %v", p, err)), nil, nil)
				return
			}
			if err := g.files.BeginEdit(p); err != nil {
				g.finish(t, idx, thread.ToolError,
					FormatError(Execf("edit of %s refused: %v", p, err)), nil, nil)
				return
			}
		}
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			content := "Tool execution interrupted."
			if result != nil {
				if s, serr := tool.Stringify(params, result); serr == nil {
					content = "Tool execution interrupted; partial result:\n" + s
				}
			}
			g.finish(t, idx, thread.ToolRejected, content, result, nil)
			return
		}
		g.finish(t, idx, thread.ToolError, FormatError(err), nil, nil)
		return
	}

	content, err := tool.Stringify(params, result)
	if err != nil {
		// The model must always receive a textual outcome; a serialization
		// failure becomes the call's terminal error.
		g.finish(t, idx, thread.ToolError,
			FormatError(Execf("tool succeeded but its result could not be serialized: %v", err)), nil, nil)
		return
	}
	g.finish(t, idx, thread.ToolSuccess, content, result, paths)
}

func (g *Gateway) finish(t *thread.Thread, idx int, status thread.ToolStatus, content string, result any, paths []string) {
	msg := t.Messages[idx]
	msg.Tool.Status = status
	msg.Tool.Content = content
	msg.Tool.Paths = paths
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			msg.Tool.Result = data
		}
	}
	t.Replace(idx, msg)
}

func (g *Gateway) appendInvalid(t *thread.Thread, call llm.ToolCall, err error) int {
	msg := thread.ToolMsg(call.ID, call.Function.Name, thread.ToolInvalidParams, nil, call.Function.Arguments)
	msg.Tool.Content = FormatError(err)
	return t.Append(msg)
}
