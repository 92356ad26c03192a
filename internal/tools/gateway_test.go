package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"relay/internal/checkpoint"
	"relay/internal/config"
	"relay/internal/llm"
	"relay/internal/thread"
)

// memFiles is an in-memory FileService that records the order of calls.
type memFiles struct {
	contents map[string]string
	log      []string
}

func newMemFiles() *memFiles {
	return &memFiles{contents: make(map[string]string)}
}

func (f *memFiles) Read(path string) (string, bool, error) {
	f.log = append(f.log, "read:"+path)
	content, ok := f.contents[path]
	return content, ok, nil
}

func (f *memFiles) ReadBuffer(string) (string, bool) { return "", false }

func (f *memFiles) BeginEdit(path string) error {
	f.log = append(f.log, "begin:"+path)
	return nil
}

func (f *memFiles) Save(path, content string) error {
	f.log = append(f.log, "save:"+path)
	f.contents[path] = content
	return nil
}

func (f *memFiles) Remove(path string) error {
	delete(f.contents, path)
	return nil
}

// echoTool is a plain tool with switchable behavior.
type echoTool struct {
	name         string
	approval     bool
	execErr      error
	stringifyErr error
	partial      any
	executed     *bool
	log          *[]string
}

type echoParams struct {
	Text string `json:"text"`
}

func (e *echoTool) Name() string               { return e.name }
func (e *echoTool) Description() string        { return "echo" }
func (e *echoTool) JSONSchema() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) RequiresApproval() bool     { return e.approval }

func (e *echoTool) Validate(raw json.RawMessage) (any, error) {
	var p echoParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, Invalidf("echo: %v", err)
	}
	if p.Text == "" {
		return nil, Invalidf("echo: text is required")
	}
	return p, nil
}

func (e *echoTool) Execute(ctx context.Context, params any) (any, error) {
	if e.executed != nil {
		*e.executed = true
	}
	if e.log != nil {
		*e.log = append(*e.log, "execute")
	}
	if e.execErr != nil {
		return e.partial, e.execErr
	}
	return map[string]string{"echoed": params.(echoParams).Text}, nil
}

func (e *echoTool) Stringify(_, result any) (string, error) {
	if e.stringifyErr != nil {
		return "", e.stringifyErr
	}
	return stringifyJSON(result)
}

// mutatorTool rewrites one file and reports it.
type mutatorTool struct {
	echoTool
	path  string
	files checkpoint.FileService
}

func (m *mutatorTool) MutatedPaths(any) []string { return []string{m.path} }

func (m *mutatorTool) Execute(_ context.Context, params any) (any, error) {
	if m.log != nil {
		*m.log = append(*m.log, "execute")
	}
	if err := m.files.Save(m.path, params.(echoParams).Text); err != nil {
		return nil, Execf("save: %v", err)
	}
	return map[string]string{"path": m.path}, nil
}

func call(name, args string) llm.ToolCall {
	var c llm.ToolCall
	c.ID = "call-1"
	c.Type = "function"
	c.Function.Name = name
	c.Function.Arguments = args
	return c
}

func newGateway(files checkpoint.FileService, approvals config.ApprovalsConfig, tools ...Tool) (*Gateway, *checkpoint.Manager) {
	reg := NewRegistry()
	for _, tl := range tools {
		reg.Enable(tl)
	}
	ckpt := checkpoint.NewManager(files)
	return NewGateway(reg, approvals, files, ckpt), ckpt
}

func TestGatewaySuccess(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{}, &echoTool{name: "echo"})
	th := thread.New()

	idx, decision := g.Begin(context.Background(), th, call("echo", `{"text":"hi"}`))
	if decision != Completed {
		t.Fatalf("decision = %v, want Completed", decision)
	}
	msg := th.Messages[idx].Tool
	if msg.Status != thread.ToolSuccess {
		t.Fatalf("status = %s, want success", msg.Status)
	}
	if !strings.Contains(msg.Content, "hi") {
		t.Errorf("content %q missing echoed text", msg.Content)
	}
	if len(msg.Result) == 0 {
		t.Error("structured result not recorded")
	}
}

func TestGatewayMalformedJSON(t *testing.T) {
	executed := false
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{}, &echoTool{name: "echo", executed: &executed})
	th := thread.New()

	idx, decision := g.Begin(context.Background(), th, call("echo", `{"text":`))
	if decision != Completed {
		t.Fatalf("decision = %v, want Completed", decision)
	}
	msg := th.Messages[idx].Tool
	if msg.Status != thread.ToolInvalidParams {
		t.Fatalf("status = %s, want invalid_params", msg.Status)
	}
	if executed {
		t.Error("tool executed despite malformed parameters")
	}
	if !strings.Contains(msg.Content, `"success": false`) {
		t.Errorf("content %q is not the error payload", msg.Content)
	}
}

func TestGatewayUnknownTool(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{})
	th := thread.New()

	idx, _ := g.Begin(context.Background(), th, call("nonexistent", `{}`))
	msg := th.Messages[idx].Tool
	if msg.Status != thread.ToolInvalidParams {
		t.Fatalf("status = %s, want invalid_params", msg.Status)
	}
	if !strings.Contains(msg.Content, "unknown tool") {
		t.Errorf("content %q missing unknown-tool error", msg.Content)
	}
}

func TestGatewayValidationFailure(t *testing.T) {
	executed := false
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{}, &echoTool{name: "echo", executed: &executed})
	th := thread.New()

	idx, _ := g.Begin(context.Background(), th, call("echo", `{}`))
	if got := th.Messages[idx].Tool.Status; got != thread.ToolInvalidParams {
		t.Fatalf("status = %s, want invalid_params", got)
	}
	if executed {
		t.Error("tool executed despite validation failure")
	}
}

func TestGatewayApprovalPauseThenApprove(t *testing.T) {
	executed := false
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{}, &echoTool{name: "cmd", approval: true, executed: &executed})
	th := thread.New()

	idx, decision := g.Begin(context.Background(), th, call("cmd", `{"text":"go"}`))
	if decision != NeedsApproval {
		t.Fatalf("decision = %v, want NeedsApproval", decision)
	}
	if got := th.Messages[idx].Tool.Status; got != thread.ToolRequest {
		t.Fatalf("status = %s, want tool_request", got)
	}
	if executed {
		t.Fatal("tool executed before approval")
	}

	if err := g.Approve(context.Background(), th, idx); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got := th.Messages[idx].Tool.Status; got != thread.ToolSuccess {
		t.Fatalf("status after approve = %s, want success", got)
	}
	if !executed {
		t.Error("tool did not execute after approval")
	}
}

func TestGatewayReject(t *testing.T) {
	executed := false
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{}, &echoTool{name: "cmd", approval: true, executed: &executed})
	th := thread.New()

	idx, _ := g.Begin(context.Background(), th, call("cmd", `{"text":"go"}`))
	if err := g.Reject(th, idx); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got := th.Messages[idx].Tool.Status; got != thread.ToolRejected {
		t.Fatalf("status = %s, want rejected", got)
	}
	if executed {
		t.Error("rejected tool executed")
	}
	if err := g.Reject(th, idx); err == nil {
		t.Error("second Reject on a terminal call should fail")
	}
}

func TestGatewayPreAuthorizationSkipsPause(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{PreAuthorized: []string{"cmd"}},
		&echoTool{name: "cmd", approval: true})
	th := thread.New()

	idx, decision := g.Begin(context.Background(), th, call("cmd", `{"text":"go"}`))
	if decision != Completed {
		t.Fatalf("decision = %v, want Completed", decision)
	}
	if got := th.Messages[idx].Tool.Status; got != thread.ToolSuccess {
		t.Fatalf("status = %s, want success", got)
	}
}

func TestGatewayExecutionErrorIsTerminal(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{},
		&echoTool{name: "echo", execErr: Execf("disk full")})
	th := thread.New()

	idx, _ := g.Begin(context.Background(), th, call("echo", `{"text":"hi"}`))
	msg := th.Messages[idx].Tool
	if msg.Status != thread.ToolError {
		t.Fatalf("status = %s, want tool_error", msg.Status)
	}
	if !strings.Contains(msg.Content, "disk full") {
		t.Errorf("content %q missing failure", msg.Content)
	}
}

func TestGatewayInterruptionKeepsInFlightResult(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{},
		&echoTool{name: "echo", execErr: context.Canceled, partial: map[string]string{"stdout": "partial output"}})
	th := thread.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx, _ := g.Begin(ctx, th, call("echo", `{"text":"hi"}`))

	msg := th.Messages[idx].Tool
	if msg.Status != thread.ToolRejected {
		t.Fatalf("status = %s, want rejected", msg.Status)
	}
	if !strings.Contains(msg.Content, "partial output") {
		t.Errorf("content %q dropped the in-flight result", msg.Content)
	}
	if len(msg.Result) == 0 {
		t.Error("structured in-flight result dropped")
	}
}

func TestGatewayStringifyFailureBecomesError(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{},
		&echoTool{name: "echo", stringifyErr: errors.New("cyclic value")})
	th := thread.New()

	idx, _ := g.Begin(context.Background(), th, call("echo", `{"text":"hi"}`))
	msg := th.Messages[idx].Tool
	if msg.Status != thread.ToolError {
		t.Fatalf("status = %s, want tool_error", msg.Status)
	}
	if !strings.Contains(msg.Content, "could not be serialized") {
		t.Errorf("content %q missing serialization failure", msg.Content)
	}
}

func TestGatewayCapturesBeforeMutation(t *testing.T) {
	files := newMemFiles()
	files.contents["/ws/a.txt"] = "before"
	var order []string
	tool := &mutatorTool{path: "/ws/a.txt", files: files}
	tool.name = "write"
	tool.log = &order

	g, ckpt := newGateway(files, config.ApprovalsConfig{}, tool)
	th := thread.New()
	ckpt.EnsureInitial(th)

	idx, _ := g.Begin(context.Background(), th, call("write", `{"text":"after"}`))
	if got := th.Messages[idx].Tool.Status; got != thread.ToolSuccess {
		t.Fatalf("status = %s, want success", got)
	}
	if got := files.contents["/ws/a.txt"]; got != "after" {
		t.Fatalf("file content = %q, want %q", got, "after")
	}

	// Pre-edit state must land in the first checkpoint.
	snap, ok := th.Messages[0].Checkpoint.Snapshots["/ws/a.txt"]
	if !ok {
		t.Fatal("pre-edit snapshot missing from first checkpoint")
	}
	if snap.FileText != "before" || !snap.Existed {
		t.Errorf("snapshot = %+v, want pre-edit content", snap)
	}
	if got := th.Messages[idx].Tool.Paths; len(got) != 1 || got[0] != "/ws/a.txt" {
		t.Errorf("paths = %v, want the mutated file", got)
	}

	// BeginEdit must precede the mutation itself.
	beginAt, executeAt := -1, -1
	for i, entry := range files.log {
		if entry == "begin:/ws/a.txt" && beginAt < 0 {
			beginAt = i
		}
		if entry == "save:/ws/a.txt" {
			executeAt = i
		}
	}
	if beginAt < 0 || executeAt < 0 || beginAt > executeAt {
		t.Errorf("BeginEdit did not precede the write: log %v", files.log)
	}
	if len(order) != 1 || order[0] != "execute" {
		t.Errorf("execute log = %v", order)
	}
}

func TestGatewayApproveWrongIndex(t *testing.T) {
	g, _ := newGateway(newMemFiles(), config.ApprovalsConfig{}, &echoTool{name: "echo"})
	th := thread.New()
	th.Append(thread.UserMsg("hi"))

	if err := g.Approve(context.Background(), th, 0); err == nil {
		t.Error("Approve on a user message should fail")
	}
	if err := g.Approve(context.Background(), th, 7); err == nil {
		t.Error("Approve out of range should fail")
	}
}
