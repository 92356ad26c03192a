// Package agent drives the conversation loop: streaming model turns,
// dispatching tool calls through the gateway, and closing each turn with a
// checkpoint and a forced persistence flush.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relay/internal/checkpoint"
	"relay/internal/config"
	"relay/internal/llm"
	"relay/internal/thread"
	"relay/internal/tools"
)

var (
	// ErrBusy is returned when a turn is started on a thread that already
	// has one in flight.
	ErrBusy = errors.New("a turn is already running on this thread")

	// ErrNoPendingApproval is returned by Approve/Reject when the thread is
	// not suspended on an approval decision.
	ErrNoPendingApproval = errors.New("no tool call is awaiting approval")
)

// Store is the persistence boundary the controller drives. Writes are
// debounced by the implementation; FlushNow forces the pending state of one
// thread to disk at turn boundaries.
type Store interface {
	MarkDirty(threadID string)
	SetStreaming(threadID string, streaming bool)
	FlushNow(threadID string) error
}

// ControllerOptions contains all dependencies for creating a Controller.
type ControllerOptions struct {
	Cfg          *config.Config
	Transport    llm.Transport
	Registry     *tools.Registry
	Gateway      *tools.Gateway
	Checkpoints  *checkpoint.Manager
	Store        Store
	Publisher    *Publisher
	Compactor    *Compactor
	Logger       *Logger
	SystemPrompt string
}

// Controller owns the per-thread loop state machine:
// idle -> running-model -> (running-tool -> running-model)* ->
// awaiting-approval | idle. One turn per thread at a time.
type Controller struct {
	cfg          *config.Config
	transport    llm.Transport
	registry     *tools.Registry
	gateway      *tools.Gateway
	ckpt         *checkpoint.Manager
	store        Store
	publisher    *Publisher
	compactor    *Compactor
	logger       *Logger
	systemPrompt string

	mu      sync.Mutex
	states  map[string]thread.StreamState
	cancels map[string]context.CancelFunc
	pending map[string]*pendingApproval
}

// pendingApproval freezes everything needed to resume a suspended loop:
// the parked tool message, the calls still queued behind it, and the turn
// options captured when the turn started.
type pendingApproval struct {
	msgIdx    int
	remaining []llm.ToolCall
	opts      turnOptions
}

// turnOptions are frozen at turn start so a config reload mid-turn cannot
// change a running turn's behavior.
type turnOptions struct {
	model       string
	temperature float32
	maxTokens   int
	tools       []llm.ToolSpec
}

func NewController(opts ControllerOptions) *Controller {
	return &Controller{
		cfg:          opts.Cfg,
		transport:    opts.Transport,
		registry:     opts.Registry,
		gateway:      opts.Gateway,
		ckpt:         opts.Checkpoints,
		store:        opts.Store,
		publisher:    opts.Publisher,
		compactor:    opts.Compactor,
		logger:       opts.Logger,
		systemPrompt: opts.SystemPrompt,
		states:       make(map[string]thread.StreamState),
		cancels:      make(map[string]context.CancelFunc),
		pending:      make(map[string]*pendingApproval),
	}
}

// State returns the current stream state of a thread. A thread with no
// recorded state is idle.
func (c *Controller) State(threadID string) thread.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[threadID]; ok {
		return s
	}
	return thread.Idle{}
}

// SendUserMessage appends the user's message and runs the loop until the
// model stops calling tools, a tool needs approval, or the turn is aborted.
// Blocks for the duration of the turn; returns ErrBusy if one is running.
func (c *Controller) SendUserMessage(ctx context.Context, t *thread.Thread, text string) error {
	c.mu.Lock()
	if !thread.IsIdle(c.states[t.ID]) {
		c.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancels[t.ID] = cancel
	c.mu.Unlock()

	c.ckpt.EnsureInitial(t)
	msg := thread.UserMsg(text)
	msg.User.Selections = t.UI.Selections
	t.UI.Selections = nil
	// A new message moves the thread forward; the user is no longer
	// standing on a historical checkpoint.
	t.UI.CurrentCheckpoint = nil
	t.Append(msg)
	c.store.MarkDirty(t.ID)

	c.setState(t.ID, thread.RunningModel{Cancel: cancel}, false)
	return c.runLoop(runCtx, t, c.freezeOptions(), nil)
}

// Abort cancels the in-flight turn. During awaiting-approval there is no
// goroutine to cancel, so the pending call is rejected and the turn closes
// here. Abort of an idle thread is a no-op.
func (c *Controller) Abort(t *thread.Thread) {
	c.mu.Lock()
	cancel := c.cancels[t.ID]
	pa := c.pending[t.ID]
	delete(c.pending, t.ID)
	c.mu.Unlock()

	if pa != nil {
		if err := c.gateway.Reject(t, pa.msgIdx); err != nil {
			c.logger.Error("reject pending approval on abort", err)
		}
		c.finishTurn(t)
		return
	}
	if cancel != nil {
		cancel()
	}
}

// Approve resumes a loop suspended on a tool approval: the parked call
// executes, any calls queued behind it are dispatched, and the loop
// continues with the options frozen at turn start.
func (c *Controller) Approve(ctx context.Context, t *thread.Thread) error {
	pa, runCtx, err := c.takePending(ctx, t)
	if err != nil {
		return err
	}

	name := t.Messages[pa.msgIdx].Tool.Name
	c.setState(t.ID, thread.RunningTool{MessageIndex: pa.msgIdx, ToolName: name}, false)
	start := time.Now()
	if err := c.gateway.Approve(runCtx, t, pa.msgIdx); err != nil {
		c.finishTurn(t)
		return err
	}
	c.logger.ToolExecuted(name, string(t.Messages[pa.msgIdx].Tool.Status), time.Since(start))
	c.store.MarkDirty(t.ID)
	return c.runLoop(runCtx, t, pa.opts, pa.remaining)
}

// Reject declines the parked call and resumes the loop so the model can
// react to the rejection.
func (c *Controller) Reject(ctx context.Context, t *thread.Thread) error {
	pa, runCtx, err := c.takePending(ctx, t)
	if err != nil {
		return err
	}

	if err := c.gateway.Reject(t, pa.msgIdx); err != nil {
		c.finishTurn(t)
		return err
	}
	c.store.MarkDirty(t.ID)
	return c.runLoop(runCtx, t, pa.opts, pa.remaining)
}

func (c *Controller) takePending(ctx context.Context, t *thread.Thread) (*pendingApproval, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pa := c.pending[t.ID]
	if pa == nil {
		return nil, nil, ErrNoPendingApproval
	}
	delete(c.pending, t.ID)
	runCtx, cancel := context.WithCancel(ctx)
	c.cancels[t.ID] = cancel
	return pa, runCtx, nil
}

// runLoop is the model/tool alternation. pendingCalls carries tool calls
// left over from a resumed approval; on a fresh turn it is nil.
func (c *Controller) runLoop(ctx context.Context, t *thread.Thread, opts turnOptions, pendingCalls []llm.ToolCall) error {
	c.store.SetStreaming(t.ID, true)

	var loopErr error
	calls := pendingCalls
	for {
		if len(calls) > 0 {
			suspended, err := c.dispatchCalls(ctx, t, opts, calls)
			if err != nil {
				loopErr = err
				break
			}
			if suspended {
				// The turn stays open; Approve or Reject picks it up.
				c.store.MarkDirty(t.ID)
				return nil
			}
			calls = nil
		}

		c.setState(t.ID, thread.RunningModel{}, false)
		res, err := c.streamOnce(ctx, t, opts)
		if err != nil {
			// Terminal failure still keeps whatever the last attempt
			// streamed before it died.
			if res != nil {
				c.persistAborted(t, res)
			}
			loopErr = err
			break
		}
		if res.aborted {
			c.persistAborted(t, res)
			break
		}

		comp := res.completion
		if comp.Text != "" || comp.Reasoning != "" {
			t.Append(thread.AssistantMsg(comp.Text, comp.Reasoning))
			c.store.MarkDirty(t.ID)
		}
		if len(comp.ToolCalls) == 0 {
			break
		}
		calls = comp.ToolCalls
	}

	c.finishTurn(t)
	return loopErr
}

// dispatchCalls runs each call through the gateway in order. Returns
// suspended=true when a call parked on approval; the remaining calls are
// stored with it and nothing after it has started.
func (c *Controller) dispatchCalls(ctx context.Context, t *thread.Thread, opts turnOptions, calls []llm.ToolCall) (bool, error) {
	for i, call := range calls {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		name := call.Function.Name
		c.setState(t.ID, thread.RunningTool{ToolName: name}, false)

		start := time.Now()
		idx, decision := c.gateway.Begin(ctx, t, call)
		c.store.MarkDirty(t.ID)

		if decision == tools.NeedsApproval {
			c.mu.Lock()
			c.pending[t.ID] = &pendingApproval{msgIdx: idx, remaining: calls[i+1:], opts: opts}
			delete(c.cancels, t.ID)
			c.mu.Unlock()
			c.setState(t.ID, thread.AwaitingApproval{MessageIndex: idx, ToolName: name}, true)
			return true, nil
		}

		c.logger.ToolExecuted(name, string(t.Messages[idx].Tool.Status), time.Since(start))
		if ctx.Err() != nil {
			// The call was cut off mid-execution; the gateway already
			// recorded whatever it produced.
			return false, ctx.Err()
		}
	}
	return false, nil
}

// modelResult carries one stream attempt's outcome, including the partial
// output retained across an abort.
type modelResult struct {
	completion       *llm.Completion
	aborted          bool
	partialText      string
	partialReasoning string
	interruptedTool  string
}

// streamOnce runs one model stream to completion, absorbing retryable
// failures. Rate limits wait without consuming the retry budget; context
// overflow prunes old tool results and retries a bounded number of times;
// transient transport failures back off geometrically. Terminal errors
// return the last attempt's result alongside the error so its partial
// output survives into the thread.
func (c *Controller) streamOnce(ctx context.Context, t *thread.Thread, opts turnOptions) (*modelResult, error) {
	policy := PolicyFromConfig(c.cfg.Retry)
	cooldown := time.Duration(c.cfg.Retry.RateLimitCooldownMS) * time.Millisecond
	attempts := 0
	contextRetries := 0

	for {
		res, err := c.callModel(ctx, t, opts)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			res.aborted = true
			return res, nil
		}

		retryAfter, rateLimited := llm.IsRateLimit(err)
		switch {
		case rateLimited:
			wait := cooldown
			if retryAfter > 0 {
				wait = retryAfter
			}
			c.logger.Retry("rate_limit", attempts, wait, err)
			if sleep(ctx, wait) != nil {
				res.aborted = true
				return res, nil
			}

		case llm.IsContextLength(err):
			if contextRetries >= c.cfg.Retry.ContextRetries {
				return res, fmt.Errorf("context overflow persists after pruning: %w", err)
			}
			contextRetries++
			pruned := c.compactor.Prune(t)
			c.logger.ContextPruned(t.ID, pruned)
			if pruned == 0 {
				return res, fmt.Errorf("context overflow with nothing left to prune: %w", err)
			}
			c.store.MarkDirty(t.ID)

		case llm.IsRetryable(err):
			attempts++
			if attempts >= policy.MaxAttempts {
				return res, fmt.Errorf("model stream failed after %d attempts: %w", attempts, err)
			}
			wait := policy.Delay(attempts - 1)
			c.logger.Retry("transport", attempts, wait, err)
			if sleep(ctx, wait) != nil {
				res.aborted = true
				return res, nil
			}

		default:
			return res, err
		}
	}
}

// callModel performs a single stream attempt, publishing coalesced partial
// updates while text arrives.
func (c *Controller) callModel(ctx context.Context, t *thread.Thread, opts turnOptions) (*modelResult, error) {
	req := llm.ChatRequest{
		Model:       opts.model,
		Messages:    c.renderMessages(t),
		Temperature: opts.temperature,
		MaxTokens:   opts.maxTokens,
		Tools:       opts.tools,
	}

	res := &modelResult{}
	start := time.Now()
	h := llm.StreamHandler{
		OnText: func(partial string) {
			res.partialText = partial
			c.publishPartial(t.ID, res)
		},
		OnReasoning: func(partial string) {
			res.partialReasoning = partial
			c.publishPartial(t.ID, res)
		},
		OnToolCallDelta: func(name, _ string) {
			res.interruptedTool = name
		},
		OnFinal: func(comp *llm.Completion) {
			res.completion = comp
		},
		OnAbort: func() {
			res.aborted = true
		},
	}

	err := c.transport.StreamChat(ctx, req, h)
	if res.aborted {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if res.completion == nil {
		return res, fmt.Errorf("stream finished without a completion")
	}
	c.logger.ModelTurn(opts.model, res.completion.Usage.TotalTokens, time.Since(start), len(res.completion.ToolCalls))
	return res, nil
}

// persistAborted keeps whatever the aborted stream produced: partial text
// becomes a partial assistant message, a half-streamed tool call becomes an
// interrupted placeholder so the model learns it never ran.
func (c *Controller) persistAborted(t *thread.Thread, res *modelResult) {
	if res.partialText != "" || res.partialReasoning != "" {
		msg := thread.AssistantMsg(res.partialText, res.partialReasoning)
		msg.Assistant.Partial = true
		t.Append(msg)
	}
	if res.interruptedTool != "" {
		t.Append(thread.Message{
			Kind:        thread.KindInterrupted,
			Interrupted: &thread.InterruptedTool{Name: res.interruptedTool},
		})
	}
	c.store.MarkDirty(t.ID)
}

// finishTurn closes the turn: post-turn checkpoint, streaming flag off, and
// a forced flush so an immediately following crash loses nothing.
func (c *Controller) finishTurn(t *thread.Thread) {
	idx, added := c.ckpt.Append(t, touchedSinceLastCheckpoint(t))
	if added {
		c.logger.CheckpointAppended(t.ID, idx, len(t.Messages[idx].Checkpoint.Snapshots))
	}

	c.store.SetStreaming(t.ID, false)
	c.store.MarkDirty(t.ID)
	if err := c.store.FlushNow(t.ID); err != nil {
		c.logger.Error("flush at turn end", err)
	}

	c.mu.Lock()
	delete(c.cancels, t.ID)
	c.mu.Unlock()
	c.setState(t.ID, thread.Idle{}, true)
}

func (c *Controller) freezeOptions() turnOptions {
	return turnOptions{
		model:       c.cfg.LLM.Model,
		temperature: c.cfg.LLM.Temperature,
		maxTokens:   c.cfg.LLM.MaxTokens,
		tools:       c.registry.Specs(),
	}
}

func (c *Controller) setState(threadID string, s thread.StreamState, terminal bool) {
	c.mu.Lock()
	c.states[threadID] = s
	c.mu.Unlock()
	c.publisher.Publish(Event{ThreadID: threadID, State: s, Terminal: terminal})
}

func (c *Controller) publishPartial(threadID string, res *modelResult) {
	s := thread.RunningModel{
		PartialText:      res.partialText,
		PartialReasoning: res.partialReasoning,
	}
	c.mu.Lock()
	c.states[threadID] = s
	c.mu.Unlock()
	c.publisher.Publish(Event{ThreadID: threadID, State: s})
}

// renderMessages converts the thread history to the wire format. Each tool
// call renders as an assistant tool_calls entry plus the tool result;
// checkpoints are invisible to the model.
func (c *Controller) renderMessages(t *thread.Thread) []llm.Message {
	msgs := make([]llm.Message, 0, len(t.Messages)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c.systemPrompt})
	}
	for _, m := range t.Messages {
		switch m.Kind {
		case thread.KindUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.User.Text})

		case thread.KindAssistant:
			if m.Assistant.Text == "" {
				continue
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Assistant.Text})

		case thread.KindTool:
			tm := m.Tool
			if !tm.Status.Terminal() {
				continue
			}
			var call llm.ToolCall
			call.ID = tm.CallID
			call.Type = "function"
			call.Function.Name = tm.Name
			call.Function.Arguments = tm.RawParams
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
				llm.Message{Role: llm.RoleTool, ToolCallID: tm.CallID, Content: tm.Content},
			)

		case thread.KindInterrupted:
			msgs = append(msgs, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("(the %s tool call was interrupted before its parameters finished streaming; it never ran)", m.Interrupted.Name),
			})
		}
	}
	return msgs
}

// touchedSinceLastCheckpoint collects the file paths mutated by tool calls
// since the previous checkpoint, for the post-turn snapshot.
func touchedSinceLastCheckpoint(t *thread.Thread) []string {
	last := t.LastCheckpointIndex()
	seen := make(map[string]bool)
	var paths []string
	for i := last + 1; i < len(t.Messages); i++ {
		m := t.Messages[i]
		if m.Kind != thread.KindTool {
			continue
		}
		for _, p := range m.Tool.Paths {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}
