// Package repl provides the interactive session runner: line input, turn
// supervision with Esc abort, the approval prompt, and meta-commands for
// thread and checkpoint management.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/eiannone/keyboard"

	"relay/internal/agent"
	"relay/internal/checkpoint"
	"relay/internal/store"
	"relay/internal/thread"
	"relay/internal/ui"
)

// REPL drives one thread interactively.
type REPL struct {
	controller *agent.Controller
	ckpt       *checkpoint.Manager
	store      *store.Store
	writer     *ui.Writer
	thread     *thread.Thread
}

func New(controller *agent.Controller, ckpt *checkpoint.Manager, st *store.Store, writer *ui.Writer, th *thread.Thread) *REPL {
	return &REPL{
		controller: controller,
		ckpt:       ckpt,
		store:      st,
		writer:     writer,
		thread:     th,
	}
}

// AttachPublisher subscribes the REPL's renderer to loop state changes.
func (r *REPL) AttachPublisher(pub *agent.Publisher) {
	pub.Subscribe(func(e agent.Event) {
		if e.ThreadID != r.thread.ID {
			return
		}
		switch s := e.State.(type) {
		case thread.RunningModel:
			if s.PartialText != "" {
				r.writer.StreamPartial(s.PartialText)
			}
		case thread.RunningTool:
			r.writer.EndPartial()
			r.writer.ToolCall(s.ToolName, "")
		}
	})
}

// Run is the main loop: read a line, run a turn or a meta-command.
func (r *REPL) Run(ctx context.Context) error {
	r.writer.StartupInfo(fmt.Sprintf("thread %s (%d messages) - /help for commands, Esc aborts a running turn", shortID(r.thread.ID), len(r.thread.Messages)))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(ui.MakePrompt(" > ") + " ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.handleCommand(line); quit {
				return nil
			}
			continue
		}
		r.runTurn(ctx, line)
	}
}

// runTurn sends the message and supervises the turn: Esc aborts, an
// approval pause drops into the y/N prompt, and the post-turn diff is
// rendered when files changed.
func (r *REPL) runTurn(ctx context.Context, text string) {
	done := make(chan error, 1)
	go func() {
		done <- r.controller.SendUserMessage(ctx, r.thread, text)
	}()
	r.superviseTurn(done)

	for {
		state, ok := r.controller.State(r.thread.ID).(thread.AwaitingApproval)
		if !ok {
			break
		}
		msg := r.thread.Messages[state.MessageIndex].Tool
		approved, err := r.writer.PromptApproval(state.ToolName, ui.FormatToolArgs(msg.RawParams))
		if err != nil {
			r.writer.Error(err.Error())
			approved = false
		}

		resume := make(chan error, 1)
		go func() {
			if approved {
				resume <- r.controller.Approve(ctx, r.thread)
			} else {
				resume <- r.controller.Reject(ctx, r.thread)
			}
		}()
		r.superviseTurn(resume)
	}

	r.writer.EndPartial()
	r.showTurnResults()
}

// superviseTurn blocks until the turn settles while watching for Esc.
func (r *REPL) superviseTurn(done chan error) {
	stop := make(chan struct{})
	go r.watchEsc(stop)

	err := <-done
	close(stop)
	if err != nil {
		r.writer.EndPartial()
		r.writer.Error(err.Error())
	}
}

// watchEsc aborts the running turn when Esc is pressed. The raw keyboard
// is held only while a turn is in flight.
func (r *REPL) watchEsc(stop chan struct{}) {
	if err := keyboard.Open(); err != nil {
		return
	}
	defer keyboard.Close()

	keys := make(chan keyboard.Key, 1)
	go func() {
		for {
			_, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			keys <- key
		}
	}()

	for {
		select {
		case <-stop:
			return
		case key := <-keys:
			if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
				r.writer.Info("aborting...")
				r.controller.Abort(r.thread)
			}
		}
	}
}

// showTurnResults prints the final assistant message, per-tool outcomes,
// and the diff of files changed during the turn.
func (r *REPL) showTurnResults() {
	last := r.thread.LastCheckpointIndex()
	if last < 0 {
		return
	}
	prev := r.thread.NearestCheckpointAt(last - 1)
	for i := prev + 1; i < len(r.thread.Messages); i++ {
		m := r.thread.Messages[i]
		switch m.Kind {
		case thread.KindAssistant:
			if m.Assistant.Partial {
				r.writer.Warn("(response interrupted)")
			}
			r.writer.Assistant(m.Assistant.Text)
		case thread.KindTool:
			r.writer.ToolResult(string(m.Tool.Status), ui.SummarizeToolContent(m.Tool.Content))
		}
	}
	if len(r.thread.Messages[last].Checkpoint.Snapshots) > 0 {
		r.writer.Checkpoint(last, len(r.thread.Messages[last].Checkpoint.Snapshots))
	}
}

func (r *REPL) handleCommand(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		r.writer.Info("/threads  /delete <id>  /checkpoints  /jump <index> [--user]  /diff  /quit")

	case "/threads":
		infos, err := r.store.List()
		if err != nil {
			r.writer.Error(err.Error())
			break
		}
		for _, info := range infos {
			marker := " "
			if info.ID == r.thread.ID {
				marker = "*"
			}
			r.writer.Info(fmt.Sprintf("%s %s  %3d messages  %s", marker, shortID(info.ID), info.MessageCount, info.ModifiedAt.Format("2006-01-02 15:04")))
		}

	case "/delete":
		if len(fields) < 2 {
			r.writer.Error("usage: /delete <thread-id>")
			break
		}
		if strings.HasPrefix(r.thread.ID, fields[1]) {
			r.writer.Error("cannot delete the active thread")
			break
		}
		if err := r.deleteByPrefix(fields[1]); err != nil {
			r.writer.Error(err.Error())
		}

	case "/checkpoints":
		current := len(r.thread.Messages) - 1
		if r.thread.UI.CurrentCheckpoint != nil {
			current = *r.thread.UI.CurrentCheckpoint
		}
		for i, m := range r.thread.Messages {
			if m.Kind != thread.KindCheckpoint {
				continue
			}
			marker := " "
			if i == current {
				marker = "*"
			}
			r.writer.Info(fmt.Sprintf("%s checkpoint at message %d (%d files)", marker, i, len(m.Checkpoint.Snapshots)))
		}

	case "/jump":
		if len(fields) < 2 {
			r.writer.Error("usage: /jump <message-index> [--user]")
			break
		}
		target, err := strconv.Atoi(fields[1])
		if err != nil {
			r.writer.Error("jump target must be a message index")
			break
		}
		includeUser := len(fields) > 2 && fields[2] == "--user"
		result, err := r.ckpt.Jump(r.thread, target, includeUser)
		if err != nil {
			r.writer.Error(err.Error())
			break
		}
		r.store.MarkDirty(r.thread.ID)
		r.writer.Info(fmt.Sprintf("jumped to checkpoint at message %d, restored %d files", result.Target, len(result.Restored)))
		for _, p := range result.RemoveManually {
			r.writer.Warn(fmt.Sprintf("%s did not exist at this checkpoint; remove it manually if unwanted", p))
		}

	case "/diff":
		text, err := r.ckpt.DiffSinceLast(r.thread)
		if err != nil {
			r.writer.Error(err.Error())
			break
		}
		if text == "" {
			r.writer.Info("no changes since last checkpoint")
			break
		}
		r.writer.Diff(text)

	default:
		r.writer.Error(fmt.Sprintf("unknown command %s", fields[0]))
	}
	return false
}

func (r *REPL) deleteByPrefix(prefix string) error {
	infos, err := r.store.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if strings.HasPrefix(info.ID, prefix) {
			if err := r.store.Delete(info.ID); err != nil {
				return err
			}
			r.ckpt.Invalidate(info.ID)
			r.writer.Info(fmt.Sprintf("deleted thread %s", shortID(info.ID)))
			return nil
		}
	}
	return fmt.Errorf("no thread matches %q", prefix)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
