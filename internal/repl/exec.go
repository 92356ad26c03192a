package repl

import (
	"context"
	"fmt"

	"relay/internal/agent"
	"relay/internal/thread"
	"relay/internal/ui"
)

// RunExec runs a single prompt non-interactively and prints the final
// assistant message to stdout. Tool calls that require approval are rejected;
// exec mode has nobody to ask.
func RunExec(ctx context.Context, controller *agent.Controller, writer *ui.Writer, th *thread.Thread, text string) error {
	if err := controller.SendUserMessage(ctx, th, text); err != nil {
		return err
	}

	for {
		state, ok := controller.State(th.ID).(thread.AwaitingApproval)
		if !ok {
			break
		}
		writer.Warn(fmt.Sprintf("%s requires approval; rejected in exec mode (set approvals.approve_all to pre-authorize)", state.ToolName))
		if err := controller.Reject(ctx, th); err != nil {
			return err
		}
	}
	writer.EndPartial()

	for i := len(th.Messages) - 1; i >= 0; i-- {
		m := th.Messages[i]
		if m.Kind == thread.KindAssistant && m.Assistant.Text != "" {
			fmt.Println(m.Assistant.Text)
			return nil
		}
	}
	return nil
}
