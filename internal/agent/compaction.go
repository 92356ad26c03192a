package agent

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"relay/internal/thread"
)

const prunedPlaceholder = "[old tool result pruned to free context]"

// Compactor shrinks a thread that no longer fits the model's context
// window. Old tool results are the bulk of a long session, so pruning
// replaces their content with a placeholder while the most recent ones
// stay intact.
type Compactor struct {
	keepRecent int
}

func NewCompactor(keepRecent int) *Compactor {
	return &Compactor{keepRecent: keepRecent}
}

// Prune blanks the content of every terminal tool result except the most
// recent keepRecent ones. Returns how many messages were pruned; zero means
// there is nothing left to cut and the overflow is unrecoverable here.
func (c *Compactor) Prune(t *thread.Thread) int {
	// Walk backward so the most recent results are the ones spared.
	seen := 0
	pruned := 0
	for i := len(t.Messages) - 1; i >= 0; i-- {
		msg := t.Messages[i]
		if msg.Kind != thread.KindTool || !msg.Tool.Status.Terminal() {
			continue
		}
		seen++
		if seen <= c.keepRecent || msg.Tool.Pruned {
			continue
		}
		msg.Tool.Content = prunedPlaceholder
		msg.Tool.Result = pruneResult(msg.Tool.Result)
		msg.Tool.Pruned = true
		t.Replace(i, msg)
		pruned++
	}
	return pruned
}

// pruneResult collapses a structured result to its outcome flag plus a
// pruned marker, dropping the payload.
func pruneResult(result []byte) []byte {
	out := "{}"
	if success := gjson.GetBytes(result, "success"); success.Exists() {
		out, _ = sjson.Set(out, "success", success.Bool())
	}
	out, _ = sjson.Set(out, "pruned", true)
	return []byte(out)
}
