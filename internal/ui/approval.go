package ui

import (
	"fmt"

	"github.com/eiannone/keyboard"
)

// PromptApproval shows a parked tool call and reads one key: y approves,
// Esc or any other key rejects.
func (w *Writer) PromptApproval(toolName, argsDisplay string) (bool, error) {
	warnColor.Printf("\n  %s[%s]\n", toolName, argsDisplay)
	fmt.Print(MakePrompt(" approve? [y/N] ") + " ")

	char, key, err := keyboard.GetSingleKey()
	if err != nil {
		return false, fmt.Errorf("read approval key: %w", err)
	}
	fmt.Println()

	if key == keyboard.KeyEsc {
		return false, nil
	}
	return char == 'y' || char == 'Y', nil
}
