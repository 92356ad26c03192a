// Package ui renders the terminal transcript: assistant text, tool call
// lines, diffs, and the approval prompt.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Color definitions for consistent output.
var (
	// Dim yellow for startup info
	startupColor = color.New(color.FgYellow, color.Faint)

	// Gray for tool calls and thinking
	grayColor = color.New(color.FgWhite, color.Faint)

	// Red for errors
	errorColor = color.New(color.FgRed)

	// Yellow for warnings
	warnColor = color.New(color.FgYellow)

	// White for assistant responses
	whiteColor = color.New(color.FgWhite)

	// Cyan for checkpoint markers
	checkpointColor = color.New(color.FgCyan, color.Faint)

	addColor = color.New(color.FgGreen)
	delColor = color.New(color.FgRed)
)

// Writer provides formatted output with consistent prefixes and colors.
type Writer struct {
	quiet    bool
	headless bool // progress to stderr, final answer to stdout
	stderr   io.Writer
	stdout   io.Writer

	// partialLen tracks how much of the current streaming message has been
	// printed, so only the new suffix is written on each update.
	partialLen int
}

func NewWriter() *Writer {
	return &Writer{stderr: os.Stderr, stdout: os.Stdout}
}

// SetQuiet suppresses everything except assistant output.
func (w *Writer) SetQuiet(quiet bool) {
	w.quiet = quiet
}

// SetHeadless routes progress to stderr and the final answer to stdout.
func (w *Writer) SetHeadless(headless bool) {
	w.headless = headless
}

// StartupInfo prints startup information.
func (w *Writer) StartupInfo(msg string) {
	if w.quiet {
		return
	}
	if w.headless {
		fmt.Fprintln(w.stderr, msg)
	} else {
		startupColor.Println(msg)
	}
}

// Info prints an info message with [info] prefix in gray.
func (w *Writer) Info(msg string) {
	if w.quiet {
		return
	}
	if w.headless {
		fmt.Fprintf(w.stderr, "[info] %s\n", msg)
	} else {
		grayColor.Printf("[info] %s\n", msg)
	}
}

// Warn prints a warning message with [warn] prefix in yellow.
func (w *Writer) Warn(msg string) {
	if w.quiet {
		return
	}
	if w.headless {
		fmt.Fprintf(w.stderr, "[warn] %s\n", msg)
	} else {
		warnColor.Printf("[warn] %s\n", msg)
	}
}

// Error prints an error message with [error] prefix in red.
func (w *Writer) Error(msg string) {
	if w.headless {
		fmt.Fprintf(w.stderr, "[error] %s\n", msg)
	} else {
		errorColor.Printf("[error] %s\n", msg)
	}
}

// Assistant prints a complete assistant message. In headless mode this is
// the final answer and goes to stdout.
func (w *Writer) Assistant(msg string) {
	w.partialLen = 0
	if w.headless {
		fmt.Fprintf(w.stdout, "%s\n", msg)
	} else {
		whiteColor.Printf("%s\n\n", msg)
	}
}

// StreamPartial prints the unseen suffix of an in-flight assistant message.
// EndPartial closes the line once the stream settles.
func (w *Writer) StreamPartial(text string) {
	if w.quiet || w.headless {
		return
	}
	if len(text) < w.partialLen {
		// New stream attempt after a retry; start over on a fresh line.
		fmt.Println()
		w.partialLen = 0
	}
	whiteColor.Print(text[w.partialLen:])
	w.partialLen = len(text)
}

func (w *Writer) EndPartial() {
	if w.partialLen > 0 {
		fmt.Print("\n\n")
		w.partialLen = 0
	}
}

// Thinking prints reasoning text in gray.
func (w *Writer) Thinking(msg string) {
	if w.quiet {
		return
	}
	if w.headless {
		fmt.Fprintf(w.stderr, "* %s\n", msg)
	} else {
		grayColor.Printf("* %s\n", msg)
	}
}

// ToolCall prints a compact tool call line in gray.
func (w *Writer) ToolCall(name, argsDisplay string) {
	if w.quiet {
		return
	}
	line := fmt.Sprintf("  %s[%s]", name, argsDisplay)
	if w.headless {
		fmt.Fprintln(w.stderr, line)
	} else {
		grayColor.Println(line)
	}
}

// ToolResult prints a one-line tool outcome in gray.
func (w *Writer) ToolResult(status, summary string) {
	if w.quiet {
		return
	}
	if w.headless {
		fmt.Fprintf(w.stderr, "  -> %s: %s\n", status, summary)
	} else {
		grayColor.Printf("  -> %s: %s\n", status, summary)
	}
}

// Checkpoint prints a checkpoint marker line.
func (w *Writer) Checkpoint(idx int, files int) {
	if w.quiet {
		return
	}
	line := fmt.Sprintf("  -- checkpoint %d", idx)
	if files > 0 {
		line += fmt.Sprintf(" (%d files)", files)
	}
	if w.headless {
		fmt.Fprintln(w.stderr, line)
	} else {
		checkpointColor.Println(line)
	}
}

// Diff prints a unified diff with added lines in green and removed lines
// in red.
func (w *Writer) Diff(unified string) {
	if w.quiet || unified == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(unified, "\n"), "\n") {
		switch {
		case w.headless:
			fmt.Fprintln(w.stderr, line)
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			addColor.Println(line)
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			delColor.Println(line)
		default:
			grayColor.Println(line)
		}
	}
}
