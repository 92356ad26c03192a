// Package prompt provides system prompt generation for the agent.
package prompt

import (
	"fmt"
	"strings"

	"relay/internal/config"
	"relay/internal/tools"
)

// Generator builds the system prompt from the enabled tools and
// configuration.
type Generator struct {
	registry *tools.Registry
	cfg      *config.Config
}

func NewGenerator(registry *tools.Registry, cfg *config.Config) *Generator {
	return &Generator{registry: registry, cfg: cfg}
}

// GenerateSystemPrompt builds the complete system prompt.
func (g *Generator) GenerateSystemPrompt() string {
	names := g.registry.List()

	var sb strings.Builder
	sb.WriteString("# ROLE\n")
	if len(names) > 0 {
		sb.WriteString(fmt.Sprintf("You are a coding assistant with access to these tools: %s.\n\n", strings.Join(names, ", ")))
	} else {
		sb.WriteString("You are a coding assistant.\n\n")
	}
	sb.WriteString(fmt.Sprintf("Working Directory: %s\n\n", g.cfg.Workspace.Root))

	sb.WriteString("# GUIDELINES\n")
	guidelines := []string{
		"- Only use the tools listed above",
		"- Briefly explain what you're doing when calling a tool",
		"- Prefer edit_file with small search/replace blocks over rewriting whole files",
		"- Every file edit is checkpointed and reversible; do not make backup copies yourself",
		"- Focus on completing the user's request efficiently and accurately",
	}
	sb.WriteString(strings.Join(guidelines, "\n"))
	sb.WriteString("\n")

	if g.registry.IsEnabled("edit_file") {
		sb.WriteString("\n# EDIT FORMAT\n")
		sb.WriteString("edit_file takes one or more blocks of the form:\n\n")
		sb.WriteString("<<<<<<< ORIGINAL\n(exact lines from the file)\n=======\n(replacement lines)\n>>>>>>> UPDATED\n")
	}

	return sb.String()
}
