// Package tools defines the tool contract, the registry, and the invocation
// gateway that walks every model-proposed tool call through its lifecycle.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is the contract every agent tool implements. Validate is a pure
// parsing/normalization step; a failure there is terminal and the call
// never executes. Execute honors ctx cancellation. Stringify turns the
// structured result into the plain text the model receives.
type Tool interface {
	// Name returns the tool identifier (e.g., "edit_file", "run_command")
	Name() string

	// Description returns a human-readable description for the LLM
	Description() string

	// JSONSchema returns the OpenAI-compatible function schema
	JSONSchema() map[string]any

	// RequiresApproval reports whether the call pauses for a human
	// decision before executing. Static per tool kind; the global
	// pre-authorization override is applied by the gateway.
	RequiresApproval() bool

	// Validate parses raw parameters into the tool's typed params.
	Validate(raw json.RawMessage) (any, error)

	// Execute runs the tool with validated params.
	Execute(ctx context.Context, params any) (any, error)

	// Stringify serializes a successful result for model consumption.
	Stringify(params, result any) (string, error)
}

// FileMutator is implemented by tools that rewrite files. The gateway runs
// the lazy pre-edit capture for every reported path before Execute.
type FileMutator interface {
	MutatedPaths(params any) []string
}

// stringifyJSON is the common Stringify implementation: indent-marshal the
// structured result.
func stringifyJSON(result any) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
