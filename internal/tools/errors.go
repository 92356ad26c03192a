package tools

import (
	"encoding/json"
	"fmt"
)

// ValidationError means the model supplied malformed or unusable
// parameters. It is terminal for the call and never reaches execution; the
// message goes back to the model so it can self-correct.
type ValidationError struct {
	Message string
	Details map[string]any
}

func (e *ValidationError) Error() string { return e.Message }

// ExecutionError means the tool ran and failed (missing file, process
// exit, network failure). Terminal for the call, surfaced to the model as
// the tool's result text; never aborts the loop.
type ExecutionError struct {
	Message string
	Details map[string]any
}

func (e *ExecutionError) Error() string { return e.Message }

// Invalidf builds a formatted validation error.
func Invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Execf builds a formatted execution error.
func Execf(format string, args ...any) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}

// FormatError renders an error as the JSON payload sent back to the model.
func FormatError(err error) string {
	payload := map[string]any{
		"success": false,
		"error":   err.Error(),
	}
	switch e := err.(type) {
	case *ValidationError:
		for k, v := range e.Details {
			payload[k] = v
		}
	case *ExecutionError:
		for k, v := range e.Details {
			payload[k] = v
		}
	}
	data, marshalErr := json.MarshalIndent(payload, "", "  ")
	if marshalErr != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return string(data)
}
