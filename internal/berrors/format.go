package berrors

import (
	"fmt"
	"strings"
)

// FormatForCLI renders an error for the status/operator tools: concise,
// with the Kind surfaced so a human can grep logs for it.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	be, ok := err.(*BrainshapeError)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", be.Message)
	fmt.Fprintf(&sb, "  Kind: %s\n", be.Kind)
	for k, v := range be.Details {
		fmt.Fprintf(&sb, "  %s: %s\n", k, v)
	}
	return sb.String()
}

// FormatForLog turns an error into slog-friendly attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	be, ok := err.(*BrainshapeError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}
	out := map[string]any{
		"kind":      string(be.Kind),
		"message":   be.Message,
		"severity":  string(be.Severity),
		"retryable": be.Retryable,
	}
	if be.Cause != nil {
		out["cause"] = be.Cause.Error()
	}
	for k, v := range be.Details {
		out["detail_"+k] = v
	}
	return out
}
