// Package cli assembles px's cobra command tree: one internal/pxctx.Context
// per invocation, global flags shared across the tree, and the
// ExecutionOutcome/JSON envelope contract every command reports through
// (spec.md §6.2), grounded on the teacher's cmd/root.go command-tree shape
// and cmd/func/main.go's signal handling.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/px-dev/px/internal/pxerr"
)

// outcome is the JSON envelope every command reports through (spec.md
// §6.2): {status, message, details}.
type outcome struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func okOutcome(message string, details map[string]any) outcome {
	return outcome{Status: "ok", Message: message, Details: details}
}

func errOutcome(err error) outcome {
	if pe, ok := err.(*pxerr.Error); ok {
		details := pe.Details
		if details == nil {
			details = map[string]any{}
		}
		details["reason"] = pe.Reason
		details["code"] = string(pe.Code)
		if pe.Hint != "" {
			details["hint"] = pe.Hint
		}
		status := "error"
		if pe.Disposition == pxerr.User {
			status = "user-error"
		}
		return outcome{Status: status, Message: pe.Error(), Details: details}
	}
	return outcome{Status: "error", Message: err.Error()}
}

// exitCode maps an error to px's exit-code contract (spec.md §6.2): 0 on
// success, 2 on user-error, 1 on any other (operational) failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if pe, ok := err.(*pxerr.Error); ok && pe.Disposition == pxerr.User {
		return 2
	}
	return 1
}

// report renders o to w as JSON (--json) or as a plain human-readable line.
func report(w io.Writer, o outcome, jsonOut bool) {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(o)
		return
	}
	fmt.Fprintln(w, o.Message)
}
