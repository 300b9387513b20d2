// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// PrintChecklist prints step results as a human-readable checklist.
// Warnings are summarized at the bottom so the operator can tell
// best-effort failures apart from the run outcome.
func PrintChecklist(w io.Writer, results []Result) {
	warnCount := 0
	failed := false

	for _, result := range results {
		prefix := strings.ToUpper(string(result.Status))
		fmt.Fprintf(w, "[%-4s]  %-36s  %s\n", prefix, result.Name, result.Message)
		switch result.Status {
		case StatusWarn:
			warnCount++
		case StatusFail:
			failed = true
		}
	}

	fmt.Fprintln(w)
	switch {
	case failed:
		fmt.Fprintln(w, "Run aborted. Re-run after resolving the failure, or run teardown for a full reset.")
	case warnCount > 0:
		fmt.Fprintf(w, "Completed with %d warning(s).\n", warnCount)
	default:
		fmt.Fprintln(w, "All steps completed.")
	}
}

// JSONOutput is the machine-readable result document.
type JSONOutput struct {
	Steps []Result `json:"steps"`
	OK    bool     `json:"ok"`
}

// WriteJSON writes results as indented JSON. OK is true when no step
// failed; warnings do not clear it.
func WriteJSON(w io.Writer, results []Result) error {
	ok := true
	for _, result := range results {
		if result.Status == StatusFail {
			ok = false
			break
		}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(JSONOutput{Steps: results, OK: ok})
}
