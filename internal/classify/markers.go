// Package classify implements the output-marker parsing and
// failure-taxonomy classification the Execution Driver applies when no
// evaluation callback has arrived to settle a node's outcome directly.
package classify

import (
	"strings"
)

// Markers recognized in agent stdout, per the executor's callback contract.
const (
	MarkerTaskComplete  = "===TASK_COMPLETE==="
	MarkerEndTask       = "===END_TASK==="
	MarkerBlocker       = "===EXECUTION_BLOCKER==="
	MarkerBlockerLegacy = "---BLOCKER---" // legacy alias, treated identically
)

// HungOutputThreshold is the stdout length below which, absent any other
// signal, an exited-cleanly process is classified as hung rather than done.
const HungOutputThreshold = 50

// ExtractTaskComplete finds the last-occurring TASK_COMPLETE/END_TASK pair
// and returns the summary text between them. Only the last pair counts,
// so an agent that second-guesses itself mid-run is read by its final word.
func ExtractTaskComplete(output string) (summary string, ok bool) {
	endIdx := strings.LastIndex(output, MarkerEndTask)
	if endIdx == -1 {
		return "", false
	}
	startIdx := strings.LastIndex(output[:endIdx], MarkerTaskComplete)
	if startIdx == -1 {
		return "", false
	}
	body := output[startIdx+len(MarkerTaskComplete) : endIdx]
	return strings.TrimSpace(body), true
}

// ExtractBlocker finds a line starting with either the current or the
// legacy blocker marker and returns everything after it (marker line
// remainder plus any following lines, since blocker payloads are
// frequently multi-line JSON) as the raw blocker payload.
func ExtractBlocker(output string) (payload string, ok bool) {
	for _, marker := range []string{MarkerBlocker, MarkerBlockerLegacy} {
		lines := strings.Split(output, "\n")
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimLeft(line, " \t"), marker) {
				rest := strings.TrimPrefix(strings.TrimLeft(line, " \t"), marker)
				tail := append([]string{rest}, lines[i+1:]...)
				return strings.TrimSpace(strings.Join(tail, "\n")), true
			}
		}
	}
	return "", false
}

// StripEchoedPrompt is the deprecated fallback heuristic: take the
// substring after the last of several known echo markers, or failing
// that, the last 60% of the output. It exists only for parity with the
// legacy behavior it replaces and must stay behind the EnableEchoStrip
// flag — its cutoff point was never verified against real agent output.
func StripEchoedPrompt(output string) string {
	echoMarkers := []string{"Assistant:", "### Response", "---"}
	cut := -1
	for _, m := range echoMarkers {
		if idx := strings.LastIndex(output, m); idx != -1 && idx+len(m) > cut {
			cut = idx + len(m)
		}
	}
	if cut != -1 && cut < len(output) {
		return strings.TrimSpace(output[cut:])
	}
	start := int(float64(len(output)) * 0.4)
	if start >= len(output) {
		return output
	}
	return strings.TrimSpace(output[start:])
}
