package classify

import (
	"strings"

	"github.com/planexec/executor/internal/model"
)

// signal text this classifier scans for, case-insensitively.
var (
	outputTokenLimitSignals = []string{"exceeded", "output token maximum"}
	contextExhaustedSignals = []string{
		"context window", "conversation is too long", "max_tokens_exceeded", "context_exhausted",
	}
	timeoutSignals = []string{"signal: terminated", "etimedout", "deadline exceeded", "sigterm"}
)

func containsAll(haystack string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// Failure classifies a failed execution's failure_reason and detail text.
// Precedence when signals conflict: output_token_limit > context_exhausted
// > timeout > error.
func Failure(exitErrText, stdout string, timedOut bool) (model.FailureReason, string) {
	combined := strings.ToLower(exitErrText + "\n" + stdout)

	if containsAll(combined, outputTokenLimitSignals) {
		return model.FailureOutputTokenLimit, "exceeded output token maximum"
	}
	if containsAny(combined, contextExhaustedSignals) {
		return model.FailureContextExhausted, firstMatch(combined, contextExhaustedSignals)
	}
	if timedOut || containsAny(combined, timeoutSignals) {
		return model.FailureTimeout, "subprocess exceeded its wall-clock budget"
	}
	if exitErrText == "" {
		exitErrText = "agent exited with a non-success status"
	}
	return model.FailureError, exitErrText
}

func firstMatch(haystack string, needles []string) string {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n
		}
	}
	return ""
}

// IsHung reports whether a cleanly-exited process with no detected
// session file and short stdout should be classified as hung rather than
// succeeded.
func IsHung(stdout string, sessionDetected bool) bool {
	return !sessionDetected && len(strings.TrimSpace(stdout)) < HungOutputThreshold
}
