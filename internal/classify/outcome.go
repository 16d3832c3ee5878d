package classify

import (
	"strings"

	"github.com/planexec/executor/internal/model"
)

// Signals bundles everything the outcome resolver needs to know about one
// finished subprocess invocation, gathered from the callback endpoints (if
// any fired), the detected session state, and the captured stdout.
type Signals struct {
	ReportedStatus  string // "", "done", "failed", "blocked" — from the status callback
	ReportedReason  string
	BlockerInfo     string // non-empty if the blocker callback fired
	Stdout          string
	ExitErrText     string
	TimedOut        bool
	SessionDetected bool
	EnableEchoStrip bool
}

// Outcome is the resolved node result.
type Outcome struct {
	Status        model.NodeStatus
	Summary       string
	BlockerDetail string
	FailureReason model.FailureReason
	FailureDetail string
}

// ResolveOutcome applies the precedence rules from the Execution Driver's
// outcome-inference step: an explicit status callback wins outright;
// absent one, blocker_info JSON beats a stdout blocker marker beats a
// TASK_COMPLETE block beats a hung-output check beats the done default.
func ResolveOutcome(s Signals) Outcome {
	switch s.ReportedStatus {
	case "done":
		return Outcome{Status: model.NodeDone, Summary: completionSummary(s)}
	case "blocked":
		return Outcome{Status: model.NodeBlocked, BlockerDetail: s.ReportedReason}
	case "failed":
		reason, detail := Failure(s.ExitErrText, s.Stdout, s.TimedOut)
		return Outcome{Status: model.NodeFailed, FailureReason: reason, FailureDetail: detail}
	}

	if s.BlockerInfo != "" {
		return Outcome{Status: model.NodeBlocked, BlockerDetail: s.BlockerInfo}
	}

	if payload, ok := ExtractBlocker(s.Stdout); ok {
		return Outcome{Status: model.NodeBlocked, BlockerDetail: payload}
	}

	if summary, ok := ExtractTaskComplete(s.Stdout); ok {
		return Outcome{Status: model.NodeDone, Summary: summary}
	}

	if IsHung(s.Stdout, s.SessionDetected) {
		return Outcome{Status: model.NodeFailed, FailureReason: model.FailureHung, FailureDetail: "subprocess produced no session and under 50 chars of output"}
	}

	if s.ExitErrText != "" {
		reason, detail := Failure(s.ExitErrText, s.Stdout, s.TimedOut)
		return Outcome{Status: model.NodeFailed, FailureReason: reason, FailureDetail: detail}
	}

	return Outcome{Status: model.NodeDone, Summary: completionSummary(s)}
}

// completionSummary builds the handoff summary text when no explicit
// TASK_COMPLETE block was found but the run is nonetheless being treated
// as successful (an explicit "done" status callback, or a long-enough
// output with no error).
func completionSummary(s Signals) string {
	if summary, ok := ExtractTaskComplete(s.Stdout); ok {
		return summary
	}
	if s.EnableEchoStrip {
		return StripEchoedPrompt(s.Stdout)
	}
	return strings.TrimSpace(s.Stdout)
}
