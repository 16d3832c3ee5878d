package executor

import "github.com/planexec/executor/internal/agent"

// agentRunOptions builds the RunOptions shared by every subprocess
// invocation the driver makes (run, resume, reevaluate).
func agentRunOptions(prompt, cwd string, flags Flags, onPID func(pid int)) agent.RunOptions {
	return agent.RunOptions{
		Prompt:  prompt,
		Cwd:     cwd,
		Timeout: flags.timeout(),
		OnPID:   onPID,
	}
}
