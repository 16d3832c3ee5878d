// Package model defines the persisted entities the executor operates on:
// blueprints, their macro-nodes, the artifacts nodes hand off to each
// other, and the node executions that attempted to produce them.
package model

import (
	"encoding/json"
	"time"
)

// BlueprintStatus is the lifecycle state of a blueprint.
type BlueprintStatus string

const (
	BlueprintDraft    BlueprintStatus = "draft"
	BlueprintApproved BlueprintStatus = "approved"
	BlueprintRunning  BlueprintStatus = "running"
	BlueprintPaused   BlueprintStatus = "paused"
	BlueprintDone     BlueprintStatus = "done"
	BlueprintFailed   BlueprintStatus = "failed"
)

// NodeStatus is the lifecycle state of a MacroNode.
type NodeStatus string

const (
	NodePending  NodeStatus = "pending"
	NodeQueued   NodeStatus = "queued"
	NodeRunning  NodeStatus = "running"
	NodeDone     NodeStatus = "done"
	NodeFailed   NodeStatus = "failed"
	NodeBlocked  NodeStatus = "blocked"
	NodeSkipped  NodeStatus = "skipped"
)

// Admissible dependency statuses for lenient (queue-time) admission: any
// status except failed/blocked permits a dependent to be enqueued.
var admissionBlockers = map[NodeStatus]bool{
	NodeFailed:  true,
	NodeBlocked: true,
}

// AdmissionBlocks reports whether a dependency in this status blocks
// lenient admission of its dependent.
func (s NodeStatus) AdmissionBlocks() bool { return admissionBlockers[s] }

// SatisfiesStrict reports whether a dependency in this status satisfies
// strict (execution-time) dependency checking.
func (s NodeStatus) SatisfiesStrict() bool {
	return s == NodeDone || s == NodeSkipped
}

// ArtifactType classifies the content of an Artifact.
type ArtifactType string

const (
	ArtifactHandoffSummary ArtifactType = "handoff_summary"
	ArtifactFileDiff       ArtifactType = "file_diff"
	ArtifactTestReport     ArtifactType = "test_report"
	ArtifactCustom         ArtifactType = "custom"
)

// ExecutionType distinguishes the reason a NodeExecution exists.
type ExecutionType string

const (
	ExecPrimary      ExecutionType = "primary"
	ExecRetry        ExecutionType = "retry"
	ExecContinuation ExecutionType = "continuation"
	ExecSubtask      ExecutionType = "subtask"
)

// ExecutionStatus is the lifecycle state of a NodeExecution.
type ExecutionStatus string

const (
	ExecStatusRunning   ExecutionStatus = "running"
	ExecStatusDone      ExecutionStatus = "done"
	ExecStatusFailed    ExecutionStatus = "failed"
	ExecStatusCancelled ExecutionStatus = "cancelled"
)

// FailureReason is the taxonomy from the failure-classification design.
// Precedence when signals conflict: OutputTokenLimit > ContextExhausted >
// Timeout > Error.
type FailureReason string

const (
	FailureTimeout           FailureReason = "timeout"
	FailureOutputTokenLimit  FailureReason = "output_token_limit"
	FailureContextExhausted  FailureReason = "context_exhausted"
	FailureHung              FailureReason = "hung"
	FailureError             FailureReason = "error"
)

// Blueprint is a DAG of MacroNodes belonging to one project.
type Blueprint struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	ProjectDir  string          `json:"project_dir,omitempty"`
	AgentType   string          `json:"agent_type,omitempty"`
	Status      BlueprintStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MacroNode is one step of a blueprint, executed by one agent run.
type MacroNode struct {
	ID                string     `json:"id"`
	BlueprintID       string     `json:"blueprint_id"`
	Order             int        `json:"order"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Prompt            string     `json:"prompt,omitempty"`
	Dependencies      []string   `json:"dependencies,omitempty"`
	Status            NodeStatus `json:"status"`
	Error             string     `json:"error,omitempty"`
	AgentType         string     `json:"agent_type,omitempty"`
	EstimatedMinutes  *int       `json:"estimated_minutes,omitempty"`
	ActualMinutes     *int       `json:"actual_minutes,omitempty"`
	SkipReason        string     `json:"skip_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DependsOn reports whether id appears in the node's dependency set.
func (n *MacroNode) DependsOn(id string) bool {
	for _, d := range n.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// ReplaceDependency swaps one dependency id for another, used by
// INSERT_BETWEEN and SPLIT mutations. No-op if old is not present.
func (n *MacroNode) ReplaceDependency(old, new string) {
	for i, d := range n.Dependencies {
		if d == old {
			n.Dependencies[i] = new
			return
		}
	}
}

// AddDependency appends a dependency id if not already present.
func (n *MacroNode) AddDependency(id string) {
	if n.DependsOn(id) {
		return
	}
	n.Dependencies = append(n.Dependencies, id)
}

// Artifact is a textual handoff produced by a completed node.
type Artifact struct {
	ID           string       `json:"id"`
	BlueprintID  string       `json:"blueprint_id"`
	SourceNodeID string       `json:"source_node_id"`
	TargetNodeID string       `json:"target_node_id,omitempty"`
	Type         ArtifactType `json:"type"`
	Content      string       `json:"content"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Targeted reports whether the artifact names a specific downstream node.
func (a *Artifact) Targeted() bool { return a.TargetNodeID != "" }

// NodeExecution is one attempt at running a node.
type NodeExecution struct {
	ID                  string          `json:"id"`
	NodeID              string          `json:"node_id"`
	BlueprintID         string          `json:"blueprint_id"`
	SessionID           string          `json:"session_id,omitempty"`
	Type                ExecutionType   `json:"type"`
	Status              ExecutionStatus `json:"status"`
	InputContext        string          `json:"input_context,omitempty"`
	OutputSummary       string          `json:"output_summary,omitempty"`
	CLIPid              *int            `json:"cli_pid,omitempty"`
	ParentExecutionID   string          `json:"parent_execution_id,omitempty"`
	BlockerInfo         json.RawMessage `json:"blocker_info,omitempty"`
	TaskSummary         string          `json:"task_summary,omitempty"`
	FailureReason       FailureReason   `json:"failure_reason,omitempty"`
	FailureDetail       string          `json:"failure_detail,omitempty"`
	ReportedStatus      string          `json:"reported_status,omitempty"`
	ReportedReason      string          `json:"reported_reason,omitempty"`
	CompactionCount     int             `json:"compaction_count,omitempty"`
	PeakTokens          int             `json:"peak_tokens,omitempty"`
	ContextPressure     string          `json:"context_pressure,omitempty"`
	StartedAt           time.Time       `json:"started_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// IsRunning reports whether the execution has not yet reached a terminal status.
func (e *NodeExecution) IsRunning() bool { return e.Status == ExecStatusRunning }

// RelatedSession denormalizes a non-primary agent session for UI display.
// Never used for control flow.
type RelatedSession struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Kind      string    `json:"kind"` // enrich, reevaluate, split, evaluate, generate
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BlueprintGraph is the batch-loaded shape for one blueprint: all of its
// nodes together with their artifacts and executions, assembled by the
// store's three-query loader to avoid N+1 queries.
type BlueprintGraph struct {
	Blueprint  Blueprint
	Nodes      []*MacroNode
	Artifacts  []*Artifact
	Executions []*NodeExecution
}

// NodeByID returns the node with the given id, or nil.
func (g *BlueprintGraph) NodeByID(id string) *MacroNode {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Dependents returns the nodes that list id as a dependency, in display order.
func (g *BlueprintGraph) Dependents(id string) []*MacroNode {
	var out []*MacroNode
	for _, n := range g.Nodes {
		if n.DependsOn(id) {
			out = append(out, n)
		}
	}
	return out
}
