package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planexec/executor/internal/model"
)

// CreateExecution inserts a new running execution row.
func (s *Store) CreateExecution(e *model.NodeExecution) error {
	if e.ID == "" {
		e.ID = NewExecutionID()
	}
	if e.Status == "" {
		e.Status = model.ExecStatusRunning
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO node_executions
			(id, node_id, blueprint_id, session_id, type, status, input_context, cli_pid,
			 parent_execution_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.NodeID, e.BlueprintID, nullString(e.SessionID), e.Type, e.Status,
		nullString(e.InputContext), nullInt(e.CLIPid), nullString(e.ParentExecutionID), e.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// SetExecutionPid records the subprocess pid once it has been spawned.
func (s *Store) SetExecutionPid(id string, pid int) error {
	_, err := s.db.Exec(`UPDATE node_executions SET cli_pid = ? WHERE id = ?`, pid, id)
	if err != nil {
		return fmt.Errorf("set pid for execution %s: %w", id, err)
	}
	return nil
}

// SetExecutionSession records the agent session id once it has been
// detected from the adapter's session discovery step.
func (s *Store) SetExecutionSession(id string, sessionID string) error {
	_, err := s.db.Exec(`UPDATE node_executions SET session_id = ? WHERE id = ?`, sessionID, id)
	if err != nil {
		return fmt.Errorf("set session for execution %s: %w", id, err)
	}
	return nil
}

// FinishExecution records the terminal outcome of an execution attempt.
func (s *Store) FinishExecution(e *model.NodeExecution) error {
	now := time.Now().UTC()
	e.CompletedAt = &now

	var blockerInfo sql.NullString
	if len(e.BlockerInfo) > 0 {
		blockerInfo = nullString(string(e.BlockerInfo))
	}

	_, err := s.db.Exec(`
		UPDATE node_executions SET
			status = ?, output_summary = ?, blocker_info = ?, task_summary = ?,
			failure_reason = ?, failure_detail = ?, reported_status = ?, reported_reason = ?,
			compaction_count = ?, peak_tokens = ?, context_pressure = ?, completed_at = ?
		WHERE id = ?`,
		e.Status, nullString(e.OutputSummary), blockerInfo, nullString(e.TaskSummary),
		nullString(string(e.FailureReason)), nullString(e.FailureDetail),
		nullString(e.ReportedStatus), nullString(e.ReportedReason),
		e.CompactionCount, e.PeakTokens, nullString(e.ContextPressure), e.CompletedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("finish execution %s: %w", e.ID, err)
	}
	return nil
}

// GetExecution loads one execution by id.
func (s *Store) GetExecution(id string) (*model.NodeExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, node_id, blueprint_id, session_id, type, status, input_context, output_summary,
		       cli_pid, parent_execution_id, blocker_info, task_summary, failure_reason,
		       failure_detail, reported_status, reported_reason, compaction_count, peak_tokens,
		       context_pressure, started_at, completed_at
		FROM node_executions WHERE id = ?`, id)
	return scanExecution(row)
}

func scanExecution(row *sql.Row) (*model.NodeExecution, error) {
	e := &model.NodeExecution{}
	var sessionID, inputContext, outputSummary, parentExecID, blockerInfo, taskSummary,
		failureReason, failureDetail, reportedStatus, reportedReason, contextPressure sql.NullString
	var cliPid sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&e.ID, &e.NodeID, &e.BlueprintID, &sessionID, &e.Type, &e.Status,
		&inputContext, &outputSummary, &cliPid, &parentExecID, &blockerInfo, &taskSummary,
		&failureReason, &failureDetail, &reportedStatus, &reportedReason, &e.CompactionCount,
		&e.PeakTokens, &contextPressure, &e.StartedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.SessionID = sessionID.String
	e.InputContext = inputContext.String
	e.OutputSummary = outputSummary.String
	e.ParentExecutionID = parentExecID.String
	e.TaskSummary = taskSummary.String
	e.FailureReason = model.FailureReason(failureReason.String)
	e.FailureDetail = failureDetail.String
	e.ReportedStatus = reportedStatus.String
	e.ReportedReason = reportedReason.String
	e.ContextPressure = contextPressure.String
	if blockerInfo.Valid && blockerInfo.String != "" {
		e.BlockerInfo = json.RawMessage(blockerInfo.String)
	}
	if cliPid.Valid {
		v := int(cliPid.Int64)
		e.CLIPid = &v
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

// LatestRunningExecution returns the current running execution for a node,
// the one the callback endpoints write onto. Returns sql.ErrNoRows if the
// node has no running execution — callers treat that as a stale or
// already-resolved callback and accept it idempotently.
func (s *Store) LatestRunningExecution(nodeID string) (*model.NodeExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, node_id, blueprint_id, session_id, type, status, input_context, output_summary,
		       cli_pid, parent_execution_id, blocker_info, task_summary, failure_reason,
		       failure_detail, reported_status, reported_reason, compaction_count, peak_tokens,
		       context_pressure, started_at, completed_at
		FROM node_executions WHERE node_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		nodeID, model.ExecStatusRunning)
	return scanExecution(row)
}

// SetReportedStatus records the status-callback body onto a node's
// currently running execution.
func (s *Store) SetReportedStatus(executionID, status, reason string) error {
	_, err := s.db.Exec(`UPDATE node_executions SET reported_status = ?, reported_reason = ? WHERE id = ?`,
		status, nullString(reason), executionID)
	if err != nil {
		return fmt.Errorf("set reported status for execution %s: %w", executionID, err)
	}
	return nil
}

// SetBlockerInfo records the blocker-callback body onto an execution.
func (s *Store) SetBlockerInfo(executionID, blockerJSON string) error {
	_, err := s.db.Exec(`UPDATE node_executions SET blocker_info = ? WHERE id = ?`, blockerJSON, executionID)
	if err != nil {
		return fmt.Errorf("set blocker info for execution %s: %w", executionID, err)
	}
	return nil
}

// SetTaskSummary records the summary-callback body onto an execution.
func (s *Store) SetTaskSummary(executionID, summary string) error {
	_, err := s.db.Exec(`UPDATE node_executions SET task_summary = ? WHERE id = ?`, summary, executionID)
	if err != nil {
		return fmt.Errorf("set task summary for execution %s: %w", executionID, err)
	}
	return nil
}

// RecentlyFailedRestartExecutions returns executions that failed within
// `within` of now whose output summary records a prior restart-induced
// failure, joined against their project cwd so the recovery subsystem can
// check session liveness before reverting them.
func (s *Store) RecentlyFailedRestartExecutions(within time.Duration) ([]*RunningExecution, error) {
	cutoff := time.Now().UTC().Add(-within)
	rows, err := s.db.Query(`
		SELECT ne.id, ne.node_id, ne.blueprint_id, ne.session_id, ne.cli_pid, ne.started_at,
		       b.project_dir
		FROM node_executions ne
		JOIN blueprints b ON b.id = ne.blueprint_id
		WHERE ne.status = ? AND ne.completed_at > ? AND ne.output_summary LIKE ?
		ORDER BY ne.started_at`, model.ExecStatusFailed, cutoff, "%Server restarted%")
	if err != nil {
		return nil, fmt.Errorf("list recently failed restart executions: %w", err)
	}
	defer rows.Close()

	var out []*RunningExecution
	for rows.Next() {
		re := &RunningExecution{}
		var sessionID sql.NullString
		var cliPid sql.NullInt64
		var projectDir sql.NullString
		if err := rows.Scan(&re.ExecutionID, &re.NodeID, &re.BlueprintID, &sessionID, &cliPid, &re.StartedAt, &projectDir); err != nil {
			return nil, fmt.Errorf("scan recently failed execution: %w", err)
		}
		re.SessionID = sessionID.String
		re.ProjectDir = projectDir.String
		if cliPid.Valid {
			v := int(cliPid.Int64)
			re.CLIPid = &v
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

// SessionOwnedByOther reports whether sessionID is already recorded
// against some execution other than excludeExecutionID, so the recovery
// subsystem never "steals" a session another execution is legitimately
// tracking.
func (s *Store) SessionOwnedByOther(sessionID, excludeExecutionID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM node_executions WHERE session_id = ? AND id != ?`,
		sessionID, excludeExecutionID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check session ownership for %s: %w", sessionID, err)
	}
	return count > 0, nil
}

// ReviveExecution reverts a failed execution (and, separately, its node)
// back to running, used only by the false-failure-reversion recovery
// step. It clears the terminal fields a prior FinishExecution wrote.
func (s *Store) ReviveExecution(executionID string) error {
	_, err := s.db.Exec(`
		UPDATE node_executions SET
			status = ?, output_summary = '', failure_reason = '', failure_detail = '', completed_at = NULL
		WHERE id = ?`, model.ExecStatusRunning, executionID)
	if err != nil {
		return fmt.Errorf("revive execution %s: %w", executionID, err)
	}
	return nil
}

// ExecutionsByBlueprint returns every execution attempt belonging to a
// blueprint's nodes, most recent first.
func (s *Store) ExecutionsByBlueprint(blueprintID string) ([]*model.NodeExecution, error) {
	rows, err := s.db.Query(`
		SELECT id, node_id, blueprint_id, session_id, type, status, input_context, output_summary,
		       cli_pid, parent_execution_id, blocker_info, task_summary, failure_reason,
		       failure_detail, reported_status, reported_reason, compaction_count, peak_tokens,
		       context_pressure, started_at, completed_at
		FROM node_executions WHERE blueprint_id = ? ORDER BY started_at DESC`, blueprintID)
	if err != nil {
		return nil, fmt.Errorf("list executions for blueprint %s: %w", blueprintID, err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// RunningExecutions returns every execution still in the running state,
// joined against its blueprint's project directory. The recovery
// subsystem uses this at startup to find work that was in flight when the
// process last stopped.
func (s *Store) RunningExecutions() ([]*RunningExecution, error) {
	rows, err := s.db.Query(`
		SELECT ne.id, ne.node_id, ne.blueprint_id, ne.session_id, ne.cli_pid, ne.started_at,
		       b.project_dir
		FROM node_executions ne
		JOIN blueprints b ON b.id = ne.blueprint_id
		WHERE ne.status = ?
		ORDER BY ne.started_at`, model.ExecStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running executions: %w", err)
	}
	defer rows.Close()

	var out []*RunningExecution
	for rows.Next() {
		re := &RunningExecution{}
		var sessionID sql.NullString
		var cliPid sql.NullInt64
		var projectDir sql.NullString
		if err := rows.Scan(&re.ExecutionID, &re.NodeID, &re.BlueprintID, &sessionID, &cliPid, &re.StartedAt, &projectDir); err != nil {
			return nil, fmt.Errorf("scan running execution: %w", err)
		}
		re.SessionID = sessionID.String
		re.ProjectDir = projectDir.String
		if cliPid.Valid {
			v := int(cliPid.Int64)
			re.CLIPid = &v
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

// RunningExecution is the crash-recovery projection of an in-flight
// execution: just enough to decide whether it is still alive and, if not,
// where to look for a late-arriving session file.
type RunningExecution struct {
	ExecutionID string
	NodeID      string
	BlueprintID string
	SessionID   string
	CLIPid      *int
	ProjectDir  string
	StartedAt   time.Time
}

func scanExecutionRows(rows *sql.Rows) ([]*model.NodeExecution, error) {
	var out []*model.NodeExecution
	for rows.Next() {
		e := &model.NodeExecution{}
		var sessionID, inputContext, outputSummary, parentExecID, blockerInfo, taskSummary,
			failureReason, failureDetail, reportedStatus, reportedReason, contextPressure sql.NullString
		var cliPid sql.NullInt64
		var completedAt sql.NullTime

		if err := rows.Scan(&e.ID, &e.NodeID, &e.BlueprintID, &sessionID, &e.Type, &e.Status,
			&inputContext, &outputSummary, &cliPid, &parentExecID, &blockerInfo, &taskSummary,
			&failureReason, &failureDetail, &reportedStatus, &reportedReason, &e.CompactionCount,
			&e.PeakTokens, &contextPressure, &e.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}

		e.SessionID = sessionID.String
		e.InputContext = inputContext.String
		e.OutputSummary = outputSummary.String
		e.ParentExecutionID = parentExecID.String
		e.TaskSummary = taskSummary.String
		e.FailureReason = model.FailureReason(failureReason.String)
		e.FailureDetail = failureDetail.String
		e.ReportedStatus = reportedStatus.String
		e.ReportedReason = reportedReason.String
		e.ContextPressure = contextPressure.String
		if blockerInfo.Valid && blockerInfo.String != "" {
			e.BlockerInfo = json.RawMessage(blockerInfo.String)
		}
		if cliPid.Valid {
			v := int(cliPid.Int64)
			e.CLIPid = &v
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
