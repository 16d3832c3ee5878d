package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/planexec/executor/internal/executor"
	"github.com/planexec/executor/internal/mutation"
	"github.com/planexec/executor/internal/store"
)

// CallbackHandler serves the four endpoints the agent CLI's output-text
// markers get proxied through when a protocol-aware harness posts them
// live instead of leaving them for end-of-run classification.
type CallbackHandler struct {
	Store  *store.Store
	Driver *executor.Driver
}

// currentExecution resolves the node's current running execution. A node with
// no running execution (already finished, or the callback arrived late)
// is treated as a successful no-op per the idempotency requirement in §6.
func (h *CallbackHandler) currentExecution(w http.ResponseWriter, nodeID string) (string, bool) {
	exec, err := h.Store.LatestRunningExecution(nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		w.WriteHeader(http.StatusOK)
		return "", false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load execution")
		return "", false
	}
	return exec.ID, true
}

// HandleStatus records the agent's self-reported status and reason.
func (h *CallbackHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	nodeID := mux.Vars(r)["nid"]

	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	execID, ok := h.currentExecution(w, nodeID)
	if !ok {
		return
	}
	if err := h.Store.SetReportedStatus(execID, body.Status, body.Reason); err != nil {
		respondError(w, http.StatusInternalServerError, "record status")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleBlocker records a structured blocker payload against the node's
// running execution.
func (h *CallbackHandler) HandleBlocker(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	nodeID := mux.Vars(r)["nid"]

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body")
		return
	}
	if !json.Valid(raw) {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	execID, ok := h.currentExecution(w, nodeID)
	if !ok {
		return
	}
	if err := h.Store.SetBlockerInfo(execID, string(raw)); err != nil {
		respondError(w, http.StatusInternalServerError, "record blocker")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleSummary records the agent's free-text task summary.
func (h *CallbackHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	nodeID := mux.Vars(r)["nid"]

	var body struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	execID, ok := h.currentExecution(w, nodeID)
	if !ok {
		return
	}
	if err := h.Store.SetTaskSummary(execID, body.Summary); err != nil {
		respondError(w, http.StatusInternalServerError, "record summary")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleEvaluation hands the agent's self-evaluation body off to whichever
// run/reevaluate task is waiting on it, via the driver's evaluation inbox.
// This callback is not idempotent against the inbox itself — the inbox's
// last-write-wins Record absorbs a duplicate harmlessly.
func (h *CallbackHandler) HandleEvaluation(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	nodeID := mux.Vars(r)["nid"]

	var eval mutation.Evaluation
	if err := json.NewDecoder(r.Body).Decode(&eval); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	h.Driver.RecordEvaluation(nodeID, eval)
	w.WriteHeader(http.StatusOK)
}
