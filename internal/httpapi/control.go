package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/planexec/executor/internal/executor"
	"github.com/planexec/executor/internal/mutation"
	"github.com/planexec/executor/internal/store"
)

// ControlHandler serves the operator-facing endpoints: enqueue a task,
// inspect the queue, or probe liveness. Every handler resolves its path
// parameters and hands off to the driver; none of them contain scheduling
// logic of their own.
type ControlHandler struct {
	Store  *store.Store
	Driver *executor.Driver
}

// HandleRun enqueues a single node's run task.
func (h *ControlHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := h.Driver.Run(vars["bid"], vars["nid"]); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleRunAll triggers a topologically-ordered batch run of every
// admissible pending node in the blueprint.
func (h *ControlHandler) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	bid := mux.Vars(r)["bid"]
	if err := h.Driver.RunAll(bid); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleReevaluate enqueues a node re-evaluation task.
func (h *ControlHandler) HandleReevaluate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := h.Driver.Reevaluate(vars["bid"], vars["nid"]); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleResume enqueues a resume task for a failed execution with a still
// -viable session.
func (h *ControlHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	eid := mux.Vars(r)["eid"]
	exec, err := h.Store.GetExecution(eid)
	if err != nil {
		respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	if _, err := h.Driver.Resume(exec.BlueprintID, eid); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleSplit replaces a pending node with an operator-supplied chain.
func (h *ControlHandler) HandleSplit(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	vars := mux.Vars(r)

	var body struct {
		Chain []mutation.NewNodeSpec `json:"chain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}

	ids, err := h.Driver.Mutation.Split(vars["bid"], vars["nid"], body.Chain)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"node_ids": ids})
}

// HandleQueue reports global queue state for the dashboard this spec does
// not build but whose API contract it honors.
func (h *ControlHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Driver.Queue.GetGlobalQueueInfo())
}

// HandleHealthz is a liveness probe with no dependency checks.
func (h *ControlHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
