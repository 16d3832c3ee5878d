// Package httpapi is the HTTP Callback & Control Surface: the agent CLI's
// four status callbacks, the operator-facing control endpoints that
// enqueue driver tasks, and the WebSocket feed a dashboard subscribes to.
// It never contains control-flow logic of its own — every handler is a
// thin adapter from an HTTP verb onto a store read or a Driver call.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/planexec/executor/internal/executor"
	"github.com/planexec/executor/internal/store"
)

// MaxPayloadSize bounds every request body this surface decodes.
const MaxPayloadSize = 1 * 1024 * 1024 // 1MB

func limitRequestSize(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxPayloadSize)
}

// NewRouter builds the full route table. hub may be nil, in which case
// /ws responds 503.
func NewRouter(s *store.Store, d *executor.Driver, hub *Hub) *mux.Router {
	cb := &CallbackHandler{Store: s, Driver: d}
	ctl := &ControlHandler{Store: s, Driver: d}

	r := mux.NewRouter()

	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/status-callback", cb.HandleStatus).Methods(http.MethodPost)
	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/blocker-callback", cb.HandleBlocker).Methods(http.MethodPost)
	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/summary-callback", cb.HandleSummary).Methods(http.MethodPost)
	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/evaluation-callback", cb.HandleEvaluation).Methods(http.MethodPost)

	r.HandleFunc("/blueprints/{bid}/run", ctl.HandleRunAll).Methods(http.MethodPost)
	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/run", ctl.HandleRun).Methods(http.MethodPost)
	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/reevaluate", ctl.HandleReevaluate).Methods(http.MethodPost)
	r.HandleFunc("/executions/{eid}/resume", ctl.HandleResume).Methods(http.MethodPost)
	r.HandleFunc("/blueprints/{bid}/nodes/{nid}/split", ctl.HandleSplit).Methods(http.MethodPost)

	r.HandleFunc("/queue", ctl.HandleQueue).Methods(http.MethodGet)
	r.HandleFunc("/healthz", ctl.HandleHealthz).Methods(http.MethodGet)

	if hub != nil {
		r.HandleFunc("/ws", hub.HandleWebSocket).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "event bus unavailable", http.StatusServiceUnavailable)
		})
	}

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}
