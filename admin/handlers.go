package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/coordinator"
	"github.com/burrowdb/burrow/db"
)

// Handlers serves the HTTP surface over one database coordinator.
type Handlers struct {
	coord   *coordinator.Coordinator
	session *db.Session
}

// NewHandlers creates the handler set for the given coordinator.
func NewHandlers(coord *coordinator.Coordinator, session *db.Session) *Handlers {
	return &Handlers{coord: coord, session: session}
}

// statementRequest is the POST /v1/statement payload.
type statementRequest struct {
	Statement     string `json:"statement"`
	AgentID       string `json:"agentId,omitempty"`
	ReadOnly      bool   `json:"readOnly,omitempty"`
	MultiAgent    bool   `json:"multiAgent,omitempty"`
	MaxRetries    int    `json:"maxRetries,omitempty"`
	LockTimeoutMS int64  `json:"lockTimeoutMs,omitempty"`
}

// handleStatement runs one statement string through the coordinator.
func (h *Handlers) handleStatement(w http.ResponseWriter, r *http.Request) {
	var req statementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Statement == "" {
		writeErrorResponse(w, http.StatusBadRequest, "statement is required")
		return
	}

	result, serr := h.coord.Handle(r.Context(), req.Statement, requestOptions(req))
	if serr != nil {
		writeStructuredError(w, serr)
		return
	}

	response := map[string]interface{}{}
	if result.Batch != nil {
		response["batch"] = result.Batch
	} else {
		response["rows"] = result.Rows
	}
	writeJSONResponse(w, response)
}

// requestOptions seeds execution options from server configuration and lets
// per-request values override. Restrictive server modes (read-only,
// multi-agent locking) cannot be disabled by a request.
func requestOptions(req statementRequest) coordinator.Options {
	opts := coordinator.Options{
		ReadOnly:    cfg.Config.Database.ReadOnly || req.ReadOnly,
		MultiAgent:  cfg.Config.Execution.MultiAgent || req.MultiAgent,
		AgentID:     req.AgentID,
		MaxRetries:  cfg.Config.Execution.MaxRetries,
		LockTimeout: time.Duration(cfg.Config.Execution.LockTimeoutMS) * time.Millisecond,
	}
	if req.MaxRetries > 0 {
		opts.MaxRetries = req.MaxRetries
	}
	if req.LockTimeoutMS > 0 {
		opts.LockTimeout = time.Duration(req.LockTimeoutMS) * time.Millisecond
	}
	return opts
}

// handleLock reports the current write lock holder, if any.
func (h *Handlers) handleLock(w http.ResponseWriter, r *http.Request) {
	record := h.coord.Locks().Current()
	if record == nil {
		writeJSONResponse(w, map[string]interface{}{"held": false})
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"held": true,
		"lock": record,
	})
}

// handleHealth validates the underlying connection with a canary probe.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.session.Valid(r.Context()) {
		writeErrorResponse(w, http.StatusServiceUnavailable, "database connection unhealthy")
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"status": "ok",
		"path":   h.session.Path(),
	})
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeStructuredError maps a coordinator error to an HTTP status and
// returns the structured payload verbatim.
func writeStructuredError(w http.ResponseWriter, serr *coordinator.StructuredError) {
	status := http.StatusInternalServerError
	switch serr.Kind {
	case coordinator.KindUnsupportedPattern, coordinator.KindReadOnlyViolation:
		status = http.StatusBadRequest
	case coordinator.KindLockTimeout:
		status = http.StatusConflict
	case coordinator.KindConnectionRecoveryFailed:
		status = http.StatusServiceUnavailable
	case coordinator.KindStatementError, coordinator.KindAllStatementsFailed:
		status = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(serr); err != nil {
		log.Error().Err(err).Msg("Failed to encode structured error")
	}
}
