package server

import (
	"encoding/json"
	"net/http"

	"github.com/destinyhacking/app/backend/internal/errors"
	"github.com/destinyhacking/app/backend/internal/models"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    errors.ErrorCode `json:"code"`
		Message string           `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error's code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrInvalid, errors.ErrValidation, errors.ErrInvalidPayload, errors.ErrUnknownActionType:
		status = http.StatusBadRequest
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrOffline:
		status = http.StatusServiceUnavailable
	case errors.ErrDrainInProgress:
		status = http.StatusConflict
	}

	var body errorBody
	body.Error.Code = code
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.scheduler.IsOnline(),
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.GetStatus(r.Context()))
}

// handleQueue handles GET /api/queue (list) and POST /api/queue (enqueue).
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		pending, err := s.queue.ListPending(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if pending == nil {
			pending = []models.QueuedAction{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"pending": pending,
			"count":   len(pending),
		})
		return
	}

	var request struct {
		Type    models.ActionType `json:"type"`
		Payload json.RawMessage   `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if len(request.Payload) == 0 {
		writeError(w, errors.New(errors.ErrInvalidPayload, "payload is required"))
		return
	}

	id, err := s.queue.EnqueueRaw(r.Context(), request.Type, request.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

// handleDrain handles POST /api/queue/drain
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	result, err := s.scheduler.DrainNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Skipped {
		writeError(w, errors.New(errors.ErrDrainInProgress, "a drain is already running"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleConnectivity handles POST /api/connectivity, the host's online/offline signal.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Online == nil {
		writeError(w, errors.New(errors.ErrInvalid, `body must be {"online": true|false}`))
		return
	}

	was := s.scheduler.IsOnline()
	s.scheduler.SetOnlineStatus(*request.Online)
	if was != *request.Online {
		s.hub.BroadcastConnectivity(*request.Online)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": *request.Online})
}

// handleCycles handles GET /api/cycles (list) and POST /api/cycles (record a phase).
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		records, err := s.cycles.Records(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if records == nil {
			records = []models.DailyCycleRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
		return
	}

	var request models.DailyCycleUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	result, err := s.cycles.RecordPhase(r.Context(), request.CycleDate, request.Phase, request.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleStreak handles GET /api/streak
func (s *Server) handleStreak(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	summary, err := s.cycles.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGrace handles GET /api/grace?date=YYYY-MM-DD
func (s *Server) handleGrace(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	status, err := s.cycles.Grace(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
