package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
)

const maxResultBytes = 8 << 20

// HandleJobs lets the analysis pipeline drive the result panel:
//   - GET returns the current loading flag and result as JSON;
//   - POST marks a new job as in flight, showing the busy indicator;
//   - DELETE clears the job, hiding the panel.
func (m Main) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.writeJSON(w, m.state.Snapshot())
	case http.MethodPost:
		m.state.Begin()
		w.WriteHeader(http.StatusAccepted)
	case http.MethodDelete:
		m.state.Reset()
		w.WriteHeader(http.StatusNoContent)
	default:
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleJobResult receives the finished job's timeline and summary as JSON and shows them.
func (m Main) HandleJobResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var result models.Result
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResultBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		m.logger.Error().Err(err).Msg("Failed to decode result")
		http.Error(w, "Invalid result: "+err.Error(), http.StatusBadRequest)
		return
	}

	m.state.Complete(result)
	w.WriteHeader(http.StatusNoContent)
}

// HandleTranscript lists the archived exchanges of every session as JSON. It answers 404 when no
// archive is configured.
func (m Main) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.archive == nil {
		http.Error(w, "Transcript archive is disabled", http.StatusNotFound)
		return
	}

	exchanges, err := m.archive.Exchanges(r.Context())
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list exchanges")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if exchanges == nil {
		exchanges = []models.Exchange{}
	}
	m.writeJSON(w, exchanges)
}

func (m Main) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
