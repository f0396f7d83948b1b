package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/joshdurbin/strava-stats/internal/logging"
	"github.com/joshdurbin/strava-stats/internal/service"
)

type envelope struct {
	Success bool             `json:"success"`
	Data    any              `json:"data,omitempty"`
	Error   *service.Failure `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("failed to write response", "error", err.Error())
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError classifies err and writes the failure envelope
func writeError(w http.ResponseWriter, err error) {
	f := service.Classify(err)
	writeFailure(w, f)
}

func writeFailure(w http.ResponseWriter, f *service.Failure) {
	if f.Kind == service.KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(f.RetryAfter))
	}
	writeJSON(w, f.HTTPStatus, envelope{Success: false, Error: f})
}
