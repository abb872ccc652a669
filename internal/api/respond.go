package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/bundle.evolution/internal/diagramdb"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
)

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// writeJSONError writes {"error": msg} with the given status code.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps err onto a status code: missing runs are 404 and
// everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, diagramdb.ErrRunNotFound) {
		status = http.StatusNotFound
	}
	writeJSONError(w, status, err.Error())
}
