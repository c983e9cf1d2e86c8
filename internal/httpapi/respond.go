package httpapi

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes a JSON object with at minimum an "error" string
// (§6: "all application-level error bodies are JSON objects with at
// minimum an error string"), in the shape of the inline
// http.Error(w, `{"error":...}`, code) idiom used elsewhere in this corpus.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
