package services

import (
	"encoding/json"
	"net/http"
)

// ---------- Helpers ----------

// WriteJSON writes v as a JSON response body. The status line is already
// on the wire when encoding starts, so a failure here cannot change it;
// callers surface the returned error to their logger instead.
func WriteJSON(w http.ResponseWriter, v interface{}, status int) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
