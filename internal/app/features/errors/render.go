// internal/app/features/errors/render.go
package errors

import (
	"encoding/json"
	"net/http"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error    string   `json:"error"`
	Check    string   `json:"check,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes v with status 200.
func OK(w http.ResponseWriter, v any) {
	JSON(w, http.StatusOK, v)
}

// Status writes {"status": status} with 200.
func Status(w http.ResponseWriter, status string) {
	OK(w, map[string]string{"status": status})
}
