package models

import (
	"encoding/json"
	"net/http"
)

// WriteProblem — RFC7807-style error body. meta keys are flattened into the
// object next to the standard fields.
func WriteProblem(w http.ResponseWriter, status int, title, detail string, meta map[string]string) {
	body := map[string]any{
		"title":  title,
		"detail": detail,
		"status": status,
	}
	for k, v := range meta {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
