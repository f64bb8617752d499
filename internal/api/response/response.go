// Package response writes the JSON envelopes shared by every endpoint:
// {"data": ...} with an optional "meta" on paged lists, or {"error": ...}.
package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Data any             `json:"data"`
	Meta *PaginationMeta `json:"meta,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// PaginationMeta describes one page of a list endpoint.
type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// NewMeta builds pagination metadata from a 1-based page. Zero values take
// the store defaults of page 1 and 20 items.
func NewMeta(page, limit, total int) PaginationMeta {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	return PaginationMeta{Page: page, Limit: limit, Total: total, HasNext: page*limit < total}
}

func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, envelope{Data: data})
}

// Page writes one page of a list with its metadata.
func Page(w http.ResponseWriter, data any, meta PaginationMeta) {
	write(w, http.StatusOK, envelope{Data: data, Meta: &meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

func write(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
