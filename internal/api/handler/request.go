// Package handler implements the admin and monitoring HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/castkeeper/internal/api/response"
)

var validate = validator.New()

// decodeBody reads a JSON body into v and validates its struct tags. It
// writes the error response itself and reports whether the handler may go on.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return false
		}
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string][]string, len(verrs))
			for _, fe := range verrs {
				field := strings.ToLower(fe.Field())
				details[field] = append(details[field], fmt.Sprintf("failed %q", fe.Tag()))
			}
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", details)
			return false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func pathContentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "contentID"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a non-negative integer", nil)
		return 0, false
	}
	return n, true
}

func internalError(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}
