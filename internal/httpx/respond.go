// Package httpx carries the small response helpers shared by every HTTP
// surface: the success/error envelope and error-kind status mapping.
package httpx

import (
	"encoding/json"
	"net/http"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// WriteJSON writes a success envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(contracts.APIResponse{Success: true, Data: data})
}

// WriteError maps the error's kind to an HTTP status and writes an error
// envelope.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(contracts.APIResponse{
		Success: false,
		Error:   err.Error(),
		Details: apperrors.FieldsOf(err),
	})
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.KindBadRequest, "invalid request body", err)
	}
	return nil
}
