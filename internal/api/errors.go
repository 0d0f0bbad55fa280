// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voxmill/settled/internal/dispatch"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorMsg writes an error body with the given status code.
func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeUnauthorized writes a 401 Unauthorized response.
func writeUnauthorized(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusUnauthorized, "unauthorized")
}

// writeNotFound writes a 404 Not Found response.
func writeNotFound(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusNotFound, "not found")
}

// callbackStatus maps dispatch errors to the response codes workers act
// on: 4xx means "do not retry", anything else retries.
func callbackStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, dispatch.ErrBadPayload):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrUnknownTarget):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
