// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeLowBalance         = "LOW_BALANCE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNoActiveSession    = "NO_ACTIVE_SESSION"
	CodeBalanceUnavailable = "BALANCE_UNAVAILABLE"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeUnavailable        = "UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Error: msg})
}
