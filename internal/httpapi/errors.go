package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ebongard/renfield/internal/rferr"
)

// errorBody is the REST error envelope spec §6.2 documents: a stable
// wire code plus a human-readable message.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a JSON error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}

// WriteRFErr maps err to its §7 Kind's HTTP status and wire code,
// falling back to 500/internal_error for anything not an *rferr.Error.
func WriteRFErr(w http.ResponseWriter, err error) {
	kind := rferr.KindOf(err)
	WriteError(w, kind.HTTPStatus(), kind.WireCode(), err.Error())
}

// WriteJSON writes v as a 200 JSON response.
func WriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
