package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "submit/pkg/domain-errors"
)

type errorEnvelope struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the standard error envelope. Internal and upstream
// failures never carry a description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorEnvelope{Error: string(code)}
	if code != dErrors.CodeInternal && code != dErrors.CodeUpstream {
		body.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(w, dErrors.HTTPStatus(code), body)
}

// WriteMessage renders the flat {"error": message} body used by the program
// API, deriving the status from err's code.
func WriteMessage(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	msg := dErrors.MessageOf(err)
	if msg == "" {
		msg = "Internal server error"
	}
	WriteJSON(w, dErrors.HTTPStatus(code), map[string]string{"error": msg})
}
