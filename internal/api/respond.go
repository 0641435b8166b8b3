package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/MrWong99/ttsgateway/internal/gateway"
	"github.com/MrWong99/ttsgateway/internal/observe"
)

// errorBody is the JSON body of every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to encode response", "err", err)
	}
}

// writeError maps err onto its HTTP status and writes a structured body.
// Causes are logged, never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ge := gateway.AsError(err)
	status := ge.Kind.HTTPStatus()

	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "kind", ge.Kind.String(), "backend", ge.Backend, "err", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "kind", ge.Kind.String(), "message", ge.Message)
	}

	if ge.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(ge.RetryAfter.Seconds()))))
	}
	writeJSON(w, status, errorBody{Error: ge.Kind.String(), Message: ge.Message})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string, err error) {
	writeError(w, r, &gateway.Error{Kind: gateway.KindValidation, Message: msg, Err: err})
}
