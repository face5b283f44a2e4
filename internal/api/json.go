package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON encodes v as the response body. Post content is HTML, so the
// encoder leaves <, > and & unescaped. v is encoded before any header is
// written; an encode failure answers 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorBody("internal error"))
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}
