package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/mister-teddy/node-drive/internal/errs"
)

// decodeJSONBody decodes r's body into v, capping the read to 1MiB so a
// malicious or mistaken caller can't exhaust memory on a handler that
// expects a small JSON object.
func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// httpError is a response the adapter writes directly, independent of the
// core's *errs.Error taxonomy (used for request-shape problems the core
// never sees, like a malformed query parameter).
type httpError struct {
	status  int
	message string
}

func writeError(w http.ResponseWriter, e httpError) {
	writeJSONStatus(w, e.status, map[string]any{"success": false, "error": e.message})
}

// writeCoreError maps a core error (ideally *errs.Error) to its HTTP status
// per the propagation table in the error handling design.
func writeCoreError(w http.ResponseWriter, err error) {
	if e, ok := err.(*errs.Error); ok {
		writeJSONStatus(w, e.HTTPStatus(), map[string]any{"success": false, "error": e.Error()})
		return
	}
	writeJSONStatus(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}
