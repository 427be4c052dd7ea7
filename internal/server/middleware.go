package server

import (
	"context"
	"net/http"

	"github.com/mister-teddy/node-drive/internal/logging"
)

type contextKey int

const userContextKey contextKey = iota

// withAuth records the X-User header (used only for share-ownership checks
// and as a share's created_by field — no credential verification, per the
// scope note) and enforces the read-only, allow_upload and allow_delete
// settings before the request reaches its handler. allow_search and
// allow_archive are checked by the search and zip handlers themselves.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.methodAllowed(r.Method) {
			writeError(w, httpError{status: http.StatusForbidden, message: "operation disabled by server configuration"})
			return
		}

		user := r.Header.Get("X-User")
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// withRecover turns a panicking handler into a 500 instead of taking down
// the process, and leaves a crash dump behind via the shared CrashHandler
// so a panic during, say, a zip walk is still diagnosable after the fact.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.DefaultCrashHandler().HandlePanic(rec, map[string]interface{}{"method": r.Method, "path": r.URL.Path})
				writeError(w, httpError{status: http.StatusInternalServerError, message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func userFromContext(r *http.Request) string {
	u, _ := r.Context().Value(userContextKey).(string)
	return u
}

func (s *Server) methodAllowed(method string) bool {
	switch method {
	case http.MethodPut, http.MethodPatch:
		return !s.Config.ReadOnly && s.Config.AllowUpload
	case http.MethodDelete:
		return !s.Config.ReadOnly && s.Config.AllowDelete
	case "MKCOL", "COPY", "MOVE":
		return !s.Config.ReadOnly && s.Config.AllowUpload
	case "LOCK", "UNLOCK":
		return true // answered with 501, not a permission failure
	default:
		return true
	}
}
