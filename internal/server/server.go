// Package server implements the HTTP(+WebDAV) adapter: a file tree where
// every PUT mints a signed, OpenTimestamps-anchored custody event and every
// GET can surface that provenance alongside the bytes.
package server

import (
	"context"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/mister-teddy/node-drive/internal/logging"
	"github.com/mister-teddy/node-drive/internal/ots"
	"github.com/mister-teddy/node-drive/internal/provenance"
	"github.com/mister-teddy/node-drive/internal/share"
)

// Config carries the outer-layer knobs that do not change the core's
// semantics: which directory is served, which paths are hidden, and which
// mutating operations are permitted.
type Config struct {
	Root             string
	PathPrefix       string
	Hidden           []string
	AllowUpload      bool
	AllowDelete      bool
	AllowSearch      bool
	AllowArchive     bool
	ReadOnly         bool
	MinResumableSize int64
}

// Server wires the core components (Store, EventManager, StampCache,
// OTS Engine, Share Manager) to HTTP handlers.
type Server struct {
	Config Config

	Store   *provenance.Store
	Events  *provenance.EventManager
	Stamps  *provenance.StampCache
	Engine  *ots.Engine
	Shares  *share.Manager
	Logger  *logging.Logger

	// ctx is cancelled on shutdown; long directory walks (Search, Zip)
	// check it between entries, per the "still running" cancellation flag.
	ctx context.Context
}

// New wires a Server. ctx should be cancelled on process shutdown.
func New(ctx context.Context, cfg Config, store *provenance.Store, events *provenance.EventManager, stamps *provenance.StampCache, engine *ots.Engine, shares *share.Manager) *Server {
	logger := logging.Default().WithComponent("server")
	return &Server{
		Config: cfg,
		Store:  store,
		Events: events,
		Stamps: stamps,
		Engine: engine,
		Shares: shares,
		Logger: logger,
		ctx:    ctx,
	}
}

// Handler builds the routed http.Handler using Go 1.22's pattern-based
// ServeMux: one registration per (method, route) pair, with a single
// fallback pattern for the file tree that internally dispatches on query
// parameters the way original_source's router does.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /share/{id}/chain", s.withAuth(s.handleShareChain))
	mux.HandleFunc("GET /share/{id}", s.withAuth(s.handleShareResolve))
	mux.HandleFunc("HEAD /share/{id}", s.withAuth(s.handleShareResolve))

	mux.HandleFunc("PUT /{path...}", s.withAuth(s.handleUpload))
	mux.HandleFunc("PATCH /{path...}", s.withAuth(s.handleResumeUpload))
	mux.HandleFunc("DELETE /{path...}", s.withAuth(s.handleDelete))
	mux.HandleFunc("POST /{path...}", s.withAuth(s.handlePost))
	mux.HandleFunc("GET /{path...}", s.withAuth(s.handleGet))
	mux.HandleFunc("HEAD /{path...}", s.withAuth(s.handleGet))

	mux.HandleFunc("MKCOL /{path...}", s.withAuth(s.handleMkcol))
	mux.HandleFunc("PROPFIND /{path...}", s.withAuth(s.handlePropfind))
	mux.HandleFunc("COPY /{path...}", s.withAuth(s.handleCopy))
	mux.HandleFunc("MOVE /{path...}", s.withAuth(s.handleMove))
	mux.HandleFunc("LOCK /{path...}", s.withAuth(s.handleLockUnlock))
	mux.HandleFunc("UNLOCK /{path...}", s.withAuth(s.handleLockUnlock))

	return s.withRecover(mux)
}

// handleGet dispatches GET/HEAD requests by query parameter, mirroring
// original_source's router: manifest, ots, zip, search each take priority
// over the default file-or-listing behavior.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("manifest") == "json":
		s.handleManifest(w, r, fsPath)
	case hasFlag(q, "ots"):
		s.handleOTSDownload(w, r, fsPath)
	case hasFlag(q, "zip"):
		s.handleZip(w, r, fsPath)
	case q.Has("search"):
		s.handleSearch(w, r, fsPath, q.Get("search"))
	default:
		s.handleServeOrList(w, r, fsPath)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case hasFlag(q, "verify"):
		s.handleVerify(w, r)
		return
	}

	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}

	switch {
	case hasFlag(q, "ots"):
		s.handleOTSUpload(w, r, fsPath)
	case hasFlag(q, "share"):
		s.handleShareCreate(w, r, fsPath)
	case hasFlag(q, "transfer"):
		s.handleTransfer(w, r, fsPath)
	default:
		writeError(w, httpError{status: http.StatusBadRequest, message: "unrecognized POST operation"})
	}
}

// hasFlag reports whether key is present in q, with or without a value
// (?zip and ?zip= both count), matching the "query flag" convention of
// original_source's has_query_flag.
func hasFlag(q map[string][]string, key string) bool {
	_, ok := q[key]
	return ok
}

// resolvePath strips the configured path prefix, joins against Root, and
// rejects traversal outside Root or a path matching a hidden glob. It
// writes the response itself and returns ok=false on rejection.
func (s *Server) resolvePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	reqPath := r.PathValue("path")
	if reqPath == "" {
		reqPath = strings.TrimPrefix(r.URL.Path, "/")
	}

	if s.Config.PathPrefix != "" {
		trimmed := strings.TrimPrefix("/"+reqPath, s.Config.PathPrefix)
		reqPath = strings.TrimPrefix(trimmed, "/")
	}

	clean := path.Clean("/" + reqPath)
	if clean == "/" {
		clean = ""
	} else {
		clean = strings.TrimPrefix(clean, "/")
	}

	if s.isHidden(clean) {
		writeError(w, httpError{status: http.StatusNotFound, message: "not found"})
		return "", false
	}

	return joinRoot(s.Config.Root, clean), true
}

func (s *Server) isHidden(relPath string) bool {
	if relPath == "" {
		return false
	}
	for _, part := range strings.Split(relPath, "/") {
		for _, pattern := range s.Config.Hidden {
			if ok, _ := path.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

func joinRoot(root, relPath string) string {
	if relPath == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(relPath))
}
