package server

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mister-teddy/node-drive/internal/logging"
)

const davMultistatusContentType = `application/xml; charset=utf-8`

// handlePropfind implements a minimal WebDAV PROPFIND: Depth: 0 returns the
// requested resource's own properties, Depth: 1 (the default) also lists
// its immediate children. Depths other than 0/1 are rejected.
func (s *Server) handlePropfind(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}

	depth := r.Header.Get("Depth")
	if depth != "0" && depth != "1" && depth != "" {
		writeError(w, httpError{status: http.StatusBadRequest, message: "invalid Depth: only 0 and 1 are allowed"})
		return
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		writeError(w, httpError{status: http.StatusNotFound, message: "not found"})
		return
	}

	reqPath := "/" + strings.TrimPrefix(r.URL.Path, "/")
	var body strings.Builder
	body.WriteString(davResponseXML(reqPath, info))

	if info.IsDir() && depth != "0" {
		entries, err := os.ReadDir(fsPath)
		if err != nil {
			writeError(w, httpError{status: http.StatusForbidden, message: "read directory"})
			return
		}
		for _, e := range entries {
			if s.isHidden(e.Name()) {
				continue
			}
			childInfo, err := e.Info()
			if err != nil {
				continue
			}
			childPath := strings.TrimSuffix(reqPath, "/") + "/" + e.Name()
			body.WriteString(davResponseXML(childPath, childInfo))
		}
	}

	w.Header().Set("Content-Type", davMultistatusContentType)
	w.WriteHeader(http.StatusMultiStatus)
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<D:multistatus xmlns:D=\"DAV:\">%s</D:multistatus>", body.String())
}

func davResponseXML(href string, info os.FileInfo) string {
	mtime := info.ModTime().UTC().Format(http.TimeFormat)
	displayName := filepath.Base(href)
	if info.IsDir() {
		if !strings.HasSuffix(href, "/") {
			href += "/"
		}
		return `<D:response><D:href>` + href + `</D:href><D:propstat><D:prop>` +
			`<D:displayname>` + displayName + `</D:displayname>` +
			`<D:getlastmodified>` + mtime + `</D:getlastmodified>` +
			`<D:resourcetype><D:collection/></D:resourcetype>` +
			`</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`
	}
	return `<D:response><D:href>` + href + `</D:href><D:propstat><D:prop>` +
		`<D:displayname>` + displayName + `</D:displayname>` +
		`<D:getcontentlength>` + strconv.FormatInt(info.Size(), 10) + `</D:getcontentlength>` +
		`<D:getlastmodified>` + mtime + `</D:getlastmodified>` +
		`<D:resourcetype></D:resourcetype>` +
		`</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>`
}

// handleMkcol implements WebDAV MKCOL: create the directory (and any
// missing parents) at the request path.
func (s *Server) handleMkcol(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	if err := os.MkdirAll(fsPath, 0o755); err != nil {
		writeError(w, httpError{status: http.StatusConflict, message: "create collection failed"})
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// destinationPath resolves the Destination header a COPY/MOVE request
// carries, relative to the configured root, the same way resolvePath
// resolves the request's own path.
func (s *Server) destinationPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	dest := r.Header.Get("Destination")
	if dest == "" {
		writeError(w, httpError{status: http.StatusBadRequest, message: "missing Destination header"})
		return "", false
	}
	destPath := dest
	if u, err := url.Parse(dest); err == nil && u.Path != "" {
		destPath = u.Path
	}
	destPath = strings.TrimPrefix(destPath, "/")

	req2 := r.Clone(r.Context())
	req2.URL.Path = "/" + destPath
	req2.SetPathValue("path", destPath)
	return s.resolvePath(w, req2)
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// handleCopy implements WebDAV COPY for files; directory sources are
// rejected with 403, matching the original adapter's restriction.
func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	dest, ok := s.destinationPath(w, r)
	if !ok {
		return
	}

	info, err := os.Lstat(fsPath)
	if err != nil {
		writeError(w, httpError{status: http.StatusNotFound, message: "not found"})
		return
	}
	if info.IsDir() {
		writeError(w, httpError{status: http.StatusForbidden, message: "cannot copy a directory"})
		return
	}

	if err := ensureParent(dest); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "create destination parent"})
		return
	}
	if err := copyFile(fsPath, dest); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "copy failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Close()
}

// handleMove implements WebDAV MOVE. The on-disk rename and the
// provenance row's file_path are updated together; a tracked artifact
// keeps its full custody history under its new path.
func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	dest, ok := s.destinationPath(w, r)
	if !ok {
		return
	}

	if err := ensureParent(dest); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "create destination parent"})
		return
	}

	if err := s.Store.UpdateArtifactPath(fsPath, dest); err != nil {
		logging.ErrorContext(s.ctx, "update artifact path for move failed", "from", fsPath, "to", dest, "error", err)
	}

	if err := os.Rename(fsPath, dest); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "move failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLockUnlock answers LOCK/UNLOCK with 501: node-drive doesn't
// implement WebDAV locking, it only tolerates clients that probe for it.
func (s *Server) handleLockUnlock(w http.ResponseWriter, r *http.Request) {
	writeError(w, httpError{status: http.StatusNotImplemented, message: "locking is not supported"})
}
