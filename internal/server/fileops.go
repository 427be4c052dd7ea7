package server

import (
	"archive/zip"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mister-teddy/node-drive/internal/provenance"
)

// handleServeOrList serves fsPath's bytes (with Range support via the
// stdlib's ServeContent machinery) if it is a file, or a directory listing
// — JSON when the client asked for it, otherwise a plain text listing —
// if it is a directory.
func (s *Server) handleServeOrList(w http.ResponseWriter, r *http.Request, fsPath string) {
	info, err := os.Stat(fsPath)
	if err != nil {
		writeError(w, httpError{status: http.StatusNotFound, message: "not found"})
		return
	}

	if info.IsDir() {
		s.listDirectory(w, r, fsPath)
		return
	}

	http.ServeFile(w, r, fsPath)
}

type dirEntryJSON struct {
	Name        string                  `json:"name"`
	IsDir       bool                    `json:"is_dir"`
	Size        int64                   `json:"size"`
	StampStatus *provenance.StampStatus `json:"stamp_status,omitempty"`
}

// listDirectory returns each file's current stamp status alongside the
// usual name/size, computed on demand the same way the manifest endpoint
// does, so a directory view doubles as a lightweight custody dashboard.
func (s *Server) listDirectory(w http.ResponseWriter, r *http.Request, fsPath string) {
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "read directory"})
		return
	}

	out := make([]dirEntryJSON, 0, len(entries))
	for _, e := range entries {
		if s.isHidden(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		entry := dirEntryJSON{Name: e.Name(), IsDir: e.IsDir(), Size: fi.Size()}
		if !e.IsDir() {
			if status, err := s.Stamps.ComputeStampStatus(filepath.Join(fsPath, e.Name())); err == nil {
				entry.StampStatus = status
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") || r.URL.Query().Has("json") {
		writeJSON(w, map[string]any{"success": true, "entries": out})
		return
	}

	var b strings.Builder
	for _, e := range out {
		if e.IsDir {
			b.WriteString(e.Name + "/\n")
		} else {
			b.WriteString(e.Name + "\n")
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, b.String())
}

// handleZip streams a zip of the directory at fsPath. The shared context
// cancellation is checked between entries so a dropped client or server
// shutdown stops the walk after the current file.
func (s *Server) handleZip(w http.ResponseWriter, r *http.Request, fsPath string) {
	if !s.Config.AllowArchive {
		writeError(w, httpError{status: http.StatusForbidden, message: "archive downloads disabled"})
		return
	}
	info, err := os.Stat(fsPath)
	if err != nil || !info.IsDir() {
		writeError(w, httpError{status: http.StatusNotFound, message: "not a directory"})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(fsPath)+`.zip"`)

	zw := zip.NewWriter(w)
	defer zw.Close()

	_ = filepath.Walk(fsPath, func(p string, info os.FileInfo, err error) error {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(fsPath, p)
		if err != nil || rel == "." {
			return nil
		}
		if s.isHidden(filepath.ToSlash(rel)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		fw, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
}

type searchHit struct {
	Path string `json:"path"`
}

// handleSearch recursively scans fsPath for entries whose name contains
// query, stopping between entries if the server context is cancelled.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, fsPath, query string) {
	if !s.Config.AllowSearch {
		writeError(w, httpError{status: http.StatusForbidden, message: "search disabled"})
		return
	}
	if query == "" {
		writeJSON(w, map[string]any{"success": true, "results": []searchHit{}})
		return
	}

	var hits []searchHit
	lowerQuery := strings.ToLower(query)
	_ = filepath.Walk(fsPath, func(p string, info os.FileInfo, err error) error {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
		if err != nil || p == fsPath {
			return nil
		}
		rel, err := filepath.Rel(fsPath, p)
		if err != nil {
			return nil
		}
		relSlash := filepath.ToSlash(rel)
		if s.isHidden(relSlash) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Contains(strings.ToLower(info.Name()), lowerQuery) {
			hits = append(hits, searchHit{Path: relSlash})
		}
		return nil
	})

	writeJSON(w, map[string]any{"success": true, "results": hits})
}

// handleDelete removes the on-disk file only — or, if the ?share=<id> query
// is present, deactivates that share instead. Provenance rows are never
// cascaded: the custody log for a deleted file remains queryable by path.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if shareID := r.URL.Query().Get("share"); shareID != "" {
		s.handleShareDeactivate(w, r, shareID)
		return
	}

	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	info, err := os.Stat(fsPath)
	if err != nil {
		writeError(w, httpError{status: http.StatusNotFound, message: "not found"})
		return
	}
	if info.IsDir() {
		err = os.RemoveAll(fsPath)
	} else {
		err = os.Remove(fsPath)
	}
	if err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "delete failed"})
		return
	}
	writeJSON(w, map[string]any{"success": true})
}
