package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mister-teddy/node-drive/internal/logging"
)

const partSuffix = ".part"

// handleUpload streams the request body to a temporary sibling file and
// renames it into place on success, then mints the artifact's first event.
// A dropped connection leaves the partial file behind when it has already
// grown past MinResumableSize (so a client can resume it with PATCH);
// smaller partial uploads are removed, per the backpressure rules.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "create parent directory"})
		return
	}

	partPath := fsPath + partSuffix
	f, err := os.Create(partPath)
	if err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "open upload target"})
		return
	}

	written, copyErr := io.Copy(f, r.Body)
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		if written < s.Config.MinResumableSize {
			_ = os.Remove(partPath)
		}
		writeError(w, httpError{status: http.StatusBadGateway, message: "upload interrupted"})
		return
	}

	if err := os.Rename(partPath, fsPath); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "finalize upload"})
		return
	}

	s.mintAndRespond(w, fsPath)
}

// handleResumeUpload appends to a previously started partial upload at the
// byte offset named by the request's Content-Range header
// ("bytes start-end/total"), finalizing and minting once the partial file
// reaches the declared total size.
func (s *Server) handleResumeUpload(w http.ResponseWriter, r *http.Request) {
	fsPath, ok := s.resolvePath(w, r)
	if !ok {
		return
	}

	start, total, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		writeError(w, httpError{status: http.StatusBadRequest, message: "malformed Content-Range"})
		return
	}

	partPath := fsPath + partSuffix
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "open partial upload"})
		return
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		writeError(w, httpError{status: http.StatusInternalServerError, message: "seek partial upload"})
		return
	}

	written, copyErr := io.Copy(f, r.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		writeError(w, httpError{status: http.StatusBadGateway, message: "resume upload interrupted"})
		return
	}

	info, statErr := os.Stat(partPath)
	if statErr != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "stat partial upload"})
		return
	}
	if total > 0 && info.Size() < total {
		writeJSON(w, map[string]any{"success": true, "received": start + written, "total": total, "complete": false})
		return
	}

	if err := os.Rename(partPath, fsPath); err != nil {
		writeError(w, httpError{status: http.StatusInternalServerError, message: "finalize resumed upload"})
		return
	}
	s.mintAndRespond(w, fsPath)
}

func parseContentRange(header string) (start, total int64, err error) {
	if header == "" {
		return 0, 0, fmt.Errorf("empty Content-Range")
	}
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.SplitN(header, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed Content-Range")
	}
	rangePart := strings.SplitN(parts[0], "-", 2)
	if len(rangePart) != 2 {
		return 0, 0, fmt.Errorf("malformed Content-Range")
	}
	start, err = strconv.ParseInt(rangePart[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if parts[1] != "*" {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	return start, total, nil
}

// mintAndRespond hashes the just-written file, mints its first event if
// needed, and writes the mint response JSON.
func (s *Server) mintAndRespond(w http.ResponseWriter, fsPath string) {
	resp, err := s.Events.Mint(fsPath)
	if err != nil {
		logging.ErrorContext(s.ctx, "mint failed", "path", fsPath, "error", err)
		writeCoreError(w, err)
		return
	}
	_ = logging.AuditMint(s.ctx, fsPath, resp.EventHash, true)

	writeJSON(w, map[string]any{
		"filename":     filepath.Base(fsPath),
		"sha256":       resp.SHA256,
		"ots_base64":   resp.OTSBase64,
		"event_hash":   resp.EventHash,
		"issued_at":    resp.IssuedAt,
		"stamp_status": resp.StampStatus,
	})
}
