package server

import (
	"net/http"

	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/logging"
)

// handleShareCreate issues a share token for fsPath on behalf of the
// request's X-User identity.
func (s *Server) handleShareCreate(w http.ResponseWriter, r *http.Request, fsPath string) {
	user := userFromContext(r)
	issued, err := s.Shares.CreateShare(fsPath, user)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	_ = logging.DefaultAuditLogger().LogShareCreated(r.Context(), fsPath, issued.ShareID, user)
	writeJSON(w, map[string]any{
		"success":      true,
		"share_id":     issued.ShareID,
		"share_url":    issued.ShareURL,
		"created_at":   issued.CreatedAt,
		"owner_pubkey": issued.OwnerPubkey,
		"signature":    issued.Signature,
		"file_sha256":  issued.FileSHA256,
	})
}

// handleShareResolve serves the shared file, recording a download, with
// the signed-provenance headers spec.md §6 requires.
func (s *Server) handleShareResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	peerIP := r.RemoteAddr
	res, err := s.Shares.ResolveShare(id, peerIP, r.UserAgent(), "")
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			_ = logging.DefaultAuditLogger().LogShareResolve(r.Context(), id, peerIP, false)
			writeError(w, httpError{status: http.StatusNotFound, message: "share not found"})
			return
		}
		writeCoreError(w, err)
		return
	}
	_ = logging.DefaultAuditLogger().LogShareResolve(r.Context(), id, peerIP, true)

	w.Header().Set("X-Share-Id", res.ShareID)
	w.Header().Set("X-Owner-Pubkey", res.OwnerPubkey)
	w.Header().Set("X-Share-Signature", res.Signature)
	w.Header().Set("X-File-SHA256", res.FileSHA256)
	http.ServeFile(w, r, res.FilePath)
}

// handleShareChain returns the ordered download records for a share.
func (s *Server) handleShareChain(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	downloads, err := s.Shares.DistributionChain(id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "share_id": id, "downloads": downloads})
}

// handleShareDeactivate deactivates shareID; a non-owner caller is
// rejected with 403.
func (s *Server) handleShareDeactivate(w http.ResponseWriter, r *http.Request, shareID string) {
	user := userFromContext(r)
	if err := s.Shares.DeactivateShare(shareID, user); err != nil {
		if errs.Is(err, errs.BadKey) {
			writeError(w, httpError{status: http.StatusForbidden, message: "only the issuing user may deactivate this share"})
			return
		}
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}
