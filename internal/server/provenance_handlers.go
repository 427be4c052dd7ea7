package server

import (
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"path/filepath"

	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/logging"
	"github.com/mister-teddy/node-drive/internal/provenance"
)

type manifestEventJSON struct {
	Index             uint32            `json:"index"`
	Action            string            `json:"action"`
	ArtifactSHA256Hex string            `json:"artifact_sha256_hex"`
	PrevEventHashHex  *string           `json:"prev_event_hash_hex"`
	EventHashHex      string            `json:"event_hash_hex"`
	IssuedAt          string            `json:"issued_at"`
	Actors            map[string]string `json:"actors"`
	Signatures        map[string]string `json:"signatures"`
	OTSProofB64       string            `json:"ots_proof_b64,omitempty"`
	VerifiedChain     string            `json:"verified_chain,omitempty"`
	VerifiedTimestamp int64             `json:"verified_timestamp,omitempty"`
	VerifiedHeight    int64             `json:"verified_height,omitempty"`
	LastVerifiedAt    int64             `json:"last_verified_at,omitempty"`
}

// handleManifest returns the full provenance record for the artifact at
// fsPath: its row plus every event, each serialized with absent
// actors/signatures omitted rather than emitted as null.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request, fsPath string) {
	manifest, err := s.Store.GetManifestByPath(fsPath)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if manifest == nil {
		writeError(w, httpError{status: http.StatusNotFound, message: "artifact not tracked"})
		return
	}

	events := make([]manifestEventJSON, 0, len(manifest.Events))
	for _, e := range manifest.Events {
		ej := manifestEventJSON{
			Index:             e.Index,
			Action:            string(e.Action),
			ArtifactSHA256Hex: e.ArtifactSHA256Hex,
			EventHashHex:      e.EventHashHex,
			IssuedAt:          e.IssuedAt,
			Actors:            map[string]string{},
			Signatures:        map[string]string{},
			OTSProofB64:       e.OTSProofB64,
			VerifiedChain:     e.VerifiedChain,
			VerifiedTimestamp: e.VerifiedTimestamp,
			VerifiedHeight:    e.VerifiedHeight,
			LastVerifiedAt:    e.LastVerifiedAt,
		}
		if e.PrevEventHashHex != "" {
			ej.PrevEventHashHex = &e.PrevEventHashHex
		}
		if e.Actors.CreatorPubkeyHex != "" {
			ej.Actors["creator_pubkey_hex"] = e.Actors.CreatorPubkeyHex
		}
		if e.Actors.PrevOwnerPubkeyHex != "" {
			ej.Actors["prev_owner_pubkey_hex"] = e.Actors.PrevOwnerPubkeyHex
		}
		if e.Actors.NewOwnerPubkeyHex != "" {
			ej.Actors["new_owner_pubkey_hex"] = e.Actors.NewOwnerPubkeyHex
		}
		if e.Signatures.CreatorSigHex != "" {
			ej.Signatures["creator_sig_hex"] = e.Signatures.CreatorSigHex
		}
		if e.Signatures.PrevOwnerSigHex != "" {
			ej.Signatures["prev_owner_sig_hex"] = e.Signatures.PrevOwnerSigHex
		}
		if e.Signatures.NewOwnerSigHex != "" {
			ej.Signatures["new_owner_sig_hex"] = e.Signatures.NewOwnerSigHex
		}
		events = append(events, ej)
	}

	resp := map[string]any{
		"type": "provenance.manifest/v1",
		"artifact": map[string]any{
			"sha256_hex": manifest.Artifact.SHA256Hex,
			"file_path":  manifest.Artifact.FilePath,
		},
		"events": events,
	}
	if status, err := s.Stamps.ComputeStampStatus(fsPath); err == nil && status != nil {
		resp["stamp_status"] = status
	}
	writeJSON(w, resp)
}

// handleOTSDownload returns the latest event's OTS proof as a binary
// attachment.
func (s *Server) handleOTSDownload(w http.ResponseWriter, r *http.Request, fsPath string) {
	manifest, err := s.Store.GetManifestByPath(fsPath)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if manifest == nil || len(manifest.Events) == 0 {
		writeError(w, httpError{status: http.StatusNotFound, message: "no provenance events for this artifact"})
		return
	}
	last := manifest.Events[len(manifest.Events)-1]
	proof, err := base64.StdEncoding.DecodeString(last.OTSProofB64)
	if err != nil {
		writeError(w, httpError{status: http.StatusConflict, message: "proof not yet available"})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(fsPath)+`.ots"`)
	_, _ = w.Write(proof)
}

// handleOTSUpload replaces the latest event's OTS proof with the request
// body's raw bytes.
func (s *Server) handleOTSUpload(w http.ResponseWriter, r *http.Request, fsPath string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, httpError{status: http.StatusBadRequest, message: "read request body"})
		return
	}

	manifest, err := s.Store.GetManifestByPath(fsPath)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if manifest == nil || len(manifest.Events) == 0 {
		writeError(w, httpError{status: http.StatusNotFound, message: "no provenance events for this artifact"})
		return
	}
	last := manifest.Events[len(manifest.Events)-1]

	if err := s.Store.UpdateOTSProof(manifest.Artifact.ID, last.Index, base64.StdEncoding.EncodeToString(body)); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

type verifyRequest struct {
	OTSProofBase64  string `json:"ots_proof_base64"`
	ArtifactSHA256  string `json:"artifact_sha256"`
}

// handleVerify checks an arbitrary OTS proof against a digest supplied in
// the request body, independent of any tracked artifact.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, httpError{status: http.StatusBadRequest, message: "malformed verify request"})
		return
	}

	proof, err := base64.StdEncoding.DecodeString(req.OTSProofBase64)
	if err != nil {
		writeError(w, httpError{status: http.StatusBadRequest, message: "ots_proof_base64 is not valid base64"})
		return
	}
	digest, err := hex.DecodeString(req.ArtifactSHA256)
	if err != nil || len(digest) != 32 {
		writeError(w, httpError{status: http.StatusBadRequest, message: "artifact_sha256 must be 32 bytes hex"})
		return
	}

	results, _, err := s.Engine.Verify(proof, digest)
	if err != nil {
		if errs.Is(err, errs.Unverified) {
			writeJSON(w, map[string]any{"success": false})
			return
		}
		if errs.Is(err, errs.DigestMismatch) {
			writeJSON(w, map[string]any{"success": false, "error": err.Error()})
			return
		}
		writeCoreError(w, err)
		return
	}

	byChain := map[string]map[string]uint64{}
	for _, res := range results {
		existing, ok := byChain[res.Chain]
		if !ok || res.Timestamp < existing["timestamp"] {
			byChain[res.Chain] = map[string]uint64{"timestamp": res.Timestamp, "height": res.Height}
		}
	}
	writeJSON(w, map[string]any{"success": true, "results": byChain})
}

type transferRequest struct {
	PrevEventHashHex   string `json:"prev_event_hash_hex"`
	IssuedAt           string `json:"issued_at"`
	PrevOwnerPubkeyHex string `json:"prev_owner_pubkey_hex"`
	NewOwnerPubkeyHex  string `json:"new_owner_pubkey_hex"`
	PrevOwnerSigHex    string `json:"prev_owner_sig_hex"`
	NewOwnerSigHex     string `json:"new_owner_sig_hex"`
}

// handleTransfer appends a transfer event to fsPath's chain. prev_event_hash_hex
// pins the chain head the two signatures were produced against: if it no
// longer matches the current head (another transfer committed first), the
// request fails with Conflict rather than silently transferring from a
// stale state. Both signatures must then verify against the canonical
// hash the server recomputes from the request's own fields; the caller
// never gets to supply a digest the server simply trusts.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, fsPath string) {
	var req transferRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, httpError{status: http.StatusBadRequest, message: "malformed transfer request"})
		return
	}

	event, err := s.Events.Transfer(provenance.TransferArgs{
		Path:               fsPath,
		PrevEventHashHex:   req.PrevEventHashHex,
		IssuedAt:           req.IssuedAt,
		PrevOwnerPubkeyHex: req.PrevOwnerPubkeyHex,
		NewOwnerPubkeyHex:  req.NewOwnerPubkeyHex,
		PrevOwnerSigHex:    req.PrevOwnerSigHex,
		NewOwnerSigHex:     req.NewOwnerSigHex,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	_ = logging.DefaultAuditLogger().LogTransfer(r.Context(), fsPath, req.NewOwnerPubkeyHex, true)
	writeJSON(w, map[string]any{
		"success":        true,
		"index":          event.Index,
		"event_hash_hex": event.EventHashHex,
		"issued_at":      event.IssuedAt,
	})
}
