// Package share issues signed off-tree download tokens and records their
// distribution chain.
package share

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/hashutil"
	"github.com/mister-teddy/node-drive/internal/provenance"
	"github.com/mister-teddy/node-drive/internal/signer"
)

// Identity mirrors provenance.Identity; share signatures use the same
// server keypair as event signatures.
type Identity struct {
	PrivateKeyHex string
	PublicKeyHex  string
}

// Manager issues and resolves share tokens against a provenance Store.
type Manager struct {
	Store    *provenance.Store
	Identity Identity
}

// NewManager wires a Store and the server's signing identity.
func NewManager(store *provenance.Store, identity Identity) *Manager {
	return &Manager{Store: store, Identity: identity}
}

// IssueResult is returned by CreateShare.
type IssueResult struct {
	ShareID      string
	ShareURL     string
	CreatedAt    string
	OwnerPubkey  string
	Signature    string
	FileSHA256   string
}

// CreateShare hashes path, mints a UUIDv4 share id, signs the tuple
// (file hash, share id, created-at) with the server's identity, and
// persists the share row.
func (m *Manager) CreateShare(path, user string) (*IssueResult, error) {
	digestHex, err := hashutil.HashFile(path)
	if err != nil {
		return nil, err
	}

	shareID := uuid.New().String()
	createdAt := time.Now().UTC()
	createdAtStr := createdAt.Format(time.RFC3339)

	tuple := shareTupleHash(digestHex, shareID, createdAtStr)
	sigHex, err := signer.Sign(tuple, m.Identity.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	if err := m.Store.CreateShare(provenance.Share{
		ID:             shareID,
		FilePath:       path,
		FileSHA256:     digestHex,
		CreatedAt:      createdAt,
		CreatedBy:      user,
		OwnerPubkeyHex: m.Identity.PublicKeyHex,
		SignatureHex:   sigHex,
		Active:         true,
	}); err != nil {
		return nil, err
	}

	return &IssueResult{
		ShareID:     shareID,
		ShareURL:    "/share/" + shareID,
		CreatedAt:   createdAtStr,
		OwnerPubkey: m.Identity.PublicKeyHex,
		Signature:   sigHex,
		FileSHA256:  digestHex,
	}, nil
}

// Resolution is returned by ResolveShare: the file to serve plus the
// headers the HTTP layer must emit alongside it.
type Resolution struct {
	FilePath     string
	ShareID      string
	OwnerPubkey  string
	Signature    string
	FileSHA256   string
}

// ResolveShare looks up id, re-verifies its signature against the stored
// tuple, and appends a download record. A missing or inactive share is
// ErrorKind NotFound; a signature that no longer verifies is BadSignature.
func (m *Manager) ResolveShare(id, peerIP, userAgent, downloaderPubkey string) (*Resolution, error) {
	sh, err := m.Store.GetShare(id)
	if err != nil {
		return nil, err
	}
	if sh == nil || !sh.Active {
		return nil, errs.New(errs.NotFound, "share not found")
	}

	tuple := shareTupleHash(sh.FileSHA256, sh.ID, sh.CreatedAt.UTC().Format(time.RFC3339))
	ok, err := signer.Verify(tuple, sh.SignatureHex, sh.OwnerPubkeyHex)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.BadSignature, "share signature no longer verifies")
	}

	if err := m.Store.RecordShareDownload(provenance.Download{
		ShareID:             sh.ID,
		DownloadedAt:        time.Now().UTC(),
		PeerIP:              peerIP,
		UserAgent:           userAgent,
		DownloaderPubkeyHex: downloaderPubkey,
	}); err != nil {
		return nil, err
	}

	return &Resolution{
		FilePath:    sh.FilePath,
		ShareID:     sh.ID,
		OwnerPubkey: sh.OwnerPubkeyHex,
		Signature:   sh.SignatureHex,
		FileSHA256:  sh.FileSHA256,
	}, nil
}

// DeactivateShare flips id's active flag off. A share with a recorded
// creator can only be deactivated by that user; anyone else gets ErrorKind
// BadKey.
func (m *Manager) DeactivateShare(id, requestingUser string) error {
	sh, err := m.Store.GetShare(id)
	if err != nil {
		return err
	}
	if sh == nil {
		return errs.New(errs.NotFound, "share not found")
	}
	if sh.CreatedBy != "" && sh.CreatedBy != requestingUser {
		return errs.New(errs.BadKey, "only the issuing user may deactivate this share")
	}
	return m.Store.DeactivateShare(id)
}

// DistributionChain returns shareID's ordered download records.
func (m *Manager) DistributionChain(shareID string) ([]provenance.Download, error) {
	return m.Store.GetDistributionChain(shareID)
}

// shareTupleHash produces the 32-byte-hex digest over (fileHash, shareID,
// createdAt) that the share signature is computed and re-verified against,
// mirroring the event-hash format signatures already operate on.
func shareTupleHash(fileHash, shareID, createdAt string) string {
	return hashutil.HashBytes([]byte(fmt.Sprintf("%s|%s|%s", fileHash, shareID, createdAt)))
}
