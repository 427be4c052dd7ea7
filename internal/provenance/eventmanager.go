package provenance

import (
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"github.com/mister-teddy/node-drive/internal/canonical"
	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/hashutil"
	"github.com/mister-teddy/node-drive/internal/logging"
	"github.com/mister-teddy/node-drive/internal/ots"
	"github.com/mister-teddy/node-drive/internal/signer"
)

func provenanceLog(digestHex string) *logging.Logger {
	return logging.Default().WithComponent("provenance").WithArtifact(digestHex)
}

// Identity is the server's static signing identity, read once at startup
// and treated as a configuration value. It is never logged or serialized.
type Identity struct {
	PrivateKeyHex string
	PublicKeyHex  string
}

// MintResponse is returned to the caller of Mint.
type MintResponse struct {
	Filename    string
	SHA256      string
	OTSBase64   string
	EventHash   string
	IssuedAt    string
	StampStatus StampStatus
}

// StampStatus summarizes what's known about an event's Bitcoin anchoring
// without necessarily doing any network I/O to produce it.
type StampStatus struct {
	Success   bool   `json:"success"`
	Chain     string `json:"chain,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Height    int64  `json:"height,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
}

// EventManager mints and transfers artifacts, serializing writes to a
// given artifact via a per-artifact lock held across the hash/sign/insert
// sequence, on top of the store's own transactional re-check.
type EventManager struct {
	Store    *Store
	Engine   *ots.Engine
	Identity Identity

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewEventManager wires a Store, an OTS Engine, and the server's identity.
func NewEventManager(store *Store, engine *ots.Engine, identity Identity) *EventManager {
	return &EventManager{Store: store, Engine: engine, Identity: identity, locks: map[int64]*sync.Mutex{}}
}

func (m *EventManager) lockFor(artifactID int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[artifactID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[artifactID] = l
	}
	return l
}

// Mint computes path's digest, upserts the artifact row, and — if this is
// the artifact's first event — mints index 0 signed by the server's
// identity and requests an OTS timestamp. A second concurrent or
// subsequent call against an already-minted artifact is idempotent: it
// returns the existing mint response rather than erroring.
func (m *EventManager) Mint(path string) (*MintResponse, error) {
	digestHex, err := hashutil.HashFile(path)
	if err != nil {
		return nil, err
	}

	artifactID, err := m.Store.UpsertArtifact(path, digestHex)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(artifactID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.Store.GetEvents(artifactID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return mintResponseFromEvent(path, existing[0]), nil
	}

	issuedAt := time.Now().UTC().Format(time.RFC3339)
	fields := canonical.Fields{
		Index:             0,
		Action:            canonical.ActionMint,
		ArtifactSHA256Hex: digestHex,
		Actors:            canonical.Actors{Creator: m.Identity.PublicKeyHex},
		IssuedAt:          issuedAt,
	}
	eventHashHex := canonical.HashHex(fields)

	sigHex, err := signer.Sign(eventHashHex, m.Identity.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	args := InsertEventArgs{
		ArtifactID:        artifactID,
		Index:             0,
		Action:            ActionMint,
		ArtifactSHA256Hex: digestHex,
		IssuedAt:          issuedAt,
		EventHashHex:      eventHashHex,
		Actors:            Actors{CreatorPubkeyHex: m.Identity.PublicKeyHex},
		Signatures:        Signatures{CreatorSigHex: sigHex},
	}
	if _, err := m.Store.InsertEvent(args); err != nil {
		return nil, err
	}
	provenanceLog(digestHex).Info("artifact minted", "path", path, "event_hash", eventHashHex)

	digest32, err := decodeDigestHex(digestHex)
	if err != nil {
		return nil, err
	}

	var otsB64 string
	if proof, err := m.Engine.Create(digest32); err == nil {
		otsB64 = base64.StdEncoding.EncodeToString(proof)
		_ = m.Store.UpdateOTSProof(artifactID, 0, otsB64)
	} else {
		otsB64 = "pending:" + err.Error()
		_ = m.Store.UpdateOTSProof(artifactID, 0, otsB64)
		provenanceLog(digestHex).Warn("ots create failed, stored placeholder proof", "path", path, "error", err)
	}

	return &MintResponse{
		Filename:  path,
		SHA256:    digestHex,
		OTSBase64: otsB64,
		EventHash: eventHashHex,
		IssuedAt:  issuedAt,
		StampStatus: StampStatus{
			Success: false,
			Pending: true,
		},
	}, nil
}

// TransferArgs carries the caller-supplied half of a transfer: the path,
// the chain head the caller built the transfer on top of, the two
// parties, and signatures already produced over the canonical hash the
// caller expects to commit. PrevEventHashHex and IssuedAt must be the
// exact values the two signatures were computed over — a transfer is a
// bilateral handshake where both owners sign the same canonical hash
// before either one calls the server, so the server cannot choose its own
// issued_at the way Mint does and still have the signatures verify.
type TransferArgs struct {
	Path               string
	PrevEventHashHex   string
	IssuedAt           string
	PrevOwnerPubkeyHex string
	NewOwnerPubkeyHex  string
	PrevOwnerSigHex    string
	NewOwnerSigHex     string
}

// Transfer appends a transfer event to path's chain. PrevEventHashHex must
// match the chain's current head — a mismatch means the caller signed
// against a head that has since moved, and is reported as ErrorKind
// Conflict so the caller can re-read the manifest and retry. Both
// signatures must then verify against the canonical hash the server
// recomputes from the request's own fields; a mismatch is ErrorKind
// BadSignature, not silently accepted.
func (m *EventManager) Transfer(args TransferArgs) (*Event, error) {
	if args.IssuedAt == "" {
		return nil, errs.New(errs.Malformed, "transfer requires issued_at")
	}

	artifact, err := m.Store.GetArtifactByPath(args.Path)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, errs.New(errs.NotFound, "artifact not found")
	}

	lock := m.lockFor(artifact.ID)
	lock.Lock()
	defer lock.Unlock()

	events, err := m.Store.GetEvents(artifact.ID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, errs.New(errs.NotFound, "artifact has no prior events to transfer")
	}
	last := events[len(events)-1]

	if args.PrevEventHashHex != last.EventHashHex {
		return nil, errs.New(errs.Conflict, "transfer built on a stale chain head")
	}

	issuedAt := args.IssuedAt
	fields := canonical.Fields{
		Index:             last.Index + 1,
		Action:            canonical.ActionTransfer,
		ArtifactSHA256Hex: artifact.SHA256Hex,
		PrevEventHashHex:  last.EventHashHex,
		Actors: canonical.Actors{
			PrevOwner: args.PrevOwnerPubkeyHex,
			NewOwner:  args.NewOwnerPubkeyHex,
		},
		IssuedAt: issuedAt,
	}
	eventHashHex := canonical.HashHex(fields)

	prevOK, err := signer.Verify(eventHashHex, args.PrevOwnerSigHex, args.PrevOwnerPubkeyHex)
	if err != nil {
		return nil, err
	}
	newOK, err := signer.Verify(eventHashHex, args.NewOwnerSigHex, args.NewOwnerPubkeyHex)
	if err != nil {
		return nil, err
	}
	if !prevOK || !newOK {
		return nil, errs.New(errs.BadSignature, "transfer signatures do not verify")
	}

	insertArgs := InsertEventArgs{
		ArtifactID:        artifact.ID,
		Index:             fields.Index,
		Action:            ActionTransfer,
		ArtifactSHA256Hex: artifact.SHA256Hex,
		PrevEventHashHex:  last.EventHashHex,
		IssuedAt:          issuedAt,
		EventHashHex:      eventHashHex,
		Actors:            Actors{PrevOwnerPubkeyHex: args.PrevOwnerPubkeyHex, NewOwnerPubkeyHex: args.NewOwnerPubkeyHex},
		Signatures:        Signatures{PrevOwnerSigHex: args.PrevOwnerSigHex, NewOwnerSigHex: args.NewOwnerSigHex},
	}
	if _, err := m.Store.InsertEvent(insertArgs); err != nil {
		return nil, err
	}
	provenanceLog(artifact.SHA256Hex).Info("artifact transferred", "path", args.Path, "event_hash", eventHashHex, "new_owner_pubkey_hex", args.NewOwnerPubkeyHex)

	return &Event{
		ArtifactID:        artifact.ID,
		Index:             fields.Index,
		Action:            ActionTransfer,
		ArtifactSHA256Hex: artifact.SHA256Hex,
		PrevEventHashHex:  last.EventHashHex,
		IssuedAt:           issuedAt,
		EventHashHex:      eventHashHex,
		Actors:             insertArgs.Actors,
		Signatures:         insertArgs.Signatures,
	}, nil
}

// VerifyEvent recomputes e's canonical hash and checks it against
// e.EventHashHex, then verifies every signature required by e.Action.
func VerifyEvent(e Event) (bool, error) {
	fields := canonical.Fields{
		Index:             e.Index,
		Action:            canonical.Action(e.Action),
		ArtifactSHA256Hex: e.ArtifactSHA256Hex,
		PrevEventHashHex:  e.PrevEventHashHex,
		Actors: canonical.Actors{
			Creator:   e.Actors.CreatorPubkeyHex,
			PrevOwner: e.Actors.PrevOwnerPubkeyHex,
			NewOwner:  e.Actors.NewOwnerPubkeyHex,
		},
		IssuedAt: e.IssuedAt,
	}
	if canonical.HashHex(fields) != e.EventHashHex {
		return false, nil
	}

	switch e.Action {
	case ActionMint:
		if e.Actors.CreatorPubkeyHex == "" || e.Signatures.CreatorSigHex == "" {
			return false, errs.New(errs.Malformed, "mint event missing creator signature")
		}
		return signer.Verify(e.EventHashHex, e.Signatures.CreatorSigHex, e.Actors.CreatorPubkeyHex)
	case ActionTransfer:
		if e.Actors.PrevOwnerPubkeyHex == "" || e.Actors.NewOwnerPubkeyHex == "" ||
			e.Signatures.PrevOwnerSigHex == "" || e.Signatures.NewOwnerSigHex == "" {
			return false, errs.New(errs.Malformed, "transfer event missing a required signature")
		}
		prevOK, err := signer.Verify(e.EventHashHex, e.Signatures.PrevOwnerSigHex, e.Actors.PrevOwnerPubkeyHex)
		if err != nil || !prevOK {
			return prevOK, err
		}
		return signer.Verify(e.EventHashHex, e.Signatures.NewOwnerSigHex, e.Actors.NewOwnerPubkeyHex)
	default:
		return false, errs.New(errs.Malformed, "unknown event action")
	}
}

func mintResponseFromEvent(path string, e Event) *MintResponse {
	return &MintResponse{
		Filename:  path,
		SHA256:    e.ArtifactSHA256Hex,
		OTSBase64: e.OTSProofB64,
		EventHash: e.EventHashHex,
		IssuedAt:  e.IssuedAt,
		StampStatus: StampStatus{
			Success: e.HasVerification,
			Chain:   e.VerifiedChain,
			Timestamp: e.VerifiedTimestamp,
			Height:    e.VerifiedHeight,
			Pending:   !e.HasVerification,
		},
	}
}

func decodeDigestHex(hexStr string) ([]byte, error) {
	if len(hexStr) != 64 {
		return nil, errs.New(errs.Malformed, "digest must be 32 bytes hex")
	}
	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, errs.Wrap(errs.Malformed, "digest is not valid hex", err)
	}
	return out, nil
}
