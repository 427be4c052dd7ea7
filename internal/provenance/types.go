package provenance

import "time"

// Artifact is a tracked file identified by its canonical absolute path.
type Artifact struct {
	ID                int64
	FilePath          string
	SHA256Hex         string
	CreatedAt         time.Time
	VerifiedChain     string
	VerifiedTimestamp int64
	VerifiedHeight    int64
	HasVerification   bool
	LastCheckAt       int64 // unix seconds, 0 if never checked
}

// Action identifies the custody action an event records.
type Action string

const (
	ActionMint     Action = "mint"
	ActionTransfer Action = "transfer"
)

// Actors carries the roles present on an event. Absent roles are empty strings.
type Actors struct {
	CreatorPubkeyHex   string
	PrevOwnerPubkeyHex string
	NewOwnerPubkeyHex  string
}

// Signatures carries one DER-hex signature per present role.
type Signatures struct {
	CreatorSigHex   string
	PrevOwnerSigHex string
	NewOwnerSigHex  string
}

// Event is one entry in an artifact's append-only custody log.
type Event struct {
	ID                int64
	ArtifactID        int64
	Index             uint32
	Action            Action
	ArtifactSHA256Hex string
	PrevEventHashHex  string // empty iff Index == 0
	IssuedAt          string // RFC-3339 UTC
	EventHashHex      string
	Actors            Actors
	Signatures        Signatures
	OTSProofB64       string
	VerifiedChain     string
	VerifiedTimestamp int64
	VerifiedHeight    int64
	HasVerification   bool
	LastVerifiedAt    int64
}

// Manifest is the full provenance record for one artifact.
type Manifest struct {
	Artifact Artifact
	Events   []Event
}

// Share grants off-tree download access to a file.
type Share struct {
	ID              string // UUIDv4
	FilePath        string
	FileSHA256      string
	CreatedAt       time.Time
	CreatedBy       string
	OwnerPubkeyHex  string
	SignatureHex    string
	Active          bool
}

// Download is one recorded retrieval of a shared file.
type Download struct {
	ID                   int64
	ShareID              string
	DownloadedAt         time.Time
	PeerIP               string
	UserAgent            string
	DownloaderPubkeyHex  string
}

// InsertEventArgs bundles everything insert_event commits atomically.
type InsertEventArgs struct {
	ArtifactID        int64
	Index             uint32
	Action            Action
	ArtifactSHA256Hex string
	PrevEventHashHex  string
	IssuedAt          string
	EventHashHex      string
	Actors            Actors
	Signatures        Signatures
	OTSProofB64       string
}
