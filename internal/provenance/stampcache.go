package provenance

import (
	"encoding/base64"
	"time"

	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/ots"
)

// DefaultThrottleWindow is the default minimum interval between two
// network-driven verification attempts for the same artifact.
const DefaultThrottleWindow = 5 * time.Minute

// StampCache throttles and memoizes OTS verification results per
// artifact so directory listings stay cheap.
type StampCache struct {
	Store          *Store
	Engine         *ots.Engine
	ThrottleWindow time.Duration
	Now            func() time.Time // overridable for tests

	// Artifacts, when set, is consulted instead of Store.GetArtifactByPath
	// so a directory listing's per-file lookups can skip the database.
	Artifacts *XattrCache
}

// NewStampCache wires a Store and Engine with the default throttle window.
func NewStampCache(store *Store, engine *ots.Engine) *StampCache {
	return &StampCache{Store: store, Engine: engine, ThrottleWindow: DefaultThrottleWindow, Now: time.Now}
}

func (c *StampCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *StampCache) getArtifact(path string) (*Artifact, error) {
	if c.Artifacts != nil {
		return c.Artifacts.GetArtifactByPath(path)
	}
	return c.Store.GetArtifactByPath(path)
}

// ComputeStampStatus implements the four-step lookup: absent artifact
// yields no status; an already-confirmed row is returned without network
// I/O; a recently-checked row returns "pending" without network I/O;
// otherwise last_check_at is bumped first (preventing a thundering herd)
// and Verify is invoked.
func (c *StampCache) ComputeStampStatus(path string) (*StampStatus, error) {
	artifact, err := c.getArtifact(path)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, nil
	}

	if artifact.HasVerification {
		return &StampStatus{
			Success:   true,
			Chain:     artifact.VerifiedChain,
			Timestamp: artifact.VerifiedTimestamp,
			Height:    artifact.VerifiedHeight,
		}, nil
	}

	if artifact.LastCheckAt != 0 {
		elapsed := c.now().Sub(time.Unix(artifact.LastCheckAt, 0))
		if elapsed < c.ThrottleWindow {
			return &StampStatus{Pending: true}, nil
		}
	}

	if err := c.Store.UpdateLastCheckAt(artifact.ID); err != nil {
		return nil, err
	}

	events, err := c.Store.GetEvents(artifact.ID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &StampStatus{Pending: true}, nil
	}
	last := events[len(events)-1]
	if last.OTSProofB64 == "" {
		return &StampStatus{Pending: true}, nil
	}

	proof, err := base64.StdEncoding.DecodeString(last.OTSProofB64)
	if err != nil {
		return &StampStatus{Pending: true}, nil
	}
	digest, err := decodeDigestHex(last.ArtifactSHA256Hex)
	if err != nil {
		return nil, err
	}

	results, upgradedProof, err := c.Engine.Verify(proof, digest)
	if err != nil {
		if errs.Is(err, errs.Unverified) {
			if upgradedProof != nil && string(upgradedProof) != string(proof) {
				_ = c.Store.UpdateOTSProof(artifact.ID, last.Index, base64.StdEncoding.EncodeToString(upgradedProof))
			}
			return &StampStatus{Pending: true}, nil
		}
		return nil, err
	}

	first := results[0]
	for _, r := range results[1:] {
		if r.Timestamp < first.Timestamp {
			first = r
		}
	}

	newProofB64 := last.OTSProofB64
	if upgradedProof != nil {
		newProofB64 = base64.StdEncoding.EncodeToString(upgradedProof)
	}
	if err := c.Store.UpdateOTSProofAndVerification(artifact.ID, last.Index, newProofB64, first.Chain, int64(first.Timestamp), int64(first.Height)); err != nil {
		return nil, err
	}

	return &StampStatus{Success: true, Chain: first.Chain, Timestamp: int64(first.Timestamp), Height: int64(first.Height)}, nil
}

// UpgradeAll sweeps every unverified artifact through ComputeStampStatus,
// the same throttled path a manifest request would take, and returns how
// many newly reached Bitcoin confirmation. It's the body of the
// background upgrader cron job: nothing here requires an HTTP request in
// flight.
func (c *StampCache) UpgradeAll() (confirmed int, err error) {
	artifacts, err := c.Store.ListUnverifiedArtifacts()
	if err != nil {
		return 0, err
	}
	for _, a := range artifacts {
		status, err := c.ComputeStampStatus(a.FilePath)
		if err != nil {
			continue
		}
		if status != nil && status.Success {
			confirmed++
		}
	}
	return confirmed, nil
}
