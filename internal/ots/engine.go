package ots

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/logging"
)

// VerificationResult is one confirmed chain attestation surfaced by Verify.
type VerificationResult struct {
	Chain     string
	Timestamp uint64
	Height    uint64
}

// Engine composes, upgrades, and verifies OpenTimestamps proofs against a
// configured set of calendars and a block explorer.
type Engine struct {
	Calendars        []string
	BlockExplorerURL string
	Calendar         *CalendarClient
	HTTPClient       *http.Client
}

// NewEngine returns an Engine with the given calendars and explorer, using
// default HTTP clients.
func NewEngine(calendars []string, blockExplorerURL string) *Engine {
	return &Engine{
		Calendars:        calendars,
		BlockExplorerURL: blockExplorerURL,
		Calendar:         NewCalendarClient(),
		HTTPClient:       &http.Client{Timeout: calendarTimeout},
	}
}

// Create builds a fresh timestamp over digest: draws a 16-byte nonce in a
// synchronous block (the RNG handle never crosses a suspension point),
// submits the nonced digest to each configured calendar in order, and
// grafts the first successful reply beneath Append/SHA256 steps.
func (e *Engine) Create(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, errs.New(errs.Malformed, "digest must be 32 bytes")
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errs.Wrap(errs.IO, "generate nonce", err)
	}

	nonceDigest := applyAppend(digest, nonce[:])
	merkleRoot := applySHA256(nonceDigest)

	var (
		calendarBody []byte
		errsCollected []string
	)
	for _, url := range e.Calendars {
		body, err := e.Calendar.Submit(url, merkleRoot)
		if err != nil {
			errsCollected = append(errsCollected, fmt.Sprintf("%s: %v", url, err))
			continue
		}
		calendarBody = body
		break
	}
	if calendarBody == nil {
		return nil, errs.New(errs.Upstream, "all calendars failed: "+strings.Join(errsCollected, "; "))
	}

	firstStep, err := DecodeStepTree(calendarBody, merkleRoot)
	if err != nil {
		return nil, err
	}

	sha256Step := &Step{Kind: KindOp, Op: OpSHA256, Output: merkleRoot, Next: []*Step{firstStep}}
	appendStep := &Step{Kind: KindOp, Op: OpAppend, Operand: nonce[:], Output: nonceDigest, Next: []*Step{sha256Step}}

	return Encode(&Timestamp{StartDigest: digest, FirstStep: appendStep})
}

// Upgrade walks T's step tree for pending attestations and attempts to
// replace each with the calendar's confirmed subtree. NotYet is swallowed;
// other per-calendar errors are logged but do not abort the walk.
// Returns the possibly-mutated bytes and whether anything changed.
func (e *Engine) Upgrade(proof []byte) ([]byte, bool, error) {
	ts, err := Decode(proof)
	if err != nil {
		return nil, false, err
	}

	if IsComplete(ts.FirstStep) {
		return proof, false, nil
	}

	pending := CollectPending(ts.FirstStep)
	changed := false
	for _, p := range pending {
		body, err := e.Calendar.FetchUpgrade(p.URI, p.Commitment)
		if err != nil {
			if errs.Is(err, errs.NotYet) {
				continue
			}
			logging.Warn("ots upgrade: calendar fetch failed", "calendar", p.URI, "error", err)
			continue // upgrade is best-effort
		}
		upgraded, err := DecodeStepTree(body, p.Commitment)
		if err != nil {
			logging.Warn("ots upgrade: calendar reply did not decode", "calendar", p.URI, "error", err)
			continue
		}
		if mergeAtCommitment(ts.FirstStep, p.Commitment, upgraded) {
			changed = true
		}
	}

	if !changed {
		return proof, false, nil
	}
	out, err := Encode(ts)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// mergeAtCommitment finds the node in root whose Output equals commitment
// and grafts upgraded (a subtree whose input is that commitment) beneath
// it. An op step encodes exactly one child, so the graft happens under a
// fork directly below the commitment node, created if not already there.
func mergeAtCommitment(root *Step, commitment []byte, upgraded *Step) bool {
	if root.Kind != KindAttestation && bytesEqual(root.Output, commitment) {
		wrapper := &Step{Kind: KindFork, Output: root.Output, Next: []*Step{upgraded}}
		if root.Kind == KindFork {
			return Merge(root, wrapper)
		}
		if len(root.Next) != 1 || root.Next[0].Kind != KindFork {
			root.Next = []*Step{{Kind: KindFork, Output: root.Output, Next: root.Next}}
		}
		return Merge(root.Next[0], wrapper)
	}
	changed := false
	for _, child := range root.Next {
		if mergeAtCommitment(child, commitment, upgraded) {
			changed = true
		}
	}
	return changed
}

// Verify checks that proof's start digest matches digest, best-effort
// upgrades it, then cross-checks every Bitcoin attestation against the
// block explorer. It returns the confirmed results plus the (possibly
// upgraded) proof bytes.
func (e *Engine) Verify(proof []byte, digest []byte) ([]VerificationResult, []byte, error) {
	ts, err := Decode(proof)
	if err != nil {
		return nil, nil, err
	}
	if !bytesEqual(ts.StartDigest, digest) {
		return nil, nil, errs.New(errs.DigestMismatch, "OTS start digest does not match artifact digest")
	}

	workingProof := proof
	if upgraded, changed, err := e.Upgrade(proof); err == nil && changed {
		workingProof = upgraded
		ts, _ = Decode(workingProof)
	}

	attestations := CollectAttestations(ts.FirstStep)
	if len(attestations) == 0 {
		return nil, workingProof, errs.New(errs.Unverified, "no attestations found")
	}

	var results []VerificationResult
	for _, a := range attestations {
		if a.Attestation != AttestationBitcoin {
			continue
		}
		res, err := e.verifyBitcoinAttestation(ts.FirstStep, a.BitcoinHeight)
		if err != nil {
			logging.Warn("ots verify: bitcoin attestation check failed", "height", a.BitcoinHeight, "error", err)
			continue // per-chain failures are logged, not fatal to the overall verify
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		return nil, workingProof, errs.New(errs.Unverified, "no verified attestations found")
	}
	return results, workingProof, nil
}

// explorerBlock mirrors the esplora/blockstream.info block JSON shape.
type explorerBlock struct {
	Timestamp  uint64 `json:"timestamp"`
	Height     uint64 `json:"height"`
	MerkleRoot string `json:"merkle_root"`
}

func (e *Engine) verifyBitcoinAttestation(root *Step, height uint64) (VerificationResult, error) {
	client := e.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: calendarTimeout}
	}

	hashResp, err := client.Get(fmt.Sprintf("%s/block-height/%d", e.BlockExplorerURL, height))
	if err != nil {
		return VerificationResult{}, errs.Wrap(errs.Upstream, "fetch block hash", err)
	}
	defer hashResp.Body.Close()
	hashBody, err := io.ReadAll(io.LimitReader(hashResp.Body, 1024))
	if err != nil {
		return VerificationResult{}, errs.Wrap(errs.IO, "read block hash response", err)
	}
	blockHash := strings.TrimSpace(string(hashBody))

	blockResp, err := client.Get(fmt.Sprintf("%s/block/%s", e.BlockExplorerURL, blockHash))
	if err != nil {
		return VerificationResult{}, errs.Wrap(errs.Upstream, "fetch block", err)
	}
	defer blockResp.Body.Close()
	var block explorerBlock
	if err := json.NewDecoder(io.LimitReader(blockResp.Body, 4096)).Decode(&block); err != nil {
		return VerificationResult{}, errs.Wrap(errs.Malformed, "decode block json", err)
	}

	merkleRootBytes, err := hex.DecodeString(block.MerkleRoot)
	if err != nil {
		return VerificationResult{}, errs.Wrap(errs.Malformed, "block merkle root is not valid hex", err)
	}

	attested := findBitcoinAttestationOutput(root, height)
	if attested == nil {
		return VerificationResult{}, errs.New(errs.Malformed, "no matching bitcoin attestation step")
	}
	if !bytesEqual(attested, merkleRootBytes) {
		return VerificationResult{}, errs.New(errs.MerkleMismatch, "attested digest does not match block merkle root")
	}

	return VerificationResult{Chain: "bitcoin", Timestamp: block.Timestamp, Height: block.Height}, nil
}

func findBitcoinAttestationOutput(step *Step, targetHeight uint64) []byte {
	if step.Kind == KindAttestation {
		if step.Attestation == AttestationBitcoin && step.BitcoinHeight == targetHeight {
			return step.Output
		}
		return nil
	}
	for _, child := range step.Next {
		if out := findBitcoinAttestationOutput(child, targetHeight); out != nil {
			return out
		}
	}
	return nil
}
