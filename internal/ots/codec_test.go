package ots

import (
	"bytes"
	"testing"
)

func sampleTimestamp() *Timestamp {
	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}
	nonce := []byte("0123456789abcdef")
	nonceDigest := applyAppend(digest, nonce)
	merkleRoot := applySHA256(nonceDigest)

	pending := &Step{Kind: KindAttestation, Attestation: AttestationPending, PendingURI: "https://a.pool.opentimestamps.org", Output: merkleRoot}
	sha := &Step{Kind: KindOp, Op: OpSHA256, Output: merkleRoot, Next: []*Step{pending}}
	appendStep := &Step{Kind: KindOp, Op: OpAppend, Operand: nonce, Output: nonceDigest, Next: []*Step{sha}}

	return &Timestamp{StartDigest: digest, FirstStep: appendStep}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := sampleTimestamp()
	encoded, err := Encode(ts)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatal("decode(encode(ts)) did not round-trip byte-for-byte")
	}
}

func TestEncodeDecodePreservesUnknownAttestation(t *testing.T) {
	digest := make([]byte, 32)
	unknown := &Step{Kind: KindAttestation, Attestation: AttestationUnknown, UnknownTag: []byte{0xde, 0xad}, UnknownPayload: []byte("opaque"), Output: digest}
	sha := &Step{Kind: KindOp, Op: OpSHA256, Output: applySHA256(digest), Next: []*Step{unknown}}
	ts := &Timestamp{StartDigest: digest, FirstStep: &Step{Kind: KindOp, Op: OpAppend, Operand: []byte("x"), Output: applyAppend(digest, []byte("x")), Next: []*Step{sha}}}

	// Fix up outputs to be internally consistent.
	ts.FirstStep.Output = applyAppend(digest, []byte("x"))
	sha.Output = applySHA256(ts.FirstStep.Output)
	unknown.Output = sha.Output

	encoded, err := Encode(ts)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	got := CollectAttestations(decoded.FirstStep)[0]
	if got.Attestation != AttestationUnknown || !bytes.Equal(got.UnknownTag, []byte{0xde, 0xad}) || string(got.UnknownPayload) != "opaque" {
		t.Fatalf("unknown attestation not preserved verbatim: %+v", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	ts := sampleTimestamp()
	clone := sampleTimestamp()
	changed := Merge(ts.FirstStep, clone.FirstStep)
	if changed {
		t.Fatal("merging an identical tree into itself should report no change")
	}
}

func TestMergeAddsNewAttestation(t *testing.T) {
	original := sampleTimestamp()
	upgraded := sampleTimestamp()

	// Replace the pending leaf reachable through upgraded's sha step with a
	// confirmed Bitcoin attestation sharing the same output.
	shaStep := upgraded.FirstStep.Next[0]
	bitcoin := &Step{Kind: KindAttestation, Attestation: AttestationBitcoin, BitcoinHeight: 800000, Output: shaStep.Output}
	shaStep.Next = []*Step{bitcoin}

	changed := Merge(original.FirstStep, upgraded.FirstStep)
	if !changed {
		t.Fatal("expected merge to report a change")
	}
	if !IsComplete(original.FirstStep) {
		t.Fatal("expected merged tree to be complete")
	}

	// Merging the same upgrade again should be a no-op.
	changed = Merge(original.FirstStep, upgraded.FirstStep)
	if changed {
		t.Fatal("second merge of the same upgrade should report no change")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not an ots file"))
	if err == nil {
		t.Fatal("expected error for bad magic header")
	}
}
