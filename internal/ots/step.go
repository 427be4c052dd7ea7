// Package ots implements the OpenTimestamps detached-proof codec and the
// engine that creates, upgrades, and verifies timestamps against a set of
// calendar servers and a Bitcoin block explorer.
package ots

// StepKind discriminates the three variants of Step.Data: an operation, a
// fork point, or a terminal attestation. A flat discriminant field keeps
// Merge (which mutates trees in place) a matter of comparing fields rather
// than type-switching through an interface.
type StepKind int

const (
	KindOp StepKind = iota
	KindFork
	KindAttestation
)

// OpKind enumerates the transformations a Step of KindOp may apply.
type OpKind int

const (
	OpAppend OpKind = iota
	OpPrepend
	OpSHA256
	OpRipemd160
	OpUnknown // opaque tagged op, preserved verbatim via UnknownOp/Operand
)

// AttestationKind enumerates the terminal claims a Step of KindAttestation
// may carry.
type AttestationKind int

const (
	AttestationPending AttestationKind = iota
	AttestationBitcoin
	AttestationUnknown
)

// Step is one node of the Merkle proof tree. Exactly one of the Data
// fields relevant to Kind is populated; Next is empty iff Kind is
// KindAttestation.
type Step struct {
	Kind StepKind

	// Populated when Kind == KindOp.
	Op        OpKind
	Operand   []byte // Append/Prepend operand
	UnknownOp byte   // opaque op tag, when Op == OpUnknown

	// Populated when Kind == KindAttestation.
	Attestation       AttestationKind
	PendingURI        string
	BitcoinHeight     uint64
	UnknownTag        []byte
	UnknownPayload    []byte

	// Output is the value produced by applying this node to its input (the
	// start digest, for the root step). Its length depends on the op: 32
	// bytes after SHA256, 20 after RIPEMD160, input plus operand after
	// Append/Prepend.
	Output []byte

	Next []*Step
}

// Timestamp is a detached OpenTimestamps proof: the digest it commits to
// and the root of its Merkle step tree.
type Timestamp struct {
	StartDigest []byte
	FirstStep   *Step
}

// stepsMatch reports whether a and b are the same node for merge purposes:
// equal output and equal kind discriminant (Op kind for ops, always equal
// for forks, and role-specific identity for attestations).
func stepsMatch(a, b *Step) bool {
	if !bytesEqual(a.Output, b.Output) {
		return false
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindOp:
		if a.Op != b.Op {
			return false
		}
		if a.Op == OpUnknown {
			return a.UnknownOp == b.UnknownOp
		}
		return true
	case KindFork:
		return true
	case KindAttestation:
		if a.Attestation != b.Attestation {
			return false
		}
		switch a.Attestation {
		case AttestationBitcoin:
			return a.BitcoinHeight == b.BitcoinHeight
		case AttestationPending:
			return a.PendingURI == b.PendingURI
		case AttestationUnknown:
			return bytesEqual(a.UnknownTag, b.UnknownTag)
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CollectAttestations walks step and its descendants, returning every
// attestation leaf.
func CollectAttestations(step *Step) []*Step {
	if step == nil {
		return nil
	}
	if step.Kind == KindAttestation {
		return []*Step{step}
	}
	var out []*Step
	for _, child := range step.Next {
		out = append(out, CollectAttestations(child)...)
	}
	return out
}

// IsComplete reports whether any collected attestation confirms a Bitcoin
// block.
func IsComplete(step *Step) bool {
	for _, a := range CollectAttestations(step) {
		if a.Attestation == AttestationBitcoin {
			return true
		}
	}
	return false
}

// pendingCommitment pairs a pending attestation's calendar URI with the
// commitment (the output of the step immediately above the attestation)
// that must be submitted to fetch its upgrade.
type pendingCommitment struct {
	URI        string
	Commitment []byte
}

// CollectPending walks step, returning every (uri, commitment) pair for a
// Pending attestation reachable from it.
func CollectPending(step *Step) []pendingCommitment {
	if step == nil {
		return nil
	}
	var out []pendingCommitment
	for _, child := range step.Next {
		if child.Kind == KindAttestation && child.Attestation == AttestationPending {
			out = append(out, pendingCommitment{URI: child.PendingURI, Commitment: step.Output})
			continue
		}
		out = append(out, CollectPending(child)...)
	}
	return out
}

// Merge walks two subtrees rooted at equal steps and grafts any branch
// present in upgraded but absent from original onto original, mutating it
// in place. It returns true iff it added anything.
//
// Both attestations: merging two leaves would break integrity, so this is
// a no-op. Same Op kind or both Forks: for each child of upgraded, find the
// matching child of original (by stepsMatch) and recurse, or append it if
// absent. Mixed kinds: reject without mutating.
func Merge(original, upgraded *Step) bool {
	if original.Kind == KindAttestation && upgraded.Kind == KindAttestation {
		return false
	}
	if original.Kind != upgraded.Kind {
		return false
	}
	if original.Kind == KindOp && original.Op != upgraded.Op {
		return false
	}

	changed := false
	for _, upChild := range upgraded.Next {
		var match *Step
		for _, origChild := range original.Next {
			if stepsMatch(origChild, upChild) {
				match = origChild
				break
			}
		}
		if match == nil {
			original.Next = append(original.Next, upChild)
			changed = true
			continue
		}
		if Merge(match, upChild) {
			changed = true
		}
	}
	return changed
}
