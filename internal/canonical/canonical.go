// Package canonical builds the deterministic JSON representation of an
// event's identifying fields and hashes it, so two independently
// constructed copies of the same event always produce the same event hash.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Action is the custody action a canonical event records.
type Action string

const (
	ActionMint     Action = "mint"
	ActionTransfer Action = "transfer"
)

// Actors carries the subset of roles present on an event. A mint carries
// only Creator; a transfer carries PrevOwner and NewOwner.
type Actors struct {
	Creator   string // creator_pubkey_hex
	PrevOwner string // prev_owner_pubkey_hex
	NewOwner  string // new_owner_pubkey_hex
}

// Fields is the input to Hash: the identifying fields of one event.
type Fields struct {
	Index             uint32
	Action            Action
	ArtifactSHA256Hex string
	PrevEventHashHex  string // empty means null / event index 0
	Actors            Actors
	IssuedAt          string // RFC-3339 UTC
}

// actorKey/actorValue pairs, built in lexicographic key order so the
// resulting JSON object's actors map never depends on construction order.
func actorPairs(a Actors) []string {
	pairs := map[string]string{}
	if a.Creator != "" {
		pairs["creator_pubkey_hex"] = a.Creator
	}
	if a.NewOwner != "" {
		pairs["new_owner_pubkey_hex"] = a.NewOwner
	}
	if a.PrevOwner != "" {
		pairs["prev_owner_pubkey_hex"] = a.PrevOwner
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s:%s", k, pairs[k]))
	}
	return out
}

// canonicalJSON renders the exact compact JSON object described in the
// canonicalization rules: fixed outer key order, sorted actor keys, absent
// roles omitted rather than null, prev_event_hash_hex literally null when
// empty.
func canonicalJSON(f Fields) []byte {
	var b strings.Builder
	b.WriteString(`{"type":"provenance.event/v1","index":`)
	fmt.Fprintf(&b, "%d", f.Index)
	b.WriteString(`,"action":`)
	writeJSONString(&b, string(f.Action))
	b.WriteString(`,"artifact_sha256_hex":`)
	writeJSONString(&b, f.ArtifactSHA256Hex)
	b.WriteString(`,"prev_event_hash_hex":`)
	if f.PrevEventHashHex == "" {
		b.WriteString("null")
	} else {
		writeJSONString(&b, f.PrevEventHashHex)
	}
	b.WriteString(`,"actors":{`)
	pairs := actorPairs(f.Actors)
	for i, kv := range pairs {
		idx := strings.IndexByte(kv, ':')
		key, val := kv[:idx], kv[idx+1:]
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(&b, key)
		b.WriteByte(':')
		writeJSONString(&b, val)
	}
	b.WriteString(`},"issued_at":`)
	writeJSONString(&b, f.IssuedAt)
	b.WriteByte('}')
	return []byte(b.String())
}

// writeJSONString appends s to b as a JSON string literal using
// encoding/json's escaping rules, so the hashed bytes never depend on a
// hand-rolled escaper disagreeing with the decoder on the other side.
func writeJSONString(b *strings.Builder, s string) {
	encoded, _ := json.Marshal(s)
	b.Write(encoded)
}

// Hash returns the canonical JSON bytes and their SHA-256 hex digest for f.
func Hash(f Fields) (jsonBytes []byte, hashHex string) {
	j := canonicalJSON(f)
	sum := sha256.Sum256(j)
	return j, hex.EncodeToString(sum[:])
}

// HashHex is a convenience wrapper returning only the hex digest.
func HashHex(f Fields) string {
	_, h := Hash(f)
	return h
}
