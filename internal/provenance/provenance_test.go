package provenance

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mister-teddy/node-drive/internal/canonical"
	"github.com/mister-teddy/node-drive/internal/errs"
	"github.com/mister-teddy/node-drive/internal/ots"
	"github.com/mister-teddy/node-drive/internal/signer"
)

func newTestIdentity(t *testing.T) Identity {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	return Identity{
		PrivateKeyHex: hexEncode(priv.Serialize()),
		PublicKeyHex:  hexEncode(priv.PubKey().SerializeCompressed()),
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// failingCalendarServer always fails digest submission, forcing Create to
// fall back to its placeholder-proof path without blocking the test on
// real calendar infrastructure.
func failingCalendarServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func TestMintThenManifest(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	identity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, identity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := mgr.Mint(path)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SHA256 != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Fatalf("unexpected sha256: %s", resp.SHA256)
	}

	manifest, err := store.GetManifestByPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if manifest == nil || len(manifest.Events) != 1 {
		t.Fatal("expected exactly one event in manifest")
	}
	e := manifest.Events[0]
	if e.Index != 0 || e.Action != ActionMint || e.PrevEventHashHex != "" {
		t.Fatalf("unexpected event shape: %+v", e)
	}
	if e.Actors.CreatorPubkeyHex != identity.PublicKeyHex {
		t.Fatal("creator pubkey mismatch")
	}
	if e.Signatures.CreatorSigHex == "" {
		t.Fatal("expected a creator signature")
	}

	ok, err := VerifyEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected mint event to verify")
	}
}

func TestMintIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	identity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, identity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)

	first, err := mgr.Mint(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := mgr.Mint(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.EventHash != second.EventHash {
		t.Fatal("second mint should return the first event's hash")
	}

	events, err := store.GetEvents(mustArtifactID(t, store, path))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event after two mints, got %d", len(events))
	}
}

func TestConcurrentMintsProduceOneEvent(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	identity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, identity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)

	var wg sync.WaitGroup
	results := make([]*MintResponse, 8)
	errsOut := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = mgr.Mint(path)
		}(i)
	}
	wg.Wait()

	for _, err := range errsOut {
		if err != nil {
			t.Fatal(err)
		}
	}
	first := results[0].EventHash
	for _, r := range results[1:] {
		if r.EventHash != first {
			t.Fatal("concurrent mints disagreed on the winning event")
		}
	}

	events, err := store.GetEvents(mustArtifactID(t, store, path))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one committed event at index 0, got %d", len(events))
	}
}

func TestTransferChain(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	serverIdentity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, serverIdentity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)

	if _, err := mgr.Mint(path); err != nil {
		t.Fatal(err)
	}

	prevPriv, _ := secp256k1.GeneratePrivateKey()
	newPriv, _ := secp256k1.GeneratePrivateKey()
	prevPub := hexEncode(prevPriv.PubKey().SerializeCompressed())
	newPub := hexEncode(newPriv.PubKey().SerializeCompressed())

	mintEvents, err := store.GetEvents(mustArtifactID(t, store, path))
	if err != nil {
		t.Fatal(err)
	}
	mintHash := mintEvents[0].EventHashHex

	// Malformed signatures are rejected before any event is committed.
	_, err = mgr.Transfer(TransferArgs{
		Path:               path,
		PrevEventHashHex:   mintHash,
		IssuedAt:           time.Now().UTC().Format(time.RFC3339),
		PrevOwnerPubkeyHex: prevPub,
		NewOwnerPubkeyHex:  newPub,
		PrevOwnerSigHex:    "00",
		NewOwnerSigHex:     "00",
	})
	if !errs.Is(err, errs.BadSignature) {
		t.Fatalf("expected BadSignature for malformed DER signatures, got %v", err)
	}
}

// signTransfer builds the exact canonical hash EventManager.Transfer will
// recompute for the given args and signs it with both private keys, the
// way two cooperating owners would before either calls the server.
func signTransfer(t *testing.T, artifactSHA256Hex string, nextIndex uint32, args TransferArgs, prevPriv, newPriv *secp256k1.PrivateKey) TransferArgs {
	t.Helper()
	fields := canonical.Fields{
		Index:             nextIndex,
		Action:            canonical.ActionTransfer,
		ArtifactSHA256Hex: artifactSHA256Hex,
		PrevEventHashHex:  args.PrevEventHashHex,
		Actors: canonical.Actors{
			PrevOwner: args.PrevOwnerPubkeyHex,
			NewOwner:  args.NewOwnerPubkeyHex,
		},
		IssuedAt: args.IssuedAt,
	}
	hashHex := canonical.HashHex(fields)

	prevSig, err := signer.Sign(hashHex, hexEncode(prevPriv.Serialize()))
	if err != nil {
		t.Fatal(err)
	}
	newSig, err := signer.Sign(hashHex, hexEncode(newPriv.Serialize()))
	if err != nil {
		t.Fatal(err)
	}
	args.PrevOwnerSigHex = prevSig
	args.NewOwnerSigHex = newSig
	return args
}

func TestTransferChainSucceedsWithValidSignatures(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	serverIdentity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, serverIdentity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)

	if _, err := mgr.Mint(path); err != nil {
		t.Fatal(err)
	}
	artifactID := mustArtifactID(t, store, path)
	mintEvents, err := store.GetEvents(artifactID)
	if err != nil {
		t.Fatal(err)
	}
	mintHash := mintEvents[0].EventHashHex

	prevPriv, _ := secp256k1.GeneratePrivateKey()
	newPriv, _ := secp256k1.GeneratePrivateKey()
	args := TransferArgs{
		Path:               path,
		PrevEventHashHex:   mintHash,
		IssuedAt:           time.Now().UTC().Format(time.RFC3339),
		PrevOwnerPubkeyHex: hexEncode(prevPriv.PubKey().SerializeCompressed()),
		NewOwnerPubkeyHex:  hexEncode(newPriv.PubKey().SerializeCompressed()),
	}
	args = signTransfer(t, mintEvents[0].ArtifactSHA256Hex, 1, args, prevPriv, newPriv)

	event, err := mgr.Transfer(args)
	if err != nil {
		t.Fatal(err)
	}
	if event.Index != 1 || event.Action != ActionTransfer || event.PrevEventHashHex != mintHash {
		t.Fatalf("unexpected transfer event shape: %+v", event)
	}

	ok, err := VerifyEvent(*event)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected transfer event to verify")
	}

	events, err := store.GetEvents(artifactID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected mint + transfer, got %d events", len(events))
	}
}

func TestConcurrentTransfersOnSameHeadProduceOneConflict(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	serverIdentity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, serverIdentity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)

	if _, err := mgr.Mint(path); err != nil {
		t.Fatal(err)
	}
	artifactID := mustArtifactID(t, store, path)
	mintEvents, err := store.GetEvents(artifactID)
	if err != nil {
		t.Fatal(err)
	}
	mintHash := mintEvents[0].EventHashHex
	issuedAt := time.Now().UTC().Format(time.RFC3339)

	// Two racers both read the same chain head before either calls
	// Transfer, each proposing a different new owner.
	prevPriv, _ := secp256k1.GeneratePrivateKey()
	racers := make([]TransferArgs, 2)
	for i := range racers {
		newPriv, _ := secp256k1.GeneratePrivateKey()
		args := TransferArgs{
			Path:               path,
			PrevEventHashHex:   mintHash,
			IssuedAt:           issuedAt,
			PrevOwnerPubkeyHex: hexEncode(prevPriv.PubKey().SerializeCompressed()),
			NewOwnerPubkeyHex:  hexEncode(newPriv.PubKey().SerializeCompressed()),
		}
		racers[i] = signTransfer(t, mintEvents[0].ArtifactSHA256Hex, 1, args, prevPriv, newPriv)
	}

	var wg sync.WaitGroup
	results := make([]*Event, 2)
	errsOut := make([]error, 2)
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = mgr.Transfer(racers[i])
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errsOut {
		switch {
		case err == nil:
			successes++
		case errs.Is(err, errs.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected transfer error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one success and one conflict, got %d successes and %d conflicts", successes, conflicts)
	}

	events, err := store.GetEvents(artifactID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected exactly one committed transfer alongside the mint, got %d events", len(events))
	}
}

func TestStampCacheThrottlesRepeatedChecks(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	identity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, identity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)
	if _, err := mgr.Mint(path); err != nil {
		t.Fatal(err)
	}

	var calls int
	countingClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, errs.New(errs.Upstream, "network disabled in test")
	})}
	engine.HTTPClient = countingClient

	fakeNow := time.Now()
	cache := &StampCache{Store: store, Engine: engine, ThrottleWindow: 5 * time.Minute, Now: func() time.Time { return fakeNow }}

	if _, err := cache.ComputeStampStatus(path); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := calls

	fakeNow = fakeNow.Add(1 * time.Minute)
	if _, err := cache.ComputeStampStatus(path); err != nil {
		t.Fatal(err)
	}
	if calls != callsAfterFirst {
		t.Fatalf("expected no additional network calls within the throttle window, got %d more", calls-callsAfterFirst)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestXattrCacheReturnsSameArtifactAsStore(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)

	id, err := store.UpsertArtifact(path, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}

	cache := NewXattrCache(store)
	artifact, err := cache.GetArtifactByPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if artifact == nil || artifact.ID != id {
		t.Fatalf("expected cached lookup to match store artifact %d, got %+v", id, artifact)
	}

	// A second lookup exercises the cached path (or its no-op fallback on
	// platforms without extended attribute support); either way it must
	// still agree with the store.
	artifact2, err := cache.GetArtifactByPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if artifact2 == nil || artifact2.ID != id {
		t.Fatalf("second lookup diverged from store: %+v", artifact2)
	}
}

func TestUpgradeAllSweepsUnverifiedArtifacts(t *testing.T) {
	store := newTestStore(t)
	cal := failingCalendarServer(t)
	defer cal.Close()

	identity := newTestIdentity(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)
	mgr := NewEventManager(store, engine, identity)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("hello world"), 0o644)
	if _, err := mgr.Mint(path); err != nil {
		t.Fatal(err)
	}

	unverified, err := store.ListUnverifiedArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(unverified) != 1 {
		t.Fatalf("expected exactly one unverified artifact, got %d", len(unverified))
	}

	cache := NewStampCache(store, engine)
	if _, err := cache.UpgradeAll(); err != nil {
		t.Fatal(err)
	}
}

func mustArtifactID(t *testing.T, store *Store, path string) int64 {
	t.Helper()
	a, err := store.GetArtifactByPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if a == nil {
		t.Fatal("artifact not found")
	}
	return a.ID
}
