package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/mister-teddy/node-drive/internal/canonical"
	"github.com/mister-teddy/node-drive/internal/ots"
	"github.com/mister-teddy/node-drive/internal/provenance"
	"github.com/mister-teddy/node-drive/internal/schemavalidation"
	"github.com/mister-teddy/node-drive/internal/share"
	"github.com/mister-teddy/node-drive/internal/signer"
)

// fakeCalendar answers every OTS submission with a pending attestation
// pointed at itself, the same fixture shape internal/ots's own engine
// tests use.
func fakeCalendar(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 64))
		pending := &ots.Step{Kind: ots.KindAttestation, Attestation: ots.AttestationPending, PendingURI: "https://example-calendar.invalid", Output: body}
		out, err := ots.EncodeStepTree(pending)
		require.NoError(t, err)
		_, _ = w.Write(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "provenance.db")

	store, err := provenance.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cal := fakeCalendar(t)
	engine := ots.NewEngine([]string{cal.URL}, ots.DefaultBlockExplorerURL)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	identity := provenance.Identity{
		PrivateKeyHex: hex.EncodeToString(priv.Serialize()),
		PublicKeyHex:  hex.EncodeToString(priv.PubKey().SerializeCompressed()),
	}

	events := provenance.NewEventManager(store, engine, identity)
	stamps := provenance.NewStampCache(store, engine)
	shares := share.NewManager(store, share.Identity(identity))

	cfg := Config{
		Root:             root,
		AllowUpload:      true,
		AllowDelete:      true,
		AllowSearch:      true,
		AllowArchive:     true,
		MinResumableSize: 1 << 20,
	}
	srv := New(context.Background(), cfg, store, events, stamps, engine, shares)
	return srv, root
}

func doRequest(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadThenManifestRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPut, "/hello.txt", strings.NewReader("hello world"))
	require.Equal(t, http.StatusOK, rec.Code)

	var mintResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mintResp))
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", mintResp["sha256"])

	rec = doRequest(t, h, http.MethodGet, "/hello.txt?manifest=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	events, ok := manifest["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)

	first := events[0].(map[string]any)
	require.Equal(t, "mint", first["action"])
	require.Equal(t, float64(0), first["index"])
}

func TestUploadThenDownload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPut, "/greeting.txt", strings.NewReader("hello world"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/greeting.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
}

func TestShareCreateAndResolve(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPut, "/shared.txt", strings.NewReader("hello world"))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/shared.txt?share", nil)
	req.Header.Set("X-User", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var issued map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	shareID, ok := issued["share_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, shareID)

	rec = doRequest(t, h, http.MethodGet, "/share/"+shareID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Share-Signature"))

	rec = doRequest(t, h, http.MethodGet, "/share/"+shareID+"/chain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	downloads, ok := chain["downloads"].([]any)
	require.True(t, ok)
	require.Len(t, downloads, 1)
}

// fetchMintEvent uploads a file and returns its manifest's mint event as a
// generic map, for tests that need the creator pubkey and event hash to
// build a follow-on transfer request.
func fetchMintEvent(t *testing.T, h http.Handler, target, body string) map[string]any {
	t.Helper()
	rec := doRequest(t, h, http.MethodPut, target, strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, target+"?manifest=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	events := manifest["events"].([]any)
	return events[0].(map[string]any)
}

// signedTransferBody builds a transfer request whose two signatures verify
// against the exact canonical hash handleTransfer will recompute, the way
// two cooperating owners would produce them before either calls the
// server.
func signedTransferBody(t *testing.T, artifactSHA256Hex, prevEventHashHex string, nextIndex uint32, prevPriv, newPriv *secp256k1.PrivateKey) string {
	t.Helper()
	issuedAt := time.Now().UTC().Format(time.RFC3339)
	prevPub := hex.EncodeToString(prevPriv.PubKey().SerializeCompressed())
	newPub := hex.EncodeToString(newPriv.PubKey().SerializeCompressed())

	fields := canonical.Fields{
		Index:             nextIndex,
		Action:            canonical.ActionTransfer,
		ArtifactSHA256Hex: artifactSHA256Hex,
		PrevEventHashHex:  prevEventHashHex,
		Actors:            canonical.Actors{PrevOwner: prevPub, NewOwner: newPub},
		IssuedAt:          issuedAt,
	}
	hashHex := canonical.HashHex(fields)

	prevSig, err := signer.Sign(hashHex, hex.EncodeToString(prevPriv.Serialize()))
	require.NoError(t, err)
	newSig, err := signer.Sign(hashHex, hex.EncodeToString(newPriv.Serialize()))
	require.NoError(t, err)

	req := transferRequest{
		PrevEventHashHex:   prevEventHashHex,
		IssuedAt:           issuedAt,
		PrevOwnerPubkeyHex: prevPub,
		NewOwnerPubkeyHex:  newPub,
		PrevOwnerSigHex:    prevSig,
		NewOwnerSigHex:     newSig,
	}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	return string(out)
}

func TestTransferRejectsMalformedSignatures(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	mint := fetchMintEvent(t, h, "/owned.txt", "hello world")
	creatorPubkeyHex := mint["actors"].(map[string]any)["creator_pubkey_hex"].(string)
	mintEventHash := mint["event_hash_hex"].(string)

	newOwnerPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	newOwnerPubkeyHex := hex.EncodeToString(newOwnerPriv.PubKey().SerializeCompressed())

	// Signatures that are not valid DER must be rejected with 400 before
	// any transfer event is committed.
	body := `{"prev_event_hash_hex":"` + mintEventHash + `","issued_at":"2026-01-01T00:00:00Z","prev_owner_pubkey_hex":"` + creatorPubkeyHex + `","new_owner_pubkey_hex":"` + newOwnerPubkeyHex + `","prev_owner_sig_hex":"00","new_owner_sig_hex":"00"}`
	rec := doRequest(t, h, http.MethodPost, "/owned.txt?transfer", strings.NewReader(body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferSucceedsWithValidSignaturesAndUpdatesManifest(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	mint := fetchMintEvent(t, h, "/owned2.txt", "hello world")
	artifactSHA256Hex := mint["artifact_sha256_hex"].(string)
	mintEventHash := mint["event_hash_hex"].(string)

	prevPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	newPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	body := signedTransferBody(t, artifactSHA256Hex, mintEventHash, 1, prevPriv, newPriv)
	rec := doRequest(t, h, http.MethodPost, "/owned2.txt?transfer", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["success"])
	require.Equal(t, float64(1), resp["index"])

	rec = doRequest(t, h, http.MethodGet, "/owned2.txt?manifest=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	events := manifest["events"].([]any)
	require.Len(t, events, 2)
	transfer := events[1].(map[string]any)
	require.Equal(t, "transfer", transfer["action"])
	require.Equal(t, mintEventHash, transfer["prev_event_hash_hex"])
}

func TestConcurrentTransfersOnSameHeadYieldOneConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	mint := fetchMintEvent(t, h, "/owned3.txt", "hello world")
	artifactSHA256Hex := mint["artifact_sha256_hex"].(string)
	mintEventHash := mint["event_hash_hex"].(string)

	prevPriv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	bodies := make([]string, 2)
	for i := range bodies {
		newPriv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		bodies[i] = signedTransferBody(t, artifactSHA256Hex, mintEventHash, 1, prevPriv, newPriv)
	}

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := doRequest(t, h, http.MethodPost, "/owned3.txt?transfer", strings.NewReader(bodies[i]))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		default:
			t.Fatalf("unexpected status code: %d", code)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflict)
}

// TestManifestJSONMatchesSchema feeds a real handleManifest response
// through jsonschema/v5 against docs/schema/provenance-manifest-v1.schema.json,
// catching a response-shape regression (a dropped required field, a type
// widened from string to object) that a field-by-field assertion would
// miss if it only checked the fields it already knew about.
func TestManifestJSONMatchesSchema(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPut, "/schema-checked.txt", strings.NewReader("hello world"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/schema-checked.txt?manifest=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	schemaPath := filepath.Join(filepath.Dir(file), "..", "..", "docs", "schema", "provenance-manifest-v1.schema.json")
	schemaData, err := os.ReadFile(schemaPath)
	require.NoError(t, err)

	require.NoError(t, schemavalidation.ValidateManifest(schemaData, rec.Body.Bytes()))
}

func TestMkcolAndPropfind(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, "MKCOL", "/sub", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, "PROPFIND", "/sub", nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
}

func TestLockUnlockReturnsNotImplemented(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, "LOCK", "/anything", nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestReadOnlyRejectsUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Config.AllowUpload = false

	rec := doRequest(t, srv.Handler(), http.MethodPut, "/nope.txt", strings.NewReader("x"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
