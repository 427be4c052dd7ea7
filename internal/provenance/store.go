// Package provenance implements the durable event log, its throttled
// verification cache, and the mint/transfer operations that build it.
package provenance

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mister-teddy/node-drive/internal/errs"
)

// Store is a durable, thread-safe, transactional store of artifacts,
// events, actors, signatures, shares, and downloads. A single connection
// is shared across goroutines behind mu, per the concurrency model: the
// mutex must never be held across file I/O or outbound HTTP.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(errs.IO, "create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errs.Wrap(errs.IO, "open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.IO, "apply schema", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertArtifact inserts a new artifact row or refreshes sha256Hex on an
// existing one keyed by path, returning the artifact id.
func (s *Store) UpsertArtifact(path, sha256Hex string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO artifacts (file_path, sha256_hex, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET sha256_hex = excluded.sha256_hex`,
		path, sha256Hex, now,
	)
	if err != nil {
		return 0, errs.Wrap(errs.IO, "upsert artifact", err)
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM artifacts WHERE file_path = ?`, path).Scan(&id); err != nil {
		return 0, errs.Wrap(errs.IO, "read upserted artifact id", err)
	}
	return id, nil
}

// UpdateArtifactPath repoints the artifact tracked at oldPath to newPath,
// following a WebDAV MOVE. It is a no-op (not an error) when oldPath isn't
// tracked: an untracked file can be moved on disk without ever having been
// minted.
func (s *Store) UpdateArtifactPath(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE artifacts SET file_path = ? WHERE file_path = ?`, newPath, oldPath)
	if err != nil {
		return errs.Wrap(errs.IO, "update artifact path", err)
	}
	return nil
}

// GetArtifactByPath returns the artifact row at path, or nil if none exists.
func (s *Store) GetArtifactByPath(path string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getArtifactByPathLocked(path)
}

func (s *Store) getArtifactByPathLocked(path string) (*Artifact, error) {
	var a Artifact
	var createdAt string
	var chain, ts, height, lastCheck sql.NullString
	var tsInt, heightInt sql.NullInt64
	_ = ts
	_ = height

	err := s.db.QueryRow(`
		SELECT id, file_path, sha256_hex, created_at, verified_chain, verified_timestamp, verified_height, last_check_at
		FROM artifacts WHERE file_path = ?`, path,
	).Scan(&a.ID, &a.FilePath, &a.SHA256Hex, &createdAt, &chain, &tsInt, &heightInt, &lastCheck)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IO, "get artifact by path", err)
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if chain.Valid {
		a.VerifiedChain = chain.String
		a.VerifiedTimestamp = tsInt.Int64
		a.VerifiedHeight = heightInt.Int64
		a.HasVerification = true
	}
	if lastCheck.Valid {
		fmt.Sscanf(lastCheck.String, "%d", &a.LastCheckAt)
	}
	return &a, nil
}

// ListUnverifiedArtifacts returns every artifact without a confirmed
// Bitcoin attestation, for the background upgrader to sweep.
func (s *Store) ListUnverifiedArtifacts() ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, file_path, sha256_hex, created_at, last_check_at
		FROM artifacts WHERE verified_chain IS NULL`)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "list unverified artifacts", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var createdAt string
		var lastCheck sql.NullString
		if err := rows.Scan(&a.ID, &a.FilePath, &a.SHA256Hex, &createdAt, &lastCheck); err != nil {
			return nil, errs.Wrap(errs.IO, "scan unverified artifact", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastCheck.Valid {
			fmt.Sscanf(lastCheck.String, "%d", &a.LastCheckAt)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArtifactByID returns the artifact row by id, or nil if none exists.
func (s *Store) GetArtifactByID(id int64) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a Artifact
	var createdAt string
	var chain sql.NullString
	var tsInt, heightInt sql.NullInt64
	var lastCheck sql.NullInt64

	err := s.db.QueryRow(`
		SELECT id, file_path, sha256_hex, created_at, verified_chain, verified_timestamp, verified_height, last_check_at
		FROM artifacts WHERE id = ?`, id,
	).Scan(&a.ID, &a.FilePath, &a.SHA256Hex, &createdAt, &chain, &tsInt, &heightInt, &lastCheck)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IO, "get artifact by id", err)
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if chain.Valid {
		a.VerifiedChain = chain.String
		a.VerifiedTimestamp = tsInt.Int64
		a.VerifiedHeight = heightInt.Int64
		a.HasVerification = true
	}
	a.LastCheckAt = lastCheck.Int64
	return &a, nil
}

// NextEventIndex returns the index the next event for artifactID should use.
func (s *Store) NextEventIndex(artifactID int64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextEventIndexLocked(s.db, artifactID)
}

func (s *Store) nextEventIndexLocked(q querier, artifactID int64) (uint32, error) {
	var max sql.NullInt64
	err := q.QueryRow(`SELECT MAX(index_num) FROM events WHERE artifact_id = ?`, artifactID).Scan(&max)
	if err != nil {
		return 0, errs.Wrap(errs.IO, "compute next event index", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return uint32(max.Int64) + 1, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so helpers can run
// inside or outside a transaction.
type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// InsertEvent atomically inserts an event and its actor/signature rows.
// It re-reads NextEventIndex inside the transaction and fails with
// ErrorKind Conflict if (artifact_id, index) or event_hash already exists.
func (s *Store) InsertEvent(args InsertEventArgs) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errs.Wrap(errs.IO, "begin insert event transaction", err)
	}
	defer tx.Rollback()

	expected, err := s.nextEventIndexLocked(tx, args.ArtifactID)
	if err != nil {
		return 0, err
	}
	if expected != args.Index {
		return 0, errs.New(errs.Conflict, "event index is stale")
	}

	var prevHash sql.NullString
	if args.PrevEventHashHex != "" {
		prevHash = sql.NullString{String: args.PrevEventHashHex, Valid: true}
	}

	res, err := tx.Exec(`
		INSERT INTO events (artifact_id, index_num, action, artifact_sha256_hex, prev_event_hash_hex, issued_at, event_hash_hex, ots_proof_b64)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		args.ArtifactID, args.Index, string(args.Action), args.ArtifactSHA256Hex, prevHash, args.IssuedAt, args.EventHashHex, args.OTSProofB64,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errs.Wrap(errs.Conflict, "event already exists", err)
		}
		return 0, errs.Wrap(errs.IO, "insert event", err)
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return 0, errs.Wrap(errs.IO, "read inserted event id", err)
	}

	for role, pubkey := range actorRoles(args.Actors) {
		if pubkey == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO event_actors (event_id, role, pubkey_hex) VALUES (?, ?, ?)`, eventID, role, pubkey); err != nil {
			return 0, errs.Wrap(errs.IO, "insert event actor", err)
		}
	}
	for role, sig := range signatureRoles(args.Signatures) {
		if sig == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO event_signatures (event_id, role, signature_hex) VALUES (?, ?, ?)`, eventID, role, sig); err != nil {
			return 0, errs.Wrap(errs.IO, "insert event signature", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.Wrap(errs.IO, "commit insert event transaction", err)
	}
	return eventID, nil
}

func actorRoles(a Actors) map[string]string {
	return map[string]string{
		"creator":    a.CreatorPubkeyHex,
		"prev_owner": a.PrevOwnerPubkeyHex,
		"new_owner":  a.NewOwnerPubkeyHex,
	}
}

func signatureRoles(s Signatures) map[string]string {
	return map[string]string{
		"creator":    s.CreatorSigHex,
		"prev_owner": s.PrevOwnerSigHex,
		"new_owner":  s.NewOwnerSigHex,
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") || contains(err.Error(), "constraint failed"))
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// GetEvents returns artifactID's events ordered by index ascending.
func (s *Store) GetEvents(artifactID int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getEventsLocked(artifactID)
}

func (s *Store) getEventsLocked(artifactID int64) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, artifact_id, index_num, action, artifact_sha256_hex, prev_event_hash_hex, issued_at, event_hash_hex, ots_proof_b64,
		       verified_chain, verified_timestamp, verified_height, last_verified_at
		FROM events WHERE artifact_id = ? ORDER BY index_num ASC`, artifactID)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "query events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if err := s.fillActorsAndSignaturesLocked(&events[i]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var prevHash, chain sql.NullString
		var ts, height, lastVerified sql.NullInt64

		if err := rows.Scan(&e.ID, &e.ArtifactID, &e.Index, &e.Action, &e.ArtifactSHA256Hex, &prevHash, &e.IssuedAt, &e.EventHashHex, &e.OTSProofB64,
			&chain, &ts, &height, &lastVerified); err != nil {
			return nil, errs.Wrap(errs.IO, "scan event row", err)
		}
		e.PrevEventHashHex = prevHash.String
		if chain.Valid {
			e.VerifiedChain = chain.String
			e.VerifiedTimestamp = ts.Int64
			e.VerifiedHeight = height.Int64
			e.HasVerification = true
		}
		e.LastVerifiedAt = lastVerified.Int64
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.IO, "iterate event rows", err)
	}
	return events, nil
}

func (s *Store) fillActorsAndSignaturesLocked(e *Event) error {
	actorRows, err := s.db.Query(`SELECT role, pubkey_hex FROM event_actors WHERE event_id = ?`, e.ID)
	if err != nil {
		return errs.Wrap(errs.IO, "query event actors", err)
	}
	defer actorRows.Close()
	for actorRows.Next() {
		var role, pubkey string
		if err := actorRows.Scan(&role, &pubkey); err != nil {
			return errs.Wrap(errs.IO, "scan event actor", err)
		}
		assignActor(&e.Actors, role, pubkey)
	}
	if err := actorRows.Err(); err != nil {
		return errs.Wrap(errs.IO, "iterate event actor rows", err)
	}

	sigRows, err := s.db.Query(`SELECT role, signature_hex FROM event_signatures WHERE event_id = ?`, e.ID)
	if err != nil {
		return errs.Wrap(errs.IO, "query event signatures", err)
	}
	defer sigRows.Close()
	for sigRows.Next() {
		var role, sig string
		if err := sigRows.Scan(&role, &sig); err != nil {
			return errs.Wrap(errs.IO, "scan event signature", err)
		}
		assignSignature(&e.Signatures, role, sig)
	}
	return sigRows.Err()
}

func assignActor(a *Actors, role, pubkey string) {
	switch role {
	case "creator":
		a.CreatorPubkeyHex = pubkey
	case "prev_owner":
		a.PrevOwnerPubkeyHex = pubkey
	case "new_owner":
		a.NewOwnerPubkeyHex = pubkey
	}
}

func assignSignature(s *Signatures, role, sig string) {
	switch role {
	case "creator":
		s.CreatorSigHex = sig
	case "prev_owner":
		s.PrevOwnerSigHex = sig
	case "new_owner":
		s.NewOwnerSigHex = sig
	}
}

// GetManifestByPath returns the full manifest for the artifact at path, or
// nil if no artifact is tracked there.
func (s *Store) GetManifestByPath(path string) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, err := s.getArtifactByPathLocked(path)
	if err != nil || artifact == nil {
		return nil, err
	}
	events, err := s.getEventsLocked(artifact.ID)
	if err != nil {
		return nil, err
	}
	return &Manifest{Artifact: *artifact, Events: events}, nil
}

// UpdateOTSProof replaces the OTS proof on artifactID's event at index.
func (s *Store) UpdateOTSProof(artifactID int64, index uint32, proofB64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE events SET ots_proof_b64 = ? WHERE artifact_id = ? AND index_num = ?`, proofB64, artifactID, index)
	if err != nil {
		return errs.Wrap(errs.IO, "update ots proof", err)
	}
	return nil
}

// UpdateVerificationResult records a confirmed attestation for an event and
// bumps its last_verified_at, and mirrors the result onto the artifact row
// plus its last_check_at.
func (s *Store) UpdateVerificationResult(artifactID int64, index uint32, chain string, timestamp, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateVerificationResultLocked(artifactID, index, chain, timestamp, height)
}

func (s *Store) updateVerificationResultLocked(artifactID int64, index uint32, chain string, timestamp, height int64) error {
	now := time.Now().Unix()
	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.IO, "begin verification update transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE events SET verified_chain = ?, verified_timestamp = ?, verified_height = ?, last_verified_at = ?
		WHERE artifact_id = ? AND index_num = ?`, chain, timestamp, height, now, artifactID, index); err != nil {
		return errs.Wrap(errs.IO, "update event verification", err)
	}
	if _, err := tx.Exec(`
		UPDATE artifacts SET verified_chain = ?, verified_timestamp = ?, verified_height = ?, last_check_at = ?
		WHERE id = ?`, chain, timestamp, height, now, artifactID); err != nil {
		return errs.Wrap(errs.IO, "update artifact verification", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.IO, "commit verification update", err)
	}
	return nil
}

// UpdateOTSProofAndVerification combines UpdateOTSProof and
// UpdateVerificationResult in one transaction for atomicity.
func (s *Store) UpdateOTSProofAndVerification(artifactID int64, index uint32, proofB64, chain string, timestamp, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.IO, "begin combined update transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.Exec(`
		UPDATE events SET ots_proof_b64 = ?, verified_chain = ?, verified_timestamp = ?, verified_height = ?, last_verified_at = ?
		WHERE artifact_id = ? AND index_num = ?`, proofB64, chain, timestamp, height, now, artifactID, index); err != nil {
		return errs.Wrap(errs.IO, "update event proof and verification", err)
	}
	if _, err := tx.Exec(`
		UPDATE artifacts SET verified_chain = ?, verified_timestamp = ?, verified_height = ?, last_check_at = ?
		WHERE id = ?`, chain, timestamp, height, now, artifactID); err != nil {
		return errs.Wrap(errs.IO, "update artifact verification", err)
	}
	return tx.Commit()
}

// UpdateLastCheckAt bumps an artifact's last_check_at without recording a
// confirmation, used when verification was attempted but yielded nothing.
func (s *Store) UpdateLastCheckAt(artifactID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLastCheckAtLocked(artifactID)
}

func (s *Store) updateLastCheckAtLocked(artifactID int64) error {
	_, err := s.db.Exec(`UPDATE artifacts SET last_check_at = ? WHERE id = ?`, time.Now().Unix(), artifactID)
	if err != nil {
		return errs.Wrap(errs.IO, "update last check at", err)
	}
	return nil
}

// CreateShare inserts a new share row.
func (s *Store) CreateShare(sh Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	if sh.Active {
		active = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO shares (id, file_path, file_sha256, created_at, created_by, owner_pubkey_hex, signature_hex, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.FilePath, sh.FileSHA256, sh.CreatedAt.UTC().Format(time.RFC3339), sh.CreatedBy, sh.OwnerPubkeyHex, sh.SignatureHex, active,
	)
	if err != nil {
		return errs.Wrap(errs.IO, "create share", err)
	}
	return nil
}

// GetShare returns the share by id, or nil if none exists.
func (s *Store) GetShare(id string) (*Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sh Share
	var createdAt string
	var createdBy sql.NullString
	var active int
	err := s.db.QueryRow(`
		SELECT id, file_path, file_sha256, created_at, created_by, owner_pubkey_hex, signature_hex, active
		FROM shares WHERE id = ?`, id,
	).Scan(&sh.ID, &sh.FilePath, &sh.FileSHA256, &createdAt, &createdBy, &sh.OwnerPubkeyHex, &sh.SignatureHex, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IO, "get share", err)
	}
	sh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sh.CreatedBy = createdBy.String
	sh.Active = active != 0
	return &sh, nil
}

// GetSharesForFile returns every share ever issued for path.
func (s *Store) GetSharesForFile(path string) ([]Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, file_path, file_sha256, created_at, created_by, owner_pubkey_hex, signature_hex, active
		FROM shares WHERE file_path = ? ORDER BY created_at ASC`, path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "query shares for file", err)
	}
	defer rows.Close()

	var shares []Share
	for rows.Next() {
		var sh Share
		var createdAt string
		var createdBy sql.NullString
		var active int
		if err := rows.Scan(&sh.ID, &sh.FilePath, &sh.FileSHA256, &createdAt, &createdBy, &sh.OwnerPubkeyHex, &sh.SignatureHex, &active); err != nil {
			return nil, errs.Wrap(errs.IO, "scan share row", err)
		}
		sh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		sh.CreatedBy = createdBy.String
		sh.Active = active != 0
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// DeactivateShare flips a share's active flag to false.
func (s *Store) DeactivateShare(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE shares SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.IO, "deactivate share", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.IO, "read deactivate share result", err)
	}
	if n == 0 {
		return errs.New(errs.NotFound, "share not found")
	}
	return nil
}

// RecordShareDownload appends an immutable download record.
func (s *Store) RecordShareDownload(d Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO share_downloads (share_id, downloaded_at, peer_ip, user_agent, downloader_pubkey_hex)
		VALUES (?, ?, ?, ?, ?)`,
		d.ShareID, d.DownloadedAt.UTC().Format(time.RFC3339), d.PeerIP, d.UserAgent, d.DownloaderPubkeyHex,
	)
	if err != nil {
		return errs.Wrap(errs.IO, "record share download", err)
	}
	return nil
}

// GetDistributionChain returns shareID's download records in recording order.
func (s *Store) GetDistributionChain(shareID string) ([]Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, share_id, downloaded_at, peer_ip, user_agent, downloader_pubkey_hex
		FROM share_downloads WHERE share_id = ? ORDER BY id ASC`, shareID)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "query distribution chain", err)
	}
	defer rows.Close()

	var downloads []Download
	for rows.Next() {
		var d Download
		var downloadedAt string
		var peerIP, userAgent, pubkey sql.NullString
		if err := rows.Scan(&d.ID, &d.ShareID, &downloadedAt, &peerIP, &userAgent, &pubkey); err != nil {
			return nil, errs.Wrap(errs.IO, "scan download row", err)
		}
		d.DownloadedAt, _ = time.Parse(time.RFC3339, downloadedAt)
		d.PeerIP = peerIP.String
		d.UserAgent = userAgent.String
		d.DownloaderPubkeyHex = pubkey.String
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
