package provenance

// schema is applied on every Open, mirroring the teacher's idempotent
// CREATE-IF-NOT-EXISTS migration style.
const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path           TEXT NOT NULL UNIQUE,
    sha256_hex          TEXT NOT NULL,
    created_at          TEXT NOT NULL,
    verified_chain      TEXT,
    verified_timestamp  INTEGER,
    verified_height     INTEGER,
    last_check_at       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    artifact_id           INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
    index_num             INTEGER NOT NULL,
    action                TEXT NOT NULL CHECK (action IN ('mint', 'transfer')),
    artifact_sha256_hex   TEXT NOT NULL,
    prev_event_hash_hex   TEXT,
    issued_at             TEXT NOT NULL,
    event_hash_hex        TEXT NOT NULL UNIQUE,
    ots_proof_b64         TEXT NOT NULL DEFAULT '',
    verified_chain        TEXT,
    verified_timestamp    INTEGER,
    verified_height       INTEGER,
    last_verified_at      INTEGER,
    UNIQUE (artifact_id, index_num)
);

CREATE INDEX IF NOT EXISTS idx_events_artifact ON events(artifact_id, index_num);

CREATE TABLE IF NOT EXISTS event_actors (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id   INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    role       TEXT NOT NULL CHECK (role IN ('creator', 'prev_owner', 'new_owner')),
    pubkey_hex TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_actors_event ON event_actors(event_id);

CREATE TABLE IF NOT EXISTS event_signatures (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id       INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    role           TEXT NOT NULL CHECK (role IN ('creator', 'prev_owner', 'new_owner')),
    signature_hex  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_signatures_event ON event_signatures(event_id);

CREATE TABLE IF NOT EXISTS shares (
    id               TEXT PRIMARY KEY,
    file_path        TEXT NOT NULL,
    file_sha256      TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    created_by       TEXT,
    owner_pubkey_hex TEXT NOT NULL,
    signature_hex    TEXT NOT NULL,
    active           INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_shares_file ON shares(file_path);

CREATE TABLE IF NOT EXISTS share_downloads (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    share_id               TEXT NOT NULL REFERENCES shares(id) ON DELETE CASCADE,
    downloaded_at          TEXT NOT NULL,
    peer_ip                TEXT,
    user_agent             TEXT,
    downloader_pubkey_hex  TEXT
);

CREATE INDEX IF NOT EXISTS idx_share_downloads_share ON share_downloads(share_id);
`
