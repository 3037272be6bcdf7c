// Package credstore implements the Encrypted Credential Store (§4.2): a
// record-oriented persistent store keyed by generated id, with the store's
// own crypto envelope wrapped around each payload.
//
// The backing database/sql handle follows the same shape as the teacher's
// credentials.Store (sqlite for single-writer local deployments, postgres
// for multi-writer ones) but the schema here is generic — provider/type/
// metadata/payload — rather than provider-specific columns, because this
// store custodies arbitrary integration credentials, not just AI-provider
// tokens.
package credstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/cryptobox"
)

// Envelope is the outer crypto envelope persisted alongside every record:
// {v:1, salt, iv, ciphertext}. The "salt" field is retained for wire
// compatibility with deployments that rotate cryptobox.Box salts; this
// store always uses the box's fixed salt tag, so it is empty here.
type Envelope struct {
	V          int    `json:"v"`
	Salt       string `json:"salt,omitempty"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

// SyncInfo tracks the lightweight versioning described in §3.
type SyncInfo struct {
	Version   int       `json:"version"`
	Checksum  string     `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is a stored encrypted record as described in §3.
type Record struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	AccountID      string            `json:"accountId"`
	Type           string            `json:"type"`
	Metadata       map[string]string `json:"metadata"`
	EncryptedPayload Envelope        `json:"encryptedPayload"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	RevokedAt      *time.Time        `json:"revokedAt,omitempty"`
	Sync           SyncInfo          `json:"sync"`
}

// Query selects records by id, or by (provider, accountId).
type Query struct {
	ID        string
	Provider  string
	AccountID string
}

// Store is the Encrypted Credential Store contract.
type Store interface {
	Insert(ctx context.Context, provider, accountID, typ string, metadata map[string]string, payload any) (*Record, error)
	Get(ctx context.Context, q Query) ([]*Record, error)
	Revoke(ctx context.Context, id string) error
	DecryptPayload(record *Record, out any) error
}

// SQLStore is a database/sql-backed Store. Writes are serialized through a
// single store-wide in-process mutex; the backing database is assumed to support
// single-writer semantics for the credentials table (§5).
type SQLStore struct {
	db      *sql.DB
	box     *cryptobox.Box
	dialect Dialect
	mu      sync.Mutex
}

// NewSQLStore wraps a database/sql handle with an already-created
// `credential_records` table (see Schema()), using sqlite's native `?`
// placeholders.
func NewSQLStore(db *sql.DB, box *cryptobox.Box) *SQLStore {
	return &SQLStore{db: db, box: box, dialect: DialectSQLite}
}

// NewPostgresStore wraps a database/sql handle backed by lib/pq, rebinding
// every query's `?` placeholders to positional `$N` form. Multi-writer
// deployments use this in place of NewSQLStore (§4.2).
func NewPostgresStore(db *sql.DB, box *cryptobox.Box) *SQLStore {
	return &SQLStore{db: db, box: box, dialect: DialectPostgres}
}

// Schema is the DDL this store expects. Portable across sqlite/postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS credential_records (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	account_id TEXT NOT NULL,
	type TEXT NOT NULL,
	metadata TEXT NOT NULL,
	envelope TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP,
	sync_version INTEGER NOT NULL,
	sync_checksum TEXT NOT NULL,
	sync_updated_at TIMESTAMP NOT NULL
)`

func (s *SQLStore) Insert(ctx context.Context, provider, accountID, typ string, metadata map[string]string, payload any) (*Record, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "credstore: marshal payload", err)
	}

	sealed, err := s.box.Encrypt(plaintext)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeAuth, "credstore: encrypt payload", err)
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		Provider:  provider,
		AccountID: accountID,
		Type:      typ,
		Metadata:  metadata,
		EncryptedPayload: Envelope{
			V:          1,
			IV:         sealed.IV,
			Ciphertext: sealed.Ciphertext,
		},
		CreatedAt: now,
		UpdatedAt: now,
		Sync: SyncInfo{
			Version:   1,
			Checksum:  checksum(sealed.Ciphertext),
			UpdatedAt: now,
		},
	}

	metaJSON, _ := json.Marshal(rec.Metadata)
	envJSON, err := json.Marshal(rec.EncryptedPayload)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeOperation, "credstore: marshal envelope", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO credential_records
			(id, provider, account_id, type, metadata, envelope, created_at, updated_at, sync_version, sync_checksum, sync_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.Provider, rec.AccountID, rec.Type, string(metaJSON), string(envJSON),
		rec.CreatedAt, rec.UpdatedAt, rec.Sync.Version, rec.Sync.Checksum, rec.Sync.UpdatedAt)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeOperation, "credstore: insert record", err)
	}

	return rec, nil
}

func (s *SQLStore) Get(ctx context.Context, q Query) ([]*Record, error) {
	var rows *sql.Rows
	var err error

	switch {
	case q.ID != "":
		rows, err = s.db.QueryContext(ctx, s.dialect.rebind(`SELECT id, provider, account_id, type, metadata, envelope, created_at, updated_at, revoked_at, sync_version, sync_checksum, sync_updated_at FROM credential_records WHERE id = ? AND revoked_at IS NULL`), q.ID)
	case q.Provider != "" || q.AccountID != "":
		rows, err = s.db.QueryContext(ctx, s.dialect.rebind(`SELECT id, provider, account_id, type, metadata, envelope, created_at, updated_at, revoked_at, sync_version, sync_checksum, sync_updated_at FROM credential_records WHERE provider = ? AND account_id = ? AND revoked_at IS NULL`), q.Provider, q.AccountID)
	default:
		return nil, agentderr.New(agentderr.CodeValidation, "credstore: query requires id or (provider, accountId)")
	}
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeOperation, "credstore: query", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, agentderr.Wrap(agentderr.CodeOperation, "credstore: scan record", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var rec Record
	var metaJSON, envJSON string
	var revokedAt sql.NullTime

	if err := rows.Scan(&rec.ID, &rec.Provider, &rec.AccountID, &rec.Type, &metaJSON, &envJSON,
		&rec.CreatedAt, &rec.UpdatedAt, &revokedAt, &rec.Sync.Version, &rec.Sync.Checksum, &rec.Sync.UpdatedAt); err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		rec.RevokedAt = &revokedAt.Time
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(envJSON), &rec.EncryptedPayload); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE credential_records SET revoked_at = ?, updated_at = ? WHERE id = ? AND revoked_at IS NULL`), now, now, id)
	if err != nil {
		return agentderr.Wrap(agentderr.CodeOperation, "credstore: revoke", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return agentderr.New(agentderr.CodeOperation, fmt.Sprintf("credstore: record %q not found or already revoked", id))
	}
	return nil
}

func (s *SQLStore) DecryptPayload(record *Record, out any) error {
	plaintext, err := s.box.Decrypt(cryptobox.Sealed{
		Ciphertext: record.EncryptedPayload.Ciphertext,
		IV:         record.EncryptedPayload.IV,
	})
	if err != nil {
		return agentderr.Wrap(agentderr.CodeAuth, "credstore: decrypt payload", err)
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return agentderr.Wrap(agentderr.CodeValidation, "credstore: malformed stored payload", err)
	}
	return nil
}

func checksum(ciphertext string) string {
	return fmt.Sprintf("crc32:%08x", crc32.ChecksumIEEE([]byte(ciphertext)))
}

// ErrNotFound is a sentinel for a lookup that yields no rows. Nothing in
// this module returns it: Get reports no rows as an empty result, and the
// Vault reports a missing credential as a nil *Credential.
var ErrNotFound = errors.New("credstore: record not found")
