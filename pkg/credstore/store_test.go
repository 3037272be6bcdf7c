package credstore

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/reins-ai/agentd/pkg/cryptobox"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(Schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type testPayload struct {
	Secret string `json:"secret"`
}

func TestSQLStore_InsertGetRoundTrip(t *testing.T) {
	db := setupDB(t)
	store := NewSQLStore(db, cryptobox.New([]byte("master-secret")))
	ctx := context.Background()

	rec, err := store.Insert(ctx, "integration", "gmail", "oauth", map[string]string{"integrationId": "gmail", "credentialType": "oauth"}, testPayload{Secret: "s3cr3t"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := store.Get(ctx, Query{ID: rec.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)

	var out testPayload
	require.NoError(t, store.DecryptPayload(got[0], &out))
	require.Equal(t, "s3cr3t", out.Secret)
}

func TestSQLStore_EncryptedAtRest(t *testing.T) {
	db := setupDB(t)
	store := NewSQLStore(db, cryptobox.New([]byte("master-secret")))
	ctx := context.Background()

	_, err := store.Insert(ctx, "integration", "gmail", "oauth", nil, testPayload{Secret: "super-secret-123"})
	require.NoError(t, err)

	var envelope string
	require.NoError(t, db.QueryRow(`SELECT envelope FROM credential_records`).Scan(&envelope))
	require.False(t, strings.Contains(envelope, "super-secret-123"))
	require.True(t, strings.Contains(envelope, `"v":1`))
	require.True(t, strings.Contains(envelope, `"ciphertext"`))
	require.True(t, strings.Contains(envelope, `"iv"`))
}

func TestSQLStore_RevokeHidesRecord(t *testing.T) {
	db := setupDB(t)
	store := NewSQLStore(db, cryptobox.New([]byte("master-secret")))
	ctx := context.Background()

	rec, err := store.Insert(ctx, "integration", "gmail", "oauth", nil, testPayload{Secret: "x"})
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, rec.ID))

	got, err := store.Get(ctx, Query{ID: rec.ID})
	require.NoError(t, err)
	require.Empty(t, got)

	require.Error(t, store.Revoke(ctx, rec.ID))
}

func TestSQLStore_GetByProviderAccount(t *testing.T) {
	db := setupDB(t)
	store := NewSQLStore(db, cryptobox.New([]byte("master-secret")))
	ctx := context.Background()

	_, err := store.Insert(ctx, "integration", "gmail", "oauth", nil, testPayload{Secret: "a"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "integration", "gmail", "api_key", nil, testPayload{Secret: "b"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "integration", "obsidian", "local_path", nil, testPayload{Secret: "c"})
	require.NoError(t, err)

	got, err := store.Get(ctx, Query{Provider: "integration", AccountID: "gmail"})
	require.NoError(t, err)
	require.Len(t, got, 2)
}
