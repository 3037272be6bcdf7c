package vault

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/credstore"
)

// Vault is the per-integration credential custodian (§4.3, §6). Both
// implementations below satisfy it; integrations and the Refresh Manager
// depend only on this interface.
type Vault interface {
	Store(ctx context.Context, integrationID string, cred Credential) error
	Retrieve(ctx context.Context, integrationID string) (*Credential, error)
	Revoke(ctx context.Context, integrationID string) (bool, error)
	HasCredentials(ctx context.Context, integrationID string) (bool, error)
	GetStatus(ctx context.Context, integrationID string) (Status, error)
}

// normalizeID implements the uniform id normalization required by every
// Vault operation (§4.3, testable property 4): trim + lowercase, empty is
// an error.
func normalizeID(id string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(id))
	if n == "" {
		return "", agentderr.New(agentderr.CodeValidation, "vault: integration id must not be empty")
	}
	return n, nil
}

// --- Encrypted Vault -------------------------------------------------------

// EncryptedVault composes the Encrypted Credential Store with Key
// Encryption (here: credstore.Store already wraps cryptobox internally, so
// EncryptedVault only needs to speak the store's generic record shape).
type EncryptedVault struct {
	store credstore.Store
	clock func() time.Time
}

func NewEncryptedVault(store credstore.Store) *EncryptedVault {
	return &EncryptedVault{store: store, clock: time.Now}
}

// WithClock overrides the clock used for status classification, for tests.
func (v *EncryptedVault) WithClock(clock func() time.Time) *EncryptedVault {
	v.clock = clock
	return v
}

func (v *EncryptedVault) Store(ctx context.Context, integrationID string, cred Credential) error {
	id, err := normalizeID(integrationID)
	if err != nil {
		return err
	}

	metadata := map[string]string{
		"integrationId":  id,
		"credentialType": string(cred.Type),
	}

	// At most one credential per (integrationId, type): revoke any existing
	// record of this type before inserting the new one.
	existing, err := v.store.Get(ctx, credstore.Query{Provider: "integration", AccountID: id})
	if err != nil {
		return agentderr.Wrap(agentderr.CodeOperation, "vault: lookup existing credential", err)
	}
	for _, rec := range existing {
		if rec.Type == string(cred.Type) {
			if err := v.store.Revoke(ctx, rec.ID); err != nil {
				return agentderr.Wrap(agentderr.CodeOperation, "vault: revoke stale credential", err)
			}
		}
	}

	if _, err := v.store.Insert(ctx, "integration", id, string(cred.Type), metadata, cred); err != nil {
		return agentderr.Wrap(agentderr.CodeOperation, "vault: store credential", err)
	}
	return nil
}

func (v *EncryptedVault) Retrieve(ctx context.Context, integrationID string) (*Credential, error) {
	id, err := normalizeID(integrationID)
	if err != nil {
		return nil, err
	}

	records, err := v.store.Get(ctx, credstore.Query{Provider: "integration", AccountID: id})
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeOperation, "vault: query credential", err)
	}

	byType := make(map[CredentialType]*credstore.Record, len(records))
	for _, rec := range records {
		byType[CredentialType(rec.Type)] = rec
	}

	for _, t := range retrievalPriority {
		rec, ok := byType[t]
		if !ok {
			continue
		}
		var cred Credential
		if err := v.store.DecryptPayload(rec, &cred); err != nil {
			return nil, agentderr.Wrap(agentderr.CodeAuth, "vault: decrypt credential", err)
		}
		return &cred, nil
	}
	return nil, nil
}

func (v *EncryptedVault) Revoke(ctx context.Context, integrationID string) (bool, error) {
	id, err := normalizeID(integrationID)
	if err != nil {
		return false, err
	}

	records, err := v.store.Get(ctx, credstore.Query{Provider: "integration", AccountID: id})
	if err != nil {
		return false, agentderr.Wrap(agentderr.CodeOperation, "vault: query for revoke", err)
	}

	revokedAny := false
	for _, rec := range records {
		if err := v.store.Revoke(ctx, rec.ID); err != nil {
			return revokedAny, agentderr.Wrap(agentderr.CodeOperation, "vault: revoke credential", err)
		}
		revokedAny = true
	}
	return revokedAny, nil
}

func (v *EncryptedVault) HasCredentials(ctx context.Context, integrationID string) (bool, error) {
	cred, err := v.Retrieve(ctx, integrationID)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

func (v *EncryptedVault) GetStatus(ctx context.Context, integrationID string) (Status, error) {
	cred, err := v.Retrieve(ctx, integrationID)
	if err != nil {
		return StatusError, err
	}
	return ClassifyStatus(cred, v.clock()), nil
}

// --- In-Memory Vault --------------------------------------------------------

// InMemoryVault mirrors the Vault interface over a plain map, for tests and
// ephemeral deployments. Retrieve always returns deep copies (testable
// property 2).
type InMemoryVault struct {
	mu    sync.RWMutex
	creds map[string]map[CredentialType]Credential
	clock func() time.Time
}

func NewInMemoryVault() *InMemoryVault {
	return &InMemoryVault{
		creds: make(map[string]map[CredentialType]Credential),
		clock: time.Now,
	}
}

func (v *InMemoryVault) WithClock(clock func() time.Time) *InMemoryVault {
	v.clock = clock
	return v
}

func (v *InMemoryVault) Store(_ context.Context, integrationID string, cred Credential) error {
	id, err := normalizeID(integrationID)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.creds[id] == nil {
		v.creds[id] = make(map[CredentialType]Credential)
	}
	v.creds[id][cred.Type] = cred.Clone()
	return nil
}

func (v *InMemoryVault) Retrieve(_ context.Context, integrationID string) (*Credential, error) {
	id, err := normalizeID(integrationID)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	byType := v.creds[id]
	for _, t := range retrievalPriority {
		if cred, ok := byType[t]; ok {
			out := cred.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (v *InMemoryVault) Revoke(_ context.Context, integrationID string) (bool, error) {
	id, err := normalizeID(integrationID)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	byType, ok := v.creds[id]
	if !ok || len(byType) == 0 {
		return false, nil
	}
	delete(v.creds, id)
	return true, nil
}

func (v *InMemoryVault) HasCredentials(ctx context.Context, integrationID string) (bool, error) {
	cred, err := v.Retrieve(ctx, integrationID)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

func (v *InMemoryVault) GetStatus(ctx context.Context, integrationID string) (Status, error) {
	cred, err := v.Retrieve(ctx, integrationID)
	if err != nil {
		return StatusError, err
	}
	return ClassifyStatus(cred, v.clock()), nil
}
