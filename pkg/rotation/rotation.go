// Package rotation tracks scheduled credential rotation bookkeeping
// (issued_at/expires_at/rotation_gen) per integration, independent of the
// Vault's own storage (§3 supplemented feature). It is additive
// bookkeeping for callers that want rotation telemetry beyond the OAuth
// Refresh Manager's own scheduling, not a replacement for it.
package rotation

import (
	"fmt"
	"sync"
	"time"
)

// CredentialState tracks the rotation lifecycle of a managed credential.
type CredentialState string

const (
	CredentialActive  CredentialState = "ACTIVE"
	CredentialExpired CredentialState = "EXPIRED"
	CredentialRevoked CredentialState = "REVOKED"
	CredentialRotated CredentialState = "ROTATED"
)

// ManagedCredential tracks one credential's rotation lifecycle, keyed by
// integration id rather than tenant.
type ManagedCredential struct {
	CredentialID  string          `json:"credentialId"`
	IntegrationID string          `json:"integrationId"`
	Service       string          `json:"service"`
	State         CredentialState `json:"state"`
	IssuedAt      time.Time       `json:"issuedAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	RotatedAt     *time.Time      `json:"rotatedAt,omitempty"`
	RotationGen   int             `json:"rotationGen"`
}

// Policy defines rotation rules.
type Policy struct {
	MaxAge      time.Duration
	AutoRotate  bool
	GracePeriod time.Duration
}

// Manager manages credential rotation bookkeeping.
type Manager struct {
	mu          sync.Mutex
	credentials map[string]*ManagedCredential
	policy      Policy
	seq         int64
	clock       func() time.Time
}

// NewManager creates a new rotation bookkeeping manager.
func NewManager(policy Policy) *Manager {
	return &Manager{
		credentials: make(map[string]*ManagedCredential),
		policy:      policy,
		clock:       time.Now,
	}
}

// WithClock overrides the clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Issue records a freshly issued credential for integrationID.
func (m *Manager) Issue(integrationID, service string) *ManagedCredential {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	now := m.clock()
	id := fmt.Sprintf("cred-%d", m.seq)

	cred := &ManagedCredential{
		CredentialID:  id,
		IntegrationID: integrationID,
		Service:       service,
		State:         CredentialActive,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.policy.MaxAge),
		RotationGen:   1,
	}

	m.credentials[id] = cred
	return cred
}

// Rotate marks credentialID rotated and records its successor.
func (m *Manager) Rotate(credentialID string) (*ManagedCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.credentials[credentialID]
	if !ok {
		return nil, fmt.Errorf("rotation: credential %q not found", credentialID)
	}

	now := m.clock()
	old.State = CredentialRotated
	old.RotatedAt = &now

	m.seq++
	newID := fmt.Sprintf("cred-%d", m.seq)
	newCred := &ManagedCredential{
		CredentialID:  newID,
		IntegrationID: old.IntegrationID,
		Service:       old.Service,
		State:         CredentialActive,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.policy.MaxAge),
		RotationGen:   old.RotationGen + 1,
	}

	m.credentials[newID] = newCred
	return newCred, nil
}

// CheckExpiry returns every active credential within its grace period of
// expiry (or already past it).
func (m *Manager) CheckExpiry() []*ManagedCredential {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var expiring []*ManagedCredential

	for _, cred := range m.credentials {
		if cred.State != CredentialActive {
			continue
		}
		if now.After(cred.ExpiresAt) || now.After(cred.ExpiresAt.Add(-m.policy.GracePeriod)) {
			expiring = append(expiring, cred)
		}
	}
	return expiring
}

// Revoke marks a credential revoked.
func (m *Manager) Revoke(credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[credentialID]
	if !ok {
		return fmt.Errorf("rotation: credential %q not found", credentialID)
	}
	cred.State = CredentialRevoked
	return nil
}

// Get retrieves a tracked credential's rotation bookkeeping.
func (m *Manager) Get(credentialID string) (*ManagedCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[credentialID]
	if !ok {
		return nil, fmt.Errorf("rotation: credential %q not found", credentialID)
	}
	return cred, nil
}

// IsValid reports whether a credential is active and not yet expired.
func (m *Manager) IsValid(credentialID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[credentialID]
	if !ok {
		return false
	}
	if cred.State != CredentialActive {
		return false
	}
	return m.clock().Before(cred.ExpiresAt)
}
