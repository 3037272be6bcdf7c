// Package vault implements per-integration credential custody (§4.3): a
// tagged-variant Credential type and two Vault implementations (encrypted,
// in-memory) sharing one retrieval-priority and status-classification policy.
package vault

import (
	"strings"
	"time"
)

// CredentialType tags the three concrete credential shapes. Retrieval
// always prefers them in this order.
type CredentialType string

const (
	TypeOAuth     CredentialType = "oauth"
	TypeAPIKey    CredentialType = "api_key"
	TypeLocalPath CredentialType = "local_path"
)

// retrievalPriority is data, not code (§9): the fixed search order for
// Vault.Retrieve.
var retrievalPriority = []CredentialType{TypeOAuth, TypeAPIKey, TypeLocalPath}

// OAuthCredential is the OAuth credential shape (§3).
type OAuthCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	TokenType    string    `json:"token_type"`
}

// APIKeyCredential is the API-key credential shape (§3).
type APIKeyCredential struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// LocalPathCredential is the local-filesystem-path credential shape (§3).
type LocalPathCredential struct {
	Path      string `json:"path"`
	Validated bool   `json:"validated"`
}

// Credential is the sum type over the three concrete shapes, tagged by
// Type. Exactly one of the payload fields is populated, matching Type.
type Credential struct {
	Type      CredentialType       `json:"type"`
	OAuth     *OAuthCredential     `json:"oauth,omitempty"`
	APIKey    *APIKeyCredential    `json:"apiKey,omitempty"`
	LocalPath *LocalPathCredential `json:"localPath,omitempty"`
}

// Clone returns a deep copy so that mutating a retrieved Credential never
// affects vault-internal state.
func (c Credential) Clone() Credential {
	out := Credential{Type: c.Type}
	if c.OAuth != nil {
		o := *c.OAuth
		o.Scopes = append([]string(nil), c.OAuth.Scopes...)
		out.OAuth = &o
	}
	if c.APIKey != nil {
		k := *c.APIKey
		out.APIKey = &k
	}
	if c.LocalPath != nil {
		p := *c.LocalPath
		out.LocalPath = &p
	}
	return out
}

// Status is the derived (never stored) credential status (§3).
type Status string

const (
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
	StatusMissing Status = "missing"
	StatusError   Status = "error"
)

// ClassifyStatus derives a Status for a credential, or StatusMissing for a
// nil credential.
func ClassifyStatus(c *Credential, now time.Time) Status {
	if c == nil {
		return StatusMissing
	}
	switch c.Type {
	case TypeOAuth:
		if c.OAuth == nil {
			return StatusError
		}
		if c.OAuth.ExpiresAt.Before(now) {
			return StatusExpired
		}
		return StatusValid
	case TypeAPIKey:
		if c.APIKey == nil {
			return StatusError
		}
		if strings.TrimSpace(c.APIKey.Key) == "" {
			return StatusError
		}
		return StatusValid
	case TypeLocalPath:
		if c.LocalPath == nil {
			return StatusError
		}
		if !c.LocalPath.Validated {
			return StatusError
		}
		return StatusValid
	default:
		return StatusError
	}
}
