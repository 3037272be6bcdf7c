// Package integration defines the data model and plug-in contract shared by
// the Registry, Lifecycle Manager, and Tool Registry (§3, §6): the
// integration manifest, its mutable config and runtime status, and the
// interface every concrete integration implements.
package integration

import (
	"context"
	"time"
)

// Manifest describes an integration's identity, capabilities, and
// declared operations. Operations is the declared operation catalogue;
// (integrationId, operationName) pairs are globally unique (enforced by the
// Registry).
type Manifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Author      string      `json:"author"`
	Category    string      `json:"category"`
	Auth        string      `json:"auth"`
	Permissions []string    `json:"permissions"`
	Platforms   []string    `json:"platforms"`
	Operations  []Operation `json:"operations"`
}

// Operation is one callable capability of an integration.
type Operation struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	ParametersSchema map[string]any `json:"parametersSchema"`
}

// Config is the mutable per-integration configuration the Registry owns.
type Config struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// StatusIndicator is the external status vocabulary (§6).
type StatusIndicator string

const (
	StatusConnected    StatusIndicator = "connected"
	StatusDisconnected StatusIndicator = "disconnected"
	StatusAuthExpired  StatusIndicator = "auth_expired"
	StatusError        StatusIndicator = "error"
	StatusUnknown      StatusIndicator = "unknown"
)

// Status is an integration's runtime status as surfaced across the module
// boundary; never exposed via raw field access outside this package's
// consumers' accessor methods.
type Status struct {
	Indicator StatusIndicator `json:"indicator"`
	State     string          `json:"state"`
	UpdatedAt time.Time       `json:"updatedAt"`
	LastError string          `json:"lastError,omitempty"`
}

// DualChannel is the two-projection result shape required of every
// integration operation (§4.9): ForModel is a compact LLM-facing
// projection, ForUser is the rich UI-facing representation.
type DualChannel struct {
	ForModel any `json:"forModel"`
	ForUser  any `json:"forUser"`
}

// OperationExecFunc is the callable body the Lifecycle Manager hands the
// Tool Registry for a single mounted operation tool (§4.7, §4.8). Shared
// here so both packages refer to the same named type.
type OperationExecFunc func(ctx context.Context, args map[string]any) (DualChannel, error)

// Plugin is the contract every concrete integration implements (§6). The
// host never reflects on concrete types beyond this contract.
type Plugin interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GetStatus(ctx context.Context) (Status, error)
	GetOperations() []Operation
	Execute(ctx context.Context, operationName string, args map[string]any) (DualChannel, error)
}
