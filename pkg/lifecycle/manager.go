package lifecycle

import (
	"context"
	"log/slog"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/integration"
	"github.com/reins-ai/agentd/pkg/registry"
	"github.com/reins-ai/agentd/pkg/vault"
)

// ToolRegistrar is the subset of the Tool Registry the Lifecycle Manager
// needs: mounting and withdrawing per-operation tools at transition
// boundaries (§4.7).
type ToolRegistrar interface {
	RegisterOperationTool(integrationID string, op integration.Operation, exec integration.OperationExecFunc) error
	WithdrawIntegrationTools(integrationID string) error
}

// Manager is the Lifecycle Manager (§4.7): drives integrations through the
// State Machine and performs the side effects at its transition boundaries.
type Manager struct {
	registry *registry.Registry
	machine  *Machine
	vault    vault.Vault
	tools    ToolRegistrar
	logger   *slog.Logger
}

func NewManager(reg *registry.Registry, machine *Machine, v vault.Vault, tools ToolRegistrar, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{registry: reg, machine: machine, vault: v, tools: tools, logger: logger}
}

// SetAuthExpired implements refresh.StatusUpdater: a permanent refresh
// failure suspends the integration rather than leaving it ACTIVE with a
// dead token.
func (m *Manager) SetAuthExpired(ctx context.Context, integrationID string, message string) error {
	m.logger.Warn("integration auth expired", "integrationId", integrationID, "message", message)
	return m.Suspend(ctx, integrationID)
}

// Enable drives id from INSTALLED/CONFIGURED to ACTIVE: INSTALLED →
// CONFIGURED → (connect side effect) → CONNECTED → ACTIVE. On a connect
// failure the state is left at CONFIGURED (before CONNECTED) and the error
// is returned; no tools are registered.
func (m *Manager) Enable(ctx context.Context, id string) error {
	reg, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	m.machine.Register(id)
	cur, _ := m.machine.State(id)

	if cur == StateInstalled {
		if err := m.machine.Transition(id, StateConfigured); err != nil {
			return err
		}
		cur = StateConfigured
	}

	if cur == StateConfigured {
		if err := reg.Plugin.Connect(ctx); err != nil {
			return agentderr.Wrap(agentderr.CodeConnection, "lifecycle: connect "+id, err)
		}
		if err := m.machine.Transition(id, StateConnected); err != nil {
			return err
		}
		cur = StateConnected
	}

	if cur != StateConnected {
		return agentderr.New(agentderr.CodeStateTransition,
			"lifecycle: "+id+" cannot be enabled from its current state")
	}

	if err := m.machine.Transition(id, StateActive); err != nil {
		return err
	}

	if err := m.registry.Enable(id); err != nil {
		return err
	}

	for _, op := range reg.Manifest.Operations {
		op := op
		exec := func(ctx context.Context, args map[string]any) (integration.DualChannel, error) {
			return reg.Plugin.Execute(ctx, op.Name, args)
		}
		if err := m.tools.RegisterOperationTool(id, op, exec); err != nil {
			return agentderr.Wrap(agentderr.CodeOperation, "lifecycle: register tool for "+id, err)
		}
	}

	return nil
}

// Disable drives id from ACTIVE/SUSPENDED to DISCONNECTED: invokes
// disconnect, withdraws tools, revokes credentials.
func (m *Manager) Disable(ctx context.Context, id string) error {
	reg, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	cur, ok := m.machine.State(id)
	if !ok || (cur != StateActive && cur != StateSuspended) {
		return agentderr.New(agentderr.CodeStateTransition,
			"lifecycle: "+id+" is not active or suspended")
	}

	if err := reg.Plugin.Disconnect(ctx); err != nil {
		return agentderr.Wrap(agentderr.CodeConnection, "lifecycle: disconnect "+id, err)
	}
	if err := m.machine.Transition(id, StateDisconnected); err != nil {
		return err
	}
	if err := m.tools.WithdrawIntegrationTools(id); err != nil {
		return agentderr.Wrap(agentderr.CodeOperation, "lifecycle: withdraw tools for "+id, err)
	}
	if _, err := m.vault.Revoke(ctx, id); err != nil {
		return agentderr.Wrap(agentderr.CodeOperation, "lifecycle: revoke credentials for "+id, err)
	}
	return m.registry.Disable(id)
}

// Suspend moves id from ACTIVE to SUSPENDED: used when an integration is
// known-unhealthy but not to be torn down.
func (m *Manager) Suspend(ctx context.Context, id string) error {
	cur, ok := m.machine.State(id)
	if !ok || cur != StateActive {
		return agentderr.New(agentderr.CodeStateTransition, "lifecycle: "+id+" is not active")
	}
	return m.machine.Transition(id, StateSuspended)
}

// GetState returns the current state for id, or false if unknown.
func (m *Manager) GetState(id string) (State, bool) {
	return m.machine.State(id)
}
