// Package integrationsvc implements the Integration Service facade (§4.9):
// it wires the Registry, State Machine, Lifecycle Manager, Vault, Refresh
// Manager, and Tool Registry behind one contract. Per §9 this is a
// constructed object owned by the Daemon Runtime and injected where
// needed, not a process-wide global.
package integrationsvc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/authz"
	"github.com/reins-ai/agentd/pkg/credstore"
	"github.com/reins-ai/agentd/pkg/cryptobox"
	"github.com/reins-ai/agentd/pkg/integration"
	"github.com/reins-ai/agentd/pkg/lifecycle"
	"github.com/reins-ai/agentd/pkg/refresh"
	"github.com/reins-ai/agentd/pkg/registry"
	"github.com/reins-ai/agentd/pkg/telemetry"
	"github.com/reins-ai/agentd/pkg/tools"
	"github.com/reins-ai/agentd/pkg/vault"
)

// BundledIntegration pairs a manifest with its plug-in implementation, as
// registered at Service construction time (§6 "integrations[]").
type BundledIntegration struct {
	Manifest integration.Manifest
	Plugin   integration.Plugin
}

// ToolContextFactory produces the per-call context passed into tool
// executions (§6).
type ToolContextFactory func(ctx context.Context) any

// Options configures a Service (§6 config table).
type Options struct {
	CredentialStore    credstore.Store
	KeyEncryption      *cryptobox.Box
	Integrations       []BundledIntegration
	ToolRegistry       *tools.Registry
	ToolContextFactory ToolContextFactory
	RefreshOptions     refresh.Options
	// RefreshFuncs supplies the OAuth token-exchange callback per
	// integration id, for integrations whose credentials are refreshable.
	// An integration with no entry here is simply never proactively
	// refreshed.
	RefreshFuncs map[string]refresh.Func
	Logger       *slog.Logger
	// Telemetry records a span and duration/error metric around every
	// ExecuteOperation call (§4.9). A nil Telemetry is a no-op.
	Telemetry *telemetry.Provider
	// Authz, when set, gates EnableIntegration/ExecuteOperation behind
	// EnableRules/ExecuteRules CEL predicates. A nil Authz (or a rule
	// missing from the map) allows the call, matching the teacher's
	// default-allow posture for optional policy layers.
	Authz        *authz.Engine
	EnableRules  map[string]string // integrationId -> rule
	ExecuteRules map[string]string // "integrationId.operation" -> rule
	// CallerInfo extracts the acting caller's id/scopes from ctx for authz
	// rule evaluation. Defaults to an anonymous caller with no scopes.
	CallerInfo func(ctx context.Context) (callerID string, scopes []string)
}

// Service is the Integration Service facade.
type Service struct {
	mu           sync.Mutex
	started      bool
	registry     *registry.Registry
	machine      *lifecycle.Machine
	manager      *lifecycle.Manager
	vault        vault.Vault
	refresh      *refresh.Manager
	tools        *tools.Registry
	toolCtx      ToolContextFactory
	refreshFuncs map[string]refresh.Func
	logger       *slog.Logger
	telemetry    *telemetry.Provider
	authz        *authz.Engine
	enableRules  map[string]string
	executeRules map[string]string
	callerInfo   func(ctx context.Context) (string, []string)
}

// New constructs a Service. The vault is encrypted when opts.CredentialStore
// is supplied, in-memory otherwise (§4.9).
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var v vault.Vault
	if opts.CredentialStore != nil {
		v = vault.NewEncryptedVault(opts.CredentialStore)
	} else {
		v = vault.NewInMemoryVault()
	}

	toolRegistry := opts.ToolRegistry
	if toolRegistry == nil {
		toolRegistry = tools.New()
	}

	reg := registry.New()
	machine := lifecycle.NewMachine(logger)
	manager := lifecycle.NewManager(reg, machine, v, toolRegistry, logger)
	refreshMgr := refresh.NewManager(v, manager, opts.RefreshOptions)

	toolCtx := opts.ToolContextFactory
	if toolCtx == nil {
		toolCtx = func(ctx context.Context) any { return nil }
	}

	callerInfo := opts.CallerInfo
	if callerInfo == nil {
		callerInfo = func(ctx context.Context) (string, []string) { return "", nil }
	}

	svc := &Service{
		registry:     reg,
		machine:      machine,
		manager:      manager,
		vault:        v,
		refresh:      refreshMgr,
		tools:        toolRegistry,
		toolCtx:      toolCtx,
		refreshFuncs: opts.RefreshFuncs,
		logger:       logger,
		telemetry:    opts.Telemetry,
		authz:        opts.Authz,
		enableRules:  opts.EnableRules,
		executeRules: opts.ExecuteRules,
		callerInfo:   callerInfo,
	}

	for _, bundled := range opts.Integrations {
		if err := reg.Register(bundled.Manifest, bundled.Plugin); err != nil {
			logger.Error("failed to register bundled integration", "integrationId", bundled.Manifest.ID, "error", err)
		}
	}

	return svc
}

// ID satisfies daemon.ManagedService.
func (s *Service) ID() string { return "integration-service" }

// Start mounts the meta-tool. Registering bundled integrations already
// happened at construction time so the Registry is ready before Start is
// ever called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.tools.RegisterMetaTool(); err != nil {
		return err
	}
	s.started = true
	s.logger.Info("subsystem ready", "subsystem", "integration-service")
	return nil
}

// Stop disconnects every ACTIVE/SUSPENDED integration before returning,
// cascading into Vault.Revoke via the Lifecycle Manager's Disable path.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.refresh.CancelAll()

	for _, item := range s.registry.List() {
		state, ok := s.machine.State(item.Manifest.ID)
		if !ok {
			continue
		}
		if state == lifecycle.StateActive || state == lifecycle.StateSuspended {
			if err := s.manager.Disable(ctx, item.Manifest.ID); err != nil {
				s.logger.Error("failed to disable integration during shutdown", "integrationId", item.Manifest.ID, "error", err)
			}
		}
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Service) requireStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return agentderr.New(agentderr.CodeStateTransition, "integrationsvc: service not started")
	}
	return nil
}

// ListIntegrations returns a dual-channel list projection of every
// registered integration.
func (s *Service) ListIntegrations(ctx context.Context) (integration.DualChannel, error) {
	if err := s.requireStarted(); err != nil {
		return integration.DualChannel{}, err
	}

	items := s.registry.List()
	type item struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
		State   string `json:"state"`
	}
	rich := make([]item, 0, len(items))
	for _, reg := range items {
		state, _ := s.machine.State(reg.Manifest.ID)
		rich = append(rich, item{ID: reg.Manifest.ID, Name: reg.Manifest.Name, Enabled: reg.Config.Enabled, State: string(state)})
	}
	summary := fmt.Sprintf("%d integration(s) registered", len(rich))
	return integration.NewListResult(len(rich), summary, rich), nil
}

// GetIntegrationStatus returns the integration's dual-channel status
// detail.
func (s *Service) GetIntegrationStatus(ctx context.Context, id string) (integration.DualChannel, error) {
	if err := s.requireStarted(); err != nil {
		return integration.DualChannel{}, err
	}

	reg, err := s.registry.Get(id)
	if err != nil {
		return integration.DualChannel{}, err
	}
	state, _ := s.machine.State(id)
	credStatus, err := s.vault.GetStatus(ctx, id)
	if err != nil {
		return integration.DualChannel{}, err
	}

	detail := map[string]any{
		"id":               reg.Manifest.ID,
		"name":             reg.Manifest.Name,
		"enabled":          reg.Config.Enabled,
		"state":            string(state),
		"credentialStatus": string(credStatus),
	}
	compact := map[string]any{"id": reg.Manifest.ID, "state": string(state)}
	return integration.NewDetailResult(compact, detail), nil
}

// allow evaluates the authz rule (if any) configured for key against the
// calling context, failing closed on a rule error.
func (s *Service) allow(ctx context.Context, rule, integrationID, operation string) error {
	if s.authz == nil || rule == "" {
		return nil
	}
	callerID, scopes := s.callerInfo(ctx)
	allowed, err := s.authz.Allow(rule, authz.Input{
		IntegrationID: integrationID,
		Operation:     operation,
		CallerID:      callerID,
		Scopes:        scopes,
	})
	if err != nil {
		return agentderr.Wrap(agentderr.CodeAuth, "integrationsvc: authz rule evaluation failed", err)
	}
	if !allowed {
		return agentderr.New(agentderr.CodeAuth, "integrationsvc: denied by authz policy for \""+integrationID+"\"")
	}
	return nil
}

// EnableIntegration drives id through the Lifecycle Manager's Enable path.
func (s *Service) EnableIntegration(ctx context.Context, id string) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if err := s.allow(ctx, s.enableRules[id], id, "enable"); err != nil {
		return err
	}
	if err := s.manager.Enable(ctx, id); err != nil {
		return err
	}
	if fn, ok := s.refreshFuncs[id]; ok {
		if _, err := s.refresh.ScheduleRefresh(ctx, id, fn); err != nil {
			s.logger.Debug("no oauth refresh schedule for integration", "integrationId", id, "error", err)
		}
	}
	return nil
}

// DisableIntegration drives id through the Lifecycle Manager's Disable
// path and cancels any scheduled refresh.
func (s *Service) DisableIntegration(ctx context.Context, id string) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	s.refresh.Cancel(id)
	return s.manager.Disable(ctx, id)
}

// ExecuteOperation routes through the meta-tool's execute action so the
// execution pipeline is identical to the LLM path (§4.9).
func (s *Service) ExecuteOperation(ctx context.Context, id, operation string, args map[string]any) (result integration.DualChannel, err error) {
	ctx, end := s.telemetry.StartOperation(ctx, id, operation)
	defer func() { end(err) }()

	if err = s.requireStarted(); err != nil {
		return integration.DualChannel{}, err
	}

	reg, err := s.registry.Get(id)
	if err != nil {
		return integration.DualChannel{}, err
	}
	if !reg.Config.Enabled {
		return integration.DualChannel{}, agentderr.New(agentderr.CodeStateTransition, "integrationsvc: integration \""+id+"\" is disabled")
	}
	state, ok := s.machine.State(id)
	if !ok || state != lifecycle.StateActive {
		return integration.DualChannel{}, agentderr.New(agentderr.CodeStateTransition, "integrationsvc: integration \""+id+"\" is not active")
	}

	metaTool, ok := s.tools.Get(tools.MetaToolName)
	if !ok {
		return integration.DualChannel{}, agentderr.New(agentderr.CodeOperation, "integrationsvc: meta-tool not mounted")
	}

	if err = s.allow(ctx, s.executeRules[id+"."+operation], id, operation); err != nil {
		return integration.DualChannel{}, err
	}

	result, err = metaTool.Execute(ctx, map[string]any{
		"action":         "execute",
		"integration_id": id,
		"operation":      operation,
		"args":           args,
	}, s.toolCtx(ctx))
	if err != nil {
		return integration.DualChannel{}, err
	}

	resp, ok := result.ForModel.(tools.ExecuteResponse)
	if !ok {
		return result, nil
	}
	return resp.Result, nil
}
