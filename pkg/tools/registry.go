// Package tools implements the Tool Registry and the Integration Meta-Tool
// (§4.8): a name-keyed table of callable Tools, with the meta-tool
// multiplexing discover/activate/execute over whatever integrations are
// currently active.
package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/reins-ai/agentd/pkg/agentderr"
	"github.com/reins-ai/agentd/pkg/integration"
)

// MetaToolName is the single tool name the LLM sees in its base schema for
// every integration-related capability.
const MetaToolName = "integrations"

// ExecuteFunc is a tool's callable body. toolCtx is produced per-call by the
// host's toolContextFactory (§6) and passed through opaquely.
type ExecuteFunc func(ctx context.Context, callInput map[string]any, toolCtx any) (integration.DualChannel, error)

// Tool is the tool contract (§6): name, description, input schema, and an
// executable body.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Execute     ExecuteFunc
}

// capabilityEntry tracks, per active integration, the operation names
// (for the compact discover index) and full operation definitions (for
// activate's richer response).
type capabilityEntry struct {
	operations []integration.Operation
}

// Registry is the Tool Registry: a name-keyed table of Tools plus the
// bookkeeping the meta-tool needs to answer discover/activate.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	capabilities map[string]*capabilityEntry
}

func New() *Registry {
	return &Registry{
		tools:        make(map[string]Tool),
		capabilities: make(map[string]*capabilityEntry),
	}
}

func operationToolName(integrationID, opName string) string {
	return integrationID + "." + opName
}

// RegisterOperationTool mounts "<id>.<op>" and records it in the
// capability index consulted by discover/activate. Called by the Lifecycle
// Manager when an integration reaches ACTIVE.
func (r *Registry) RegisterOperationTool(integrationID string, op integration.Operation, exec integration.OperationExecFunc) error {
	schema, err := compileParametersSchema(integrationID, op.Name, op.ParametersSchema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := operationToolName(integrationID, op.Name)
	r.tools[name] = Tool{
		Name:        name,
		Description: op.Description,
		InputSchema: op.ParametersSchema,
		Execute: func(ctx context.Context, callInput map[string]any, _ any) (integration.DualChannel, error) {
			if err := validateArgs(integrationID, op.Name, schema, callInput); err != nil {
				return integration.DualChannel{}, err
			}
			return exec(ctx, callInput)
		},
	}

	entry, ok := r.capabilities[integrationID]
	if !ok {
		entry = &capabilityEntry{}
		r.capabilities[integrationID] = entry
	}
	entry.operations = append(entry.operations, op)
	return nil
}

// WithdrawIntegrationTools removes every "<id>.*" tool and clears the
// capability index entry for id. Called by the Lifecycle Manager on
// disable.
func (r *Registry) WithdrawIntegrationTools(integrationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := integrationID + "."
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
		}
	}
	delete(r.capabilities, integrationID)
	return nil
}

// register mounts an arbitrary tool (used for the meta-tool itself).
func (r *Registry) register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Get returns a mounted tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// RegisterMetaTool mounts the Integration Meta-Tool. It is idempotent:
// calling it again simply remounts the same tool definition.
func (r *Registry) RegisterMetaTool() error {
	return r.register(Tool{
		Name:        MetaToolName,
		Description: "Discover, activate, and execute integration operations.",
		InputSchema: metaToolSchema,
		Execute:     r.executeMetaTool,
	})
}

// CapabilityIndex returns the compact `"<id>:<op1>,<op2>,..."` entries for
// every currently active integration, sorted by integration id for
// deterministic output.
func (r *Registry) CapabilityIndex() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.capabilities))
	for id := range r.capabilities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		entry := r.capabilities[id]
		names := make([]string, len(entry.operations))
		for i, op := range entry.operations {
			names[i] = op.Name
		}
		out = append(out, id+":"+strings.Join(names, ","))
	}
	return out
}

// Operations returns the full operation definitions for an active
// integration, or false if it has none registered (unknown or inactive).
func (r *Registry) Operations(integrationID string) ([]integration.Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.capabilities[integrationID]
	if !ok {
		return nil, false
	}
	return append([]integration.Operation(nil), entry.operations...), true
}

var metaToolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action":         map[string]any{"type": "string", "enum": []string{"discover", "activate", "execute"}},
		"integration_id": map[string]any{"type": "string"},
		"operation":      map[string]any{"type": "string"},
		"args":           map[string]any{"type": "object"},
	},
	"required": []string{"action"},
}

// DiscoverResponse is the discover action's response shape.
type DiscoverResponse struct {
	Action          string   `json:"action"`
	CapabilityIndex []string `json:"capabilityIndex"`
}

// ActivateResponse is the activate action's response shape.
type ActivateResponse struct {
	Action        string                  `json:"action"`
	IntegrationID string                  `json:"integrationId"`
	Operations    []integration.Operation `json:"operations"`
}

// ExecuteResponse is the execute action's response shape.
type ExecuteResponse struct {
	Action        string                `json:"action"`
	IntegrationID string                `json:"integrationId"`
	Operation     string                `json:"operation"`
	Result        integration.DualChannel `json:"result"`
}

func (r *Registry) executeMetaTool(ctx context.Context, callInput map[string]any, toolCtx any) (integration.DualChannel, error) {
	action, _ := callInput["action"].(string)

	switch action {
	case "discover":
		resp := DiscoverResponse{Action: action, CapabilityIndex: r.CapabilityIndex()}
		return integration.NewDetailResult(resp, resp), nil

	case "activate":
		id, _ := callInput["integration_id"].(string)
		if id == "" {
			return integration.DualChannel{}, agentderr.New(agentderr.CodeValidation, "meta-tool: activate requires integration_id")
		}
		ops, ok := r.Operations(id)
		if !ok {
			return integration.DualChannel{}, agentderr.New(agentderr.CodeValidation, "meta-tool: unknown or inactive integration \""+id+"\"")
		}
		resp := ActivateResponse{Action: action, IntegrationID: id, Operations: ops}
		return integration.NewDetailResult(resp, resp), nil

	case "execute":
		id, _ := callInput["integration_id"].(string)
		op, _ := callInput["operation"].(string)
		if id == "" || op == "" {
			return integration.DualChannel{}, agentderr.New(agentderr.CodeValidation, "meta-tool: execute requires integration_id and operation")
		}
		args, _ := callInput["args"].(map[string]any)

		tool, ok := r.Get(operationToolName(id, op))
		if !ok {
			return integration.DualChannel{}, agentderr.New(agentderr.CodeValidation, "meta-tool: unknown operation \""+op+"\" for \""+id+"\"")
		}
		result, err := tool.Execute(ctx, args, toolCtx)
		if err != nil {
			return integration.DualChannel{}, err
		}
		resp := ExecuteResponse{Action: action, IntegrationID: id, Operation: op, Result: result}
		return integration.NewDetailResult(resp, resp), nil

	default:
		return integration.DualChannel{}, agentderr.New(agentderr.CodeValidation, "meta-tool: unknown action \""+action+"\"")
	}
}
