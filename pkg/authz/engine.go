// Package authz evaluates optional per-operation authorization rules for
// the Integration Service's enable/execute gating hooks. Most
// installations never configure a rule, in which case every call is
// allowed by default; this exists for the installation that wants a
// policy layer without the Integration Service itself growing a rule
// language.
package authz

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/reins-ai/agentd/pkg/agentderr"
)

// Input is what a compiled rule sees.
type Input struct {
	IntegrationID string
	Operation     string
	CallerID      string
	Scopes        []string
}

func (in Input) asCELInput() map[string]any {
	return map[string]any{
		"integration_id": in.IntegrationID,
		"operation":      in.Operation,
		"caller_id":      in.CallerID,
		"scopes":         in.Scopes,
	}
}

// Engine compiles and caches CEL predicates and evaluates them against an
// authorization Input. A predicate must evaluate to a bool; anything else
// is treated as a compile/eval error (fail-closed).
type Engine struct {
	env *cel.Env

	mu      sync.RWMutex
	cache   map[string]cel.Program
}

// NewEngine constructs an Engine with the variables every rule may
// reference: integration_id, operation, caller_id, scopes.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("integration_id", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("caller_id", cel.StringType),
		cel.Variable("scopes", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "authz: build CEL environment", err)
	}
	return &Engine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Allow compiles (or reuses a cached compile of) rule and evaluates it
// against in. An empty rule always allows, since most integrations never
// configure a gating rule.
func (e *Engine) Allow(rule string, in Input) (bool, error) {
	if rule == "" {
		return true, nil
	}

	prg, err := e.program(rule)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(in.asCELInput())
	if err != nil {
		return false, agentderr.Wrap(agentderr.CodeAuth, "authz: evaluate rule", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, agentderr.New(agentderr.CodeAuth, fmt.Sprintf("authz: rule %q did not evaluate to a bool", rule))
	}
	return allowed, nil
}

func (e *Engine) program(rule string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[rule]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok = e.cache[rule]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "authz: compile rule", issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "authz: build program", err)
	}
	e.cache[rule] = prg
	return prg, nil
}
