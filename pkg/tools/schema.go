package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/reins-ai/agentd/pkg/agentderr"
)

// compileParametersSchema turns an operation's declared parameters-schema
// (a plain map, as carried on the wire and in integrations.yaml) into a
// compiled validator. A nil or empty schema compiles to nil, meaning "no
// validation" rather than "reject everything".
func compileParametersSchema(integrationID, opName string, schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "tools: marshal parameters schema", err)
	}

	url := fmt.Sprintf("https://agentd.local/schemas/%s/%s.json", integrationID, opName)
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "tools: load parameters schema", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeValidation, "tools: compile parameters schema", err)
	}
	return compiled, nil
}

// validateArgs rejects a call whose args don't satisfy the operation's
// declared parameters-schema. A nil schema always passes.
func validateArgs(integrationID, opName string, schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if err := schema.Validate(args); err != nil {
		return agentderr.Wrap(agentderr.CodeValidation,
			fmt.Sprintf("tools: args for \"%s.%s\" failed schema validation", integrationID, opName), err)
	}
	return nil
}
