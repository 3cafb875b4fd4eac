// Package tools provides the built-in tools shipped with the daemon.
package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/relaybot/relay/internal/agent"
)

// RegisterBuiltins adds the built-in tools to the registry. The shell
// tool is only registered when enabled in the config.
func RegisterBuiltins(reg *agent.Registry, shell ShellConfig) error {
	if err := reg.Register(NewTimeTool()); err != nil {
		return err
	}
	if shell.Enabled {
		if err := reg.Register(NewShellTool(shell)); err != nil {
			return err
		}
	}
	return nil
}

func reflectSchema(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
