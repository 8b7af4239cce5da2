package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/anthonybaldwin/crewforge/internal/model"
)

// Tool name constants shared by the Gateway's tool-call dispatch and the
// Agent Runner's bus-forwarding rules, which forward only the tool name and
// path(s) of a call, never file content.
const (
	ToolWriteFile   = "write_file"
	ToolWriteFiles  = "write_files"
	ToolReadFile    = "read_file"
	ToolListFiles   = "list_files"
	ToolSaveVersion = "save_version"
)

var toolSchemas = map[string]string{
	ToolWriteFile: `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`,
	ToolWriteFiles: `{
		"type": "object",
		"properties": {
			"files": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"path": {"type": "string"},
						"content": {"type": "string"}
					},
					"required": ["path", "content"]
				}
			}
		},
		"required": ["files"]
	}`,
	ToolReadFile: `{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`,
	ToolListFiles: `{
		"type": "object",
		"properties": {"dir": {"type": "string"}}
	}`,
	ToolSaveVersion: `{
		"type": "object",
		"properties": {"label": {"type": "string"}},
		"required": ["label"]
	}`,
}

var toolDescriptions = map[string]string{
	ToolWriteFile:   "Write a single file at path relative to the project root, creating parent directories as needed.",
	ToolWriteFiles:  "Write multiple files in one call; each file is written independently.",
	ToolReadFile:    "Read a file's content, or report {\"error\": \"File not found\"} if it does not exist.",
	ToolListFiles:   "List the project's file tree, optionally rooted at dir, excluding hidden entries and node_modules.",
	ToolSaveVersion: "Save a labeled checkpoint of the current project state.",
}

// Validators compiles every tool's JSON Schema once, keyed by tool name.
type Validators struct {
	schemas map[string]*jsonschema.Schema
}

// CompileValidators compiles the schemas for the five sandbox tools.
func CompileValidators() (*Validators, error) {
	c := jsonschema.NewCompiler()
	schemas := make(map[string]*jsonschema.Schema, len(toolSchemas))
	for name, raw := range toolSchemas {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			return nil, fmt.Errorf("sandbox: decode schema for %s: %w", name, err)
		}
		url := "sandbox/" + name + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("sandbox: add schema for %s: %w", name, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("sandbox: compile schema for %s: %w", name, err)
		}
		schemas[name] = schema
	}
	return &Validators{schemas: schemas}, nil
}

// Validate checks a decoded tool input against the named tool's schema.
func (v *Validators) Validate(name string, input any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("sandbox: no schema registered for tool %q", name)
	}
	return schema.Validate(input)
}

// Definitions returns the model.ToolDefinition set for every sandbox tool,
// ready to hand to gateway.Request.Tools.
func Definitions() []model.ToolDefinition {
	names := []string{ToolWriteFile, ToolWriteFiles, ToolReadFile, ToolListFiles, ToolSaveVersion}
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		var schema any
		_ = json.Unmarshal([]byte(toolSchemas[name]), &schema)
		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: toolDescriptions[name],
			InputSchema: schema,
		})
	}
	return defs
}
