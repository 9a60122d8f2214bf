package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// dataSchemaMap describes the `data` object: category -> exam name -> scalar value.
var dataSchemaMap = map[string]any{
	"type": "object",
	"additionalProperties": map[string]any{
		"type": "object",
		"additionalProperties": map[string]any{
			"type": []any{"string", "number", "boolean", "null"},
		},
	},
}

var dataSchema = mustCompileSchema("exam-data.json", dataSchemaMap)

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func mustCompileSchema(name string, schemaMap map[string]any) *jsonschema.Schema {
	s, err := compileSchema(name, schemaMap)
	if err != nil {
		panic(err)
	}
	return s
}

// validateData checks v (decoded with UseNumber) against the data schema.
func validateData(v any) error {
	if err := dataSchema.Validate(v); err != nil {
		return fmt.Errorf("data does not match schema: %w", err)
	}
	return nil
}
