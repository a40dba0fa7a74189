package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildOutputJSONSchema returns the canonical output JSON-Schema as a generic map.
// It is sent to the provider inside prompts and compiled locally for validation.
// Unknown properties are allowed so newer model output still validates.
func BuildOutputJSONSchema() map[string]any {
	nullableString := map[string]any{"type": []any{"string", "null"}}

	order := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_number":  map[string]any{"type": []any{"string", "number", "null"}},
			"order_date":    nullableString,
			"currency":      nullableString,
			"delivery_date": nullableString,
			"notes":         nullableString,
			"shipping_hint": nullableString,
			"billing_hint":  nullableString,
		},
	}

	line := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"line_number":  map[string]any{"type": []any{"integer", "null"}},
			"customer_sku": map[string]any{"type": []any{"string", "number", "null"}},
			"description":  nullableString,
			"quantity":     map[string]any{"type": []any{"number", "null"}},
			"unit":         nullableString,
			"unit_price":   map[string]any{"type": []any{"number", "string", "null"}},
			"currency":     nullableString,
		},
	}

	return map[string]any{
		"type":     "object",
		"required": []any{"order", "lines"},
		"properties": map[string]any{
			"order": order,
			"lines": map[string]any{"type": "array", "items": line},
		},
	}
}

// SchemaJSON is the schema rendered for prompts.
func SchemaJSON() string {
	b, _ := json.MarshalIndent(BuildOutputJSONSchema(), "", "  ")
	return string(b)
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(BuildOutputJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("canonical-output.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("canonical-output.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})
