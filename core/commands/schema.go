package commands

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// reflectInputSchema derives the declared input schema from the handler's
// argument struct. Field presence follows the json tags: fields without
// ",omitempty" are required, `jsonschema:"enum=..."` tags constrain values.
func reflectInputSchema[T any]() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.ReflectFromType(reflect.TypeFor[T]())
	// The validator and the upstream service both want a bare object
	// schema, not a versioned document.
	schema.Version = ""

	raw, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}
	return raw, nil
}

func compileInputSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile input schema: %w", err)
	}
	return schema, nil
}

// offendingField picks the field to name in an InvalidArguments result.
func offendingField(results []gojsonschema.ResultError) string {
	for _, desc := range results {
		if field := desc.Field(); field != "" && field != "(root)" {
			return field
		}
		if property, ok := desc.Details()["property"].(string); ok && property != "" {
			return property
		}
	}
	return ""
}
