package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaCache sync.Map

// SchemaFor renders the JSON schema of out's underlying type.
func SchemaFor(out any) (string, error) {
	t := reflect.TypeOf(out)
	if t == nil {
		return "", fmt.Errorf("schema: nil output type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(string), nil
	}

	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	schema := reflector.ReflectFromType(t)
	schema.Version = ""
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("schema: %w", err)
	}
	schemaCache.Store(t, string(b))
	return string(b), nil
}
