// Package validate checks JSON-shaped values against JSON Schema documents.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// Compile compiles schema, reusing a cached result for identical documents.
func Compile(name string, schema []byte) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(name, string(schema))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// Value validates v against schema. v is round-tripped through JSON first so
// Go structs are checked by their wire shape.
func Value(name string, schema []byte, v any) error {
	compiled, err := Compile(name, schema)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	return validateDecoded(compiled, payload)
}

// Raw validates an encoded JSON document against schema.
func Raw(name string, schema []byte, doc []byte) error {
	compiled, err := Compile(name, schema)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	return validateDecoded(compiled, doc)
}

func validateDecoded(compiled *jsonschema.Schema, payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return errors.New(Describe(err))
	}
	return nil
}

// Describe flattens a validation error into "path: message" pairs.
func Describe(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	var issues []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "<root>"
			}
			issues = append(issues, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	if len(issues) == 0 {
		return ve.Error()
	}
	return strings.Join(issues, "; ")
}
