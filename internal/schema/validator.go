// Package schema compiles the canonical Athena CAP schema and validates CAP
// records against it. It also knows how to restore a drifted schema from the
// canonical source.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"

	dErrors "capbridge/pkg/domain-errors"
	"capbridge/pkg/platform/sentinel"
)

// Validator wraps a compiled JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile loads and compiles the schema at path. A missing schema file is
// reported as sentinel.ErrNotFound.
func Compile(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("schema %s: %w", path, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return CompileBytes(path, data)
}

// CompileBytes compiles an in-memory schema document. The name is used in
// schema $ref resolution and error messages.
func CompileBytes(name string, data []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a raw JSON document against the schema. Violations come
// back as bad_request domain errors carrying the validator's detail message.
func (v *Validator) Validate(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return dErrors.Newf(dErrors.CodeBadRequest, "malformed JSON: %v", err)
	}

	if err := v.schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return dErrors.Newf(dErrors.CodeBadRequest, "CAP validation error: %v", ve)
		}
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
