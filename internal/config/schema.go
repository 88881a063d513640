package config

import (
	_ "embed" // Required for the //go:embed directive.
	"fmt"
	"sync"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// The scenario schema is compiled into the binary. The path is relative to
// this source file.
//
//go:embed rdx_scenario_v1.0.0.json
var schemaV1Bytes []byte

var (
	// schemaV1 holds the compiled schema, shared by every validation.
	schemaV1 *gojsonschema.Schema
	// schemaOnce guards the one-time compilation.
	schemaOnce sync.Once
	// schemaErr keeps any compilation failure so later calls report it too.
	schemaErr error
)

// loadSchema compiles the embedded schema once and returns the cached result.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		// An empty slice means the file was missing when the binary was built.
		if len(schemaV1Bytes) == 0 {
			schemaErr = gxoerrors.NewConfigError("embedded schema 'rdx_scenario_v1.0.0.json' is empty", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = gxoerrors.NewConfigError("failed to compile embedded schema 'rdx_scenario_v1.0.0.json'", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema validates a YAML document against the embedded scenario
// schema. The YAML is decoded into generic values first since the validator
// works on JSON-like data.
func ValidateWithSchema(documentYAML []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	// Loose decode: unknown fields are the schema's job here, and the strict
	// decode into Scenario happens afterwards.
	var jsonData interface{}
	if err := yaml.Unmarshal(documentYAML, &jsonData); err != nil {
		return gxoerrors.NewConfigError("failed to parse scenario YAML for schema validation", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(jsonData))
	if err != nil {
		// The validator itself failed, not the document.
		return gxoerrors.NewConfigError("schema validation process failed", err)
	}
	if !result.Valid() {
		// Report every violation at once, one per line.
		errMsg := "Scenario failed JSON schema validation:"
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" || field == "" {
				// Root-level errors carry their location in the context path.
				field = desc.Context().String()
			}
			errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
		}
		return gxoerrors.NewValidationError(errMsg, nil)
	}

	return nil
}
