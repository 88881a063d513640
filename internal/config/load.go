package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersionConstraint is the major schema version a scenario
// must declare.
const SupportedSchemaVersionConstraint = "v1"

// LoadScenario validates the YAML against the embedded JSON schema, decodes
// it strictly, checks schema version compatibility and finally performs
// logical validation.
func LoadScenario(scenarioYAML []byte, filePathHint string) (*Scenario, error) {
	if len(bytes.TrimSpace(scenarioYAML)) == 0 {
		return nil, gxoerrors.NewConfigError("scenario content cannot be empty", nil)
	}

	// Step 1: structure and types.
	if err := ValidateWithSchema(scenarioYAML); err != nil {
		return nil, gxoerrors.NewConfigError(fmt.Sprintf("scenario '%s' failed schema validation", filePathHint), err)
	}

	// Step 2: strict decode to catch unknown fields.
	var scenario Scenario
	if err := yamlUnmarshalStrict(scenarioYAML, &scenario); err != nil {
		return nil, gxoerrors.NewConfigError(fmt.Sprintf("failed to parse scenario YAML '%s'", filePathHint), err)
	}
	scenario.FilePath = filePathHint

	// Step 3: schema version.
	if scenario.SchemaVersion == "" {
		return nil, gxoerrors.NewValidationError(fmt.Sprintf("scenario '%s' is missing required 'schemaVersion' field", filePathHint), nil)
	}
	// semver requires the leading "v"; scenarios may write "1.0.0".
	version := scenario.SchemaVersion
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return nil, gxoerrors.NewValidationError(fmt.Sprintf("scenario '%s' has invalid 'schemaVersion' format: '%s'", filePathHint, scenario.SchemaVersion), nil)
	}
	if semver.Major(version) != SupportedSchemaVersionConstraint {
		return nil, gxoerrors.NewValidationError(
			fmt.Sprintf("scenario '%s' schemaVersion '%s' is not compatible with runner requirement '%s'",
				filePathHint, scenario.SchemaVersion, SupportedSchemaVersionConstraint),
			nil,
		)
	}

	// Step 4: logical validation. All problems are gathered into one error;
	// the first one is kept as the cause for errors.As callers.
	if validationErrs := ValidateScenario(&scenario); len(validationErrs) > 0 {
		messages := make([]string, 0, len(validationErrs))
		for _, vErr := range validationErrs {
			messages = append(messages, vErr.Error())
		}
		combined := fmt.Sprintf("scenario '%s' has %d validation error(s):\n- %s",
			filePathHint, len(messages), strings.Join(messages, "\n- "))
		return nil, gxoerrors.NewValidationError(combined, validationErrs[0])
	}

	return &scenario, nil
}

// LoadScenarioFromFile reads a scenario from disk.
func LoadScenarioFromFile(filePath string) (*Scenario, error) {
	if filePath == "" {
		return nil, gxoerrors.NewConfigError("scenario file path cannot be empty", nil)
	}
	// Resolve early so error messages and the report name the real file.
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, gxoerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, gxoerrors.NewConfigError(fmt.Sprintf("failed to read scenario file '%s'", absPath), err)
	}
	return LoadScenario(content, absPath)
}

// yamlUnmarshalStrict decodes in into out, rejecting fields out does not declare.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
