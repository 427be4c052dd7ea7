// Package schemavalidation checks node-drive's JSON wire formats against
// the schema files in docs/schema, so a handler change that drops a
// required field or widens a type is caught by a test instead of by a
// client parsing the response years later.
package schemavalidation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance (typically the result of json.Unmarshal into
// any) against the schema read from schemaData. schemaPath is used only
// as the resource identifier the compiler reports in error messages; it
// need not exist on disk.
func Validate(schemaPath string, schemaData []byte, instance any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaData)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(instance)
}

// ValidateManifest checks a provenance.manifest/v1 response body against
// the manifest schema.
func ValidateManifest(schemaData []byte, manifestJSON []byte) error {
	var instance any
	if err := json.Unmarshal(manifestJSON, &instance); err != nil {
		return fmt.Errorf("unmarshal manifest: %w", err)
	}
	return Validate("provenance-manifest-v1.schema.json", schemaData, instance)
}
