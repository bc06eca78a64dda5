// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ParamError lists every violation found when validating parameters
type ParamError struct {
	Violations []string
}

func (e *ParamError) Error() string {
	return "parameter validation failed: " + strings.Join(e.Violations, "; ")
}

// TODO: gojsonschema is unmaintained; revisit once a maintained draft-07
// validator is available in our dependency set.

// ValidateParams validates parameters against a JSON schema. A nil or empty
// schema accepts anything.
func ValidateParams(schema map[string]interface{}, params map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &ParamError{Violations: violations}
}

// Compile checks that schema is itself a valid JSON schema
func Compile(schema map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}

// MergeWithDefaults returns defaults overridden by params
func MergeWithDefaults(params map[string]interface{}, defaults map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(params)+len(defaults))
	for k, v := range defaults {
		result[k] = v
	}
	for k, v := range params {
		result[k] = v
	}
	return result
}
