// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\.([^}]+)\}\}`)

// ProcessParamsWithSchema substitutes {{.key}} placeholders in params with
// values from data. When the schema declares a property as array, number or
// boolean, the substituted string is converted to that type.
//
// Placeholders whose key is absent from data are an error.
func ProcessParamsWithSchema(params map[string]interface{}, data map[string]interface{}, schema map[string]interface{}) (map[string]interface{}, error) {
	properties, _ := schema["properties"].(map[string]interface{})

	result := make(map[string]interface{}, len(params))
	for key, value := range params {
		processed, err := substituteValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("error processing parameter %s: %w", key, err)
		}

		if s, ok := processed.(string); ok && properties != nil {
			if prop, ok := properties[key].(map[string]interface{}); ok {
				processed = coerce(s, prop["type"])
			}
		}
		result[key] = processed
	}
	return result, nil
}

// substituteValue walks strings, lists and nested objects
func substituteValue(value interface{}, data map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return substitute(v, data)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			processed, err := substituteValue(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = processed
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			processed, err := substituteValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = processed
		}
		return out, nil
	default:
		return value, nil
	}
}

func substitute(text string, data map[string]interface{}) (string, error) {
	var missing []string
	result := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		value, found := data[key]
		if !found {
			missing = append(missing, key)
			return match
		}
		switch v := value.(type) {
		case []interface{}, map[string]interface{}:
			encoded, err := json.Marshal(v)
			if err != nil {
				missing = append(missing, key)
				return match
			}
			return string(encoded)
		default:
			return fmt.Sprintf("%v", value)
		}
	})

	if len(missing) > 0 {
		return result, fmt.Errorf("missing values for %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// coerce converts a substituted string to the declared JSON schema type,
// leaving it unchanged when conversion is not possible
func coerce(s string, schemaType interface{}) interface{} {
	switch schemaType {
	case "array":
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			var arr []interface{}
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return arr
			}
		}
	case "number":
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
	case "integer":
		if num, err := strconv.ParseInt(s, 10, 64); err == nil {
			return num
		}
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}
