// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a supported serialization format
type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// Detect returns the format implied by a file extension. Anything that is not
// .json is treated as YAML.
func Detect(filePath string) Format {
	if strings.EqualFold(filepath.Ext(filePath), ".json") {
		return JSON
	}
	return YAML
}

// ParseFile reads and parses a file, trying YAML first, then JSON
func ParseFile(filePath string, v interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	return ParseData(data, v)
}

// ParseData parses data, trying YAML first, then JSON
func ParseData(data []byte, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("no data to parse")
	}

	yamlErr := yaml.Unmarshal(data, v)
	if yamlErr == nil {
		return nil
	}

	jsonErr := json.Unmarshal(data, v)
	if jsonErr == nil {
		return nil
	}

	return fmt.Errorf("failed to parse as YAML (%v) or JSON (%v)", yamlErr, jsonErr)
}

// ParseStrict parses YAML (or JSON, which is valid YAML) and rejects fields
// that do not exist in v. Plan files use it so typos do not silently drop
// dependencies or rollback actions.
func ParseStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no data to parse")
		}
		return fmt.Errorf("failed to parse: %w", err)
	}
	return nil
}

// Marshal encodes v in the given format
func Marshal(v interface{}, f Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch f {
	case JSON:
		data, err = json.MarshalIndent(v, "", "  ")
	default:
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("error marshaling data: %w", err)
	}
	return data, nil
}

// WriteFile writes v to filePath in the format implied by its extension
func WriteFile(filePath string, v interface{}) error {
	data, err := Marshal(v, Detect(filePath))
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}
	return os.WriteFile(filePath, data, 0644)
}

// FormatData formats v as a YAML or JSON string
func FormatData(v interface{}, useYAML bool) (string, error) {
	f := JSON
	if useYAML {
		f = YAML
	}
	data, err := Marshal(v, f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
