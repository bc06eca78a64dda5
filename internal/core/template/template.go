// SPDX-License-Identifier: Apache-2.0

package template

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// ProcessFile renders the template file at filePath with data
func ProcessFile(filePath string, data map[string]interface{}) ([]byte, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("template file does not exist: %s", filePath)
		}
		return nil, fmt.Errorf("error reading template file: %w", err)
	}
	return ProcessString(string(content), data)
}

// ProcessString renders text with data. A reference to a key missing from
// data is an error.
func ProcessString(text string, data map[string]interface{}) ([]byte, error) {
	tmpl, err := template.New("template").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("error parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("error executing template: %w", err)
	}
	return buf.Bytes(), nil
}

// Render is ProcessString returning a string. Text without template actions
// is returned unchanged.
func Render(text string, data map[string]interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	out, err := ProcessString(text, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// RenderAll renders every entry of texts with the same data
func RenderAll(texts []string, data map[string]interface{}) ([]string, error) {
	rendered := make([]string, 0, len(texts))
	for i, text := range texts {
		out, err := Render(text, data)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		rendered = append(rendered, out)
	}
	return rendered, nil
}
