// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/template"
	"go.uber.org/zap"
)

// FileAction writes a rendered template to a target path
type FileAction struct {
	config       Config
	templatesDir string
	workingDir   string
	logger       *logging.Logger
}

// Execute runs the file action
func (a *FileAction) Execute(ctx context.Context, params map[string]interface{}) error {
	_, err := a.ExecuteWithOutput(ctx, params)
	return err
}

// ExecuteWithOutput renders the template and returns the written path as "file_path"
func (a *FileAction) ExecuteWithOutput(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targetPath, err := template.Render(a.config.TargetPath, params)
	if err != nil {
		return nil, fmt.Errorf("error processing target path: %w", err)
	}
	if !filepath.IsAbs(targetPath) && a.workingDir != "" {
		targetPath = filepath.Join(a.workingDir, targetPath)
	}

	var content []byte
	if a.config.Content != "" {
		content, err = template.ProcessString(a.config.Content, params)
	} else {
		content, err = template.ProcessFile(a.resolveTemplatePath(), params)
	}
	if err != nil {
		return nil, fmt.Errorf("error processing template: %w", err)
	}

	if a.config.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return nil, fmt.Errorf("error creating directories: %w", err)
		}
	}
	if err := os.WriteFile(targetPath, content, 0644); err != nil {
		return nil, fmt.Errorf("error writing file: %w", err)
	}

	a.logger.Debug(ctx, "created file", zap.String("path", targetPath))
	return map[string]interface{}{"file_path": targetPath}, nil
}

func (a *FileAction) resolveTemplatePath() string {
	if filepath.IsAbs(a.config.TemplatePath) || a.templatesDir == "" {
		return a.config.TemplatePath
	}
	return filepath.Join(a.templatesDir, a.config.TemplatePath)
}

// Description returns the action description
func (a *FileAction) Description() string {
	if a.config.Description != "" {
		return a.config.Description
	}
	return "Create a file from a template"
}
