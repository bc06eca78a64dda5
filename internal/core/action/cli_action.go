// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/kusari-oss/remedy/internal/core/command"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"go.uber.org/zap"
)

type outputParser func([]byte) (interface{}, error)

// CLIAction executes a command line tool
type CLIAction struct {
	config        Config
	workingDir    string
	stream        io.Writer
	logger        *logging.Logger
	outputParsers map[string]outputParser
}

// NewCLIAction creates a new CLI action. Outputs declared in the config are
// parsed from stdout after every successful run.
func NewCLIAction(config Config, actx Context) (*CLIAction, error) {
	if config.Command == "" {
		return nil, fmt.Errorf("command is required for CLI actions")
	}

	a := &CLIAction{
		config:        config,
		workingDir:    actx.WorkingDir,
		stream:        actx.Stream,
		logger:        logging.OrNop(actx.Logger),
		outputParsers: make(map[string]outputParser),
	}

	for name, parser := range config.Outputs {
		switch parser.Format {
		case "json":
			a.outputParsers[name] = createJSONParser(parser.Path)
		case "text", "":
			if parser.Pattern != "" {
				if _, err := regexp.Compile(parser.Pattern); err != nil {
					return nil, fmt.Errorf("output %s: invalid pattern: %w", name, err)
				}
			}
			a.outputParsers[name] = createTextParser(parser.Pattern)
		default:
			return nil, fmt.Errorf("output %s: unknown format %q", name, parser.Format)
		}
	}
	return a, nil
}

// Execute runs the CLI action
func (a *CLIAction) Execute(ctx context.Context, params map[string]interface{}) error {
	_, err := a.ExecuteWithOutput(ctx, params)
	return err
}

// ExecuteWithOutput runs the CLI action and captures outputs. The raw stdout
// and the exit status are always returned as "stdout" and "exit_status".
func (a *CLIAction) ExecuteWithOutput(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	runner := command.NewRunner(a.config.Command, a.config.Args).
		WithWorkingDir(a.workingDir).
		WithLogger(a.logger)
	if a.stream != nil {
		runner.WithStream(a.stream)
	}

	if err := runner.ProcessParameters(params); err != nil {
		return nil, err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("command execution failed: %w", err)
	}

	outputs := map[string]interface{}{
		"stdout":      strings.TrimSpace(string(result.Output)),
		"exit_status": result.ExitStatus,
	}
	for name, parse := range a.outputParsers {
		value, err := parse(result.Output)
		if err != nil {
			a.logger.Warn(ctx, "failed to parse command output",
				zap.String("output", name), zap.Error(err))
			continue
		}
		outputs[name] = value
	}
	return outputs, nil
}

// Description returns the action description
func (a *CLIAction) Description() string {
	if a.config.Description != "" {
		return a.config.Description
	}
	return "Execute a command line tool"
}

func createJSONParser(path string) outputParser {
	return func(data []byte) (interface{}, error) {
		var result interface{}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, err
		}
		if path != "" {
			return extractJSONPath(result, path)
		}
		return result, nil
	}
}

func createTextParser(pattern string) outputParser {
	var re *regexp.Regexp
	if pattern != "" {
		re = regexp.MustCompile(pattern)
	}
	return func(data []byte) (interface{}, error) {
		text := string(data)
		if re == nil {
			return strings.TrimSpace(text), nil
		}

		matches := re.FindStringSubmatch(text)
		switch {
		case len(matches) > 1:
			return matches[1], nil // first capture group
		case len(matches) == 1:
			return matches[0], nil
		}
		return nil, fmt.Errorf("no matches found for pattern: %s", pattern)
	}
}

// extractJSONPath walks a dotted path such as "items[0].name"
func extractJSONPath(obj interface{}, path string) (interface{}, error) {
	current := obj

	for _, part := range strings.Split(path, ".") {
		open := strings.Index(part, "[")
		if open < 0 || !strings.HasSuffix(part, "]") {
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("not an object at path: %s", part)
			}
			current = m[part]
			continue
		}

		propName := part[:open]
		indexStr := part[open+1 : len(part)-1]
		if propName != "" {
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("not an object at path: %s", propName)
			}
			current = m[propName]
		}

		index, err := strconv.Atoi(indexStr)
		if err != nil {
			return nil, fmt.Errorf("invalid array index: %s", indexStr)
		}
		arr, ok := current.([]interface{})
		if !ok {
			return nil, fmt.Errorf("not an array at path: %s", part)
		}
		if index < 0 || index >= len(arr) {
			return nil, fmt.Errorf("array index out of bounds: %d", index)
		}
		current = arr[index]
	}

	return current, nil
}
