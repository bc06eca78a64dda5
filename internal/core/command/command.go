// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/template"
	"go.uber.org/zap"
)

// waitDelay bounds how long Run waits for output pipes after the context
// kills the process
const waitDelay = 2 * time.Second

// Runner runs a templated command line
type Runner struct {
	command     string
	args        []string
	workingDir  string
	environment []string
	stream      io.Writer
	logger      *logging.Logger
}

// Result holds the result of running a command
type Result struct {
	Output     []byte
	Stderr     []byte
	ExitStatus int
	Duration   time.Duration
}

// NewRunner creates a runner for command and args. Both may contain
// {{.param}} placeholders resolved by ProcessParameters.
func NewRunner(command string, args []string) *Runner {
	return &Runner{
		command: command,
		args:    append([]string(nil), args...),
		logger:  logging.NewNop(),
	}
}

// WithWorkingDir sets the working directory
func (r *Runner) WithWorkingDir(dir string) *Runner {
	r.workingDir = dir
	return r
}

// WithEnvironment sets environment variables, replacing the inherited ones
func (r *Runner) WithEnvironment(env []string) *Runner {
	r.environment = env
	return r
}

// WithStream copies stdout and stderr to w while the command runs
func (r *Runner) WithStream(w io.Writer) *Runner {
	r.stream = w
	return r
}

// WithLogger sets the logger used to record command invocations
func (r *Runner) WithLogger(l *logging.Logger) *Runner {
	r.logger = logging.OrNop(l)
	return r
}

// CommandLine returns the command and arguments as they will be run
func (r *Runner) CommandLine() string {
	return strings.TrimSpace(r.command + " " + strings.Join(r.args, " "))
}

// ProcessParameters renders the command, args and environment with params.
// The reserved params "working_dir" and "environment" configure the process.
func (r *Runner) ProcessParameters(params map[string]interface{}) error {
	command, err := template.Render(r.command, params)
	if err != nil {
		return fmt.Errorf("error processing command: %w", err)
	}
	r.command = command

	args, err := template.RenderAll(r.args, params)
	if err != nil {
		return fmt.Errorf("error processing argument: %w", err)
	}
	r.args = args

	if workingDir, ok := params["working_dir"].(string); ok && workingDir != "" {
		r.workingDir = workingDir
	}

	if env, ok := params["environment"].([]interface{}); ok {
		vars := os.Environ()
		for _, e := range env {
			s, ok := e.(string)
			if !ok {
				continue
			}
			rendered, err := template.Render(s, params)
			if err != nil {
				return fmt.Errorf("error processing environment variable: %w", err)
			}
			vars = append(vars, rendered)
		}
		r.environment = vars
	}
	return nil
}

// Run executes the command. Cancelling ctx kills the process.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	if r.stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, r.stream)
		cmd.Stderr = io.MultiWriter(&stderr, r.stream)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}
	if r.workingDir != "" {
		cmd.Dir = r.workingDir
	}
	if len(r.environment) > 0 {
		cmd.Env = r.environment
	}

	r.logger.Debug(ctx, "running command", zap.String("command", r.CommandLine()), zap.String("dir", r.workingDir))

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Output:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("command %q interrupted: %w", r.command, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return result, fmt.Errorf("command %q failed: %w: %s", r.command, err, msg)
		}
		return result, fmt.Errorf("command %q failed: %w", r.command, err)
	}
	return result, nil
}
