// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/containers/npu-affinity/pkg/failure"
	logger "github.com/containers/npu-affinity/pkg/log"
)

const (
	// DefaultTimeout is the default upper bound for a single tool invocation.
	DefaultTimeout = 1000 * time.Second
	// waitDelay bounds waiting for output pipes after the tool is killed.
	waitDelay = 2 * time.Second
)

var log = logger.NewLogger("tools")

// Runner runs external command line tools.
type Runner interface {
	// Run runs the given command line and returns its standard output.
	// A timeout or a non-zero exit status is returned as a failure.Tool
	// error.
	Run(ctx context.Context, cmd ...string) (string, error)
}

type execRunner struct {
	timeout time.Duration
}

// NewRunner returns a Runner which executes tools as child processes,
// killing them if they do not finish within timeout.
func NewRunner(timeout time.Duration) Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &execRunner{timeout: timeout}
}

// CommandLine returns the printable form of a command.
func CommandLine(cmd []string) string {
	return strings.Join(cmd, " ")
}

func (r *execRunner) Run(ctx context.Context, cmd ...string) (string, error) {
	if len(cmd) == 0 || cmd[0] == "" {
		return "", failure.ToolError(failure.ExitStatus, "", nil, "empty command line")
	}

	tool := CommandLine(cmd)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = waitDelay

	log.Debug("running %s...", tool)
	start := time.Now()
	err := c.Run()
	log.Debug("%s finished in %s", tool, time.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", failure.ToolError(failure.Timeout, tool, ctxErr,
				"no result within %s", r.timeout)
		}
		return "", failure.ToolError(failure.ExitStatus, tool, ctxErr, "interrupted")
	}

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", failure.ToolError(failure.ExitStatus, tool, err,
				"exited with status %d: %s", exitErr.ExitCode(), msg)
		}
		return "", failure.ToolError(failure.ExitStatus, tool, err, "failed to run")
	}

	out := stdout.String()
	log.DebugBlock("  <"+cmd[0]+"> ", "%s", strings.TrimRight(out, "\n"))

	return out, nil
}
