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
	"context"
	"sync"

	"github.com/containers/npu-affinity/pkg/failure"
)

// FakeRunner is a scripted Runner for tests. Commands are looked up by
// their full command line; unknown commands are passed to Fallback, or
// fail with a non-zero exit status if there is none.
type FakeRunner struct {
	sync.Mutex
	Outputs  map[string]string
	Failures map[string]failure.Reason
	Fallback func(cmd []string) (string, error)
	Calls    [][]string
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Outputs:  map[string]string{},
		Failures: map[string]failure.Reason{},
	}
}

// SetOutput scripts the output of the given command line.
func (f *FakeRunner) SetOutput(output string, cmd ...string) *FakeRunner {
	f.Lock()
	defer f.Unlock()
	f.Outputs[CommandLine(cmd)] = output
	return f
}

// SetFailure scripts a failure of the given command line.
func (f *FakeRunner) SetFailure(reason failure.Reason, cmd ...string) *FakeRunner {
	f.Lock()
	defer f.Unlock()
	f.Failures[CommandLine(cmd)] = reason
	return f
}

// Commands returns the printable command lines run so far.
func (f *FakeRunner) Commands() []string {
	f.Lock()
	defer f.Unlock()
	cmds := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		cmds = append(cmds, CommandLine(c))
	}
	return cmds
}

func (f *FakeRunner) Run(ctx context.Context, cmd ...string) (string, error) {
	f.Lock()
	tool := CommandLine(cmd)
	f.Calls = append(f.Calls, append([]string{}, cmd...))
	reason, failed := f.Failures[tool]
	output, ok := f.Outputs[tool]
	fallback := f.Fallback
	f.Unlock()

	if err := ctx.Err(); err != nil {
		return "", failure.ToolError(failure.Timeout, tool, err, "context done")
	}
	if failed {
		return "", failure.ToolError(reason, tool, nil, "scripted failure")
	}
	if ok {
		return output, nil
	}
	if fallback != nil {
		return fallback(cmd)
	}
	return "", failure.ToolError(failure.ExitStatus, tool, nil, "exited with status 127: command not found")
}
