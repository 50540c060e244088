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

// Package failure implements the error type shared by every stage of CPU
// binding. All errors are terminal for a run: callers propagate them, and
// errors.Is can be used to check the kind of failure.
package failure

import (
	"fmt"
	"strings"

	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

// Kind classifies a failure.
type Kind int

const (
	// Config is missing or malformed system data.
	Config Kind = iota + 1
	// Resource is an accelerator left with too few CPUs.
	Resource
	// Tool is an external tool failing, timing out, or producing garbage.
	Tool
	// Binding is a failure to set the CPU affinity of a thread.
	Binding
)

// Reason further qualifies Tool failures.
type Reason int

const (
	// NoReason is the zero Reason, used by non-Tool failures.
	NoReason Reason = iota
	// Timeout means the tool did not finish in time.
	Timeout
	// ExitStatus means the tool exited with a non-zero status.
	ExitStatus
	// Malformed means the tool output could not be parsed.
	Malformed
)

var (
	// ErrConfig matches Config failures with errors.Is.
	ErrConfig = &Error{Kind: Config}
	// ErrResource matches Resource failures with errors.Is.
	ErrResource = &Error{Kind: Resource}
	// ErrTool matches Tool failures with errors.Is.
	ErrTool = &Error{Kind: Tool}
	// ErrBinding matches Binding failures with errors.Is.
	ErrBinding = &Error{Kind: Binding}
)

// NoID marks an unset Accelerator or PID.
const NoID = -1

// Error is a failure of CPU binding, with enough detail to identify the
// offending tool, accelerator, thread and CPUs.
type Error struct {
	Kind        Kind
	Reason      Reason
	Tool        string // tool command line, for Tool failures
	Accelerator int    // accelerator ID or NoID
	PID         int    // thread/process ID or NoID
	CPUs        []int  // CPUs involved, if any
	Msg         string
	Err         error // underlying cause, if any
}

// ConfigError returns a Config failure.
func ConfigError(format string, args ...interface{}) *Error {
	return &Error{
		Kind:        Config,
		Accelerator: NoID,
		PID:         NoID,
		Msg:         fmt.Sprintf(format, args...),
	}
}

// ResourceError returns a Resource failure for the given accelerator and CPU pool.
func ResourceError(accel int, cpus []int, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        Resource,
		Accelerator: accel,
		PID:         NoID,
		CPUs:        cpus,
		Msg:         fmt.Sprintf(format, args...),
	}
}

// ToolError returns a Tool failure for the given command line.
func ToolError(reason Reason, tool string, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        Tool,
		Reason:      reason,
		Tool:        tool,
		Accelerator: NoID,
		PID:         NoID,
		Msg:         fmt.Sprintf(format, args...),
		Err:         err,
	}
}

// BindingError returns a Binding failure for the given thread and CPUs.
func BindingError(pid int, cpus []int, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        Binding,
		Accelerator: NoID,
		PID:         pid,
		CPUs:        cpus,
		Msg:         fmt.Sprintf(format, args...),
		Err:         err,
	}
}

// WithAccelerator sets the accelerator ID of the failure.
func (e *Error) WithAccelerator(id int) *Error {
	e.Accelerator = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	b := &strings.Builder{}
	b.WriteString(e.Kind.String())
	if e.Reason != NoReason {
		b.WriteString(" (" + e.Reason.String() + ")")
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)

	var details []string
	if e.Tool != "" {
		details = append(details, "tool "+e.Tool)
	}
	if e.Accelerator != NoID {
		details = append(details, fmt.Sprintf("NPU%d", e.Accelerator))
	}
	if e.PID != NoID {
		details = append(details, fmt.Sprintf("pid %d", e.PID))
	}
	if e.CPUs != nil {
		details = append(details, "CPUs ["+cpuset.FormatList(e.CPUs, ",")+"]")
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, and of the same reason if the
// target has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == NoReason || t.Reason == e.Reason
}

func (k Kind) String() string {
	switch k {
	case Config:
		return "configuration error"
	case Resource:
		return "insufficient resources"
	case Tool:
		return "tool execution error"
	case Binding:
		return "binding error"
	}
	return fmt.Sprintf("<unknown failure kind %d>", int(k))
}

func (r Reason) String() string {
	switch r {
	case NoReason:
		return ""
	case Timeout:
		return "timeout"
	case ExitStatus:
		return "exit status"
	case Malformed:
		return "malformed output"
	}
	return fmt.Sprintf("<unknown reason %d>", int(r))
}
