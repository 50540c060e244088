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

// Package parser contains one parser for each external tool output or
// system file we consume. Each parser only knows the text format of its
// input, so a format change of a tool is confined to a single parser.
package parser

import (
	"context"
	"errors"
	"strconv"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/tools"
)

// Parser parses raw tool output into T.
type Parser[T any] interface {
	Parse(raw string) (T, error)
}

// Func adapts a function to a Parser.
type Func[T any] func(raw string) (T, error)

// Parse implements Parser.
func (f Func[T]) Parse(raw string) (T, error) {
	return f(raw)
}

// RunAndParse runs the given tool and parses its output. Malformed output
// errors are annotated with the tool command line.
func RunAndParse[T any](ctx context.Context, r tools.Runner, cmd []string, p Parser[T]) (T, error) {
	var zero T

	out, err := r.Run(ctx, cmd...)
	if err != nil {
		return zero, err
	}

	v, err := p.Parse(out)
	if err != nil {
		var ferr *failure.Error
		if errors.As(err, &ferr) && ferr.Tool == "" {
			ferr.Tool = tools.CommandLine(cmd)
		}
		return zero, err
	}

	return v, nil
}

// malformed returns an error for unparsable tool output.
func malformed(err error, format string, args ...interface{}) error {
	return failure.ToolError(failure.Malformed, "", err, format, args...)
}

// isNumber returns true if s is a non-empty string of decimal digits.
func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// atoi converts a string known to pass isNumber.
func atoi(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed(err, "invalid number %q", s)
	}
	return v, nil
}
