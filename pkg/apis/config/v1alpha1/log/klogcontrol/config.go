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

package klogcontrol

import (
	"strconv"
)

// Config represents the runtime configuration of klog. Field names follow
// the names of the corresponding klog command line flags.
type Config struct {
	// +optional
	Add_dir_header *bool `json:"add_dir_header,omitempty"`
	// +optional
	Alsologtostderr *bool `json:"alsologtostderr,omitempty"`
	// +optional
	Log_file string `json:"log_file,omitempty"`
	// +optional
	Logtostderr *bool `json:"logtostderr,omitempty"`
	// +optional
	One_output *bool `json:"one_output,omitempty"`
	// +optional
	Skip_headers *bool `json:"skip_headers,omitempty"`
	// +optional
	Stderrthreshold string `json:"stderrthreshold,omitempty"`
	// +optional
	V *int `json:"v,omitempty"`
	// +optional
	Vmodule string `json:"vmodule,omitempty"`
}

// GetByFlag returns the configured value for the klog flag with the given
// name, if it is set.
func (c *Config) GetByFlag(name string) (string, bool) {
	if c == nil {
		return "", false
	}

	switch name {
	case "add_dir_header":
		return formatBool(c.Add_dir_header)
	case "alsologtostderr":
		return formatBool(c.Alsologtostderr)
	case "log_file":
		return c.Log_file, c.Log_file != ""
	case "logtostderr":
		return formatBool(c.Logtostderr)
	case "one_output":
		return formatBool(c.One_output)
	case "skip_headers":
		return formatBool(c.Skip_headers)
	case "stderrthreshold":
		return c.Stderrthreshold, c.Stderrthreshold != ""
	case "v":
		if c.V == nil {
			return "", false
		}
		return strconv.Itoa(*c.V), true
	case "vmodule":
		return c.Vmodule, c.Vmodule != ""
	}

	return "", false
}

func formatBool(b *bool) (string, bool) {
	if b == nil {
		return "", false
	}
	return strconv.FormatBool(*b), true
}
