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

package parser

import (
	"strings"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

const (
	// AllowedCPUsKey is the key of the allowed CPU list in a process status file.
	AllowedCPUsKey = "Cpus_allowed_list"
)

// AllowedCPUsParser parses the allowed CPU list out of a process status
// file (/proc/<pid>/status), where it appears as "Cpus_allowed_list:\t0-3,7".
// A status file without the entry is a configuration error.
var AllowedCPUsParser Parser[[]int] = Func[[]int](ParseAllowedCPUs)

// ParseAllowedCPUs implements AllowedCPUsParser.
func ParseAllowedCPUs(raw string) ([]int, error) {
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, AllowedCPUsKey) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return []int{}, nil
		}
		cpus, err := cpuset.ParseList(fields[1])
		if err != nil {
			return nil, failure.ConfigError("invalid %s entry %q: %v", AllowedCPUsKey, fields[1], err)
		}
		return cpus, nil
	}

	return nil, failure.ConfigError("no %s entry in process status", AllowedCPUsKey)
}
