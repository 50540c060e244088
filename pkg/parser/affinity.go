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

	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

const (
	// npuPrefix starts the rows of the topology matrix.
	npuPrefix = "NPU"
	// affinityHeader is the last token of the topology matrix header.
	affinityHeader = "Affinity"
)

// AffinityParser parses the topology matrix of the topology tool
// (npu-smi info -t topo). Rows start with "NPU<index>" and end with the
// CPU affinity list of that accelerator. Machines without affinity
// reporting produce an empty result.
var AffinityParser Parser[map[int][]int] = Func[map[int][]int](ParseAffinity)

// ParseAffinity implements AffinityParser.
func ParseAffinity(raw string) (map[int][]int, error) {
	affinity := map[int][]int{}

	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, npuPrefix) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		index := strings.TrimPrefix(fields[0], npuPrefix)
		if !isNumber(index) {
			continue
		}
		last := fields[len(fields)-1]
		if last == affinityHeader {
			continue
		}

		id, err := atoi(index)
		if err != nil {
			return nil, err
		}
		cpus, err := cpuset.ParseList(last)
		if err != nil {
			return nil, malformed(err, "invalid affinity of NPU%d", id)
		}
		affinity[id] = cpus
	}

	return affinity, nil
}
