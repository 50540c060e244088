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
)

// CPUNode is the NUMA node of a CPU.
type CPUNode struct {
	CPU  int
	Node int
}

// NUMALayoutParser parses the CPU to NUMA node layout printed by the CPU
// layout tool (lscpu -p=CPU,NODE). Comment lines start with '#'. An empty
// node column means a machine without NUMA and is reported as node 0.
var NUMALayoutParser Parser[[]CPUNode] = Func[[]CPUNode](ParseNUMALayout)

// ParseNUMALayout implements NUMALayoutParser.
func ParseNUMALayout(raw string) ([]CPUNode, error) {
	layout := []CPUNode{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cols := strings.Split(line, ",")
		if len(cols) != 2 {
			return nil, malformed(nil, "invalid CPU layout line %q", line)
		}
		cpuCol, nodeCol := strings.TrimSpace(cols[0]), strings.TrimSpace(cols[1])
		if nodeCol == "" {
			nodeCol = "0"
		}
		if !isNumber(cpuCol) || !isNumber(nodeCol) {
			return nil, malformed(nil, "invalid CPU layout line %q", line)
		}

		cpu, err := atoi(cpuCol)
		if err != nil {
			return nil, err
		}
		node, err := atoi(nodeCol)
		if err != nil {
			return nil, err
		}
		layout = append(layout, CPUNode{CPU: cpu, Node: node})
	}

	return layout, nil
}
