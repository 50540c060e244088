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

package allocator

import (
	"slices"

	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/parser"
)

// NUMAMap maps CPUs to NUMA nodes and NUMA nodes to their CPUs.
type NUMAMap struct {
	cpuNode  map[int]int   // CPU to node
	nodeCPUs map[int][]int // node to CPUs, in layout order
	nodeIDs  []int         // sorted node IDs
}

// NewNUMAMap builds a NUMAMap from a CPU layout. A layout without any
// node is an error.
func NewNUMAMap(layout []parser.CPUNode) (*NUMAMap, error) {
	m := &NUMAMap{
		cpuNode:  map[int]int{},
		nodeCPUs: map[int][]int{},
	}

	nodes := idset.NewIDSet()
	for _, cn := range layout {
		if node, ok := m.cpuNode[cn.CPU]; ok {
			log.Warn("ignoring duplicate CPU #%d in layout (already on node #%d)", cn.CPU, node)
			continue
		}
		m.cpuNode[cn.CPU] = cn.Node
		m.nodeCPUs[cn.Node] = append(m.nodeCPUs[cn.Node], cn.CPU)
		nodes.Add(cn.Node)
	}

	if nodes.Size() == 0 {
		return nil, failure.ConfigError("no NUMA node found in CPU layout")
	}
	m.nodeIDs = nodes.SortedMembers()

	return m, nil
}

// NodeIDs returns the sorted IDs of all NUMA nodes.
func (m *NUMAMap) NodeIDs() []int {
	return slices.Clone(m.nodeIDs)
}

// NodeCount returns the number of NUMA nodes.
func (m *NUMAMap) NodeCount() int {
	return len(m.nodeIDs)
}

// NodeOf returns the NUMA node of a CPU.
func (m *NUMAMap) NodeOf(cpu int) (int, bool) {
	node, ok := m.cpuNode[cpu]
	return node, ok
}

// CPUs returns the CPUs of a NUMA node.
func (m *NUMAMap) CPUs(node int) []int {
	return slices.Clone(m.nodeCPUs[node])
}

// NextNode returns the node following node, wrapping around after the
// node with the highest ID.
func (m *NUMAMap) NextNode(node int) int {
	idx, found := slices.BinarySearch(m.nodeIDs, node)
	if !found {
		return m.nodeIDs[0]
	}
	return m.nodeIDs[(idx+1)%len(m.nodeIDs)]
}
