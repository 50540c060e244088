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

// Package topology reads the NUMA layout of CPUs from sysfs.
package topology

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/containers/npu-affinity/pkg/failure"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/parser"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

const (
	// nodeDir is the sysfs directory of NUMA nodes, relative to the sysfs root.
	nodeDir = "devices/system/node"
)

var log = logger.NewLogger("topology")

// NUMALayout returns the NUMA node of every CPU listed in the node
// cpulist files under the sysfs root. CPUs are listed by node, in
// ascending node order.
func NUMALayout(sysRoot string) ([]parser.CPUNode, error) {
	dirs, err := filepath.Glob(filepath.Join(sysRoot, nodeDir, "node[0-9]*"))
	if err != nil {
		return nil, failure.ConfigError("failed to look up NUMA nodes: %v", err)
	}

	type node struct {
		id   int
		cpus []int
	}
	nodes := []node{}

	for _, dir := range dirs {
		id, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "node"))
		if err != nil {
			log.Debug("ignoring unexpected node entry %s", dir)
			continue
		}

		path := filepath.Join(dir, "cpulist")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, failure.ConfigError("failed to read %s: %v", path, err)
		}
		cpus, err := cpuset.ParseList(string(data))
		if err != nil {
			return nil, failure.ConfigError("invalid CPU list in %s: %v", path, err)
		}
		if len(cpus) == 0 {
			log.Debug("node #%d has no CPUs", id)
			continue
		}
		nodes = append(nodes, node{id: id, cpus: cpus})
	}

	if len(nodes) == 0 {
		return nil, failure.ConfigError("no NUMA node with CPUs found in %s",
			filepath.Join(sysRoot, nodeDir))
	}

	slices.SortFunc(nodes, func(a, b node) int { return a.id - b.id })

	layout := []parser.CPUNode{}
	for _, n := range nodes {
		for _, cpu := range n.cpus {
			layout = append(layout, parser.CPUNode{CPU: cpu, Node: n.id})
		}
	}

	return layout, nil
}
