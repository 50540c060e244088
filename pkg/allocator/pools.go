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

	"github.com/containers/npu-affinity/pkg/discovery"
	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

// Policy is the way CPU pools were derived.
type Policy string

const (
	// PolicyAffinity derives pools from the reported accelerator CPU affinity.
	PolicyAffinity Policy = "affinity"
	// PolicyFallback spreads accelerators evenly over NUMA nodes.
	PolicyFallback Policy = "fallback"
)

// derivePools derives the CPU pool of every running accelerator.
func derivePools(snap *discovery.Snapshot, numa *NUMAMap) (Policy, map[int][]int, error) {
	if !snap.HasAffinity() {
		return PolicyFallback, fallbackPools(snap, numa), nil
	}
	p, err := affinityPools(snap, numa)
	return PolicyAffinity, p, err
}

// affinityPools takes the allowed part of the reported affinity of every
// accelerator, widening it to the next NUMA node if it is confined to a
// single node. Accelerators ending up with the same pool share it evenly.
func affinityPools(snap *discovery.Snapshot, numa *NUMAMap) (map[int][]int, error) {
	var (
		running = snap.Running()
		pools   = make(map[int][]int, len(running))
	)

	for _, id := range running {
		base := cpuset.Intersect(snap.Affinity(id), snap.Allowed())
		pool, err := extendNUMA(base, numa, snap.Allowed())
		if err != nil {
			return nil, err.WithAccelerator(id)
		}
		log.Debug("NPU%d: affinity pool %v (base %v)", id, pool, base)
		pools[id] = pool
	}

	type group struct {
		pool    []int
		members []int
	}

	var (
		groups []*group
		byPool = map[string]*group{}
	)
	for _, id := range running {
		key := cpuset.FormatList(pools[id], ",")
		g, ok := byPool[key]
		if !ok {
			g = &group{pool: pools[id]}
			byPool[key] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, id)
	}

	for _, g := range groups {
		if len(g.members) < 2 {
			continue
		}
		cpus := slices.Sorted(slices.Values(g.pool))
		for i, part := range splitEvenly(cpus, len(g.members)) {
			log.Debug("NPU%d: shares pool %v with %v, takes %v", g.members[i], cpus, g.members, part)
			pools[g.members[i]] = part
		}
	}

	return pools, nil
}

// extendNUMA extends a list of CPUs confined to a single NUMA node with the
// allowed CPUs of the next node. The extended list is sorted.
func extendNUMA(cpus []int, numa *NUMAMap, allowed cpuset.CPUSet) ([]int, *failure.Error) {
	if len(cpus) == 0 {
		return []int{}, nil
	}

	nodes := idset.NewIDSet()
	for _, cpu := range cpus {
		node, ok := numa.NodeOf(cpu)
		if !ok {
			return nil, failure.ConfigError("CPU #%d not found in NUMA layout", cpu)
		}
		nodes.Add(node)
	}
	if nodes.Size() != 1 {
		return cpus, nil
	}

	next := numa.NextNode(nodes.SortedMembers()[0])
	extra := cpuset.New(cpuset.Intersect(numa.CPUs(next), allowed)...)

	return cpuset.New(cpus...).Union(extra).List(), nil
}

// fallbackPools spreads accelerators as evenly as possible over the NUMA
// nodes with allowed CPUs, in node order, and splits the allowed CPUs of
// each node evenly among the accelerators it got.
func fallbackPools(snap *discovery.Snapshot, numa *NUMAMap) map[int][]int {
	var (
		running = snap.Running()
		cnt     = len(running)
		pools   = make(map[int][]int, cnt)
	)

	if cnt == 0 || numa.NodeCount() == 0 {
		return pools
	}

	perNode := cnt / numa.NodeCount()
	if cnt%numa.NodeCount() != 0 {
		perNode++
	}

	idx := 0
	for _, node := range numa.NodeIDs() {
		cpus := cpuset.Intersect(numa.CPUs(node), snap.Allowed())
		if len(cpus) == 0 {
			log.Debug("node #%d: no allowed CPUs, skipped", node)
			continue
		}
		n := min(perNode, cnt-idx)
		if n <= 0 {
			break
		}
		for _, part := range splitEvenly(cpus, n) {
			log.Debug("NPU%d: node #%d pool %v", running[idx], node, part)
			pools[running[idx]] = part
			idx++
		}
	}

	if idx < cnt {
		log.Warn("no NUMA node left for accelerators %v", running[idx:])
	}

	return pools
}

// splitEvenly splits cpus into n consecutive parts whose sizes differ by
// at most one, the larger parts coming first.
func splitEvenly(cpus []int, n int) [][]int {
	var (
		parts = make([][]int, 0, n)
		base  = len(cpus) / n
		extra = len(cpus) % n
		start = 0
	)

	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		parts = append(parts, slices.Clone(cpus[start:start+size]))
		start += size
	}

	return parts
}
