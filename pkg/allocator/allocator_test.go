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
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/containers/npu-affinity/pkg/discovery"
	"github.com/containers/npu-affinity/pkg/failure"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/parser"
	"github.com/containers/npu-affinity/pkg/tools"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

// newTestNUMAMap creates a NUMA map with the given node CPU lists.
func newTestNUMAMap(t *testing.T, nodes map[int]string) *NUMAMap {
	layout := []parser.CPUNode{}
	for _, node := range slices.Sorted(maps.Keys(nodes)) {
		for _, cpu := range cpuset.MustParseList(nodes[node]) {
			layout = append(layout, parser.CPUNode{CPU: cpu, Node: node})
		}
	}
	numa, err := NewNUMAMap(layout)
	require.NoError(t, err)
	return numa
}

func affinity(lists map[int]string) map[int][]int {
	a := map[int][]int{}
	for id, list := range lists {
		a[id] = cpuset.MustParseList(list)
	}
	return a
}

func planPools(p *Plan) map[int][]int {
	pools := map[int][]int{}
	for _, id := range p.Accelerators() {
		pools[id] = p.Pool(id)
	}
	return pools
}

func requireFailure(t *testing.T, err error, kind error, accel int) {
	require.ErrorIs(t, err, kind)
	var ferr *failure.Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, accel, ferr.Accelerator)
}

func TestMain(m *testing.M) {
	if v := os.Getenv("ENABLE_DEBUG"); v != "" {
		logger.EnableDebug(logSource)
	}
	os.Exit(m.Run())
}

func TestNUMAMap(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-3", 2: "4-7", 3: "8,9"})
	require.Equal(t, []int{0, 2, 3}, numa.NodeIDs())
	require.Equal(t, 3, numa.NodeCount())
	require.Equal(t, 2, numa.NextNode(0))
	require.Equal(t, 3, numa.NextNode(2))
	require.Equal(t, 0, numa.NextNode(3))
	node, ok := numa.NodeOf(5)
	require.True(t, ok)
	require.Equal(t, 2, node)
	_, ok = numa.NodeOf(10)
	require.False(t, ok)
	require.Equal(t, []int{8, 9}, numa.CPUs(3))

	_, err := NewNUMAMap(nil)
	require.ErrorIs(t, err, failure.ErrConfig)
}

func TestSplitEvenly(t *testing.T) {
	require.Equal(t, [][]int{{0, 1, 2}, {3, 4}, {5, 6}}, splitEvenly([]int{0, 1, 2, 3, 4, 5, 6}, 3))
	require.Equal(t, [][]int{{0, 1, 2, 3}}, splitEvenly([]int{0, 1, 2, 3}, 1))
	require.Equal(t, [][]int{{0}, {}}, splitEvenly([]int{0}, 2))
}

func TestFallbackEndToEnd(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-7", 1: "8-15"})
	snap := discovery.NewSnapshot([]int{0, 1}, cpuset.MustParseList("0-15"), nil)

	plan, err := NewPlan(snap, numa)
	require.NoError(t, err)
	require.Equal(t, PolicyFallback, plan.Policy())
	require.Equal(t, []int{0, 1}, plan.Accelerators())
	require.Equal(t, cpuset.MustParseList("0-7"), plan.Pool(0))
	require.Equal(t, cpuset.MustParseList("8-15"), plan.Pool(1))

	roles, ok := plan.Roles(0)
	require.True(t, ok)
	require.Equal(t, Roles{Main: []int{0, 1, 2, 3, 4, 5}, ACL: 6, Release: 7}, roles)
	require.Equal(t, "main=[0 1 2 3 4 5] acl=[6] release=[7]", roles.String())

	roles, ok = plan.Roles(1)
	require.True(t, ok)
	require.Equal(t, Roles{Main: []int{8, 9, 10, 11, 12, 13}, ACL: 14, Release: 15}, roles)

	_, ok = plan.Roles(2)
	require.False(t, ok)

	plan.Log()
}

func TestFallbackPools(t *testing.T) {
	type testCase struct {
		name    string
		nodes   map[int]string
		allowed string
		running []int
		pools   map[int][]int
	}
	for _, tc := range []*testCase{
		{
			name:    "more accelerators than nodes",
			nodes:   map[int]string{0: "0-7", 1: "8-15"},
			allowed: "0-15",
			running: []int{0, 1, 2},
			pools: map[int][]int{
				0: {0, 1, 2, 3},
				1: {4, 5, 6, 7},
				2: {8, 9, 10, 11, 12, 13, 14, 15},
			},
		},
		{
			name:    "uneven CPUs go to the earliest accelerators",
			nodes:   map[int]string{0: "0-7", 1: "8-15"},
			allowed: "0-6,8-15",
			running: []int{3, 5, 6, 7},
			pools: map[int][]int{
				3: {0, 1, 2, 3},
				5: {4, 5, 6},
				6: {8, 9, 10, 11},
				7: {12, 13, 14, 15},
			},
		},
		{
			name:    "nodes without allowed CPUs are skipped",
			nodes:   map[int]string{0: "0-7", 1: "8-15", 2: "16-23"},
			allowed: "8-23",
			running: []int{0, 1},
			pools: map[int][]int{
				0: {8, 9, 10, 11, 12, 13, 14, 15},
				1: {16, 17, 18, 19, 20, 21, 22, 23},
			},
		},
		{
			name:    "fewer accelerators than nodes",
			nodes:   map[int]string{0: "0-3", 1: "4-7", 2: "8-11", 3: "12-15"},
			allowed: "0-15",
			running: []int{4, 9},
			pools: map[int][]int{
				4: {0, 1, 2, 3},
				9: {4, 5, 6, 7},
			},
		},
		{
			name:    "layout order of node CPUs is kept",
			nodes:   map[int]string{0: "0-3,8-11", 1: "4-7,12-15"},
			allowed: "0-15",
			running: []int{0, 1, 2, 3},
			pools: map[int][]int{
				0: {0, 1, 2, 3},
				1: {8, 9, 10, 11},
				2: {4, 5, 6, 7},
				3: {12, 13, 14, 15},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			numa := newTestNUMAMap(t, tc.nodes)
			snap := discovery.NewSnapshot(tc.running, cpuset.MustParseList(tc.allowed), nil)
			plan, err := NewPlan(snap, numa)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.pools, planPools(plan)); diff != "" {
				t.Errorf("unexpected pools (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFallbackPartitionsNodes(t *testing.T) {
	nodes := map[int]string{0: "0-11", 1: "12-23", 2: "24-29"}
	numa := newTestNUMAMap(t, nodes)
	allowed := cpuset.MustParse("0-29")

	for cnt := 1; cnt <= 6; cnt++ {
		running := make([]int, cnt)
		for i := range running {
			running[i] = i
		}
		snap := discovery.NewSnapshot(running, allowed.List(), nil)
		pools := fallbackPools(snap, numa)
		require.Len(t, pools, cnt, "%d accelerators", cnt)

		perNode := map[int]cpuset.CPUSet{}
		for _, id := range running {
			pool := cpuset.New(pools[id]...)
			require.Equal(t, len(pools[id]), pool.Size(), "duplicate CPUs in pool %v", pools[id])
			node, ok := numa.NodeOf(pools[id][0])
			require.True(t, ok)
			require.True(t, pool.IsSubsetOf(cpuset.New(numa.CPUs(node)...)), "pool %v spans nodes", pools[id])
			require.True(t, pool.Intersection(perNode[node]).IsEmpty(), "pools overlap within node #%d", node)
			perNode[node] = perNode[node].Union(pool)
		}
		for node, cpus := range perNode {
			require.Equal(t, len(numa.CPUs(node)), cpus.Size(),
				"%d accelerators: node #%d not fully used", cnt, node)
		}
	}
}

func TestFallbackRunsOutOfNodes(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-7", 1: "8-15"})
	snap := discovery.NewSnapshot([]int{0, 1}, cpuset.MustParseList("8-15"), nil)

	plan, err := NewPlan(snap, numa)
	require.Nil(t, plan)
	requireFailure(t, err, failure.ErrResource, 1)
}

func TestAffinityPools(t *testing.T) {
	type testCase struct {
		name     string
		nodes    map[int]string
		allowed  string
		running  []int
		affinity map[int]string
		pools    map[int][]int
	}
	for _, tc := range []*testCase{
		{
			name:     "narrow pool is extended with the next node",
			nodes:    map[int]string{0: "0-7", 1: "8-15"},
			allowed:  "0-15",
			running:  []int{0},
			affinity: map[int]string{0: "0-1"},
			pools: map[int][]int{
				0: {0, 1, 8, 9, 10, 11, 12, 13, 14, 15},
			},
		},
		{
			name:     "extension wraps around to the first node",
			nodes:    map[int]string{0: "0-3", 1: "4-7"},
			allowed:  "0-7",
			running:  []int{1},
			affinity: map[int]string{1: "6,7"},
			pools: map[int][]int{
				1: {0, 1, 2, 3, 6, 7},
			},
		},
		{
			name:     "extension only adds allowed CPUs",
			nodes:    map[int]string{0: "0-7", 1: "8-15"},
			allowed:  "0-3,8-9",
			running:  []int{0},
			affinity: map[int]string{0: "0-7"},
			pools: map[int][]int{
				0: {0, 1, 2, 3, 8, 9},
			},
		},
		{
			name:     "multi-node pool is kept as reported",
			nodes:    map[int]string{0: "0-7", 1: "8-15"},
			allowed:  "0-15",
			running:  []int{0},
			affinity: map[int]string{0: "8,0,1"},
			pools: map[int][]int{
				0: {8, 0, 1},
			},
		},
		{
			name:     "repeated CPUs are dropped",
			nodes:    map[int]string{0: "0-3", 1: "4-7"},
			allowed:  "0-7",
			running:  []int{0},
			affinity: map[int]string{0: "3,4,5,3"},
			pools: map[int][]int{
				0: {3, 4, 5},
			},
		},
		{
			name:     "repeated CPUs in a single node are extended once",
			nodes:    map[int]string{0: "0-3", 1: "4-7"},
			allowed:  "0-7",
			running:  []int{0},
			affinity: map[int]string{0: "1,1,2"},
			pools: map[int][]int{
				0: {1, 2, 4, 5, 6, 7},
			},
		},
		{
			name:     "identical pools are split",
			nodes:    map[int]string{0: "0-7", 1: "8-15"},
			allowed:  "0-15",
			running:  []int{0, 1},
			affinity: map[int]string{0: "0-7", 1: "0-7"},
			pools: map[int][]int{
				0: {0, 1, 2, 3, 4, 5, 6, 7},
				1: {8, 9, 10, 11, 12, 13, 14, 15},
			},
		},
		{
			name:     "uneven split favors lower accelerators",
			nodes:    map[int]string{0: "0-7", 1: "8-15"},
			allowed:  "0-15",
			running:  []int{2, 4, 6},
			affinity: map[int]string{2: "8-15", 4: "8-15", 6: "8-15"},
			pools: map[int][]int{
				2: {0, 1, 2, 3, 4, 5},
				4: {6, 7, 8, 9, 10},
				6: {11, 12, 13, 14, 15},
			},
		},
		{
			name:     "permuted pools are not merged",
			nodes:    map[int]string{0: "0-7", 1: "8-15"},
			allowed:  "0-15",
			running:  []int{0, 1},
			affinity: map[int]string{0: "0,1,2,8", 1: "8,0,1,2"},
			pools: map[int][]int{
				0: {0, 1, 2, 8},
				1: {8, 0, 1, 2},
			},
		},
		{
			name:     "separate groups are split separately",
			nodes:    map[int]string{0: "0-5", 1: "6-11", 2: "12-17", 3: "18-23"},
			allowed:  "0-23",
			running:  []int{0, 1, 2, 3},
			affinity: map[int]string{0: "0-5", 1: "0-5", 2: "12-17", 3: "12-17"},
			pools: map[int][]int{
				0: {0, 1, 2, 3, 4, 5},
				1: {6, 7, 8, 9, 10, 11},
				2: {12, 13, 14, 15, 16, 17},
				3: {18, 19, 20, 21, 22, 23},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			numa := newTestNUMAMap(t, tc.nodes)
			snap := discovery.NewSnapshot(tc.running, cpuset.MustParseList(tc.allowed), affinity(tc.affinity))
			plan, err := NewPlan(snap, numa)
			require.NoError(t, err)
			require.Equal(t, PolicyAffinity, plan.Policy())
			if diff := cmp.Diff(tc.pools, planPools(plan)); diff != "" {
				t.Errorf("unexpected pools (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRolesOfRepeatedAffinity(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-3", 1: "4-7"})
	snap := discovery.NewSnapshot([]int{0}, cpuset.MustParseList("0-7"), affinity(map[int]string{0: "3,4,5,3,6"}))

	plan, err := NewPlan(snap, numa)
	require.NoError(t, err)
	roles, ok := plan.Roles(0)
	require.True(t, ok)
	require.Equal(t, []int{3, 4}, roles.Main)
	require.Equal(t, 5, roles.ACL)
	require.Equal(t, 6, roles.Release)
	require.False(t, slices.Contains(roles.Main, roles.ACL))
	require.False(t, slices.Contains(roles.Main, roles.Release))
	require.NotEqual(t, roles.ACL, roles.Release)
}

func TestExtendNUMAGrowsPools(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-3", 1: "4-7", 2: "8-11"})
	allowed := cpuset.MustParse("0-2,4-6,8-10")

	for _, base := range [][]int{{0}, {1, 2}, {4, 6}, {10}, {8, 9, 10}} {
		pool, err := extendNUMA(base, numa, allowed)
		require.Nil(t, err)
		require.Greater(t, len(pool), len(base), "pool %v not extended", base)
		require.True(t, cpuset.New(pool...).IsSubsetOf(allowed), "pool %v not allowed", pool)
		require.True(t, cpuset.New(base...).IsSubsetOf(cpuset.New(pool...)), "pool %v lost CPUs", pool)
	}
}

func TestAffinityPoolErrors(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-7"})

	snap := discovery.NewSnapshot([]int{0}, cpuset.MustParseList("0-15"), affinity(map[int]string{0: "12-13"}))
	_, err := NewPlan(snap, numa)
	requireFailure(t, err, failure.ErrConfig, 0)

	snap = discovery.NewSnapshot([]int{0, 1}, cpuset.MustParseList("0-7"), affinity(map[int]string{0: "0-7"}))
	_, err = NewPlan(snap, numa)
	requireFailure(t, err, failure.ErrResource, 1)
}

func TestSplitRoles(t *testing.T) {
	for k := MinPoolSize; k <= 12; k++ {
		pool := make([]int, k)
		for i := range pool {
			pool[i] = 100 - 3*i
		}
		roles, err := splitRoles(7, pool)
		require.NoError(t, err)
		require.Len(t, roles.Main, k-2)
		require.False(t, slices.Contains(roles.Main, roles.ACL))
		require.False(t, slices.Contains(roles.Main, roles.Release))
		require.NotEqual(t, roles.ACL, roles.Release)
		require.True(t, roles.CPUs().Equals(cpuset.New(pool...)))
		require.Equal(t, pool[k-2], roles.ACL)
		require.Equal(t, pool[k-1], roles.Release)
	}

	for k := 0; k < MinPoolSize; k++ {
		_, err := splitRoles(7, make([]int, k))
		requireFailure(t, err, failure.ErrResource, 7)
	}
}

func TestSmallPoolAbortsPlan(t *testing.T) {
	numa := newTestNUMAMap(t, map[int]string{0: "0-4", 1: "5-9"})
	snap := discovery.NewSnapshot([]int{0, 1, 2, 3}, cpuset.MustParseList("0-9"), nil)

	plan, err := NewPlan(snap, numa)
	require.Nil(t, plan)
	requireFailure(t, err, failure.ErrResource, 1)
}

func TestAllocate(t *testing.T) {
	layoutCmd := []string{"lscpu", "-p=CPU,NODE"}
	snap := discovery.NewSnapshot([]int{0, 1}, cpuset.MustParseList("0-7"), nil)

	r := tools.NewFakeRunner().SetOutput("# CPU,Node\n0,0\n1,0\n2,0\n3,0\n4,1\n5,1\n6,1\n7,1\n", layoutCmd...)
	plan, err := NewAllocator(ToolLayout(r, layoutCmd)).Allocate(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, plan.Pool(0))
	require.Equal(t, []int{4, 5, 6, 7}, plan.Pool(1))

	r = tools.NewFakeRunner().SetOutput("# CPU,Node\n", layoutCmd...)
	_, err = NewAllocator(ToolLayout(r, layoutCmd)).Allocate(context.Background(), snap)
	require.ErrorIs(t, err, failure.ErrConfig)

	r = tools.NewFakeRunner().SetFailure(failure.ExitStatus, layoutCmd...)
	_, err = NewAllocator(ToolLayout(r, layoutCmd)).Allocate(context.Background(), snap)
	require.ErrorIs(t, err, failure.ErrTool)
}

func TestAllocateFromSysfs(t *testing.T) {
	root := t.TempDir()
	for node, cpus := range []string{"0-3", "4-7"} {
		dir := filepath.Join(root, "devices", "system", "node", "node"+strconv.Itoa(node))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cpulist"), []byte(cpus+"\n"), 0o644))
	}

	snap := discovery.NewSnapshot([]int{2, 5}, cpuset.MustParseList("0-7"), nil)
	plan, err := NewAllocator(SysfsLayout(root)).Allocate(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, plan.Pool(2))
	require.Equal(t, []int{4, 5, 6, 7}, plan.Pool(5))

	_, err = NewAllocator(SysfsLayout(t.TempDir())).Allocate(context.Background(), snap)
	require.ErrorIs(t, err, failure.ErrConfig)
}
