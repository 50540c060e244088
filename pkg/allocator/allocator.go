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

	"github.com/containers/npu-affinity/pkg/discovery"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/parser"
	"github.com/containers/npu-affinity/pkg/tools"
	"github.com/containers/npu-affinity/pkg/topology"
)

const (
	logSource = "allocator"
)

// our logger instance
var log = logger.NewLogger(logSource)

// LayoutSource provides the NUMA node of each CPU.
type LayoutSource interface {
	CPULayout(ctx context.Context) ([]parser.CPUNode, error)
}

// toolLayout runs a CPU layout tool (lscpu -p=CPU,NODE).
type toolLayout struct {
	runner tools.Runner
	cmd    []string
}

// ToolLayout returns a LayoutSource which runs cmd with runner.
func ToolLayout(runner tools.Runner, cmd []string) LayoutSource {
	return &toolLayout{runner: runner, cmd: cmd}
}

func (l *toolLayout) CPULayout(ctx context.Context) ([]parser.CPUNode, error) {
	return parser.RunAndParse(ctx, l.runner, l.cmd, parser.NUMALayoutParser)
}

// sysfsLayout reads the node cpulist files in sysfs.
type sysfsLayout struct {
	root string
}

// SysfsLayout returns a LayoutSource which reads sysfs mounted at root.
func SysfsLayout(root string) LayoutSource {
	return &sysfsLayout{root: root}
}

func (l *sysfsLayout) CPULayout(_ context.Context) ([]parser.CPUNode, error) {
	return topology.NUMALayout(l.root)
}

// Allocator derives per-accelerator CPU pools and role assignments.
type Allocator struct {
	logger.Logger
	layout LayoutSource
}

// NewAllocator creates an Allocator which reads the CPU layout from layout.
func NewAllocator(layout LayoutSource) *Allocator {
	return &Allocator{
		Logger: log,
		layout: layout,
	}
}

// DiscoverNUMA builds the NUMA map of the system.
func (a *Allocator) DiscoverNUMA(ctx context.Context) (*NUMAMap, error) {
	layout, err := a.layout.CPULayout(ctx)
	if err != nil {
		return nil, err
	}
	return NewNUMAMap(layout)
}

// Allocate computes the allocation plan for the discovered accelerators.
func (a *Allocator) Allocate(ctx context.Context, snap *discovery.Snapshot) (*Plan, error) {
	numa, err := a.DiscoverNUMA(ctx)
	if err != nil {
		return nil, err
	}
	a.Debug("NUMA nodes: %v", numa.NodeIDs())

	return NewPlan(snap, numa)
}

// NewPlan computes the allocation plan for the given discovery snapshot
// and NUMA map.
func NewPlan(snap *discovery.Snapshot, numa *NUMAMap) (*Plan, error) {
	policy, pools, err := derivePools(snap, numa)
	if err != nil {
		return nil, err
	}
	return newPlan(policy, snap.Running(), pools)
}
