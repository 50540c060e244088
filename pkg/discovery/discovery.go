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

package discovery

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"os"
	"slices"

	idset "github.com/intel/goresctrl/pkg/utils"

	"github.com/containers/npu-affinity/pkg/failure"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/parser"
	"github.com/containers/npu-affinity/pkg/tools"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

var log = logger.NewLogger("discovery")

// Options configure discovery.
type Options struct {
	DeviceMapCmd []string // lists physical to logical device IDs
	ProcessesCmd []string // lists processes per device
	TopologyCmd  []string // reports device CPU affinity
	StatusPath   string   // process status file with the allowed CPU list
}

// Snapshot is the immutable result of discovery.
type Snapshot struct {
	running  []int
	allowed  []int
	allowSet cpuset.CPUSet
	affinity map[int][]int
}

// NewSnapshot creates a Snapshot from already discovered facts.
func NewSnapshot(running, allowed []int, affinity map[int][]int) *Snapshot {
	ids := idset.NewIDSet(running...)
	aff := make(map[int][]int, len(affinity))
	for id, cpus := range affinity {
		aff[id] = slices.Clone(cpus)
	}
	return &Snapshot{
		running:  ids.SortedMembers(),
		allowed:  slices.Clone(allowed),
		allowSet: cpuset.New(allowed...),
		affinity: aff,
	}
}

// Running returns the sorted IDs of accelerators with running workloads.
func (s *Snapshot) Running() []int {
	return slices.Clone(s.running)
}

// AllowedCPUs returns the CPUs this process is allowed to run on, in the
// order they were listed.
func (s *Snapshot) AllowedCPUs() []int {
	return slices.Clone(s.allowed)
}

// Allowed returns the allowed CPUs as a set.
func (s *Snapshot) Allowed() cpuset.CPUSet {
	return s.allowSet
}

// HasAffinity returns true if any accelerator CPU affinity was reported.
func (s *Snapshot) HasAffinity() bool {
	return len(s.affinity) > 0
}

// Affinity returns the CPUs reported close to the given accelerator.
func (s *Snapshot) Affinity(id int) []int {
	return slices.Clone(s.affinity[id])
}

// Discoverer discovers accelerators and their CPU topology.
type Discoverer struct {
	opts   Options
	runner tools.Runner
}

// NewDiscoverer creates a Discoverer which runs tools using runner.
func NewDiscoverer(runner tools.Runner, opts Options) *Discoverer {
	return &Discoverer{
		opts:   opts,
		runner: runner,
	}
}

// Discover takes a Snapshot of the accelerators and CPU topology. Any tool
// failure aborts discovery.
func (d *Discoverer) Discover(ctx context.Context) (*Snapshot, error) {
	devices, err := parser.RunAndParse(ctx, d.runner, d.opts.DeviceMapCmd, parser.DeviceMapParser)
	if err != nil {
		return nil, err
	}
	log.Debug("device map: %v", devices)

	allowed, err := d.AllowedCPUs()
	if err != nil {
		return nil, err
	}
	log.Debug("allowed CPUs: %s", cpuset.New(allowed...))

	running, err := d.runningAccelerators(ctx, devices)
	if err != nil {
		return nil, err
	}
	log.Info("running accelerators: %v", running)

	affinity, err := parser.RunAndParse(ctx, d.runner, d.opts.TopologyCmd, parser.AffinityParser)
	if err != nil {
		return nil, err
	}
	if len(affinity) == 0 {
		log.Info("no accelerator CPU affinity reported")
	}
	for _, id := range slices.Sorted(maps.Keys(affinity)) {
		log.Debug("NPU%d CPU affinity: %s", id, cpuset.New(affinity[id]...))
	}

	return NewSnapshot(running, allowed, affinity), nil
}

// AllowedCPUs reads the allowed CPU list of this process. A missing status
// file yields an empty list.
func (d *Discoverer) AllowedCPUs() ([]int, error) {
	data, err := os.ReadFile(d.opts.StatusPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("%s not found, no allowed CPUs", d.opts.StatusPath)
			return []int{}, nil
		}
		return nil, failure.ConfigError("failed to read %s: %v", d.opts.StatusPath, err)
	}

	return parser.AllowedCPUsParser.Parse(string(data))
}

func (d *Discoverer) runningAccelerators(ctx context.Context, devices parser.DeviceMap) ([]int, error) {
	chips, err := parser.RunAndParse(ctx, d.runner, d.opts.ProcessesCmd, parser.ProcessTableParser)
	if err != nil {
		return nil, err
	}

	running := idset.NewIDSet()
	for _, c := range chips {
		id, ok := devices.Lookup(c.NPU, c.Chip)
		if !ok {
			return nil, failure.ToolError(failure.Malformed, tools.CommandLine(d.opts.ProcessesCmd), nil,
				"no logical ID for NPU %s chip %s", c.NPU, c.Chip)
		}
		running.Add(id)
	}

	if running.Size() == 0 {
		return nil, failure.ConfigError("no running accelerator detected, use BIND_CPU=0 to skip CPU binding")
	}

	return running.SortedMembers(), nil
}
