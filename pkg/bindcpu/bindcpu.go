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

// Package bindcpu binds the threads of running accelerators to CPUs: it
// discovers the accelerators and the CPU topology, computes a CPU
// allocation plan and applies it.
package bindcpu

import (
	"context"

	"github.com/containers/npu-affinity/pkg/allocator"
	cfgapi "github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/binder"
	"github.com/containers/npu-affinity/pkg/binder"
	"github.com/containers/npu-affinity/pkg/discovery"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/metrics"
	"github.com/containers/npu-affinity/pkg/tools"
	"github.com/containers/npu-affinity/pkg/utils"
)

const (
	// EnvToggle is the environment variable used to opt out of binding.
	EnvToggle = "BIND_CPU"
)

var log = logger.NewLogger("bindcpu")

// Enabled returns false if binding is turned off in the environment.
func Enabled() (bool, error) {
	return utils.EnvEnabled(EnvToggle, true)
}

// BindCPUs discovers, plans and binds using the external tools of cfg.
func BindCPUs(ctx context.Context, cfg *cfgapi.Config) (*allocator.Plan, error) {
	return Run(ctx, cfg, tools.NewRunner(cfg.ToolTimeout.Duration))
}

// Run discovers, plans and binds using the given tool runner. It returns
// the plan, which is computed in full before anything is bound.
func Run(ctx context.Context, cfg *cfgapi.Config, runner tools.Runner) (*allocator.Plan, error) {
	d := discovery.NewDiscoverer(runner, discovery.Options{
		DeviceMapCmd: cfg.Tools.DeviceMap,
		ProcessesCmd: cfg.Tools.Processes,
		TopologyCmd:  cfg.Tools.Topology,
		StatusPath:   cfg.StatusPath,
	})

	snap, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}

	layout := allocator.ToolLayout(runner, cfg.Tools.CPULayout)
	if cfg.CPULayoutSource == cfgapi.CPULayoutSysfs {
		layout = allocator.SysfsLayout(cfg.SysRoot)
	}

	plan, err := allocator.NewAllocator(layout).Allocate(ctx, snap)
	if err != nil {
		return nil, err
	}
	plan.Log()

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile, plan); err != nil {
			log.Warn("%v", err)
		}
	}

	if cfg.DryRun {
		log.Info("dry run, threads not bound")
		return plan, nil
	}

	b, err := binder.FromConfig(cfg, runner)
	if err != nil {
		return plan, err
	}
	if err := b.Bind(ctx, plan); err != nil {
		return plan, err
	}

	log.Info("bound %d accelerators", len(plan.Accelerators()))

	return plan, nil
}
