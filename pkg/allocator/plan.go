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
	"fmt"
	"slices"
	"strings"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

const (
	// MinPoolSize is the smallest usable pool: at least one CPU for each role.
	MinPoolSize = 3
)

// Roles are the CPUs assigned to the threads driving an accelerator.
type Roles struct {
	Main    []int // main compute thread, and by default all other threads
	ACL     int   // device-control thread
	Release int   // resource-release thread
}

// Plan is the immutable CPU allocation plan of all running accelerators.
type Plan struct {
	policy Policy
	accels []int
	pools  map[int][]int
	roles  map[int]Roles
}

// splitRoles splits a pool into roles. The last CPU goes to the release
// thread, the one before it to the device-control thread and the rest to
// the main thread.
func splitRoles(id int, pool []int) (Roles, error) {
	k := len(pool)
	if k < MinPoolSize {
		return Roles{}, failure.ResourceError(id, pool,
			"each accelerator needs at least %d CPUs, got %d", MinPoolSize, k)
	}
	return Roles{
		Main:    slices.Clone(pool[:k-2]),
		ACL:     pool[k-2],
		Release: pool[k-1],
	}, nil
}

// newPlan splits the pools of the given accelerators into roles.
func newPlan(policy Policy, accels []int, pools map[int][]int) (*Plan, error) {
	p := &Plan{
		policy: policy,
		accels: slices.Clone(accels),
		pools:  make(map[int][]int, len(accels)),
		roles:  make(map[int]Roles, len(accels)),
	}

	for _, id := range p.accels {
		pool := slices.Clone(pools[id])
		roles, err := splitRoles(id, pool)
		if err != nil {
			return nil, err
		}
		p.pools[id] = pool
		p.roles[id] = roles
	}

	return p, nil
}

// Policy returns the policy used to derive the pools.
func (p *Plan) Policy() Policy {
	return p.policy
}

// Accelerators returns the sorted IDs of the accelerators in the plan.
func (p *Plan) Accelerators() []int {
	return slices.Clone(p.accels)
}

// Pool returns the CPU pool of an accelerator.
func (p *Plan) Pool(id int) []int {
	return slices.Clone(p.pools[id])
}

// Roles returns the role assignment of an accelerator.
func (p *Plan) Roles(id int) (Roles, bool) {
	r, ok := p.roles[id]
	if !ok {
		return Roles{}, false
	}
	r.Main = slices.Clone(r.Main)
	return r, true
}

// Log logs the plan, one line per accelerator.
func (p *Plan) Log() {
	lines := make([]string, 0, len(p.accels))
	for _, id := range p.accels {
		lines = append(lines, fmt.Sprintf("NPU%d: %s", id, p.roles[id]))
	}
	log.Info("CPU allocation plan (%s policy):", p.policy)
	log.InfoBlock("  ", "%s", strings.Join(lines, "\n"))
}

// CPUs returns all CPUs of the roles.
func (r Roles) CPUs() cpuset.CPUSet {
	return cpuset.New(r.Main...).Union(cpuset.New(r.ACL, r.Release))
}

// String returns the roles as main=[...] acl=[...] release=[...].
func (r Roles) String() string {
	return fmt.Sprintf("main=[%s] acl=[%d] release=[%d]",
		cpuset.FormatList(r.Main, " "), r.ACL, r.Release)
}
