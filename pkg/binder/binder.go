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

// Package binder binds the threads driving each accelerator to the CPUs
// planned for their role.
package binder

import (
	"context"
	"fmt"
	"strings"

	"github.com/containers/npu-affinity/pkg/allocator"
	cfgapi "github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/binder"
	logger "github.com/containers/npu-affinity/pkg/log"
	"github.com/containers/npu-affinity/pkg/tools"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

const (
	logSource = "binder"
)

var log = logger.NewLogger(logSource)

// Binder binds accelerator threads according to an allocation plan.
type Binder struct {
	logger.Logger
	lister ThreadLister
	setter AffinitySetter
	names  cfgapi.ThreadNames
}

// NewBinder creates a Binder with the given backends and thread names.
func NewBinder(lister ThreadLister, setter AffinitySetter, names cfgapi.ThreadNames) *Binder {
	return &Binder{
		Logger: log,
		lister: lister,
		setter: setter,
		names:  names,
	}
}

// FromConfig creates a Binder with the backends selected by cfg.
func FromConfig(cfg *cfgapi.Config, runner tools.Runner) (*Binder, error) {
	var (
		lister ThreadLister
		setter AffinitySetter
	)

	switch cfg.ThreadLister {
	case cfgapi.ThreadListerPs:
		lister = NewPsLister(runner, cfg.Tools.ThreadList)
	case cfgapi.ThreadListerProcfs:
		lister = NewProcfsLister(cfg.ProcRoot)
	default:
		return nil, fmt.Errorf("binder: unknown thread lister %q", cfg.ThreadLister)
	}

	switch cfg.AffinitySetter {
	case cfgapi.AffinitySetterTaskset:
		setter = NewTasksetSetter(runner, cfg.Tools.Taskset)
	case cfgapi.AffinitySetterSyscall:
		setter = NewSyscallSetter(cfg.ProcRoot)
	default:
		return nil, fmt.Errorf("binder: unknown affinity setter %q", cfg.AffinitySetter)
	}

	return NewBinder(lister, setter, cfg.Threads), nil
}

// Bind binds the threads of every accelerator in the plan. Accelerator
// processes are matched positionally, in listing order, against the
// accelerators of the plan. Binding stops at the first failure.
func (b *Binder) Bind(ctx context.Context, plan *allocator.Plan) error {
	threads, err := b.lister.ListThreads(ctx)
	if err != nil {
		return err
	}

	var (
		pids   = b.mainProcesses(threads)
		accels = plan.Accelerators()
	)

	if len(pids) != len(accels) {
		b.Warn("found %d accelerator processes %v for %d accelerators %v",
			len(pids), pids, len(accels), accels)
	}

	for i, id := range accels {
		if i >= len(pids) {
			b.Warn("NPU%d: no accelerator process found, not bound", id)
			continue
		}
		roles, _ := plan.Roles(id)
		if err := b.bindProcess(ctx, id, pids[i], roles, threads); err != nil {
			return err
		}
	}

	return nil
}

func (b *Binder) bindProcess(ctx context.Context, id, pid int, roles allocator.Roles, threads []Thread) error {
	b.Info("NPU%d: binding process %d (%s)", id, pid, roles)

	main := cpuset.New(roles.Main...)
	if err := b.setter.SetAffinity(ctx, pid, main, ScopeProcess); err != nil {
		return err
	}

	for _, r := range []struct {
		role string
		name string
		cpu  int
	}{
		{"acl", b.names.ACL, roles.ACL},
		{"release", b.names.Release, roles.Release},
	} {
		tid, ok := findThread(threads, pid, r.name)
		if !ok {
			b.Warn("NPU%d: no %s thread (%q) in process %d, not bound", id, r.role, r.name, pid)
			continue
		}
		b.Debug("NPU%d: binding %s thread %d to CPU #%d", id, r.role, tid, r.cpu)
		if err := b.setter.SetAffinity(ctx, tid, cpuset.New(r.cpu), ScopeThread); err != nil {
			return err
		}
	}

	return nil
}

// mainProcesses returns the unique IDs, in listing order, of processes
// with a thread matching the main thread name.
func (b *Binder) mainProcesses(threads []Thread) []int {
	var (
		pids = []int{}
		seen = map[int]struct{}{}
	)

	for _, t := range threads {
		if !strings.Contains(t.Name, b.names.Main) {
			continue
		}
		if _, ok := seen[t.PID]; ok {
			continue
		}
		seen[t.PID] = struct{}{}
		pids = append(pids, t.PID)
	}

	return pids
}

// findThread returns the first thread of process pid matching name.
func findThread(threads []Thread, pid int, name string) (int, bool) {
	for _, t := range threads {
		if t.PID == pid && strings.Contains(t.Name, name) {
			return t.TID, true
		}
	}
	return 0, false
}
