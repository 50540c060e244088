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

package binder

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/tools"
	"github.com/containers/npu-affinity/pkg/utils/cpuset"
)

// Scope is the set of threads an affinity call applies to.
type Scope int

const (
	// ScopeThread applies affinity to a single thread.
	ScopeThread Scope = iota
	// ScopeProcess applies affinity to all threads of a process.
	ScopeProcess
)

func (s Scope) String() string {
	if s == ScopeProcess {
		return "all threads of"
	}
	return "thread"
}

// AffinitySetter sets the CPU affinity of threads.
type AffinitySetter interface {
	SetAffinity(ctx context.Context, id int, cpus cpuset.CPUSet, scope Scope) error
}

// tasksetSetter sets affinity by running taskset.
type tasksetSetter struct {
	runner tools.Runner
	cmd    []string
}

// NewTasksetSetter returns an AffinitySetter which runs the given taskset
// command line as 'taskset -[a]cp <cpus> <id>'.
func NewTasksetSetter(runner tools.Runner, cmd []string) AffinitySetter {
	return &tasksetSetter{runner: runner, cmd: cmd}
}

func (s *tasksetSetter) SetAffinity(ctx context.Context, id int, cpus cpuset.CPUSet, scope Scope) error {
	flags := "-cp"
	if scope == ScopeProcess {
		flags = "-acp"
	}

	cmd := append(append([]string{}, s.cmd...), flags, cpus.String(), pidString(id))
	if _, err := s.runner.Run(ctx, cmd...); err != nil {
		return failure.BindingError(id, cpus.List(), err, "failed to bind %s %d", scope, id)
	}

	return nil
}

// syscallSetter sets affinity with sched_setaffinity(2).
type syscallSetter struct {
	procRoot string
}

// NewSyscallSetter returns an AffinitySetter which calls sched_setaffinity
// directly. Process scope enumerates threads from procfs mounted at procRoot.
func NewSyscallSetter(procRoot string) AffinitySetter {
	return &syscallSetter{procRoot: procRoot}
}

func (s *syscallSetter) SetAffinity(_ context.Context, id int, cpus cpuset.CPUSet, scope Scope) error {
	mask := unix.CPUSet{}
	mask.Zero()
	for _, cpu := range cpus.UnsortedList() {
		mask.Set(cpu)
	}

	tids := []int{id}
	if scope == ScopeProcess {
		ids, err := threadIDs(s.procRoot, id)
		if err != nil {
			return failure.BindingError(id, cpus.List(), err, "failed to list threads of process %d", id)
		}
		tids = ids
	}

	for _, tid := range tids {
		if err := unix.SchedSetaffinity(tid, &mask); err != nil {
			if scope == ScopeProcess && errors.Is(err, unix.ESRCH) {
				log.Debug("thread %d of process %d is gone", tid, id)
				continue
			}
			return failure.BindingError(tid, cpus.List(), err, "sched_setaffinity failed for %s %d", scope, id)
		}
	}

	return nil
}
