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
	"strconv"

	"github.com/prometheus/procfs"

	"github.com/containers/npu-affinity/pkg/failure"
	"github.com/containers/npu-affinity/pkg/parser"
	"github.com/containers/npu-affinity/pkg/tools"
)

// Thread is a thread of a process.
type Thread = parser.Thread

// ThreadLister lists the threads of all processes on the host.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]Thread, error)
}

// psLister lists threads by running ps.
type psLister struct {
	runner tools.Runner
	cmd    []string
}

// NewPsLister returns a ThreadLister which runs the given ps command line.
func NewPsLister(runner tools.Runner, cmd []string) ThreadLister {
	return &psLister{runner: runner, cmd: cmd}
}

func (l *psLister) ListThreads(ctx context.Context) ([]Thread, error) {
	return parser.RunAndParse(ctx, l.runner, l.cmd, parser.ThreadListParser)
}

// procfsLister lists threads by walking /proc/<pid>/task.
type procfsLister struct {
	root string
}

// NewProcfsLister returns a ThreadLister which reads procfs mounted at root.
func NewProcfsLister(root string) ThreadLister {
	return &procfsLister{root: root}
}

func (l *procfsLister) ListThreads(ctx context.Context) ([]Thread, error) {
	fs, err := procfs.NewFS(l.root)
	if err != nil {
		return nil, failure.ConfigError("failed to open procfs at %s: %v", l.root, err)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return nil, failure.ConfigError("failed to list processes in %s: %v", l.root, err)
	}

	threads := []Thread{}
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tasks, err := fs.AllThreads(p.PID)
		if err != nil {
			// process is gone
			log.Debug("skipping process %d: %v", p.PID, err)
			continue
		}
		for _, t := range tasks {
			comm, err := t.Comm()
			if err != nil {
				log.Debug("skipping thread %d/%d: %v", p.PID, t.PID, err)
				continue
			}
			threads = append(threads, Thread{PID: p.PID, TID: t.PID, Name: comm})
		}
	}

	return threads, nil
}

// threadIDs returns the IDs of all threads of process pid from procfs.
func threadIDs(root string, pid int) ([]int, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, err
	}
	tasks, err := fs.AllThreads(pid)
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(tasks))
	for _, t := range tasks {
		tids = append(tids, t.PID)
	}
	return tids, nil
}

func pidString(pid int) string {
	return strconv.Itoa(pid)
}
