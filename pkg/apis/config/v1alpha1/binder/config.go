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
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/log"
)

const (
	// ThreadListerPs lists threads by running ps.
	ThreadListerPs = "ps"
	// ThreadListerProcfs lists threads by reading procfs directly.
	ThreadListerProcfs = "procfs"

	// CPULayoutTool reads the NUMA layout from the output of the CPU layout tool.
	CPULayoutTool = "tool"
	// CPULayoutSysfs reads the NUMA layout from sysfs.
	CPULayoutSysfs = "sysfs"

	// AffinitySetterTaskset sets thread affinity by running taskset.
	AffinitySetterTaskset = "taskset"
	// AffinitySetterSyscall sets thread affinity with sched_setaffinity(2).
	AffinitySetterSyscall = "syscall"

	// DefaultStatusPath is the process status file with the allowed CPU list.
	DefaultStatusPath = "/proc/self/status"
	// DefaultProcRoot is the procfs mount point.
	DefaultProcRoot = "/proc"
	// DefaultSysRoot is the sysfs mount point.
	DefaultSysRoot = "/sys"
	// DefaultToolTimeout bounds the run time of a single tool invocation.
	DefaultToolTimeout = 1000 * time.Second

	// DefaultMainThread marks the threads of the process driving an accelerator.
	DefaultMainThread = "acl_thread"
	// DefaultACLThread is the name of the device-control thread.
	DefaultACLThread = "acl_thread"
	// DefaultReleaseThread is the name the accelerator runtime gives its
	// resource-release thread.
	DefaultReleaseThread = "relation_thread"
)

// Config is the configuration of NPU CPU binding.
type Config struct {
	// Tools are the command lines of the external tools we run.
	// +optional
	Tools Tools `json:"tools,omitempty"`
	// ToolTimeout bounds the run time of any single tool invocation.
	// +optional
	ToolTimeout metav1.Duration `json:"toolTimeout,omitempty"`
	// StatusPath is the process status file to read the allowed CPUs from.
	// +optional
	StatusPath string `json:"statusPath,omitempty"`
	// ProcRoot is the procfs mount point used by the procfs thread lister
	// and the syscall affinity setter.
	// +optional
	ProcRoot string `json:"procRoot,omitempty"`
	// SysRoot is the sysfs mount point used by the sysfs CPU layout source.
	// +optional
	SysRoot string `json:"sysRoot,omitempty"`
	// CPULayoutSource selects where the NUMA layout of CPUs is read from: tool
	// runs the tools.cpuLayout tool, sysfs reads the node cpulist files.
	// +optional
	// +kubebuilder:validation:Enum=tool;sysfs
	CPULayoutSource string `json:"cpuLayoutSource,omitempty"`
	// Threads are the names of the accelerator driving threads.
	// +optional
	Threads ThreadNames `json:"threads,omitempty"`
	// ThreadLister selects how threads are discovered: ps or procfs.
	// +optional
	// +kubebuilder:validation:Enum=ps;procfs
	ThreadLister string `json:"threadLister,omitempty"`
	// AffinitySetter selects how affinity is set: taskset or syscall.
	// +optional
	// +kubebuilder:validation:Enum=taskset;syscall
	AffinitySetter string `json:"affinitySetter,omitempty"`
	// DryRun computes and logs the allocation plan without binding.
	// +optional
	DryRun bool `json:"dryRun,omitempty"`
	// MetricsFile is a Prometheus textfile to write the plan to.
	// +optional
	MetricsFile string `json:"metricsFile,omitempty"`
	// Log configures logging.
	// +optional
	Log log.Config `json:"log,omitempty"`
}

// Tools are the command lines of the external tools.
type Tools struct {
	// DeviceMap lists physical to logical device IDs.
	DeviceMap []string `json:"deviceMap,omitempty"`
	// Processes lists the processes running on each device.
	Processes []string `json:"processes,omitempty"`
	// Topology reports the CPU affinity of each device.
	Topology []string `json:"topology,omitempty"`
	// CPULayout lists the NUMA node of each CPU.
	CPULayout []string `json:"cpuLayout,omitempty"`
	// ThreadList lists all threads of all processes.
	ThreadList []string `json:"threadList,omitempty"`
	// Taskset is the affinity setting tool.
	Taskset []string `json:"taskset,omitempty"`
}

// ThreadNames are substrings identifying the accelerator driving threads.
type ThreadNames struct {
	// Main identifies the processes driving accelerators: a process with
	// a thread matching Main is an accelerator process.
	Main string `json:"main,omitempty"`
	// ACL is the device-control thread.
	ACL string `json:"acl,omitempty"`
	// Release is the resource-release thread.
	Release string `json:"release,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Tools: Tools{
			DeviceMap:  []string{"npu-smi", "info", "-m"},
			Processes:  []string{"npu-smi", "info"},
			Topology:   []string{"npu-smi", "info", "-t", "topo"},
			CPULayout:  []string{"lscpu", "-p=CPU,NODE"},
			ThreadList: []string{"ps", "-Te"},
			Taskset:    []string{"taskset"},
		},
		ToolTimeout:     metav1.Duration{Duration: DefaultToolTimeout},
		StatusPath:      DefaultStatusPath,
		ProcRoot:        DefaultProcRoot,
		SysRoot:         DefaultSysRoot,
		CPULayoutSource: CPULayoutTool,
		Threads: ThreadNames{
			Main:    DefaultMainThread,
			ACL:     DefaultACLThread,
			Release: DefaultReleaseThread,
		},
		ThreadLister:   ThreadListerPs,
		AffinitySetter: AffinitySetterTaskset,
		Log:            log.DefaultConfig(),
	}
}

// Load reads the YAML configuration file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for name, cmd := range map[string][]string{
		"deviceMap":  c.Tools.DeviceMap,
		"processes":  c.Tools.Processes,
		"topology":   c.Tools.Topology,
		"cpuLayout":  c.Tools.CPULayout,
		"threadList": c.Tools.ThreadList,
		"taskset":    c.Tools.Taskset,
	} {
		if len(cmd) == 0 || cmd[0] == "" {
			return fmt.Errorf("tools.%s: empty command line", name)
		}
	}

	if c.ToolTimeout.Duration <= 0 {
		return fmt.Errorf("toolTimeout: must be positive, got %s", c.ToolTimeout.Duration)
	}
	if c.Threads.Main == "" || c.Threads.ACL == "" || c.Threads.Release == "" {
		return fmt.Errorf("threads: main, acl and release names must be set")
	}

	switch c.CPULayoutSource {
	case CPULayoutTool, CPULayoutSysfs:
	default:
		return fmt.Errorf("cpuLayoutSource: unknown source %q", c.CPULayoutSource)
	}

	switch c.ThreadLister {
	case ThreadListerPs, ThreadListerProcfs:
	default:
		return fmt.Errorf("threadLister: unknown lister %q", c.ThreadLister)
	}

	switch c.AffinitySetter {
	case AffinitySetterTaskset, AffinitySetterSyscall:
	default:
		return fmt.Errorf("affinitySetter: unknown setter %q", c.AffinitySetter)
	}

	return nil
}
