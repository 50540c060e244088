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

// npu-cpu-bind binds the threads driving running NPU accelerators to
// NUMA-local CPU pools.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfgapi "github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/binder"
	"github.com/containers/npu-affinity/pkg/bindcpu"
	logger "github.com/containers/npu-affinity/pkg/log"
)

var log = logger.Get("npu-cpu-bind")

type options struct {
	configFile     string
	dryRun         bool
	metricsFile    string
	timeout        string
	threadLister   string
	affinitySetter string
	verbose        bool
}

func main() {
	os.Exit(run())
}

func run() int {
	defer logger.Flush()

	opts := &options{}
	flag.StringVar(&opts.configFile, "config", "", "configuration file name")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "compute and log the CPU allocation plan without binding")
	flag.StringVar(&opts.metricsFile, "metrics-file", "", "write the plan as Prometheus metrics to this textfile")
	flag.StringVar(&opts.timeout, "timeout", "", "timeout of a single external tool invocation, e.g. 30s")
	flag.StringVar(&opts.threadLister, "thread-lister", "", "thread discovery backend: ps or procfs")
	flag.StringVar(&opts.affinitySetter, "affinity-setter", "", "affinity setting backend: taskset or syscall")
	flag.BoolVar(&opts.verbose, "v", false, "enable debug logging for all sources")
	flag.Parse()

	enabled, err := bindcpu.Enabled()
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	if !enabled {
		log.Info("CPU binding disabled by $%s, nothing to do", bindcpu.EnvToggle)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		log.Error("failed to configure logging: %v", err)
		return 1
	}
	logger.SetSlogLogger("")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := bindcpu.BindCPUs(ctx, cfg); err != nil {
		log.Error("CPU binding failed: %v", err)
		return 1
	}

	return 0
}

// loadConfig loads the configuration file and applies the command line
// overrides on top of it.
func loadConfig(opts *options) (*cfgapi.Config, error) {
	cfg, err := cfgapi.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	if opts.dryRun {
		cfg.DryRun = true
	}
	if opts.metricsFile != "" {
		cfg.MetricsFile = opts.metricsFile
	}
	if opts.timeout != "" {
		if err := cfg.ToolTimeout.UnmarshalJSON([]byte(`"` + opts.timeout + `"`)); err != nil {
			return nil, fmt.Errorf("invalid -timeout %q: %w", opts.timeout, err)
		}
	}
	if opts.threadLister != "" {
		cfg.ThreadLister = opts.threadLister
	}
	if opts.affinitySetter != "" {
		cfg.AffinitySetter = opts.affinitySetter
	}
	if opts.verbose {
		cfg.Log.Debug = append(cfg.Log.Debug, "on:*")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
