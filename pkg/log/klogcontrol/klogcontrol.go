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

// Package klogcontrol sets klog flags at runtime, from configuration or
// from LOGGER_<FLAG> environment variables.
package klogcontrol

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	cfgapi "github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/log/klogcontrol"
	"k8s.io/klog/v2"
)

const (
	// envPrefix prefixes the environment variable of each klog flag.
	envPrefix = "LOGGER_"
)

// Control sets klog flags.
type Control struct {
	sync.Mutex
	flags *flag.FlagSet
}

var ctl = newControl()

func newControl() *Control {
	c := &Control{flags: flag.NewFlagSet("klog", flag.ContinueOnError)}
	c.flags.SetOutput(io.Discard)
	klog.InitFlags(c.flags)
	return c
}

// Get returns the klog Control.
func Get() *Control {
	return ctl
}

// Configure sets the klog flags present in cfg. Other flags keep their
// current value.
func (c *Control) Configure(cfg *cfgapi.Config) error {
	c.Lock()
	defer c.Unlock()

	var errs []error
	c.flags.VisitAll(func(f *flag.Flag) {
		value, ok := cfg.GetByFlag(f.Name)
		if !ok {
			return
		}
		if err := c.flags.Set(f.Name, value); err != nil {
			errs = append(errs, klogError("klog flag %s=%q: %w", f.Name, value, err))
		}
	})

	return errors.Join(errs...)
}

// Flag returns the current value of the named klog flag.
func (c *Control) Flag(name string) (string, bool) {
	c.Lock()
	defer c.Unlock()

	f := c.flags.Lookup(name)
	if f == nil {
		return "", false
	}
	return f.Value.String(), true
}

// Flush flushes any buffered klog output.
func (c *Control) Flush() {
	klog.Flush()
}

// applyEnv sets flags from their LOGGER_<FLAG> environment variables.
func (c *Control) applyEnv() []error {
	c.Lock()
	defer c.Unlock()

	var errs []error
	c.flags.VisitAll(func(f *flag.Flag) {
		name := envName(f.Name)
		value, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		if err := c.flags.Set(f.Name, value); err != nil {
			errs = append(errs, klogError("$%s=%q: %w", name, value, err))
		}
	})

	return errs
}

// envName returns the environment variable for a klog flag.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func klogError(format string, args ...interface{}) error {
	return fmt.Errorf("klogcontrol: "+format, args...)
}

func init() {
	for _, err := range ctl.applyEnv() {
		klog.Errorf("ignoring invalid environment default: %v", err)
	}

	// journald timestamps lines, so drop klog headers unless asked for
	if _, ok := os.LookupEnv(envName("skip_headers")); !ok && os.Getenv("JOURNAL_STREAM") != "" {
		if err := ctl.flags.Set("skip_headers", "true"); err != nil {
			klog.Errorf("failed to turn off klog headers: %v", err)
		}
	}
}
