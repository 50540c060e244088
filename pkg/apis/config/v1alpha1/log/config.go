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

package log

import (
	"os"

	"github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/log/klogcontrol"
)

const (
	// DebugEnvVar seeds the default debug sources, e.g. LOGGER_DEBUG=allocator,binder.
	DebugEnvVar = "LOGGER_DEBUG"
	// LogSourceEnvVar turns on source prefixes by default if set to a non-empty value.
	LogSourceEnvVar = "LOGGER_LOG_SOURCE"
)

// Config is the logging configuration.
type Config struct {
	// Level is the lowest severity of messages emitted: debug, info,
	// warn or error. Debug messages are further filtered by Debug.
	// +optional
	// +kubebuilder:validation:Enum=debug;info;warn;error
	Level string `json:"level,omitempty"`
	// Debug lists sources to emit debug messages for, as comma-separated
	// [on:|off:]source entries. The source "all" or "*" matches any source.
	// +optional
	Debug []string `json:"debug,omitempty"`
	// LogSource prefixes every message with the name of its source.
	// +optional
	LogSource bool `json:"source,omitempty"`
	// Klog sets the flags of the klog backend.
	// +optional
	Klog klogcontrol.Config `json:"klog,omitempty"`
}

// DefaultConfig returns the default logging configuration, taking debug
// sources and source prefixing from the environment.
func DefaultConfig() Config {
	cfg := Config{
		LogSource: os.Getenv(LogSourceEnvVar) != "",
	}
	if value := os.Getenv(DebugEnvVar); value != "" {
		cfg.Debug = []string{value}
	}
	return cfg
}
