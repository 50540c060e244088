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
	"fmt"
	"maps"
	"slices"
	"strings"

	cfgapi "github.com/containers/npu-affinity/pkg/apis/config/v1alpha1/log"
	"github.com/containers/npu-affinity/pkg/log/klogcontrol"
	"github.com/containers/npu-affinity/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// wildcard matches any source in a srcmap.
	wildcard = "*"
)

var (
	klogctl = klogcontrol.Get()

	levelNames = map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}
)

// ParseLevel parses a severity level name.
func ParseLevel(name string) (Level, error) {
	if name == "" {
		return DefaultLevel, nil
	}
	if level, ok := levelNames[strings.ToLower(name)]; ok {
		return level, nil
	}
	return DefaultLevel, loggerError("unknown log level %q", name)
}

// String returns the name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// srcmap is the per-source debug state, with an optional wildcard entry.
type srcmap map[string]bool

// parse updates the srcmap from a comma-separated list of [state:]source
// entries. An entry without a state inherits the state of the previous
// entry, or on for the first one.
func (m *srcmap) parse(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}

	state := "on"
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		src := entry
		if idx := strings.IndexByte(entry, ':'); idx >= 0 {
			state, src = entry[:idx], strings.TrimSpace(entry[idx+1:])
			if strings.ContainsRune(src, ':') {
				return loggerError("invalid debug entry %q", entry)
			}
		}

		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid state %q in debug entry %q", state, entry)
		}
		if src == "all" {
			src = wildcard
		}
		(*m)[src] = enabled
	}

	return nil
}

// enabled returns the state of the given source, falling back to the
// wildcard entry.
func (m srcmap) enabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	return m[wildcard]
}

// String returns the srcmap in the format accepted by parse.
func (m srcmap) String() string {
	var on, off []string
	for _, src := range slices.Sorted(maps.Keys(m)) {
		if m[src] {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}

	entries := []string{}
	if len(on) > 0 {
		entries = append(entries, "on:"+strings.Join(on, ","))
	}
	if len(off) > 0 {
		entries = append(entries, "off:"+strings.Join(off, ","))
	}
	return strings.Join(entries, ",")
}

// Configure updates the logging configuration.
func Configure(cfg *cfgapi.Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	debug := make(srcmap)
	for _, value := range cfg.Debug {
		if err := debug.parse(value); err != nil {
			return err
		}
	}

	// with klog headers off the source is the only context a line has
	prefix := cfg.LogSource
	if isTrue(cfg.Klog.Logtostderr) && isTrue(cfg.Klog.Skip_headers) {
		prefix = true
	}

	log.Lock()
	log.level = level
	log.setDbgMap(debug)
	log.setPrefix(prefix)
	log.Unlock()

	deflog.Debug("logging configured: level %s, debug %q, source prefix %v", level, debug, prefix)

	return klogctl.Configure(&cfg.Klog)
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

// init seeds the configuration from the environment.
func init() {
	cfg := cfgapi.DefaultConfig()
	if err := Configure(&cfg); err != nil {
		Default().Error("invalid logging configuration in environment ($%s): %v", cfgapi.DebugEnvVar, err)
	}
}
