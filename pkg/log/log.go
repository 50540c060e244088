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
	"log/slog"
	"os"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
	// SlogHandler returns a log/slog handler for this Logger.
	SlogHandler() slog.Handler
}

// logging encapsulates the full runtime state of logging.
type logging struct {
	sync.RWMutex
	level   Level             // logging threshold
	dbgMap  srcmap            // debug configuration
	debug   map[string]bool   // per-source debug state
	prefix  bool              // whether to prefix messages with their source
	loggers map[string]logger // source to logger mapping
	aligned string            // source alignment format
	maxlen  int               // longest source name
}

// logger implements Logger.
type logger struct {
	source string
}

var (
	// our logging runtime state
	log = &logging{
		level:   DefaultLevel,
		dbgMap:  make(srcmap),
		debug:   make(map[string]bool),
		loggers: make(map[string]logger),
		aligned: "%s",
	}
	// our default logger
	deflog = log.get("default")
	// exit is os.Exit, overridable in tests.
	exit = os.Exit
)

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// NewLogger creates the named logger.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get returns the named logger, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// EnableDebug enables debug logging for the given source.
func EnableDebug(source string) bool {
	return log.get(source).EnableDebug(true)
}

// get returns the logger for source, creating one if necessary.
func (l *logging) get(source string) logger {
	l.Lock()
	defer l.Unlock()

	if source == "" {
		source = "default"
	}
	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := logger{source: source}
	l.loggers[source] = lg
	l.debug[source] = l.dbgMap.enabled(source)
	if len(source) > l.maxlen {
		l.maxlen = len(source)
		l.aligned = fmt.Sprintf("%%%ds", -l.maxlen)
	}

	return lg
}

// setDbgMap updates the per-source debug state of all loggers.
func (l *logging) setDbgMap(m srcmap) {
	l.dbgMap = m
	for source := range l.loggers {
		l.debug[source] = m.enabled(source)
	}
}

// setPrefix turns source prefixing on or off.
func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()
	return l.debug[source]
}

// enabled returns true if messages of the given severity are emitted.
func (l *logging) enabled(level Level) bool {
	l.RLock()
	defer l.RUnlock()
	return l.level <= level
}

func (l *logging) format(source, format string, args ...interface{}) string {
	l.RLock()
	defer l.RUnlock()

	msg := fmt.Sprintf(format, args...)
	if !l.prefix {
		return msg
	}
	return "[" + fmt.Sprintf(l.aligned, source) + "] " + msg
}

func (lg logger) Debug(format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, "D: "+format, args...))
}

func (lg logger) Info(format string, args ...interface{}) {
	if !log.enabled(LevelInfo) {
		return
	}
	klog.InfoDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Warn(format string, args ...interface{}) {
	if !log.enabled(LevelWarn) {
		return
	}
	klog.WarningDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.format(lg.source, format, args...))
}

func (lg logger) Fatal(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.format(lg.source, format, args...))
	klog.Flush()
	exit(1)
}

func (lg logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !lg.DebugEnabled() {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		lg.Debug("%s%s", prefix, line)
	}
}

func (lg logger) InfoBlock(prefix string, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		lg.Info("%s%s", prefix, line)
	}
}

func (lg logger) EnableDebug(enabled bool) bool {
	log.Lock()
	defer log.Unlock()
	old := log.debug[lg.source]
	log.debug[lg.source] = enabled
	return old
}

func (lg logger) DebugEnabled() bool {
	return log.debugEnabled(lg.source)
}

func (lg logger) Source() string {
	return lg.source
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}

// Flush flushes any buffered log output.
func Flush() {
	klogctl.Flush()
}
