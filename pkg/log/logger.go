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

// Package log provides the small per-subsystem structured logger used
// throughout this repository. Callers obtain a named Logger with Get or
// NewLogger and log at Debug/Info/Warn/Error severity; the effective level
// and the set of sources with debug logging forced on are process-wide and
// can be changed at runtime with Configure.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity level.
type Level int32

const (
	// LevelDebug is verbose, per-request diagnostic logging.
	LevelDebug Level = iota
	// LevelInfo is normal operational logging.
	LevelInfo
	// LevelWarn is for recoverable, noteworthy conditions.
	LevelWarn
	// LevelError is for failures.
	LevelError
)

// DefaultLevel is the default logging severity level.
const DefaultLevel = LevelInfo

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging interface subsystems use.
type Logger interface {
	Debug(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Info(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Error(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	// Block is a source name used for filtering. It is the name the
	// logger was created with.
	Block() string
	// Println implements promhttp.Logger, so a Logger can be handed
	// directly to prometheus/client_golang's HTTP handler as its error log.
	Println(args ...interface{})
}

// logger is the concrete, near-stateless Logger implementation; all mutable
// state (level, per-source overrides, output prefixing) lives in the
// package-level registry so that Configure can change it for every
// previously handed-out Logger at once.
type logger struct {
	name string
}

var _ Logger = logger{}

// registry holds the process-wide logging configuration.
type registry struct {
	mu     sync.Mutex
	level  Level
	debug  map[string]bool // per-source forced debug state, "*" is the wildcard
	prefix bool            // whether to include the source name in output
	out    *os.File
}

var reg = &registry{
	level: DefaultLevel,
	debug: map[string]bool{},
	out:   os.Stderr,
}

var deflog = reg.get("default")

// Get returns the named Logger. A Logger carries only its name; all
// configuration lives in the shared registry.
func Get(name string) Logger {
	return reg.get(name)
}

// NewLogger is an alias for Get, kept for readability at call sites that
// create a subsystem's logger once at package init time.
func NewLogger(name string) Logger {
	return reg.get(name)
}

// Default returns the default, unnamed logger.
func Default() Logger {
	return deflog
}

func (r *registry) get(name string) logger {
	return logger{name: name}
}

func (l logger) Block() string {
	return l.name
}

func (l logger) enabled(lvl Level) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if forced, ok := reg.debug[l.name]; ok {
		if forced {
			return true
		}
		return lvl >= reg.level
	}
	if forced, ok := reg.debug["*"]; ok && forced {
		return true
	}
	return lvl >= reg.level
}

func (l logger) log(lvl Level, format string, args ...interface{}) {
	if !l.enabled(lvl) {
		return
	}

	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	if reg.prefix && l.name != "" {
		fmt.Fprintf(reg.out, "%s [%s] %s: %s\n", ts, lvl, l.name, msg)
	} else {
		fmt.Fprintf(reg.out, "%s [%s] %s\n", ts, lvl, msg)
	}
}

func (l logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l logger) Infof(format string, args ...interface{}) { l.log(LevelInfo, format, args...) }
func (l logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l logger) Warnf(format string, args ...interface{}) { l.log(LevelWarn, format, args...) }
func (l logger) Error(format string, args ...interface{})  { l.log(LevelError, format, args...) }
func (l logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

func (l logger) Println(args ...interface{}) { l.log(LevelError, fmt.Sprint(args...)) }

// SetLevel changes the process-wide logging level.
func SetLevel(lvl Level) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.level = lvl
}

// setDbgMap replaces the per-source debug override map.
func setDbgMap(m map[string]bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.debug = m
}

// setPrefix toggles whether the source name is included in log output.
func setPrefix(v bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.prefix = v
}

// parseDebugSpec turns a comma-separated "src,src2,..." (or "*" for all)
// string into a source override map.
func parseDebugSpec(spec string) map[string]bool {
	m := map[string]bool{}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "all" {
			entry = "*"
		}
		m[entry] = true
	}
	return m
}
