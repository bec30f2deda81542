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
	"log"
	"os"
	"os/signal"
	"strings"
)

const (
	// debugEnvVar seeds per-source debug logging from the environment.
	debugEnvVar = "SCHEDULER_LOG_DEBUG"
	// logSourceEnvVar seeds source-name prefixing from the environment.
	logSourceEnvVar = "SCHEDULER_LOG_SOURCE"
)

// Configure updates the process-wide logging configuration.
func Configure(level Level, debugSources string, logSource bool) {
	setDbgMap(parseDebugSpec(debugSources))
	setPrefix(logSource)
	SetLevel(level)
}

func init() {
	logSource := os.Getenv(logSourceEnvVar) != ""
	debugSpec := os.Getenv(debugEnvVar)

	Configure(DefaultLevel, debugSpec, logSource)

	if debugSpec != "" {
		deflog.Info("seeded debug sources from $%s: %s", debugEnvVar, debugSpec)
	}
}

// SetStdLogger redirects the standard library's "log" package output
// through our named logger, so third-party code that logs with the
// stdlib package still ends up in the same sink.
func SetStdLogger(source string) {
	l := Get(source)
	log.SetFlags(0)
	log.SetOutput(stdLogWriter{l: l})
}

type stdLogWriter struct {
	l Logger
}

func (w stdLogWriter) Write(p []byte) (int, error) {
	w.l.Info("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// SetupDebugToggleSignal installs a signal handler that toggles the
// wildcard debug source on and off every time the given signal is
// received. This mirrors the teacher's SIGUSR1 debug toggle.
func SetupDebugToggleSignal(sig os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)

	go func() {
		toggled := false
		for range ch {
			reg.mu.Lock()
			if toggled {
				delete(reg.debug, "*")
			} else {
				reg.debug["*"] = true
			}
			toggled = !toggled
			reg.mu.Unlock()
			deflog.Info("debug logging toggled: %v", toggled)
		}
	}()
}
