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

package scheduler

import (
	"github.com/pkg/errors"
)

// schedulerError wraps a transient, caller-facing failure (a janitor that
// was never started or has stalled) with a package-qualified message,
// matching this repository's per-package xxxError convention.
func schedulerError(format string, args ...interface{}) error {
	return errors.Errorf("scheduler: "+format, args...)
}

// wrapSchedulerError annotates an error from a collaborator (the
// telemetry sink's Close) without discarding it, so callers can still unwrap the
// original with errors.Cause.
func wrapSchedulerError(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, "scheduler: "+format, args...)
}

// assertionf builds the panic value for a structural invariant violation:
// a programming error in either the caller's callback or the scheduler
// itself, never a condition a caller should retry or recover from (§7).
func assertionf(format string, args ...interface{}) error {
	return errors.Errorf("scheduler: assertion failed: "+format, args...)
}
