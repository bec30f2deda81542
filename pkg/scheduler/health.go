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
	"time"

	"github.com/containers/dmqos/pkg/healthz"
)

// RegisterHealthCheck wires this Scheduler's janitor liveness into the
// process-wide healthz registry under name. maxStaleness is how long a
// missed Clean pass is tolerated before the check reports NonFunctional;
// a service without its own janitor cadence opinion can pass its
// checkTime*4 or similar.
func (s *Scheduler[C, R]) RegisterHealthCheck(name string, maxStaleness time.Duration) {
	healthz.RegisterHealthChecker(name, func() (healthz.Status, error) {
		if err := s.JanitorHealthy(maxStaleness); err != nil {
			return healthz.NonFunctional, err
		}
		return healthz.Healthy, nil
	})
}
