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
	"github.com/hashicorp/go-multierror"
)

// Close implements the cancellation sequence of §5: it flips finishing so
// the push worker begins no new dispatch, stops the janitor, wakes and
// joins the push worker if one is running, and flushes the telemetry sink.
// In-flight requests still queued in client FIFOs are dropped along with
// their owning ClientRec.
//
// Stopping the janitor and the push worker cannot fail; only the telemetry
// flush can, and its error is returned through a go-multierror aggregate.
func (s *Scheduler[C, R]) Close() error {
	s.mu.Lock()
	if s.finishing {
		s.mu.Unlock()
		return nil
	}
	s.finishing = true
	push := s.push
	s.mu.Unlock()

	var result *multierror.Error

	s.stopJanitor()

	if push != nil {
		close(push.stop)
		<-push.done
	}

	if closer, ok := s.telemetry.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, wrapSchedulerError(err, "failed to flush telemetry sink"))
		}
	}

	s.mu.Lock()
	for id := range s.clients {
		delete(s.clients, id)
	}
	s.mu.Unlock()

	return result.ErrorOrNil()
}
