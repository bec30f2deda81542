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

// PullResultKind discriminates the three shapes PullRequest can return
// (§4.8).
type PullResultKind int

const (
	// PullNone means nothing is dispatchable now and no time is known at
	// which something will be. Requests may still be queued, e.g. for a B
	// client whose burst budget is spent and which has no limit.
	PullNone PullResultKind = iota
	// PullFuture means nothing is dispatchable yet; resume no later
	// than WhenReady.
	PullFuture
	// PullReturning means a request was dispatched; Client, Request and
	// Phase are populated.
	PullReturning
)

// PullResult is the outcome of a single PullRequest call.
type PullResult[C comparable, R any] struct {
	Kind      PullResultKind
	WhenReady Time
	Client    C
	Request   R
	Phase     Phase
}

// PullRequest implements the pull facade of §4.8: the caller polls for
// the next dispatchable request at time now. It never blocks and starts
// no background goroutine; repeated calls with no state change return the
// same None/Future variant (§8 round-trip property), and each Returning
// result strictly decreases the total number of queued requests by one.
func (s *Scheduler[C, R]) PullRequest(now Time) PullResult[C, R] {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.nextRequest(now)
	switch next.kind {
	case nextNone:
		return PullResult[C, R]{Kind: PullNone}
	case nextFuture:
		return PullResult[C, R]{Kind: PullFuture, WhenReady: next.whenReady}
	}

	result := s.popProcessRequest(next, now)
	return PullResult[C, R]{
		Kind:    PullReturning,
		Client:  result.client,
		Request: result.request,
		Phase:   result.phase,
	}
}
