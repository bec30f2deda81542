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

import "math"

// nextReqKind tags which of the three PullResult shapes a dispatch
// decision produced.
type nextReqKind int

const (
	nextNone nextReqKind = iota
	nextFuture
	nextReturning
)

// nextReq is the internal result of the dispatch ladder (§4.4): either
// nothing runnable (none), a time to resume no sooner than (future), or a
// heap identifying which class to pop from (returning).
type nextReq struct {
	kind      nextReqKind
	whenReady Time
	heap      heapID
}

// nextRequest runs the dispatch ladder of §4.4. Callers must hold s.mu.
func (s *Scheduler[C, R]) nextRequest(now Time) nextReq {
	if s.heaps.empty() {
		return nextReq{kind: nextNone}
	}

	s.maybeRollWindow(now)

	// rule 1: reservation dispatch
	if !s.heaps.resv.Empty() {
		top := s.heaps.resv.Top()
		if tag, ok := top.headTag(); ok && tag.Reservation <= float64(now) {
			top.r0Counter++
			return nextReq{kind: nextReturning, heap: heapReservation}
		}
	}

	// rule 2: promote ready B clients from limit_heap into burst_heap
	s.promoteReady(s.heaps.limit, s.heaps.burst, now)

	// rule 3: burst dispatch
	if !s.heaps.burst.Empty() {
		top := s.heaps.burst.Top()
		if tag, ok := top.headTag(); ok {
			if top.bCounter < uint64(math.Max(top.resource, 0)) && tag.Ready && tag.Proportion < maxTag {
				top.bCounter++
				return nextReq{kind: nextReturning, heap: heapBurst}
			}
		}
	}

	// rule 4: promote ready R clients from r_limit_heap into deltar_heap
	s.promoteReady(s.heaps.rLimit, s.heaps.deltar, now)

	// rule 5: deltar dispatch (R clients' surplus above their reservation)
	if !s.heaps.deltar.Empty() {
		top := s.heaps.deltar.Top()
		if tag, ok := top.headTag(); ok {
			budget := math.Max(top.resource-top.info.Reservation*s.winSize, 0)
			if float64(top.deltarCounter) < budget && tag.Ready && tag.Proportion < maxTag {
				top.deltarCounter++
				return nextReq{kind: nextReturning, heap: heapDeltaR}
			}
		}
	}

	// rule 6: promote ready A/O clients from best_limit_heap into best_heap
	s.promoteReady(s.heaps.bestLimit, s.heaps.best, now)

	// rule 7: best-effort dispatch
	if !s.heaps.best.Empty() {
		top := s.heaps.best.Top()
		if tag, ok := top.headTag(); ok && tag.Ready && tag.Proportion < maxTag {
			top.beCounter++
			return nextReq{kind: nextReturning, heap: heapBestEffort}
		}
	}

	// rule 8: limit-break fallback
	if s.allowLimitBreak {
		if !s.heaps.burst.Empty() {
			top := s.heaps.burst.Top()
			if tag, ok := top.headTag(); ok && tag.Proportion < maxTag {
				top.bBreakLimitCounter++
				return nextReq{kind: nextReturning, heap: heapBurst}
			}
		}
		if !s.heaps.best.Empty() {
			top := s.heaps.best.Top()
			if tag, ok := top.headTag(); ok && tag.Proportion < maxTag {
				top.beBreakLimitCounter++
				return nextReq{kind: nextReturning, heap: heapBestEffort}
			}
		}
		if !s.heaps.deltar.Empty() {
			top := s.heaps.deltar.Top()
			if tag, ok := top.headTag(); ok && tag.Proportion < maxTag {
				top.deltarBreakLimitCounter++
				return nextReq{kind: nextReturning, heap: heapDeltaR}
			}
		}
		if !s.heaps.resv.Empty() {
			top := s.heaps.resv.Top()
			if tag, ok := top.headTag(); ok && tag.Reservation < maxTag {
				top.r0BreakLimitCounter++
				return nextReq{kind: nextReturning, heap: heapReservation}
			}
		}
	}

	// rule 9: nothing dispatchable now; report when to try again
	nextCall := TimeMax
	if !s.heaps.resv.Empty() {
		if tag, ok := s.heaps.resv.Top().headTag(); ok {
			nextCall = minNot0Time(nextCall, Time(tag.Reservation))
		}
	}
	if !s.heaps.rLimit.Empty() {
		if tag, ok := s.heaps.rLimit.Top().headTag(); ok {
			nextCall = minNot0Time(nextCall, Time(tag.Limit))
		}
	}
	if !s.heaps.limit.Empty() {
		if tag, ok := s.heaps.limit.Top().headTag(); ok {
			nextCall = minNot0Time(nextCall, Time(tag.Limit))
		}
	}
	if nextCall < TimeMax {
		return nextReq{kind: nextFuture, whenReady: nextCall}
	}
	return nextReq{kind: nextNone}
}

// promoteReady walks from's top, marking every entry whose limit tag has
// been reached as ready and moving it up in to (and down in from), until
// from's new top isn't ready to be promoted yet. This is the "walk
// limit_heap promoting into burst_heap" step of rules 2, 4 and 6.
func (s *Scheduler[C, R]) promoteReady(from, to *heap[C, R], now Time) {
	for !from.Empty() {
		top := from.Top()
		tag, ok := top.headTag()
		if !ok || tag.Ready || tag.Limit > float64(now) {
			return
		}
		s.setHeadReady(top, true)
		to.Promote(top)
		from.Demote(top)
	}
}

// setHeadReady flips the ready bit of a client's front request in place.
func (s *Scheduler[C, R]) setHeadReady(c *ClientRec[C, R], ready bool) {
	if len(c.requests) == 0 {
		return
	}
	c.requests[0].tag.Ready = ready
}

// minNot0Time returns the smaller of current and possible, treating any
// non-positive possible as "no opinion" rather than the smallest possible
// time: a reservation/limit tag of exactly zero is the "never computed"
// sentinel, and one at minTag is the "rate unused" sentinel (§4.1) — an
// unrated client's own limit tag never gates when to next try dispatch.
func minNot0Time(current, possible Time) Time {
	if possible <= TimeZero {
		return current
	}
	if possible < current {
		return possible
	}
	return current
}
