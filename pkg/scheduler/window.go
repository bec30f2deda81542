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

// maybeRollWindow performs the window-boundary maintenance of §4.4 if the
// window has expired and no other caller is already doing it. Rolling the
// window is a try-lock, not a lock: if another goroutine got there first,
// dispatch proceeds against the prior window's counters rather than
// blocking the hot path (§5).
func (s *Scheduler[C, R]) maybeRollWindow(now Time) {
	if float64(now-s.winStart) < s.winSize {
		return
	}
	if !s.winMu.TryLock() {
		return
	}
	defer s.winMu.Unlock()

	// re-check: another goroutine may have rolled the window between our
	// unlocked read above and acquiring winMu.
	if float64(now-s.winStart) < s.winSize {
		return
	}

	next := s.winStart + Time(s.winSize)
	if next < now {
		next = now
	}
	s.winStart = next

	for _, rec := range s.clients {
		s.reconcileClientInfo(rec)

		if rec.info.ClientType == ClientReservation {
			s.recomputeCompensation(rec)
		}

		s.telemetry.Record(now, rec)

		rec.resetWindowCounters()
	}
}

// reconcileClientInfo re-fetches this client's ClientInfo (§5: "the
// scheduler must not assume pointer identity implies value identity") and,
// if it changed, migrates the client to a new heap set on a class change
// and updates total_wgt on a weight change.
func (s *Scheduler[C, R]) reconcileClientInfo(rec *ClientRec[C, R]) {
	fresh := s.clientInfoFunc(rec.client)
	if fresh == nil {
		panic(assertionf("client_info_f returned nil for client %v during window roll-over", rec.client))
	}
	if fresh == rec.info {
		return
	}

	old := rec.info

	if s.telemetry != nil {
		s.telemetry.RecordUpdate(rec.client, old, fresh)
	}

	if fresh.ClientType != old.ClientType {
		// migrateClient folds the total_wgt adjustment for a class
		// change (including a weight change coinciding with it) into
		// its own subtract-before-push ordering.
		s.migrateClient(rec, fresh)
		return
	}

	rec.info = fresh
	if fresh.ClientType == ClientReservation {
		rec.compensatedInfo = NewClientInfo(fresh.Reservation+rec.rCompensation, fresh.Weight, fresh.Limit, ClientReservation)
	}

	if fresh.Weight != old.Weight && fresh.ClientType.contributesWeight() {
		s.addTotalWgtAndUpdateClientRes(fresh.Weight - old.Weight)
	}
}

// recomputeCompensation implements the R-client compensation rule of §4.4:
// once a client's served count over the window reaches 80% of its
// reservation target, its r_compensation is nudged by the remaining
// shortfall to that target, clamped to [0, 10% of reservation], and applied
// through a freshly-built "compensated" ClientInfo used only for that
// client's reservation-tag arithmetic. A client that never reaches 80%
// keeps whatever r_compensation it already had.
func (s *Scheduler[C, R]) recomputeCompensation(rec *ClientRec[C, R]) {
	threshold := rec.info.Reservation * s.winSize * 0.8
	if float64(rec.r0Counter) < threshold {
		return
	}

	served := rec.info.Reservation*s.winSize - float64(rec.r0Counter)
	compensate := served / s.winSize

	rec.rCompensation += compensate
	if rec.rCompensation < 0 {
		rec.rCompensation = 0
	} else if cap := rec.info.Reservation * 0.1; rec.rCompensation > cap {
		rec.rCompensation = cap
	}

	rec.compensatedInfo = NewClientInfo(rec.info.Reservation+rec.rCompensation, rec.info.Weight, rec.info.Limit, ClientReservation)
}

// migrateClient implements class migration (§4.7): the client leaves its
// current heap set entirely, inherits a starting prev_tag (and, if it has
// a pending request, the head tag) from the destination heap set's
// current top so it doesn't unfairly jump the destination queue, then
// joins the destination heap set under its new class.
//
// Weight-zero O clients never contribute to total_wgt (SPEC_FULL.md §5):
// this function subtracts the client's old-class weight contribution
// before pushing it under its new class, so add_total_wgt_and_update_client_res
// never briefly double-counts a client migrating in or out of class O.
func (s *Scheduler[C, R]) migrateClient(rec *ClientRec[C, R], newInfo *ClientInfo) {
	s.heaps.remove(rec)

	oldContributed := rec.info.ClientType.contributesWeight()
	oldWeight := rec.info.Weight
	newContributes := newInfo.ClientType.contributesWeight()

	if oldContributed {
		s.addTotalWgtAndUpdateClientRes(-oldWeight)
	}

	rec.info = newInfo
	if newInfo.ClientType == ClientReservation {
		rec.compensatedInfo = NewClientInfo(newInfo.Reservation+rec.rCompensation, newInfo.Weight, newInfo.Limit, ClientReservation)
	} else {
		rec.compensatedInfo = nil
	}

	s.inheritDestinationTag(rec, newInfo.ClientType)

	s.heaps.push(rec)
	s.heaps.adjust(rec)

	if newContributes {
		s.addTotalWgtAndUpdateClientRes(newInfo.Weight)
	}
}

// inheritDestinationTag copies prev_tag (and the head request's tag, if
// any) from the top of the destination class's principal heap, matching
// move_to_another_heap in the original implementation. If the destination
// heap is empty there is nothing to inherit and the client keeps its own
// history.
func (s *Scheduler[C, R]) inheritDestinationTag(rec *ClientRec[C, R], newType ClientType) {
	var top *ClientRec[C, R]
	switch newType {
	case ClientReservation:
		top = s.heaps.resv.Top()
	case ClientBurst:
		top = s.heaps.burst.Top()
	default:
		top = s.heaps.best.Top()
	}
	if top == nil {
		return
	}

	rec.prevTag = top.prevTag
	if rec.hasRequest() {
		if headTag, ok := top.headTag(); ok {
			rec.requests[0].tag = headTag
		}
	}
}
