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

// dispatchResult is what popProcessRequest hands back to a facade: the
// client and request payload that were dispatched, and which phase (§4.8,
// glossary) the dispatch happened under.
type dispatchResult[C comparable, R any] struct {
	client  C
	request R
	phase   Phase
}

// popProcessRequest commits the dispatch decision named by which, per
// §4.5: it moves the request payload out of the client's FIFO, advances
// deferred tag calculation to the new head (if any), performs reservation-
// tag reduction for a deltar dispatch, and re-settles the client's
// position in every heap it belongs to. Callers must hold s.mu.
func (s *Scheduler[C, R]) popProcessRequest(which nextReq, now Time) dispatchResult[C, R] {
	var h *heap[C, R]
	var phase Phase
	isDeltar := false

	switch which.heap {
	case heapReservation:
		h, phase = s.heaps.resv, PhaseReservation
	case heapBurst:
		h, phase = s.heaps.burst, PhasePriority
	case heapDeltaR:
		h, phase, isDeltar = s.heaps.deltar, PhasePriority, true
	case heapBestEffort:
		h, phase = s.heaps.best, PhasePriority
	default:
		panic(assertionf("popProcessRequest: unknown heap id %v", which.heap))
	}

	top := h.Top()
	if top == nil {
		panic(assertionf("popProcessRequest: heap %v is empty at dispatch time", which.heap))
	}

	popped := top.popFront()
	poppedTag := popped.tag

	if !s.immediateTags && top.hasRequest() {
		nextFront := top.requests[0]
		newTag := newRequestTag(poppedTag, top.effectiveInfo(), ReqParams{Rho: top.curRho, Delta: top.curDelta}, nextFront.tag.Arrival, s.anticipationTimeout)
		top.requests[0].tag = newTag
		top.updateReqTag(newTag, s.tick)
	}

	if isDeltar {
		s.reduceReservationTags(top)
	}

	switch top.info.ClientType {
	case ClientReservation:
		s.heaps.resv.Demote(top)
		s.heaps.deltar.Demote(top)
		s.heaps.rLimit.Adjust(top)
	case ClientBurst:
		s.heaps.burst.Demote(top)
		s.heaps.limit.Adjust(top)
	default:
		s.heaps.best.Demote(top)
		s.heaps.bestLimit.Adjust(top)
	}

	return dispatchResult[C, R]{client: top.client, request: popped.request, phase: phase}
}

// reduceReservationTags implements §4.5 step 4: an R client dispatched
// from deltar_heap (i.e. consuming surplus, not its guaranteed minimum)
// must not also bill that dispatch against its reservation quota, so its
// reservation tag (and prev_tag.reservation) is pulled back by one
// reservation interval, using the compensated inverse rate when the client
// carries a compensation boost.
func (s *Scheduler[C, R]) reduceReservationTags(rec *ClientRec[C, R]) {
	info := rec.effectiveInfo()

	if s.immediateTags {
		// every queued tag was materialized independently at insertion
		// time, so every one of them needs the same correction.
		for i := range rec.requests {
			rec.requests[i].tag.Reservation -= info.reservationInv
		}
	} else if rec.hasRequest() {
		// only the front tag is real under the deferred-tag
		// optimization; the rest are placeholders computed at pop time.
		rec.requests[0].tag.Reservation -= info.reservationInv
	}
	rec.prevTag.Reservation -= info.reservationInv

	s.heaps.resv.Promote(rec)
}
