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

// heapSet bundles the seven priority heaps of spec.md §4.3 and the
// class-to-heap-membership table that determines which of them a client
// participates in.
type heapSet[C comparable, R any] struct {
	resv      *heap[C, R] // R, key=reservation, ready=ignore
	rLimit    *heap[C, R] // R, key=limit,       ready=lowers
	deltar    *heap[C, R] // R, key=proportion,  ready=raises
	limit     *heap[C, R] // B, key=limit,       ready=lowers
	burst     *heap[C, R] // B, key=proportion,  ready=raises
	bestLimit *heap[C, R] // A/O, key=limit,     ready=lowers
	best      *heap[C, R] // A/O, key=proportion, ready=raises
}

func newHeapSet[C comparable, R any](arity int) *heapSet[C, R] {
	reservationKey := func(t RequestTag) float64 { return t.Reservation }
	limitKey := func(t RequestTag) float64 { return t.Limit }
	proportionKey := func(t RequestTag) float64 { return t.Proportion }

	return &heapSet[C, R]{
		resv:      newHeap[C, R](kindResv, arity, readyIgnore, false, reservationKey),
		rLimit:    newHeap[C, R](kindRLimit, arity, readyLowers, false, limitKey),
		deltar:    newHeap[C, R](kindDeltaR, arity, readyRaises, true, proportionKey),
		limit:     newHeap[C, R](kindLimit, arity, readyLowers, false, limitKey),
		burst:     newHeap[C, R](kindBurst, arity, readyRaises, true, proportionKey),
		bestLimit: newHeap[C, R](kindBestLimit, arity, readyLowers, false, limitKey),
		best:      newHeap[C, R](kindBest, arity, readyRaises, true, proportionKey),
	}
}

// heapsFor returns the heaps a client of the given class belongs to, in
// the order the original implementation pushes/adjusts them.
func (hs *heapSet[C, R]) heapsFor(t ClientType) []*heap[C, R] {
	switch t {
	case ClientReservation:
		return []*heap[C, R]{hs.resv, hs.rLimit, hs.deltar}
	case ClientBurst:
		return []*heap[C, R]{hs.limit, hs.burst}
	default: // ClientArea, ClientOther
		return []*heap[C, R]{hs.bestLimit, hs.best}
	}
}

func (hs *heapSet[C, R]) push(c *ClientRec[C, R]) {
	for _, h := range hs.heapsFor(c.info.ClientType) {
		h.Push(c)
	}
}

func (hs *heapSet[C, R]) remove(c *ClientRec[C, R]) {
	for _, h := range hs.heapsFor(c.info.ClientType) {
		h.Remove(c)
	}
}

func (hs *heapSet[C, R]) adjust(c *ClientRec[C, R]) {
	for _, h := range hs.heapsFor(c.info.ClientType) {
		h.Adjust(c)
	}
}

// empty reports whether the heaps that gate whole-scheduler idleness
// (resv, burst, best: one per class) are all empty, matching do_next_request's
// early-exit check (§4.4): if these are empty, no active clients remain.
func (hs *heapSet[C, R]) empty() bool {
	return hs.resv.Empty() && hs.burst.Empty() && hs.best.Empty()
}
