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

// heapKind names one of the priority heaps a ClientRec can belong to. A
// client carries one slot index per kind (ClientRec.slots) so any heap can
// relocate it in O(log n) without a linear search — the "indirect" part of
// the indirect intrusive heap of spec.md §2. This is the array-of-slots
// alternative to a pointer-to-member handle called out in spec.md §9.
type heapKind int

const (
	kindResv heapKind = iota
	kindRLimit
	kindDeltaR
	kindLimit
	kindBurst
	kindBestLimit
	kindBest
	numHeapKinds
)

func (k heapKind) String() string {
	switch k {
	case kindResv:
		return "resv_heap"
	case kindRLimit:
		return "r_limit_heap"
	case kindDeltaR:
		return "deltar_heap"
	case kindLimit:
		return "limit_heap"
	case kindBurst:
		return "burst_heap"
	case kindBestLimit:
		return "best_limit_heap"
	case kindBest:
		return "best_heap"
	default:
		return "?"
	}
}

// readyPolicy controls how a heap orders ready vs. not-ready entries,
// per the table in spec.md §4.3.
type readyPolicy int

const (
	// readyIgnore compares only by the key field; used for resv_heap,
	// where readiness has no meaning (reservation dispatch is always
	// eligible once its time comes).
	readyIgnore readyPolicy = iota
	// readyLowers makes not-yet-ready entries precede ready ones: they
	// are what a promotion walk is looking for.
	readyLowers
	// readyRaises makes ready entries precede not-ready ones: they are
	// candidates for dispatch.
	readyRaises
)

// defaultHeapArity is the d-ary branching factor used when a Scheduler is
// not built with WithHeapArity. dmClock's original implementation and
// spec.md §2 both default to a binary heap.
const defaultHeapArity = 2

// heap is a d-ary indirect intrusive min-heap of *ClientRec, ordered by a
// per-heap key function and readiness policy (§4.3). "Indirect" because
// each ClientRec carries its own slot index for this heap (in
// ClientRec.slots), so push/pop/remove/promote/demote/adjust all run in
// O(log n) without scanning for the element.
type heap[C comparable, R any] struct {
	kind         heapKind
	arity        int
	ready        readyPolicy
	usePropDelta bool
	key          func(tag RequestTag) float64
	items        []*ClientRec[C, R]
}

func newHeap[C comparable, R any](kind heapKind, arity int, ready readyPolicy, usePropDelta bool, key func(RequestTag) float64) *heap[C, R] {
	if arity < 2 {
		arity = defaultHeapArity
	}
	return &heap[C, R]{kind: kind, arity: arity, ready: ready, usePropDelta: usePropDelta, key: key}
}

func (h *heap[C, R]) Len() int      { return len(h.items) }
func (h *heap[C, R]) Empty() bool   { return len(h.items) == 0 }
func (h *heap[C, R]) Top() *ClientRec[C, R] {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// effectiveKey returns the (hasRequest, ready, key) triple used to order c
// in this heap: a client with no pending requests always sorts last.
func (h *heap[C, R]) effectiveKey(c *ClientRec[C, R]) (hasRequest, ready bool, key float64) {
	tag, ok := c.headTag()
	if !ok {
		return false, false, 0
	}
	k := h.key(tag)
	if h.usePropDelta {
		k += c.propDelta
	}
	return true, tag.Ready, k
}

// less reports whether a should sort before b in this heap.
func (h *heap[C, R]) less(a, b *ClientRec[C, R]) bool {
	aHas, aReady, aKey := h.effectiveKey(a)
	bHas, bReady, bKey := h.effectiveKey(b)

	if aHas != bHas {
		// the client with a pending request sorts first
		return aHas
	}
	if !aHas {
		return false
	}

	switch h.ready {
	case readyLowers:
		if aReady != bReady {
			return !aReady
		}
	case readyRaises:
		if aReady != bReady {
			return aReady
		}
	case readyIgnore:
		// fall through to key comparison
	}
	return aKey < bKey
}

func (h *heap[C, R]) slot(c *ClientRec[C, R]) int      { return c.slots[h.kind] }
func (h *heap[C, R]) setSlot(c *ClientRec[C, R], i int) { c.slots[h.kind] = i }

// Push inserts c into the heap. c must not already be a member.
func (h *heap[C, R]) Push(c *ClientRec[C, R]) {
	h.items = append(h.items, c)
	h.setSlot(c, len(h.items)-1)
	h.siftUp(len(h.items) - 1)
}

// Remove takes c out of the heap. It is a no-op if c is not a member.
func (h *heap[C, R]) Remove(c *ClientRec[C, R]) {
	i := h.slot(c)
	if i < 0 || i >= len(h.items) || h.items[i] != c {
		return
	}
	h.removeAt(i)
}

// Pop removes and returns the top of the heap, or nil if empty.
func (h *heap[C, R]) Pop() *ClientRec[C, R] {
	if len(h.items) == 0 {
		return nil
	}
	top := h.items[0]
	h.removeAt(0)
	return top
}

func (h *heap[C, R]) removeAt(i int) {
	last := len(h.items) - 1
	h.setSlot(h.items[i], -1)
	if i != last {
		h.items[i] = h.items[last]
		h.setSlot(h.items[i], i)
	}
	h.items = h.items[:last]
	if i < len(h.items) {
		h.siftDown(i)
		h.siftUp(i)
	}
}

// Adjust restores the heap property around c after its key or readiness
// changed in place. It subsumes promote/demote: both directions are
// checked, so callers need not reason about which way the key moved.
func (h *heap[C, R]) Adjust(c *ClientRec[C, R]) {
	i := h.slot(c)
	if i < 0 || i >= len(h.items) || h.items[i] != c {
		return
	}
	h.siftUp(i)
	h.siftDown(i)
}

// Promote and Demote are named aliases for Adjust, matching the vocabulary
// of spec.md §4.4's promotion walks; the underlying heap makes no
// distinction, since a d-ary sift is directionless by construction.
func (h *heap[C, R]) Promote(c *ClientRec[C, R]) { h.Adjust(c) }
func (h *heap[C, R]) Demote(c *ClientRec[C, R])  { h.Adjust(c) }

func (h *heap[C, R]) parent(i int) int { return (i - 1) / h.arity }

func (h *heap[C, R]) firstChild(i int) int { return h.arity*i + 1 }

func (h *heap[C, R]) siftUp(i int) {
	for i > 0 {
		p := h.parent(i)
		if !h.less(h.items[i], h.items[p]) {
			return
		}
		h.swap(i, p)
		i = p
	}
}

func (h *heap[C, R]) siftDown(i int) {
	n := len(h.items)
	for {
		first := h.firstChild(i)
		if first >= n {
			return
		}
		smallest := i
		for c := first; c < first+h.arity && c < n; c++ {
			if h.less(h.items[c], h.items[smallest]) {
				smallest = c
			}
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}

func (h *heap[C, R]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.setSlot(h.items[i], i)
	h.setSlot(h.items[j], j)
}
