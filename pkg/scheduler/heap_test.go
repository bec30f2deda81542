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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, id string, kind heapKind, key float64, ready bool) *ClientRec[string, int] {
	t.Helper()
	info := NewClientInfo(1, 1, 1, ClientReservation)
	c := newClientRec[string, int](id, info, 1, 0)
	c.pushRequest(RequestTag{Reservation: key, Proportion: key, Limit: key, Ready: ready}, 0)
	return c
}

func TestHeapPushPopOrdersByKey(t *testing.T) {
	h := newHeap[string, int](kindResv, defaultHeapArity, readyIgnore, false, func(tag RequestTag) float64 { return tag.Reservation })

	c3 := newTestClient(t, "c3", kindResv, 3, true)
	c1 := newTestClient(t, "c1", kindResv, 1, true)
	c2 := newTestClient(t, "c2", kindResv, 2, true)

	h.Push(c3)
	h.Push(c1)
	h.Push(c2)

	require.Equal(t, 3, h.Len())
	assert.Equal(t, c1, h.Top())

	assert.Equal(t, c1, h.Pop())
	assert.Equal(t, c2, h.Pop())
	assert.Equal(t, c3, h.Pop())
	assert.True(t, h.Empty())
}

func TestHeapRemoveArbitraryElement(t *testing.T) {
	h := newHeap[string, int](kindResv, defaultHeapArity, readyIgnore, false, func(tag RequestTag) float64 { return tag.Reservation })

	clients := make([]*ClientRec[string, int], 0, 8)
	for i := 0; i < 8; i++ {
		c := newTestClient(t, string(rune('a'+i)), kindResv, float64(8-i), true)
		clients = append(clients, c)
		h.Push(c)
	}

	// remove one from the middle of the heap and verify the remaining
	// elements still come out in sorted order.
	h.Remove(clients[3])
	require.Equal(t, 7, h.Len())

	var prev float64 = -1
	for !h.Empty() {
		top := h.Pop()
		tag, _ := top.headTag()
		assert.GreaterOrEqual(t, tag.Reservation, prev)
		prev = tag.Reservation
	}
}

func TestHeapRemoveNonMemberIsNoop(t *testing.T) {
	h := newHeap[string, int](kindResv, defaultHeapArity, readyIgnore, false, func(tag RequestTag) float64 { return tag.Reservation })
	c := newTestClient(t, "c", kindResv, 1, true)
	// c was never pushed; slots[kindResv] is -1.
	h.Remove(c)
	assert.True(t, h.Empty())
}

func TestHeapReadyLowersPutsNotReadyFirst(t *testing.T) {
	h := newHeap[string, int](kindLimit, defaultHeapArity, readyLowers, false, func(tag RequestTag) float64 { return tag.Limit })

	ready := newTestClient(t, "ready", kindLimit, 1, true)
	notReady := newTestClient(t, "not-ready", kindLimit, 5, false)

	h.Push(ready)
	h.Push(notReady)

	// readyLowers: not-ready entries sort first regardless of key, since
	// a promotion walk is looking for them.
	assert.Equal(t, notReady, h.Top())
}

func TestHeapReadyRaisesPutsReadyFirst(t *testing.T) {
	h := newHeap[string, int](kindBurst, defaultHeapArity, readyRaises, true, func(tag RequestTag) float64 { return tag.Proportion })

	ready := newTestClient(t, "ready", kindBurst, 5, true)
	notReady := newTestClient(t, "not-ready", kindBurst, 1, false)

	h.Push(ready)
	h.Push(notReady)

	// readyRaises: ready entries sort first, even with a worse key.
	assert.Equal(t, ready, h.Top())
}

func TestHeapClientWithNoRequestSortsLast(t *testing.T) {
	h := newHeap[string, int](kindBest, defaultHeapArity, readyRaises, true, func(tag RequestTag) float64 { return tag.Proportion })

	empty := newClientRec[string, int]("empty", NewClientInfo(0, 1, 0, ClientArea), 1, 0)
	withReq := newTestClient(t, "with-req", kindBest, 100, true)

	h.Push(empty)
	h.Push(withReq)

	assert.Equal(t, withReq, h.Top())
}

func TestHeapAdjustReordersAfterKeyChange(t *testing.T) {
	h := newHeap[string, int](kindResv, defaultHeapArity, readyIgnore, false, func(tag RequestTag) float64 { return tag.Reservation })

	c1 := newTestClient(t, "c1", kindResv, 1, true)
	c2 := newTestClient(t, "c2", kindResv, 2, true)
	h.Push(c1)
	h.Push(c2)

	require.Equal(t, c1, h.Top())

	// mutate c1's key past c2's and re-sift: Adjust must sift it down.
	c1.requests[0].tag.Reservation = 10
	h.Adjust(c1)

	assert.Equal(t, c2, h.Top())
}

func TestHeapArityFallsBackToDefault(t *testing.T) {
	h := newHeap[string, int](kindResv, 1, readyIgnore, false, func(tag RequestTag) float64 { return tag.Reservation })
	assert.Equal(t, defaultHeapArity, h.arity)

	h4 := newHeap[string, int](kindResv, 4, readyIgnore, false, func(tag RequestTag) float64 { return tag.Reservation })
	assert.Equal(t, 4, h4.arity)
}
