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

// clientReq is one queued request together with the tag it was (or, under
// the deferred-tag optimization, will be) dispatched under.
type clientReq[C comparable, R any] struct {
	tag     RequestTag
	request R
}

// ClientRec is the scheduler's per-client bookkeeping: its QoS parameters,
// its FIFO of pending requests, the counters accumulated since the last
// window roll-over, and the slot indices that let it be relocated in every
// heap it belongs to without a search (spec.md §3).
type ClientRec[C comparable, R any] struct {
	client C
	// clientNo is a monotonically assigned ordinal used only for the
	// telemetry sink's "R_3" style client naming (§6); it does not
	// affect scheduling.
	clientNo uint64

	info            *ClientInfo
	compensatedInfo *ClientInfo // valid, and used, only when info.ClientType == ClientReservation

	prevTag  RequestTag
	requests []clientReq[C, R]

	// propDelta is added to this client's proportion tag when it is a
	// member of a proportion-keyed heap (usePropDelta); it absorbs the
	// realignment performed when an idle client re-enters (§4.2 step 3).
	propDelta float64

	idle     bool
	lastTick uint64

	curRho   uint32
	curDelta uint32

	resource float64

	r0Counter               uint64
	r0BreakLimitCounter     uint64
	deltarCounter           uint64
	deltarBreakLimitCounter uint64
	bCounter                uint64
	bBreakLimitCounter      uint64
	beCounter               uint64
	beBreakLimitCounter     uint64

	rCompensation float64

	slots [numHeapKinds]int
}

func newClientRec[C comparable, R any](client C, info *ClientInfo, clientNo uint64, tick uint64) *ClientRec[C, R] {
	c := &ClientRec[C, R]{
		client:   client,
		clientNo: clientNo,
		info:     info,
		idle:     true,
		lastTick: tick,
		curRho:   1,
		curDelta: 1,
	}
	if info.ClientType == ClientReservation {
		c.compensatedInfo = NewClientInfo(info.Reservation, info.Weight, info.Limit, ClientReservation)
	}
	for k := range c.slots {
		c.slots[k] = -1
	}
	return c
}

// effectiveInfo returns the ClientInfo that reservation-tag arithmetic
// should use: the compensated info for R clients (§4.5, §4.6), the plain
// info for everyone else.
func (c *ClientRec[C, R]) effectiveInfo() *ClientInfo {
	if c.info.ClientType == ClientReservation && c.compensatedInfo != nil {
		return c.compensatedInfo
	}
	return c.info
}

func (c *ClientRec[C, R]) hasRequest() bool { return len(c.requests) > 0 }

// headTag returns the tag of the front of the FIFO, if any.
func (c *ClientRec[C, R]) headTag() (RequestTag, bool) {
	if len(c.requests) == 0 {
		return RequestTag{}, false
	}
	return c.requests[0].tag, true
}

// reqTag returns the tag arithmetic should treat as "previous". This is
// always prevTag, never a queued request's tag: in deferred-tag mode the
// entries behind the head carry no real tag yet, while prevTag always
// reflects the latest computed tag.
func (c *ClientRec[C, R]) reqTag() RequestTag { return c.prevTag }

func (c *ClientRec[C, R]) pushRequest(tag RequestTag, req R) {
	c.requests = append(c.requests, clientReq[C, R]{tag: tag, request: req})
}

// popFront removes and returns the head of the FIFO.
func (c *ClientRec[C, R]) popFront() clientReq[C, R] {
	front := c.requests[0]
	c.requests = c.requests[1:]
	return front
}

// updateReqTag records tag as the client's most recently computed tag and
// bumps last_tick to the current logical clock, keeping the janitor's
// idle/erase ages meaningful (§4.9). Each field is assigned individually,
// skipped when it is exactly maxTag or minTag (assign_unpinned_tag): a
// field pinned to its sentinel this round, because the client's rate on
// that axis is 0 right now, must not clobber the last real, finite value
// prevTag is carrying — a later rate change back to nonzero resumes tag
// arithmetic from that value instead of from the sentinel forever after.
func (c *ClientRec[C, R]) updateReqTag(tag RequestTag, tick uint64) {
	assignUnpinned(&c.prevTag.Reservation, tag.Reservation)
	assignUnpinned(&c.prevTag.Proportion, tag.Proportion)
	assignUnpinned(&c.prevTag.Limit, tag.Limit)
	c.prevTag.Ready = tag.Ready
	c.prevTag.Arrival = tag.Arrival
	c.lastTick = tick
}

// assignUnpinned assigns v into *dst unless v is one of the tag sentinels
// (§4.1), matching the original's assign_unpinned_tag.
func assignUnpinned(dst *float64, v float64) {
	if v == maxTag || v == minTag {
		return
	}
	*dst = v
}

// resetWindowCounters zeroes every per-window counter, called at window
// roll-over (§4.6) after the telemetry line for the client has been
// emitted.
func (c *ClientRec[C, R]) resetWindowCounters() {
	c.r0Counter = 0
	c.r0BreakLimitCounter = 0
	c.deltarCounter = 0
	c.deltarBreakLimitCounter = 0
	c.bCounter = 0
	c.bBreakLimitCounter = 0
	c.beCounter = 0
	c.beBreakLimitCounter = 0
}
