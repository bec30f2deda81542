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

// fixedClientInfo builds a ClientInfoFunc backed by a plain map, for tests
// that don't need class migration.
func fixedClientInfo(m map[string]*ClientInfo) ClientInfoFunc[string] {
	return func(client string) *ClientInfo { return m[client] }
}

// swappableClientInfo builds a ClientInfoFunc that starts out returning
// initial for every client and switches, for a single named client, to a
// different *ClientInfo once swapTo has been called. reconcileClientInfo
// detects a changed ClientInfo by pointer identity, so tests exercising it
// need a func that actually hands back a different pointer mid-lifetime,
// unlike fixedClientInfo's static map.
func swappableClientInfo(initial map[string]*ClientInfo) (ClientInfoFunc[string], func(client string, info *ClientInfo)) {
	cur := map[string]*ClientInfo{}
	for k, v := range initial {
		cur[k] = v
	}
	f := func(client string) *ClientInfo { return cur[client] }
	swap := func(client string, info *ClientInfo) { cur[client] = info }
	return f, swap
}

// noopTelemetrySink discards every record; tests that roll the window
// forward directly use it so they don't append to scheduling.txt.
type noopTelemetrySink struct{}

func (noopTelemetrySink) Record(Time, any)                          {}
func (noopTelemetrySink) RecordUpdate(any, *ClientInfo, *ClientInfo) {}

// drainAll pulls everything currently dispatchable at a fixed now, without
// ever advancing time. It stops on the first Future/None result.
func drainAll(t *testing.T, s *Scheduler[string, int], now Time, max int) []PullResult[string, int] {
	t.Helper()
	var out []PullResult[string, int]
	for i := 0; i < max; i++ {
		res := s.PullRequest(now)
		if res.Kind != PullReturning {
			break
		}
		out = append(out, res)
	}
	return out
}

// TestReservationDispatchSpacing is spec scenario 1: a single R client with
// reservation=100 dispatches 100 requests over roughly one second, spaced
// no closer than 1/reservation apart.
func TestReservationDispatchSpacing(t *testing.T) {
	info := NewClientInfo(100, 0, 100, ClientReservation)
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{"r1": info}), 10, 60, 5,
		WithCapacity[string, int](100, 1))

	for i := 0; i < 100; i++ {
		s.AddRequest(i, "r1", DefaultReqParams, 0)
	}

	now := Time(0)
	var times []Time
	for len(times) < 100 {
		res := s.PullRequest(now)
		switch res.Kind {
		case PullReturning:
			require.Equal(t, PhaseReservation, res.Phase)
			times = append(times, now)
		case PullFuture:
			require.Greater(t, res.WhenReady, now)
			now = res.WhenReady
		case PullNone:
			t.Fatalf("dispatched only %d of 100 requests before running dry", len(times))
		}
	}

	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, float64(times[i]-times[i-1]), 0.01-1e-9)
	}
	assert.LessOrEqual(t, float64(times[len(times)-1]), 1.0+1e-6)
}

// TestBurstWeightRatio is spec scenario 2: two saturated B clients with
// weights 1 and 3 sharing capacity 400 split dispatches exactly 1:3 within
// one window, since resource shares are integral (100 and 300).
func TestBurstWeightRatio(t *testing.T) {
	clients := map[string]*ClientInfo{
		"b1": NewClientInfo(0, 1, 0, ClientBurst),
		"b2": NewClientInfo(0, 3, 0, ClientBurst),
	}
	s := New[string, int](fixedClientInfo(clients), 10, 60, 5,
		WithCapacity[string, int](400, 1))

	for i := 0; i < 500; i++ {
		s.AddRequest(i, "b1", DefaultReqParams, 0)
		s.AddRequest(i, "b2", DefaultReqParams, 0)
	}

	results := drainAll(t, s, 0, 2000)

	var c1, c2 int
	for _, r := range results {
		switch r.Client {
		case "b1":
			c1++
		case "b2":
			c2++
		}
	}

	assert.Equal(t, 100, c1)
	assert.Equal(t, 300, c2)
}

// TestMixedRBADispatchOrdering is spec scenario 3: with an R, a B and an A
// client sharing capacity, the R client gets its reservation dispatches,
// the B client fills its resource share first, and only once that share
// is exhausted does the A client get a look in.
func TestMixedRBADispatchOrdering(t *testing.T) {
	clients := map[string]*ClientInfo{
		"r": NewClientInfo(50, 0, 50, ClientReservation),
		"b": NewClientInfo(0, 1, 0, ClientBurst),
		"a": NewClientInfo(0, 1, 0, ClientArea),
	}
	// capacity/winSize are chosen so b's resource share (20) binds well
	// before its 200 queued requests run out, while the window itself
	// (2s) comfortably outlasts the ~1s it takes r to reach 50
	// reservation dispatches at reservation=50.
	s := New[string, int](fixedClientInfo(clients), 10, 60, 5,
		WithCapacity[string, int](20, 2))

	for i := 0; i < 200; i++ {
		s.AddRequest(i, "r", DefaultReqParams, 0)
		s.AddRequest(i, "b", DefaultReqParams, 0)
	}
	s.AddRequest(0, "a", DefaultReqParams, 0)

	// r's reservation tag starts at reservation_inv (~0.02), so a fixed
	// now never satisfies rule 1: follow WhenReady like scenario 1 does.
	var rCount, bCount, aCount int
	now := Time(0)
	for i := 0; i < 1000 && (rCount < 50 || aCount == 0); i++ {
		res := s.PullRequest(now)
		switch res.Kind {
		case PullReturning:
			switch res.Client {
			case "r":
				rCount++
				assert.Equal(t, PhaseReservation, res.Phase)
			case "b":
				bCount++
			case "a":
				aCount++
				// A only ever competes for best-effort share; by the
				// time it gets one, B must already have received some.
				assert.Greater(t, bCount, 0)
			}
		case PullFuture:
			require.Greater(t, res.WhenReady, now)
			now = res.WhenReady
		case PullNone:
			t.Fatal("scheduler ran dry before R reached 50 dispatches and A dispatched at least once")
		}
	}

	assert.GreaterOrEqual(t, rCount, 50)
	assert.Greater(t, bCount, 0)
	assert.Greater(t, aCount, 0)
}

// TestIdleReentryRealignsProportion is spec scenario 4: a client that sits
// idle picks up the current lowest active proportion tag on re-entry
// instead of resuming its own stale history.
func TestIdleReentryRealignsProportion(t *testing.T) {
	clients := map[string]*ClientInfo{
		"active": NewClientInfo(0, 1, 0, ClientArea),
		"idler":  NewClientInfo(0, 1, 0, ClientArea),
	}
	s := New[string, int](fixedClientInfo(clients), 1, 60, 1,
		WithCapacity[string, int](1, 1))

	s.AddRequest(0, "active", DefaultReqParams, 0)
	s.AddRequest(0, "idler", DefaultReqParams, 0)

	idler := s.clients["idler"]
	require.NotNil(t, idler)

	// force idler into the idle state the janitor would otherwise set,
	// and drop its queued request so its next tag is computed from its
	// own prev_tag.
	idler.idle = true
	idler.requests = nil
	s.heaps.adjust(idler)

	active := s.clients["active"]
	activeTag, ok := active.headTag()
	require.True(t, ok)
	lowestProportion := activeTag.Proportion

	s.AddRequest(1, "idler", DefaultReqParams, 5)

	// the raw tag comes from idler's own prev_tag and its arrival time (5);
	// what must match the lowest active proportion is the *effective* key the
	// heap orders by, tag.Proportion + prop_delta (§4.2 step 3).
	_, _, effective := s.heaps.best.effectiveKey(idler)
	assert.InDelta(t, lowestProportion, effective, 1e-6)
	assert.False(t, idler.idle)
}

// TestAllowLimitBreakFallback is spec scenario 5: with allow_limit_break
// enabled, a single rate-limited B client dispatches once through the
// ordinary resource-budget path and the rest through the limit-break
// fallback.
func TestAllowLimitBreakFallback(t *testing.T) {
	info := NewClientInfo(0, 1, 1, ClientBurst)
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{"b1": info}), 10, 60, 5,
		WithCapacity[string, int](1, 1),
		WithLimitBreak[string, int]())

	for i := 0; i < 10; i++ {
		s.AddRequest(i, "b1", DefaultReqParams, 0)
	}

	// rule 8 ignores readiness, so at now=0 every request would fall
	// straight through to limit-break: the ordinary rule 3 dispatch only
	// gets a turn once rule 2 has actually promoted the head request,
	// which needs now >= its limit tag of 1. From then on every later
	// request's own limit tag is further out still than this fixed now,
	// so it never gets promoted and always falls through to rule 8.
	results := drainAll(t, s, 1, 100)
	require.Len(t, results, 10)

	rec := s.clients["b1"]
	assert.Equal(t, uint64(1), rec.bCounter)
	assert.Equal(t, uint64(9), rec.bBreakLimitCounter)
}

// TestJanitorIdleThenErase is spec scenario 6: a quiescent client is marked
// idle after idle_age and erased (dropped from total_wgt) after erase_age.
func TestJanitorIdleThenErase(t *testing.T) {
	info := NewClientInfo(0, 2, 0, ClientBurst)
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{"b1": info}), 10, 20, 5,
		WithCapacity[string, int](1, 1))

	s.AddRequest(0, "b1", DefaultReqParams, 0)
	_ = s.PullRequest(0)

	// mimic the janitor's own check_time cadence: it needs a history of
	// mark points, not a single sample, before an idle_age-old one exists.
	s.Clean(0)
	s.Clean(5)
	s.Clean(10)

	rec, ok := s.clients["b1"]
	require.True(t, ok)
	assert.True(t, rec.idle)
	assert.Greater(t, s.totalWgt, 0.0)

	s.Clean(15)
	s.Clean(20)

	_, ok = s.clients["b1"]
	assert.False(t, ok)
	assert.Equal(t, 0.0, s.totalWgt)
}

// TestPullRoundTripIsIdempotentOnNone verifies the round-trip property of
// §8: polling an empty scheduler repeatedly returns the same None variant.
func TestPullRoundTripIsIdempotentOnNone(t *testing.T) {
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{}), 10, 60, 5)

	first := s.PullRequest(0)
	second := s.PullRequest(1)

	assert.Equal(t, PullNone, first.Kind)
	assert.Equal(t, PullNone, second.Kind)
}

// TestPullReturningStrictlyDrainsQueue verifies that each Returning result
// decreases the total queued-request count by exactly one.
func TestPullReturningStrictlyDrainsQueue(t *testing.T) {
	info := NewClientInfo(0, 1, 0, ClientArea)
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{"a1": info}), 10, 60, 5,
		WithCapacity[string, int](1, 1))

	for i := 0; i < 5; i++ {
		s.AddRequest(i, "a1", DefaultReqParams, 0)
	}

	queued := func() int { return len(s.clients["a1"].requests) }

	for queued() > 0 {
		before := queued()
		res := s.PullRequest(0)
		require.Equal(t, PullReturning, res.Kind)
		assert.Equal(t, before-1, queued())
	}
}

// TestAddRequestPanicsOnUnknownClient exercises the assertion path (§7):
// client_info_f returning nil is a structural error, not a transient one.
func TestAddRequestPanicsOnUnknownClient(t *testing.T) {
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{}), 10, 60, 5)

	assert.Panics(t, func() {
		s.AddRequest(0, "ghost", DefaultReqParams, 0)
	})
}

// TestNewPanicsOnBadJanitorAges checks the constructor invariant that
// erase_age >= idle_age >= check_time.
func TestNewPanicsOnBadJanitorAges(t *testing.T) {
	assert.Panics(t, func() {
		New[string, int](fixedClientInfo(nil), 60, 10, 5)
	})
}

// TestPoolNoExistClientIsRetainedNotErrored covers §7's transient
// condition: a client whose ClientInfo has every rate at zero is not an
// error: it is retained in the best-effort heaps with zero weight (its
// unbounded tags never win a dispatch) until the janitor erases it.
func TestPoolNoExistClientIsRetainedNotErrored(t *testing.T) {
	info := NewClientInfo(0, 0, 0, ClientOther)
	s := New[string, int](fixedClientInfo(map[string]*ClientInfo{"gone": info}), 10, 60, 5)

	assert.NotPanics(t, func() {
		s.AddRequest(0, "gone", DefaultReqParams, 0)
	})
	assert.Equal(t, 0.0, s.totalWgt)
}

// TestReservationCompensationAppliesOnceThresholdMetAndCapsAtTenPercent
// covers §4.4/§4.6: an R client only gets an r_compensation bump once its
// served count over the window reaches 80% of its reservation target, the
// bump is the remaining shortfall to that target, and it is clamped to 10%
// of reservation. A client that never reaches the threshold keeps whatever
// compensation it already had.
func TestReservationCompensationAppliesOnceThresholdMetAndCapsAtTenPercent(t *testing.T) {
	clients := map[string]*ClientInfo{
		"over":  NewClientInfo(100, 0, 0, ClientReservation),
		"under": NewClientInfo(100, 0, 0, ClientReservation),
	}
	s := New[string, int](fixedClientInfo(clients), 10, 60, 5,
		WithCapacity[string, int](200, 1),
		WithTelemetry[string, int](noopTelemetrySink{}))

	s.AddRequest(0, "over", DefaultReqParams, 0)
	s.AddRequest(0, "under", DefaultReqParams, 0)

	over := s.clients["over"]
	under := s.clients["under"]

	// "over" served 80 of its 100-request target this window (exactly the
	// 80% threshold); "under" served only 50.
	over.r0Counter = 80
	under.r0Counter = 50

	s.winStart = 0
	s.maybeRollWindow(Time(s.winSize))

	// the 20-request shortfall to target clamps down to 10% of
	// reservation (10), not the full 20.
	assert.InDelta(t, 10.0, over.rCompensation, 1e-9)
	require.NotNil(t, over.compensatedInfo)
	assert.InDelta(t, 110.0, over.compensatedInfo.Reservation, 1e-9)

	assert.Equal(t, 0.0, under.rCompensation)
}

// TestClassMigrationSubtractsOldWeightBeforeAddingNew covers §4.7: moving a
// client from a weight-contributing class to ClientOther (which never
// contributes) must net total_wgt down to what the remaining clients
// account for, not leave the old contribution stranded.
func TestClassMigrationSubtractsOldWeightBeforeAddingNew(t *testing.T) {
	burstInfo := NewClientInfo(0, 5, 0, ClientBurst)
	otherInfo := NewClientInfo(0, 7, 0, ClientOther)

	clientInfoFunc, swap := swappableClientInfo(map[string]*ClientInfo{"c": burstInfo})
	s := New[string, int](clientInfoFunc, 10, 60, 5,
		WithCapacity[string, int](100, 1),
		WithTelemetry[string, int](noopTelemetrySink{}))

	s.AddRequest(0, "c", DefaultReqParams, 0)
	require.InDelta(t, 5.0, s.totalWgt, 1e-9)

	swap("c", otherInfo)
	s.winStart = 0
	s.maybeRollWindow(Time(s.winSize))

	rec := s.clients["c"]
	require.Same(t, otherInfo, rec.info)
	// ClientOther never contributes: the old Burst weight (5) is
	// subtracted and the new class contributes nothing, so total_wgt
	// nets to zero rather than sitting at 5 or jumping to 12.
	assert.Equal(t, 0.0, s.totalWgt)

	// migrating back the other way must symmetrically re-add the weight.
	backInfo := NewClientInfo(0, 3, 0, ClientArea)
	swap("c", backInfo)
	s.winStart = Time(s.winSize)
	s.maybeRollWindow(Time(2 * s.winSize))

	require.Same(t, backInfo, s.clients["c"].info)
	assert.InDelta(t, 3.0, s.totalWgt, 1e-9)
}

// TestWeightChangeWithoutClassChangeProducesCompetitiveTag is a regression
// test for updateReqTag: a client whose weight is 0 collapses its
// proportion tag to the maxTag sentinel; when reconcileClientInfo later
// raises that client's weight without a class change (§4.4), the client
// must be able to compute a finite,
// competitive proportion tag again instead of staying pinned at maxTag
// forever because a sentinel value got baked into prev_tag.
func TestWeightChangeWithoutClassChangeProducesCompetitiveTag(t *testing.T) {
	zeroWeight := NewClientInfo(1, 0, 0, ClientArea)

	clientInfoFunc, swap := swappableClientInfo(map[string]*ClientInfo{"w": zeroWeight})
	s := New[string, int](clientInfoFunc, 10, 60, 5,
		WithCapacity[string, int](100, 1),
		WithTelemetry[string, int](noopTelemetrySink{}))

	s.AddRequest(0, "w", DefaultReqParams, 0)

	rec := s.clients["w"]
	tag, ok := rec.headTag()
	require.True(t, ok)
	require.GreaterOrEqual(t, tag.Proportion, maxTag)

	// clear the queue so window roll-over sees no pending head tag to
	// carry forward, and the client's next proportion tag is computed
	// purely from prev_tag.
	rec.requests = nil

	positiveWeight := NewClientInfo(1, 5, 0, ClientArea)
	swap("w", positiveWeight)

	s.winStart = 0
	s.maybeRollWindow(Time(s.winSize))
	require.Same(t, positiveWeight, s.clients["w"].info)

	s.AddRequest(1, "w", DefaultReqParams, Time(s.winSize))

	next, ok := rec.headTag()
	require.True(t, ok)
	assert.Less(t, next.Proportion, maxTag)
}
