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
	"math"
	"sync"

	logger "github.com/containers/dmqos/pkg/log"
)

var log = logger.Get("scheduler")

// ClientInfoFunc resolves the current QoS parameters for a client. The
// scheduler caches the returned pointer between window boundaries and
// re-invokes this function only at window roll-over (§4.4, §5); it must
// not mutate the ClientInfo it hands back.
type ClientInfoFunc[C comparable] func(client C) *ClientInfo

// markPoint is one janitor sample: the logical tick counter observed at a
// point in scheduling time, used to translate an age threshold into a
// tick cutoff (§4.9).
type markPoint struct {
	at   Time
	tick uint64
}

// Scheduler is a multi-class QoS request scheduler. C is the caller's
// client-id type, R is the caller's request payload type. The zero value
// is not usable; construct one with New.
type Scheduler[C comparable, R any] struct {
	mu    sync.Mutex // serializes AddRequest, PullRequest, RequestCompleted, Clean, class-migration
	winMu sync.Mutex // try-locked at window roll-over so the hot path never blocks on it

	clientInfoFunc      ClientInfoFunc[C]
	idleAge             float64
	eraseAge            float64
	checkTime           float64
	allowLimitBreak     bool
	anticipationTimeout float64
	systemCapacity      float64
	winSize             float64
	immediateTags       bool

	heaps        *heapSet[C, R]
	clients      map[C]*ClientRec[C, R]
	nextClientNo uint64

	tick     uint64
	totalWgt float64
	winStart Time

	markPoints []markPoint

	telemetry TelemetrySink
	metrics   *collector[C, R]

	push      *pushWorker[C, R]
	janitor   *janitor[C, R]
	finishing bool
}

// Option configures a Scheduler at construction time.
type Option[C comparable, R any] func(*Scheduler[C, R])

// WithCapacity sets the system's total service rate and the accounting
// window length, in requests/second and seconds respectively.
func WithCapacity[C comparable, R any](systemCapacity, winSize float64) Option[C, R] {
	return func(s *Scheduler[C, R]) {
		s.systemCapacity = systemCapacity
		s.winSize = winSize
	}
}

// WithAnticipationTimeout sets the anticipation window (§4.1) that lets a
// briefly-idle client resume tag arithmetic from where it left off instead
// of resetting to the current time.
func WithAnticipationTimeout[C comparable, R any](seconds float64) Option[C, R] {
	return func(s *Scheduler[C, R]) { s.anticipationTimeout = seconds }
}

// WithLimitBreak enables dispatch ladder rule 8 (§4.4).
func WithLimitBreak[C comparable, R any]() Option[C, R] {
	return func(s *Scheduler[C, R]) { s.allowLimitBreak = true }
}

// WithHeapArity sets the branching factor of the underlying d-ary heaps.
// The default, matching dmClock's own default, is a binary heap.
func WithHeapArity[C comparable, R any](arity int) Option[C, R] {
	return func(s *Scheduler[C, R]) {
		if arity >= 2 {
			s.heaps = newHeapSet[C, R](arity)
		}
	}
}

// WithImmediateTags disables the deferred-tag optimization of §4.2/§9:
// every request's tag is materialized at insertion time instead of only
// the head of each client's queue. This is a supplemented feature carried
// over from the original implementation purely for A/B behavioral testing;
// it changes no externally visible dispatch policy.
func WithImmediateTags[C comparable, R any]() Option[C, R] {
	return func(s *Scheduler[C, R]) { s.immediateTags = true }
}

// WithTelemetry installs the sink that receives one record per client at
// every window boundary (§6). The default sink appends to scheduling.txt
// in the working directory, matching the format spec.md §6 mandates.
func WithTelemetry[C comparable, R any](sink TelemetrySink) Option[C, R] {
	return func(s *Scheduler[C, R]) { s.telemetry = sink }
}

// New constructs a Scheduler. idleAge, eraseAge and checkTime are in
// seconds and must satisfy eraseAge >= idleAge >= checkTime (§4.9); New
// panics if they don't, since this is a caller programming error, not a
// runtime condition.
func New[C comparable, R any](clientInfoFunc ClientInfoFunc[C], idleAge, eraseAge, checkTime float64, opts ...Option[C, R]) *Scheduler[C, R] {
	if clientInfoFunc == nil {
		panic(assertionf("New: clientInfoFunc must not be nil"))
	}
	if !(eraseAge >= idleAge && idleAge >= checkTime) {
		panic(assertionf("New: janitor ages must satisfy erase_age >= idle_age >= check_time (got %v, %v, %v)", eraseAge, idleAge, checkTime))
	}

	s := &Scheduler[C, R]{
		clientInfoFunc: clientInfoFunc,
		idleAge:        idleAge,
		eraseAge:       eraseAge,
		checkTime:      checkTime,
		systemCapacity: 1,
		winSize:        1,
		heaps:          newHeapSet[C, R](defaultHeapArity),
		clients:        map[C]*ClientRec[C, R]{},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.telemetry == nil {
		s.telemetry = NewFileTelemetrySink(defaultTelemetryPath)
	}

	return s
}

// clientRecFor locates or creates the ClientRec for client, performing the
// class-appropriate heap pushes and total_wgt bookkeeping the first time
// (§4.2 step 2). Callers must hold s.mu.
func (s *Scheduler[C, R]) clientRecFor(client C, t Time) *ClientRec[C, R] {
	if rec, ok := s.clients[client]; ok {
		return rec
	}

	info := s.clientInfoFunc(client)
	if info == nil {
		panic(assertionf("client_info_f returned nil for client %v", client))
	}

	s.nextClientNo++
	rec := newClientRec[C, R](client, info, s.nextClientNo, s.tick)
	s.heaps.push(rec)
	s.clients[client] = rec

	if info.ClientType.contributesWeight() {
		s.addTotalWgtAndUpdateClientRes(info.Weight)
	} else {
		s.updateClientRes()
	}

	return rec
}

// addTotalWgtAndUpdateClientRes adjusts total_wgt by delta and
// recomputes every client's resource share (§3, §4.7). Callers must hold
// s.mu.
func (s *Scheduler[C, R]) addTotalWgtAndUpdateClientRes(delta float64) {
	s.totalWgt += delta
	s.updateClientRes()
}

// updateClientRes recomputes resource = system_capacity * weight *
// win_size / total_wgt for every client, matching update_client_res in
// the original implementation.
func (s *Scheduler[C, R]) updateClientRes() {
	if s.totalWgt <= 0 {
		return
	}
	for _, c := range s.clients {
		c.resource = s.systemCapacity * c.info.Weight * s.winSize / s.totalWgt
	}
}

// AddRequest enqueues request on behalf of client (§4.2). now is the
// caller's current time in the scheduler's own time domain; params
// carries the rho/delta distance counters (tag arithmetic treats a zero
// Rho or Delta as 1, so ReqParams{} behaves like DefaultReqParams).
func (s *Scheduler[C, R]) AddRequest(request R, client C, params ReqParams, now Time) {
	s.mu.Lock()

	s.tick++

	rec := s.clientRecFor(client, now)

	if rec.idle {
		s.realignIdleClient(rec, now)
	}

	if s.immediateTags {
		tag := newRequestTag(rec.reqTag(), rec.effectiveInfo(), params, now, s.anticipationTimeout)
		rec.updateReqTag(tag, s.tick)
		rec.pushRequest(tag, request)
	} else {
		var tag RequestTag
		if !rec.hasRequest() {
			tag = newRequestTag(rec.reqTag(), rec.effectiveInfo(), params, now, s.anticipationTimeout)
			rec.updateReqTag(tag, s.tick)
		} else {
			// deferred: this entry's real tag is computed at pop time
			// from the then-current (rho, delta); it carries only its
			// arrival time and floating (never-consulted) tag fields
			// until then.
			tag = RequestTag{Arrival: now}
		}
		rec.pushRequest(tag, request)
	}

	rec.curRho = params.Rho
	rec.curDelta = params.Delta

	s.heaps.adjust(rec)
	s.mu.Unlock()

	// wake the push worker, if any, outside the lock (§5): AddRequest
	// itself never blocks on the push facade's callbacks.
	s.notifyPush()
}

// realignIdleClient implements §4.2 step 3: an idle client re-entering
// picks up the lowest proportion tag currently in play (across all
// non-idle clients) rather than the tag its own history would otherwise
// dictate, so it doesn't either starve or steamroll everyone else purely
// because of how long it was idle.
func (s *Scheduler[C, R]) realignIdleClient(rec *ClientRec[C, R], now Time) {
	const lowestPropTagTrigger = maxTag / 3

	lowest := math.MaxFloat64
	for _, c := range s.clients {
		if c == rec || c.idle {
			continue
		}
		var p float64
		if tag, ok := c.headTag(); ok {
			p = tag.Proportion + c.propDelta
		} else {
			p = c.prevTag.Proportion + c.propDelta
		}
		if p < lowest {
			lowest = p
		}
	}

	if lowest < lowestPropTagTrigger {
		rec.propDelta = lowest - float64(now)
	}
	rec.idle = false
}
