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

// Package scheduler implements a multi-class QoS request scheduler in the
// dmClock family: per-client reservation, weight and limit tags drive a set
// of priority heaps that a caller drains either by polling (Pull) or by
// handing the scheduler a submit callback (Push).
package scheduler

import (
	"math"
)

// Time is the scheduler's notion of the current instant: a monotonic,
// real-valued number of seconds. Callers supply it explicitly to every
// operation so tests can drive the scheduler without real time passing.
type Time float64

// TimeZero is the sentinel for "not a real time" (an unset field). Its value
// is 0, so it cannot be told apart from an actual timestamp of 0.
const TimeZero Time = 0

// TimeMax is the largest representable Time, used as the disabled/unset
// resume-at value.
const TimeMax Time = Time(math.MaxFloat64)

// maxTag and minTag are the sentinels a rate of 0 collapses a tag field to:
// a client with no reservation, weight or limit configured never blocks or
// is never favored on that dimension.
const (
	maxTag = math.MaxFloat64 / 3
	minTag = -math.MaxFloat64 / 3
)

// ClientType partitions clients into the four scheduling classes named in
// the heap set (§4.3): Reservation-only, Burst, Area and best-effort. A and
// O share the same pair of heaps; they are kept distinct only so weight
// accounting (ClientType.contributesWeight) can treat O specially.
type ClientType int

const (
	// ClientReservation is a client with a guaranteed minimum rate; its
	// weight governs only its surplus dispatch from deltar_heap. It lives
	// in resv_heap, r_limit_heap, deltar_heap.
	ClientReservation ClientType = iota
	// ClientBurst is a client competing for a proportional share of
	// surplus capacity under a limit; it lives in limit_heap, burst_heap.
	ClientBurst
	// ClientArea is a weighted best-effort client; it lives in
	// best_limit_heap, best_heap.
	ClientArea
	// ClientOther is an unweighted best-effort client. Its weight never
	// contributes to total_wgt, so it never displaces A/B/R clients'
	// resource shares even though it shares A's heaps.
	ClientOther
)

func (t ClientType) String() string {
	switch t {
	case ClientReservation:
		return "R"
	case ClientBurst:
		return "B"
	case ClientArea:
		return "A"
	case ClientOther:
		return "O"
	default:
		return "?"
	}
}

// contributesWeight reports whether a client of this type's weight is
// counted in total_wgt. Only class O is excluded (§4.7, SPEC_FULL.md §5).
func (t ClientType) contributesWeight() bool {
	return t != ClientOther
}

// Phase names the reason a dispatch happened: honoring a client's minimum
// guaranteed rate, or everything else (weight/limit/best-effort).
type Phase int

const (
	// PhaseReservation is a dispatch from resv_heap.
	PhaseReservation Phase = iota
	// PhasePriority is a dispatch from any other heap.
	PhasePriority
)

func (p Phase) String() string {
	if p == PhaseReservation {
		return "reservation"
	}
	return "priority"
}

// heapID names which of the four dispatching heaps (resv_heap, burst_heap,
// deltar_heap, best_heap) a dispatch was pulled from.
type heapID int

const (
	heapReservation heapID = iota
	heapBurst
	heapDeltaR
	heapBestEffort
)

// ReqParams carries the distance counters that accompany a request: how
// many reservation-phase dispatches (rho) and how many dispatches in total
// (delta) happened elsewhere, system-wide, since this client's last
// submission. Both default to 1, matching a client that submits one request
// per round-trip.
type ReqParams struct {
	Rho   uint32
	Delta uint32
}

// DefaultReqParams is the zero-value-safe default used when a caller has no
// distance counters to report.
var DefaultReqParams = ReqParams{Rho: 1, Delta: 1}

// ClientInfo is the immutable-once-installed QoS description of a client:
// its reservation, weight and limit rates in requests/second, and the class
// those rates place it in. A rate of 0 means "unused for this client" and
// collapses the corresponding tag field to +/- infinity.
type ClientInfo struct {
	Reservation float64
	Weight      float64
	Limit       float64
	ClientType  ClientType

	reservationInv float64
	weightInv      float64
	limitInv       float64
}

// NewClientInfo builds a ClientInfo, precomputing the rate inverses tag
// arithmetic needs on every request.
func NewClientInfo(reservation, weight, limit float64, clientType ClientType) *ClientInfo {
	return &ClientInfo{
		Reservation:    reservation,
		Weight:         weight,
		Limit:          limit,
		ClientType:     clientType,
		reservationInv: inv(reservation),
		weightInv:      inv(weight),
		limitInv:       inv(limit),
	}
}

func inv(rate float64) float64 {
	if rate == 0 {
		return 0
	}
	return 1.0 / rate
}

// poolNoExist reports whether this info represents the "pool no-exist"
// transient described in spec.md §7: all three rates are zero. Such a
// client is retained with zero weight until the janitor erases it.
func (ci *ClientInfo) poolNoExist() bool {
	return ci.Reservation == 0 && ci.Weight == 0 && ci.Limit == 0
}

// RequestTag is the triple of scheduling tags a request is stamped with at
// insertion (or, under the deferred-tag optimization, at pop time).
type RequestTag struct {
	Reservation float64
	Proportion  float64
	Limit       float64
	Ready       bool
	Arrival     Time
}

// tagCalc implements the recurrence of spec.md §4.1: a zero rate collapses
// the field to its extreme sentinel; otherwise the field is the later of
// `t` and the previous tag plus the distance-scaled inverse rate.
func tagCalc(t Time, prev float64, invRate float64, dist uint32, extremeIsHigh bool) float64 {
	if invRate == 0 {
		if extremeIsHigh {
			return maxTag
		}
		return minTag
	}
	increment := invRate
	if dist != 0 {
		increment *= float64(dist)
	}
	return math.Max(float64(t), prev+increment)
}

// newRequestTag computes the tags for a new request from the client's
// previous tag, its QoS info, the request's distance counters, the arrival
// time and the anticipation timeout (§4.1). It panics if neither the
// reservation nor the proportion tag ends up finite: a request must be
// schedulable on at least one axis.
func newRequestTag(prev RequestTag, info *ClientInfo, params ReqParams, t Time, anticipationTimeout float64) RequestTag {
	effective := t
	if float64(t)-anticipationTimeout < float64(prev.Arrival) {
		effective = t - Time(anticipationTimeout)
	}

	tag := RequestTag{
		Reservation: tagCalc(effective, prev.Reservation, info.reservationInv, params.Rho, true),
		Proportion:  tagCalc(effective, prev.Proportion, info.weightInv, params.Delta, true),
		Limit:       tagCalc(effective, prev.Limit, info.limitInv, params.Delta, false),
		Ready:       false,
		Arrival:     t,
	}

	// A pool-no-exist client (all rates zero, §7) legitimately collapses
	// both tags to their sentinel: that's the transient condition itself,
	// not a bug, so it is exempt from the invariant below.
	if !info.poolNoExist() && tag.Reservation >= maxTag && tag.Proportion >= maxTag {
		panic(assertionf("tag invariant violated: both reservation and proportion tags are unbounded for a request arriving at %v", t))
	}

	return tag
}
