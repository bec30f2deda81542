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

import "time"

// CanHandleFunc reports whether the server has room to accept another
// dispatch right now (§4.8's can_handle).
type CanHandleFunc func() bool

// HandleFunc is invoked by the push facade's background worker for each
// dispatched request. It is expected to be infallible with respect to the
// scheduler (§7): the worker does not retry it and does not hold the
// scheduler's lock while it runs.
type HandleFunc[C comparable, R any] func(client C, request R, phase Phase)

// pushWorker owns the push facade's single background goroutine: it
// sleeps until AddRequest/RequestCompleted wake it or a previously
// reported Future time arrives, consults the dispatch ladder, and hands
// anything eligible to handle if canHandle allows it.
type pushWorker[C comparable, R any] struct {
	canHandle CanHandleFunc
	handle    HandleFunc[C, R]
	clock     func() Time

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// StartPush switches the Scheduler into push mode (§4.8): it launches the
// single background goroutine that drains the dispatch ladder whenever
// canHandle permits, invoking handle for each dispatched request. clock
// supplies the current time in the scheduler's own time domain each time
// the worker wakes. StartPush panics if called twice or after Close.
func (s *Scheduler[C, R]) StartPush(canHandle CanHandleFunc, handle HandleFunc[C, R], clock func() Time) {
	s.mu.Lock()
	if s.push != nil {
		s.mu.Unlock()
		panic(assertionf("StartPush: push facade already started"))
	}
	if s.finishing {
		s.mu.Unlock()
		panic(assertionf("StartPush: scheduler is closed"))
	}
	w := &pushWorker[C, R]{
		canHandle: canHandle,
		handle:    handle,
		clock:     clock,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.push = w
	s.mu.Unlock()

	go s.runPushWorker(w)
}

// RequestCompleted signals the push worker that the caller can accept
// another dispatch (§6). It is a no-op in pull mode.
func (s *Scheduler[C, R]) RequestCompleted() {
	s.notifyPush()
}

// notifyPush wakes the push worker, if one is running. It never blocks:
// the wake channel is a 1-buffered "there is news" flag, not a queue.
func (s *Scheduler[C, R]) notifyPush() {
	s.mu.Lock()
	w := s.push
	s.mu.Unlock()
	if w == nil {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler[C, R]) runPushWorker(w *pushWorker[C, R]) {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		case <-timer.C:
		}

		for {
			if !w.canHandle() {
				break
			}

			s.mu.Lock()
			if s.finishing {
				s.mu.Unlock()
				return
			}
			next := s.nextRequest(w.clock())

			switch next.kind {
			case nextNone:
				s.mu.Unlock()
				stopTimer(timer)
			case nextFuture:
				s.mu.Unlock()
				armTimer(timer, next.whenReady, w.clock())
			case nextReturning:
				result := s.popProcessRequest(next, w.clock())
				s.mu.Unlock()
				// handle runs outside s.mu (§5): the caller's callback
				// must not be able to deadlock by re-entering the
				// scheduler while we hold the lock across it.
				w.handle(result.client, result.request, result.phase)
				continue
			}
			break
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func armTimer(t *time.Timer, whenReady, now Time) {
	stopTimer(t)
	d := time.Duration(float64(whenReady-now) * float64(time.Second))
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
