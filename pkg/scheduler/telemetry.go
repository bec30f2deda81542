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
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// defaultTelemetryPath is where the built-in FileTelemetrySink appends its
// records, matching spec.md §6's "scheduling.txt in the working directory".
const defaultTelemetryPath = "scheduling.txt"

// TelemetrySink receives one record per client at every window boundary
// (§6). It is an out-of-scope external collaborator per spec.md §1; the
// scheduler only ever calls it with s.mu held, so implementations must not
// call back into the Scheduler.
type TelemetrySink interface {
	// Record appends the per-window counters line for rec.
	Record(now Time, rec any)
	// RecordUpdate appends the "update: (old) -> (new)" line that
	// precedes a client's regular record when its ClientInfo changed.
	RecordUpdate(client any, old, new *ClientInfo)
}

// FileTelemetrySink is the default TelemetrySink: it appends plain-text
// records to a file in the exact format spec.md §6 mandates.
type FileTelemetrySink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFileTelemetrySink returns a sink that appends to path, creating it if
// necessary. The file is opened lazily, on the first write, so
// constructing a Scheduler never touches the filesystem before it has
// anything to report.
func NewFileTelemetrySink(path string) *FileTelemetrySink {
	return &FileTelemetrySink{path: path}
}

func (s *FileTelemetrySink) open() error {
	if s.f != nil {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open telemetry file %q", s.path)
	}
	s.f = f
	return nil
}

// Record appends one client's per-window record. rec must be a
// *ClientRec[C, R] for some C, R; Record reads the fields it needs
// through the clientSnapshot interface so this sink stays non-generic,
// and ignores any other value.
func (s *FileTelemetrySink) Record(now Time, rec any) {
	snap, ok := rec.(clientSnapshot)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		log.Errorf("telemetry: %v", err)
		return
	}

	name := fmt.Sprintf("%s_%d", snap.Type(), snap.No())
	fmt.Fprintf(s.f, "%v,%s(%v, %v+%v,%v, %v):\n  %d, %d, %d, %d,\n  %d, %d, %d, %d\n",
		now, name, snap.Resource(), snap.Reservation(), snap.RCompensation(), snap.Weight(), snap.Limit(),
		snap.R0(), snap.R0BreakLimit(), snap.DeltaR(), snap.DeltaRBreakLimit(),
		snap.B(), snap.BBreakLimit(), snap.BE(), snap.BEBreakLimit(),
	)
}

// RecordUpdate appends the "update: (old) -> (new)" line spec.md §6
// requires immediately before a client's record when its ClientInfo
// changed class or parameters since the last window.
func (s *FileTelemetrySink) RecordUpdate(client any, old, new *ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.open(); err != nil {
		log.Errorf("telemetry: %v", err)
		return
	}

	fmt.Fprintf(s.f, "update: (%s,%v,%v,%v) -> (%s,%v,%v,%v)\n",
		old.ClientType, old.Reservation, old.Weight, old.Limit,
		new.ClientType, new.Reservation, new.Weight, new.Limit,
	)
}

// Close flushes and closes the underlying file, if it was ever opened.
func (s *FileTelemetrySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// clientSnapshot is the narrow, non-generic view of a ClientRec a
// TelemetrySink needs. *ClientRec[C, R] implements it for any C, R.
type clientSnapshot interface {
	Type() ClientType
	No() uint64
	Resource() float64
	Reservation() float64
	RCompensation() float64
	Weight() float64
	Limit() float64
	R0() uint64
	R0BreakLimit() uint64
	DeltaR() uint64
	DeltaRBreakLimit() uint64
	B() uint64
	BBreakLimit() uint64
	BE() uint64
	BEBreakLimit() uint64
}

func (c *ClientRec[C, R]) Type() ClientType         { return c.info.ClientType }
func (c *ClientRec[C, R]) No() uint64               { return c.clientNo }
func (c *ClientRec[C, R]) Resource() float64        { return c.resource }
func (c *ClientRec[C, R]) Reservation() float64     { return c.info.Reservation }
func (c *ClientRec[C, R]) RCompensation() float64   { return c.rCompensation }
func (c *ClientRec[C, R]) Weight() float64          { return c.info.Weight }
func (c *ClientRec[C, R]) Limit() float64           { return c.info.Limit }
func (c *ClientRec[C, R]) R0() uint64               { return c.r0Counter }
func (c *ClientRec[C, R]) R0BreakLimit() uint64     { return c.r0BreakLimitCounter }
func (c *ClientRec[C, R]) DeltaR() uint64           { return c.deltarCounter }
func (c *ClientRec[C, R]) DeltaRBreakLimit() uint64 { return c.deltarBreakLimitCounter }
func (c *ClientRec[C, R]) B() uint64                { return c.bCounter }
func (c *ClientRec[C, R]) BBreakLimit() uint64      { return c.bBreakLimitCounter }
func (c *ClientRec[C, R]) BE() uint64               { return c.beCounter }
func (c *ClientRec[C, R]) BEBreakLimit() uint64     { return c.beBreakLimitCounter }
