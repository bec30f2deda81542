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

	"github.com/prometheus/client_golang/prometheus"

	metrics "github.com/containers/dmqos/pkg/metrics"
)

// collector is a prometheus.Collector exposing the scheduler's per-client,
// per-class counters (§4.6) and global accounting state (§3) alongside the
// scheduling.txt telemetry sink required by spec.md §6: the file is the
// spec-mandated record, this is the ambient operational view any service
// in this space carries.
type collector[C comparable, R any] struct {
	s *Scheduler[C, R]

	totalWgt      *prometheus.Desc
	resource      *prometheus.Desc
	rCompensation *prometheus.Desc
	queueDepth    *prometheus.Desc
	served        *prometheus.Desc
	brokenLimit   *prometheus.Desc
}

func newCollector[C comparable, R any](s *Scheduler[C, R]) *collector[C, R] {
	return &collector[C, R]{
		s: s,
		totalWgt: prometheus.NewDesc(
			"total_weight", "Sum of weights of active non-O clients.", nil, nil),
		resource: prometheus.NewDesc(
			"client_resource", "Per-window resource share of a client.", []string{"client", "class"}, nil),
		rCompensation: prometheus.NewDesc(
			"client_reservation_compensation", "Additive reservation-rate boost for an under-served R client.", []string{"client"}, nil),
		queueDepth: prometheus.NewDesc(
			"client_queue_depth", "Number of requests currently queued for a client.", []string{"client", "class"}, nil),
		served: prometheus.NewDesc(
			"client_dispatches_total", "Requests dispatched for a client in the current window, by class path.", []string{"client", "class", "path"}, nil),
		brokenLimit: prometheus.NewDesc(
			"client_limit_break_dispatches_total", "Requests dispatched for a client past its limit in the current window.", []string{"client", "class", "path"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *collector[C, R]) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalWgt
	ch <- c.resource
	ch <- c.rCompensation
	ch <- c.queueDepth
	ch <- c.served
	ch <- c.brokenLimit
}

// Collect implements prometheus.Collector. It takes the scheduler's lock
// for the duration of the snapshot, the same as any other read of shared
// scheduler state.
func (c *collector[C, R]) Collect(ch chan<- prometheus.Metric) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.totalWgt, prometheus.GaugeValue, c.s.totalWgt)

	for id, rec := range c.s.clients {
		name := fmt.Sprintf("%v", id)
		class := rec.info.ClientType.String()

		ch <- prometheus.MustNewConstMetric(c.resource, prometheus.GaugeValue, rec.resource, name, class)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(len(rec.requests)), name, class)

		if rec.info.ClientType == ClientReservation {
			ch <- prometheus.MustNewConstMetric(c.rCompensation, prometheus.GaugeValue, rec.rCompensation, name)
		}

		ch <- prometheus.MustNewConstMetric(c.served, prometheus.CounterValue, float64(rec.r0Counter), name, class, "reservation")
		ch <- prometheus.MustNewConstMetric(c.served, prometheus.CounterValue, float64(rec.deltarCounter), name, class, "deltar")
		ch <- prometheus.MustNewConstMetric(c.served, prometheus.CounterValue, float64(rec.bCounter), name, class, "burst")
		ch <- prometheus.MustNewConstMetric(c.served, prometheus.CounterValue, float64(rec.beCounter), name, class, "best_effort")

		ch <- prometheus.MustNewConstMetric(c.brokenLimit, prometheus.CounterValue, float64(rec.r0BreakLimitCounter), name, class, "reservation")
		ch <- prometheus.MustNewConstMetric(c.brokenLimit, prometheus.CounterValue, float64(rec.deltarBreakLimitCounter), name, class, "deltar")
		ch <- prometheus.MustNewConstMetric(c.brokenLimit, prometheus.CounterValue, float64(rec.bBreakLimitCounter), name, class, "burst")
		ch <- prometheus.MustNewConstMetric(c.brokenLimit, prometheus.CounterValue, float64(rec.beBreakLimitCounter), name, class, "best_effort")
	}
}

// RegisterMetrics wires this Scheduler's collector into the default
// pkg/metrics registry under name, the same way every other collector in
// this repository registers itself.
func (s *Scheduler[C, R]) RegisterMetrics(name string) error {
	s.mu.Lock()
	if s.metrics == nil {
		s.metrics = newCollector[C, R](s)
	}
	c := s.metrics
	s.mu.Unlock()

	return metrics.Register(name, c, metrics.WithGroup("scheduler"))
}
