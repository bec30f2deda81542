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

// Command schedulerd is a demo/integration binary for pkg/scheduler: it
// wires a scheduler instance driven by a synthetic workload generator to
// health and Prometheus HTTP endpoints. It carries no scheduling-protocol
// network transport of its own (spec Non-goal); the listener only serves
// /healthz and /metrics.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/containers/dmqos/pkg/healthz"
	logger "github.com/containers/dmqos/pkg/log"
	"github.com/containers/dmqos/pkg/metrics"
	"github.com/containers/dmqos/pkg/scheduler"
)

var log = logger.Get("schedulerd")

// request is the demo payload dispatched to a client: nothing but an
// identifying sequence number, since this binary never does real work on
// behalf of a request.
type request struct {
	seq uint64
}

func main() {
	m, err := New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "schedulerd: %v\n", err)
		os.Exit(1)
	}

	if err := m.Run(); err != nil {
		log.Errorf("exiting: %v", err)
		os.Exit(1)
	}
}

// Main bundles this demo's runtime state, mirroring the teacher's
// Main-struct-plus-New/Run convention for its command binaries.
type Main struct {
	sched   *scheduler.Scheduler[string, request]
	clients map[string]*scheduler.ClientInfo
	seq     uint64
}

func New() (*Main, error) {
	setupLoggers()
	flag.Parse()

	clients, err := loadClientInfo(opt.ClientInfoFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client info: %w", err)
	}

	m := &Main{clients: clients}

	m.sched = scheduler.New[string, request](
		m.clientInfo,
		opt.IdleAge, opt.EraseAge, opt.CheckTime,
		scheduler.WithCapacity[string, request](opt.SystemCapacity, opt.WinSize),
		scheduler.WithAnticipationTimeout[string, request](opt.AnticipationTimeout),
		scheduler.WithTelemetry[string, request](scheduler.NewFileTelemetrySink(opt.TelemetryFile)),
		optionalLimitBreak(),
	)

	return m, nil
}

func optionalLimitBreak() scheduler.Option[string, request] {
	if opt.AllowLimitBreak {
		return scheduler.WithLimitBreak[string, request]()
	}
	return func(*scheduler.Scheduler[string, request]) {}
}

// clientInfo is this demo's ClientInfoFunc: it resolves a client's QoS
// parameters from the seed table loaded at startup, falling back to a
// best-effort O client for anything not listed there.
func (m *Main) clientInfo(client string) *scheduler.ClientInfo {
	if info, ok := m.clients[client]; ok {
		return info
	}
	return scheduler.NewClientInfo(0, 1, 0, scheduler.ClientOther)
}

func (m *Main) Run() error {
	if err := m.sched.RegisterMetrics("scheduler"); err != nil {
		return fmt.Errorf("failed to register scheduler metrics: %w", err)
	}

	m.sched.StartJanitor(func() scheduler.Time {
		return scheduler.Time(float64(time.Now().UnixNano()) / float64(time.Second))
	})
	m.sched.RegisterHealthCheck("janitor", time.Duration(opt.CheckTime*4)*time.Second)

	defer m.sched.Close()

	mux := http.NewServeMux()
	healthz.Setup(mux)

	gatherer, err := metrics.NewGatherer()
	if err != nil {
		return fmt.Errorf("failed to create metrics gatherer: %w", err)
	}
	defer gatherer.Stop()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorLog: log}))

	go m.generateWorkload()

	log.Infof("serving /healthz and /metrics on %s", opt.Listen)
	return http.ListenAndServe(opt.Listen, mux)
}

// generateWorkload drives AddRequest/PullRequest for the demo's seeded
// clients so the binary produces observable scheduling activity without
// a real caller. It is not part of the scheduler's public surface.
func (m *Main) generateWorkload() {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	if len(names) == 0 {
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := scheduler.Time(float64(time.Now().UnixNano()) / float64(time.Second))
		name := names[rand.Intn(len(names))]
		m.seq++
		m.sched.AddRequest(request{seq: m.seq}, name, scheduler.DefaultReqParams, now)

		for {
			res := m.sched.PullRequest(now)
			if res.Kind != scheduler.PullReturning {
				break
			}
			log.Debugf("dispatch: client=%s seq=%d phase=%v", res.Client, res.Request.seq, res.Phase)
		}
	}
}

func setupLoggers() {
	logger.SetStdLogger("stdlog")
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
}
