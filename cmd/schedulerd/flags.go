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

package main

import "flag"

const (
	defaultListen        = ":8891"
	defaultTelemetryFile = "scheduling.txt"
)

// options captures our command line parameters.
type options struct {
	SystemCapacity      float64
	WinSize             float64
	IdleAge             float64
	EraseAge            float64
	CheckTime           float64
	AllowLimitBreak     bool
	AnticipationTimeout float64
	Listen              string
	TelemetryFile       string
	ClientInfoFile      string
}

// schedulerd command line options.
var opt = options{}

// Register us for command line option processing.
func init() {
	flag.Float64Var(&opt.SystemCapacity, "system-capacity", 1,
		"Total service rate of the server, in requests/second.")
	flag.Float64Var(&opt.WinSize, "win-size", 1,
		"Accounting window length, in seconds.")
	flag.Float64Var(&opt.IdleAge, "idle-age", 10,
		"Seconds of inactivity after which a client is marked idle.")
	flag.Float64Var(&opt.EraseAge, "erase-age", 60,
		"Seconds of inactivity after which a client record is erased.")
	flag.Float64Var(&opt.CheckTime, "check-time", 5,
		"Janitor sampling cadence, in seconds.")
	flag.BoolVar(&opt.AllowLimitBreak, "allow-limit-break", false,
		"Allow dispatch past a client's limit tag when nothing else is ready.")
	flag.Float64Var(&opt.AnticipationTimeout, "anticipation-timeout", 0,
		"Seconds a briefly-idle client's tag arithmetic may resume from, instead of resetting to now.")
	flag.StringVar(&opt.Listen, "listen", defaultListen,
		"Address to serve /healthz and /metrics on.")
	flag.StringVar(&opt.TelemetryFile, "telemetry-file", defaultTelemetryFile,
		"Path to append per-window client telemetry records to.")
	flag.StringVar(&opt.ClientInfoFile, "client-info-file", "",
		"Optional YAML file seeding demo ClientInfo records. Without it a small built-in set is used.")
}
