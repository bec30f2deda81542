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

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/containers/dmqos/pkg/scheduler"
)

// clientInfoEntry is the YAML-facing shape of one client's seed record;
// ClientType is spelled out as a letter to keep the file human-editable.
type clientInfoEntry struct {
	Reservation float64 `json:"reservation"`
	Weight      float64 `json:"weight"`
	Limit       float64 `json:"limit"`
	Class       string  `json:"class"`
}

func (e clientInfoEntry) classType() (scheduler.ClientType, error) {
	switch e.Class {
	case "R":
		return scheduler.ClientReservation, nil
	case "B":
		return scheduler.ClientBurst, nil
	case "A":
		return scheduler.ClientArea, nil
	case "O", "":
		return scheduler.ClientOther, nil
	default:
		return 0, fmt.Errorf("unknown client class %q", e.Class)
	}
}

// defaultClientInfo is used when no -client-info-file is given: a small
// mixed-class workload exercising every dispatch path in §4.4.
func defaultClientInfo() map[string]*scheduler.ClientInfo {
	return map[string]*scheduler.ClientInfo{
		"r1": scheduler.NewClientInfo(20, 1, 0, scheduler.ClientReservation),
		"r2": scheduler.NewClientInfo(10, 1, 0, scheduler.ClientReservation),
		"b1": scheduler.NewClientInfo(0, 2, 50, scheduler.ClientBurst),
		"b2": scheduler.NewClientInfo(0, 1, 50, scheduler.ClientBurst),
		"a1": scheduler.NewClientInfo(0, 1, 0, scheduler.ClientArea),
		"o1": scheduler.NewClientInfo(0, 0, 0, scheduler.ClientOther),
	}
}

// loadClientInfo reads the optional YAML seed file named by path, or
// returns defaultClientInfo if path is empty.
func loadClientInfo(path string) (map[string]*scheduler.ClientInfo, error) {
	if path == "" {
		return defaultClientInfo(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}

	var entries map[string]clientInfoEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}

	clients := make(map[string]*scheduler.ClientInfo, len(entries))
	for name, e := range entries {
		class, err := e.classType()
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", name, err)
		}
		clients[name] = scheduler.NewClientInfo(e.Reservation, e.Weight, e.Limit, class)
	}
	return clients, nil
}
