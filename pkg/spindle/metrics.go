// Copyright 2025 Ewout Prangsma
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
//
// Author Ewout Prangsma
//

package spindle

import (
	"github.com/binkynet/SpindleWorker/pkg/metrics"
)

const (
	subSystem = "spindle"
)

var (
	// Current duty of the output line
	spindleDutyGauge = metrics.MustRegisterGaugeVec(subSystem,
		"duty",
		"Last duty written to the output line",
		"name")
	// Current state
	spindleStateGauge = metrics.MustRegisterGaugeVec(subSystem,
		"state",
		"Current state of the spindle (0=off, 1=cw, 2=ccw)",
		"name")
	// Hardware writes
	hardwareWritesTotal = metrics.MustRegisterCounterVec(subSystem,
		"hardware_writes_total",
		"Number of writes to a spindle line",
		"name", "line")
	hardwareWriteErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"hardware_write_errors_total",
		"Number of failed writes to a spindle line",
		"name", "line")
	// Soft-start ramps
	rampsTotal = metrics.MustRegisterCounterVec(subSystem,
		"ramps_total",
		"Number of soft-start ramps performed",
		"name")
	rampsAbortedTotal = metrics.MustRegisterCounterVec(subSystem,
		"ramps_aborted_total",
		"Number of soft-start ramps stopped by an abort",
		"name")
	// State changes blocked by an abort
	abortedTransitionsTotal = metrics.MustRegisterCounterVec(subSystem,
		"aborted_transitions_total",
		"Number of state changes ignored because an abort was active",
		"name")
	// Configuration errors
	configErrorsTotal = metrics.MustRegisterCounterVec(subSystem,
		"config_errors_total",
		"Number of configuration errors reported",
		"name")
)
