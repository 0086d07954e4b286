//    Copyright 2025 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package bridge

import (
	"github.com/binkynet/SpindleWorker/pkg/metrics"
)

const (
	subSystem = "bridge"
)

var (
	// Total number of times I2CBus.Execute is called
	i2cExecuteCounters = metrics.MustRegisterCounterVec(subSystem,
		"i2c_execute_total",
		"Total number of times I2CBus.Execute is called",
		"address")
	// Total number of times I2CBus.Execute failed
	i2cExecuteErrorCounters = metrics.MustRegisterCounterVec(subSystem,
		"i2c_execute_error_total",
		"Total number of times I2CBus.Execute failed",
		"address")
	// Number of addresses found by the last I2C bus scan
	i2cDetectedAddresses = metrics.MustRegisterGauge(subSystem,
		"i2c_detected_addresses",
		"Number of addresses found by the last I2C bus scan")
	// State of the status leds (0=off, 1=on, 2=blinking)
	ledStateGauges = metrics.MustRegisterGaugeVec(subSystem,
		"led_state",
		"State of the status leds (0=off, 1=on, 2=blinking)",
		"led")
)

const ledBlinking = 2
