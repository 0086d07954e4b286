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

package spindles

import (
	"github.com/binkynet/SpindleWorker/pkg/metrics"
)

const (
	subSystem = "spindles"
)

var (
	// Number of created spindles
	spindlesCreatedTotal = metrics.MustRegisterGauge(subSystem,
		"created_total",
		"Number of created spindles")
	// Number of configured spindles
	spindlesConfiguredTotal = metrics.MustRegisterGauge(subSystem,
		"configured_total",
		"Number of spindles configured without errors")
	// Number of state commands
	commandsTotal = metrics.MustRegisterCounterVec(subSystem,
		"commands_total",
		"Number of spindle state commands", "name")
	// Number of queued commands per spindle
	commandQueueGauge = metrics.MustRegisterGaugeVec(subSystem,
		"command_queue_length",
		"Number of queued spindle commands", "name")
	// Number of commands dropped because the queue was full
	commandsDroppedTotal = metrics.MustRegisterCounterVec(subSystem,
		"commands_dropped_total",
		"Number of spindle commands dropped on a full queue", "name")
	// Number of received MQTT messages
	mqttMessagesTotal = metrics.MustRegisterCounterVec(subSystem,
		"mqtt_messages_total",
		"Number of received MQTT messages", "kind")
	// Number of invalid MQTT messages
	mqttInvalidMessagesTotal = metrics.MustRegisterCounterVec(subSystem,
		"mqtt_invalid_messages_total",
		"Number of invalid MQTT messages", "kind")
)
