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

package machine

import (
	"github.com/binkynet/SpindleWorker/pkg/metrics"
)

const (
	subSystem = "machine"
)

var (
	// 1 while an abort is active
	abortActiveGauge = metrics.MustRegisterGauge(subSystem,
		"abort_active",
		"1 while a machine abort is active, 0 otherwise")
	// Spindle speed override
	speedOverrideGauge = metrics.MustRegisterGauge(subSystem,
		"spindle_speed_override",
		"Spindle speed override in percent")
)
