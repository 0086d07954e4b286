//go:build !linux

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

package devices

import (
	"fmt"

	model "github.com/binkynet/SpindleWorker/model"
)

// newGPIOCDev is only supported on Linux.
func newGPIOCDev(config model.HWDevice, onActive func()) (GPIO, error) {
	return nil, fmt.Errorf("device '%s': gpio character devices are only supported on linux", config.ID)
}
