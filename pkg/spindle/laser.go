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
	"context"

	model "github.com/binkynet/SpindleWorker/model"
)

const (
	laserDefaultMaxSpeed = 1000
)

func init() {
	Register("Laser", newLaser)
}

// newLaser creates a laser: a PWM spindle whose power is set by the motion
// engine in M4 (rate adjusted). A laser is never reversible and has no soft-start.
func newLaser(cfg model.SpindleConfig, deps Dependencies) (Spindle, error) {
	s := &pwmSpindle{
		kind:            "Laser",
		rateAdjusted:    true,
		defaultMaxSpeed: laserDefaultMaxSpeed,
	}
	s.setup(cfg, deps, func(ctx context.Context, duty uint32) error {
		return s.output.SetDuty(ctx, duty)
	})
	return s, nil
}
