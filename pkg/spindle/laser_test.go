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
	"testing"

	"go.viam.com/test"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/devices"
)

func TestLaser(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("Laser"))
	test.That(t, r.spindle.IsRateAdjusted(), test.ShouldBeTrue)
	st := r.spindle.Status()
	test.That(t, st.Type, test.ShouldEqual, "Laser")
	test.That(t, st.Reversible, test.ShouldBeFalse)
	test.That(t, st.RateAdjusted, test.ShouldBeTrue)

	// No soft-start
	r.spindle.SetState(ctx, model.SpindleClockwise, 500)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{2047})
	test.That(t, r.takeSuspends(), test.ShouldBeEmpty)

	// M4 leaves the power to the motion engine
	r.spindle.SetState(ctx, model.SpindleCounterClockwise, 500)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{2047, 0})
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1, 1})
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleCounterClockwise)

	// Full power at the default max speed
	test.That(t, r.spindle.MapSpeed(model.SpindleClockwise, 1000), test.ShouldEqual, uint32(4095))
}

func TestLaserCCWFromIdle(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("Laser"))
	r.spindle.SetState(ctx, model.SpindleCounterClockwise, 800)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldBeEmpty)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(0))
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
}
