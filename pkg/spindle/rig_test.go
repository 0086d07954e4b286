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
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.viam.com/test"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/machine"
	"github.com/binkynet/SpindleWorker/pkg/service/devices"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
)

const (
	rigOutput    = model.DeviceIndex(1)
	rigEnable    = model.DeviceIndex(2)
	rigDirection = model.DeviceIndex(3)
	// Index of a line that cannot do PWM
	rigNoPWM = model.DeviceIndex(7)
)

type deviceMap map[model.DeviceID]devices.Device

func (m deviceMap) DeviceByID(id model.DeviceID) (devices.Device, bool) {
	d, ok := m[id]
	return d, ok
}

// rig is a spindle wired to lines of a virtual device.
type rig struct {
	spindle Spindle
	dev     *devices.Virtual
	machine *machine.State

	mutex    sync.Mutex
	suspends []time.Duration
	// Number of suspends called with a canceled context
	canceled int
	// Called after every recorded suspend
	onSuspend func(count int)
}

func rigPin(index model.DeviceIndex) model.Pin {
	return model.Pin{DeviceID: "v", Index: index}
}

// defaultRigConfig returns a config using all three lines.
func defaultRigConfig(spindleType string) model.SpindleConfig {
	return model.SpindleConfig{
		Name:         "s0",
		Type:         spindleType,
		PWMFrequency: 5000,
		OutputPin:    rigPin(rigOutput),
		EnablePin:    rigPin(rigEnable),
		DirectionPin: rigPin(rigDirection),
	}
}

// newRig creates and initializes a spindle, then clears the device history.
func newRig(t *testing.T, cfg model.SpindleConfig) *rig {
	ctx := context.Background()
	dev := devices.NewVirtual(model.HWDevice{ID: "v", Type: model.HWDeviceTypeVirtual}, nil, rigNoPWM)
	test.That(t, dev.Configure(ctx), test.ShouldBeNil)
	src := deviceMap{"v": dev}

	resolve := func(p model.Pin) pins.Pin {
		result, err := pins.Resolve(p, src)
		test.That(t, err, test.ShouldBeNil)
		return result
	}
	r := &rig{
		dev:     dev,
		machine: machine.New(),
	}
	s, err := New(cfg, Dependencies{
		Log:     zerolog.Nop(),
		Machine: r.machine,
		Modal:   r.machine,
		Suspend: r.suspend,
		Lines: Lines{
			Output:    resolve(cfg.OutputPin),
			Enable:    resolve(cfg.EnablePin),
			Direction: resolve(cfg.DirectionPin),
		},
	})
	test.That(t, err, test.ShouldBeNil)
	r.spindle = s
	s.Init(ctx)
	dev.ResetHistory()
	return r
}

func (r *rig) suspend(ctx context.Context, d time.Duration) {
	r.mutex.Lock()
	r.suspends = append(r.suspends, d)
	if ctx.Err() != nil {
		r.canceled++
	}
	count := len(r.suspends)
	cb := r.onSuspend
	r.mutex.Unlock()
	if cb != nil {
		cb(count)
	}
}

// takeSuspends returns and clears the recorded suspends.
func (r *rig) takeSuspends() []time.Duration {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	result := r.suspends
	r.suspends = nil
	return result
}

// delays returns the recorded suspends that are not ramp steps.
func delays(suspends []time.Duration) []time.Duration {
	var result []time.Duration
	for _, d := range suspends {
		if d != rampStepInterval {
			result = append(result, d)
		}
	}
	return result
}

// events returns the history of the given line, limited to the given operation.
func (r *rig) events(index model.DeviceIndex, op devices.VirtualOp) []uint32 {
	var result []uint32
	for _, e := range r.dev.History() {
		if e.Index == index && e.Op == op {
			result = append(result, e.Value)
		}
	}
	return result
}

// indexOf returns the position in the history of the first event matching
// the given line and operation, or -1.
func (r *rig) indexOf(index model.DeviceIndex, op devices.VirtualOp) int {
	for i, e := range r.dev.History() {
		if e.Index == index && e.Op == op {
			return i
		}
	}
	return -1
}

// lastIndexOf returns the position in the history of the last event matching
// the given line and operation, or -1.
func (r *rig) lastIndexOf(index model.DeviceIndex, op devices.VirtualOp) int {
	result := -1
	for i, e := range r.dev.History() {
		if e.Index == index && e.Op == op {
			result = i
		}
	}
	return result
}
