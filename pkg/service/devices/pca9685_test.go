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
	"context"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
)

func newTestPCA9685(t *testing.T, ops []i2ctest.IO) (PWM, *i2ctest.Playback) {
	pb := &i2ctest.Playback{Ops: ops}
	cfg := model.HWDevice{ID: "pwm0", Type: model.HWDeviceTypePCA9685, Address: "0x40"}
	dev, err := newPCA9685(cfg, bridge.NewI2CBus(pb), func() {})
	if err != nil {
		t.Fatalf("newPCA9685 failed: %v", err)
	}
	return dev, pb
}

func TestPCA9685Prescale(t *testing.T) {
	tests := []struct {
		hz       uint32
		expected uint8
	}{
		{50, 121},
		{1000, 5},
		{1526, 3},
		{24, 253},
		{1, 255},
		{100000, 3},
		{0, 5},
	}
	for _, tc := range tests {
		if got := pca9685Prescale(tc.hz); got != tc.expected {
			t.Errorf("prescale(%d): expected %d, got %d", tc.hz, tc.expected, got)
		}
	}
}

func TestPCA9685ConfigureAndSetPWM(t *testing.T) {
	ctx := context.Background()
	dev, pb := newTestPCA9685(t, []i2ctest.IO{
		// Configure (default 1kHz)
		{Addr: 0x40, W: []byte{0x00, 0x11}},
		{Addr: 0x40, W: []byte{0xFE, 5}},
		{Addr: 0x40, W: []byte{0x00, 0x01}},
		// SetPWMFrequency 50Hz
		{Addr: 0x40, W: []byte{0x00, 0x11}},
		{Addr: 0x40, W: []byte{0xFE, 0x79}},
		{Addr: 0x40, W: []byte{0x00, 0x01}},
		// SetPWM(1, 0, 2048, true)
		{Addr: 0x40, W: []byte{0x06, 0x00}},
		{Addr: 0x40, W: []byte{0x07, 0x00}},
		{Addr: 0x40, W: []byte{0x08, 0x00}},
		{Addr: 0x40, W: []byte{0x09, 0x08}},
		// SetPWM(16, 0, 4095, false)
		{Addr: 0x40, W: []byte{0x42, 0x00}},
		{Addr: 0x40, W: []byte{0x43, 0x00}},
		{Addr: 0x40, W: []byte{0x44, 0xFF}},
		{Addr: 0x40, W: []byte{0x45, 0x1F}},
		// GetPWM(1)
		{Addr: 0x40, W: []byte{0x06}, R: []byte{0x00}},
		{Addr: 0x40, W: []byte{0x07}, R: []byte{0x00}},
		{Addr: 0x40, W: []byte{0x08}, R: []byte{0x00}},
		{Addr: 0x40, W: []byte{0x09}, R: []byte{0x08}},
		// Close
		{Addr: 0x40, W: []byte{0x00, 0x11}},
	})
	if err := dev.Configure(ctx); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if err := dev.SetPWMFrequency(ctx, 1, 50); err != nil {
		t.Fatalf("SetPWMFrequency failed: %v", err)
	}
	if err := dev.SetPWM(ctx, 1, 0, 2048, true); err != nil {
		t.Fatalf("SetPWM failed: %v", err)
	}
	if err := dev.SetPWM(ctx, 16, 0, 4095, false); err != nil {
		t.Fatalf("SetPWM failed: %v", err)
	}
	on, off, enabled, err := dev.GetPWM(ctx, 1)
	if err != nil {
		t.Fatalf("GetPWM failed: %v", err)
	}
	if on != 0 || off != 2048 || !enabled {
		t.Errorf("expected 0/2048/true, got %d/%d/%v", on, off, enabled)
	}
	if err := dev.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pb.Close(); err != nil {
		t.Errorf("not all operations played back: %v", err)
	}
}

func TestPCA9685FullOn(t *testing.T) {
	ctx := context.Background()
	dev, pb := newTestPCA9685(t, []i2ctest.IO{
		// SetPWM(2, 0, 4095, true) uses FULL_ON
		{Addr: 0x40, W: []byte{0x0A, 0x00}},
		{Addr: 0x40, W: []byte{0x0B, 0x10}},
		{Addr: 0x40, W: []byte{0x0C, 0x00}},
		{Addr: 0x40, W: []byte{0x0D, 0x00}},
		// GetPWM(2)
		{Addr: 0x40, W: []byte{0x0A}, R: []byte{0x00}},
		{Addr: 0x40, W: []byte{0x0B}, R: []byte{0x10}},
		{Addr: 0x40, W: []byte{0x0C}, R: []byte{0x00}},
		{Addr: 0x40, W: []byte{0x0D}, R: []byte{0x00}},
		// SetPWM(2, 0, 4094, true) is a plain duty
		{Addr: 0x40, W: []byte{0x0A, 0x00}},
		{Addr: 0x40, W: []byte{0x0B, 0x00}},
		{Addr: 0x40, W: []byte{0x0C, 0xFE}},
		{Addr: 0x40, W: []byte{0x0D, 0x0F}},
	})
	if err := SetDuty(ctx, dev, 2, dev.MaxPWMValue(), false); err != nil {
		t.Fatalf("SetDuty failed: %v", err)
	}
	on, off, enabled, err := dev.GetPWM(ctx, 2)
	if err != nil {
		t.Fatalf("GetPWM failed: %v", err)
	}
	if on != 0 || off != 4095 || !enabled {
		t.Errorf("expected 0/4095/true, got %d/%d/%v", on, off, enabled)
	}
	if err := dev.SetPWM(ctx, 2, 0, 4094, true); err != nil {
		t.Fatalf("SetPWM failed: %v", err)
	}
	if err := pb.Close(); err != nil {
		t.Errorf("not all operations played back: %v", err)
	}
}

func TestPCA9685OutputRange(t *testing.T) {
	dev, _ := newTestPCA9685(t, nil)
	ctx := context.Background()
	if err := dev.SetPWM(ctx, 0, 0, 1, true); !model.IsValidationError(err) {
		t.Errorf("expected validation error for output 0, got %v", err)
	}
	if err := dev.SetPWM(ctx, 17, 0, 1, true); !model.IsValidationError(err) {
		t.Errorf("expected validation error for output 17, got %v", err)
	}
	capable := dev.(PWMCapable)
	if !capable.SupportsPWM(1) || !capable.SupportsPWM(16) || capable.SupportsPWM(17) {
		t.Error("expected outputs 1..16 to support PWM")
	}
	if dev.MaxPWMValue() != 4095 || dev.PWMPinCount() != 16 {
		t.Errorf("unexpected limits %d/%d", dev.MaxPWMValue(), dev.PWMPinCount())
	}
}

func TestNewPCA9685InvalidAddress(t *testing.T) {
	cfg := model.HWDevice{ID: "pwm0", Type: model.HWDeviceTypePCA9685, Address: "zz"}
	if _, err := newPCA9685(cfg, bridge.NewI2CBus(&i2ctest.Playback{}), func() {}); err == nil {
		t.Error("expected error for invalid address")
	}
}
