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

package pins

import (
	"context"
	"testing"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
	"github.com/binkynet/SpindleWorker/pkg/service/devices"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

type deviceMap map[model.DeviceID]devices.Device

func (m deviceMap) DeviceByID(id model.DeviceID) (devices.Device, bool) {
	d, ok := m[id]
	return d, ok
}

func newTestSource(t *testing.T) (deviceMap, *devices.Virtual) {
	ctx := context.Background()
	v := devices.NewVirtual(model.HWDevice{ID: "v", Type: model.HWDeviceTypeVirtual}, nil, 5)
	if err := v.Configure(ctx); err != nil {
		t.Fatal(err)
	}
	api, err := bridge.NewVirtualBridge()
	if err != nil {
		t.Fatal(err)
	}
	ds, err := devices.NewService("test", "", []model.HWDevice{{ID: "gpio", Type: model.HWDeviceTypeGPIO}}, api, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Configure(ctx); err != nil {
		t.Fatal(err)
	}
	gpio, _ := ds.DeviceByID("gpio")
	return deviceMap{"v": v, "gpio": gpio}, v
}

func TestUndefinedPin(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t)
	p, err := Resolve(model.Pin{}, src)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Defined() {
		t.Error("expected undefined pin")
	}
	if p.Name() != "NO_PIN" {
		t.Errorf("expected NO_PIN, got %s", p.Name())
	}
	if p.MaxDuty() != 0 || p.Capabilities() != 0 {
		t.Error("expected no capabilities")
	}
	if err := p.SetAttr(ctx, AttrPWM, 5000); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
	if err := p.SetDuty(ctx, 10); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
	if err := p.Write(ctx, true); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestResolveCapabilities(t *testing.T) {
	src, _ := newTestSource(t)
	tests := []struct {
		pin      model.Pin
		expected Capabilities
	}{
		{model.Pin{DeviceID: "v", Index: 1}, Input | Output | PWM},
		{model.Pin{DeviceID: "v", Index: 5}, Input | Output},
		{model.Pin{DeviceID: "gpio", Index: 17}, Input | Output},
	}
	for _, tc := range tests {
		p, err := Resolve(tc.pin, src)
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", tc.pin, err)
		}
		if p.Capabilities() != tc.expected {
			t.Errorf("%s: expected %s, got %s", tc.pin, tc.expected, p.Capabilities())
		}
	}
	if _, err := Resolve(model.Pin{DeviceID: "missing", Index: 1}, src); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestPWMPin(t *testing.T) {
	ctx := context.Background()
	src, v := newTestSource(t)
	p, err := Resolve(model.Pin{DeviceID: "v", Index: 2}, src)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "v:2" {
		t.Errorf("unexpected name %s", p.Name())
	}
	if p.MaxDuty() != 4095 {
		t.Errorf("expected max duty 4095, got %d", p.MaxDuty())
	}
	if err := p.SetAttr(ctx, AttrPWM, 5000); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDuty(ctx, 1000); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDuty(ctx, 9999); err != nil {
		t.Fatal(err)
	}
	h := v.History()
	if len(h) != 3 {
		t.Fatalf("unexpected history %v", h)
	}
	if h[0].Op != devices.VirtualOpFrequency || h[0].Value != 5000 {
		t.Errorf("unexpected event %s", h[0])
	}
	if h[1].Op != devices.VirtualOpPWM || h[1].Value != 1000 {
		t.Errorf("unexpected event %s", h[1])
	}
	if h[2].Value != 4095 {
		t.Errorf("expected clamped duty, got %s", h[2])
	}
}

func TestInvertedPin(t *testing.T) {
	ctx := context.Background()
	src, v := newTestSource(t)
	p, err := Resolve(model.Pin{DeviceID: "v", Index: 3, Invert: true}, src)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetAttr(ctx, AttrOutput, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(ctx, true); err != nil {
		t.Fatal(err)
	}
	if value, _ := v.Get(ctx, 3); value {
		t.Error("expected inverted pin to be low")
	}
	if err := p.SetDuty(ctx, 95); err != nil {
		t.Fatal(err)
	}
	if _, off, _, _ := v.GetPWM(ctx, 3); off != 4000 {
		t.Errorf("expected inverted duty 4000, got %d", off)
	}
}

func TestNotCapable(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t)
	p, err := Resolve(model.Pin{DeviceID: "gpio", Index: 4}, src)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetAttr(ctx, AttrPWM, 1000); !IsNotCapable(err) {
		t.Errorf("expected not capable error, got %v", err)
	}
	if err := p.SetDuty(ctx, 1); !IsNotCapable(err) {
		t.Errorf("expected not capable error, got %v", err)
	}
}

func TestReleaseAll(t *testing.T) {
	ctx := context.Background()
	src, v := newTestSource(t)
	a, _ := Resolve(model.Pin{DeviceID: "v", Index: 1}, src)
	b, _ := Resolve(model.Pin{DeviceID: "v", Index: 2}, src)
	if err := ReleaseAll(ctx, a, b, Pin{}); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	for _, idx := range []model.DeviceIndex{1, 2} {
		if dir, _ := v.GetDirection(ctx, idx); dir != devices.PinDirectionInput {
			t.Errorf("expected pin %d to be input", idx)
		}
	}
	if len(v.History()) != 2 {
		t.Errorf("expected 2 direction changes, got %v", v.History())
	}
}

func TestWriteOnPCA9685UsesFullOn(t *testing.T) {
	ctx := context.Background()
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{
		// Configure (default 1kHz)
		{Addr: 0x40, W: []byte{0x00, 0x11}},
		{Addr: 0x40, W: []byte{0xFE, 5}},
		{Addr: 0x40, W: []byte{0x00, 0x01}},
		// Write(true) on output 1
		{Addr: 0x40, W: []byte{0x06, 0x00}},
		{Addr: 0x40, W: []byte{0x07, 0x10}},
		{Addr: 0x40, W: []byte{0x08, 0x00}},
		{Addr: 0x40, W: []byte{0x09, 0x00}},
		// Write(false) on output 1
		{Addr: 0x40, W: []byte{0x06, 0x00}},
		{Addr: 0x40, W: []byte{0x07, 0x00}},
		{Addr: 0x40, W: []byte{0x08, 0x00}},
		{Addr: 0x40, W: []byte{0x09, 0x00}},
	}}
	api, err := bridge.NewVirtualBridge()
	if err != nil {
		t.Fatal(err)
	}
	ds, err := devices.NewService("test", "", []model.HWDevice{
		{ID: "pwm", Type: model.HWDeviceTypePCA9685, Address: "0x40"},
	}, api, bridge.NewI2CBus(pb), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Configure(ctx); err != nil {
		t.Fatal(err)
	}
	p, err := Resolve(model.Pin{DeviceID: "pwm", Index: 1}, ds)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Write(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := pb.Close(); err != nil {
		t.Errorf("not all operations played back: %v", err)
	}
}
