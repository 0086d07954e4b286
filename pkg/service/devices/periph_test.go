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

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	model "github.com/binkynet/SpindleWorker/model"
)

// funcPin overrides the functions reported by a test pin.
type funcPin struct {
	*gpiotest.Pin
	funcs []pin.Func
}

func (p funcPin) SupportedFuncs() []pin.Func {
	return p.funcs
}

func newTestPeriph(t *testing.T, pins ...gpio.PinIO) *periphGPIO {
	byName := make(map[string]gpio.PinIO)
	for _, p := range pins {
		byName[p.Name()] = p
	}
	cfg := model.HWDevice{ID: "header", Type: model.HWDeviceTypePeriph}
	dev, err := newPeriphGPIO(cfg, func(name string) gpio.PinIO { return byName[name] }, func() {})
	if err != nil {
		t.Fatalf("newPeriphGPIO failed: %v", err)
	}
	if err := dev.Configure(context.Background()); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	return dev
}

func TestPeriphGPIOSet(t *testing.T) {
	ctx := context.Background()
	p17 := &gpiotest.Pin{N: "GPIO17", Num: 17}
	dev := newTestPeriph(t, p17)

	if err := dev.SetDirection(ctx, 17, PinDirectionOutput); err != nil {
		t.Fatalf("SetDirection failed: %v", err)
	}
	if dir, err := dev.GetDirection(ctx, 17); err != nil || dir != PinDirectionOutput {
		t.Errorf("expected output direction, got %s (%v)", dir, err)
	}
	if err := dev.Set(ctx, 17, true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if p17.L != gpio.High {
		t.Error("expected pin to be high")
	}
	if v, err := dev.Get(ctx, 17); err != nil || !v {
		t.Errorf("expected Get to return true, got %v (%v)", v, err)
	}
	if err := dev.Set(ctx, 17, false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if p17.L != gpio.Low {
		t.Error("expected pin to be low")
	}
}

func TestPeriphGPIOUnknownPin(t *testing.T) {
	dev := newTestPeriph(t)
	if err := dev.Set(context.Background(), 4, true); !IsOutOfRange(err) {
		t.Errorf("expected out of range error, got %v", err)
	}
	if err := dev.Set(context.Background(), 40, true); !IsOutOfRange(err) {
		t.Errorf("expected out of range error, got %v", err)
	}
}

func TestPeriphPWM(t *testing.T) {
	ctx := context.Background()
	p18 := funcPin{Pin: &gpiotest.Pin{N: "GPIO18", Num: 18}, funcs: []pin.Func{gpio.IN, gpio.OUT, pin.Func("PWM0")}}
	p17 := funcPin{Pin: &gpiotest.Pin{N: "GPIO17", Num: 17}, funcs: []pin.Func{gpio.IN, gpio.OUT}}
	dev := newTestPeriph(t, p18, p17)

	if !dev.SupportsPWM(18) {
		t.Error("expected GPIO18 to support PWM")
	}
	if dev.SupportsPWM(17) {
		t.Error("expected GPIO17 to not support PWM")
	}
	if dev.SupportsPWM(5) {
		t.Error("expected unknown pin to not support PWM")
	}
	if err := dev.SetPWMFrequency(ctx, 18, 5000); err != nil {
		t.Fatalf("SetPWMFrequency failed: %v", err)
	}
	half := dev.MaxPWMValue() / 2
	if err := dev.SetPWM(ctx, 18, 0, half, true); err != nil {
		t.Fatalf("SetPWM failed: %v", err)
	}
	if p18.D != gpio.DutyHalf {
		t.Errorf("expected half duty, got %s", p18.D)
	}
	if p18.F != 5*physic.KiloHertz {
		t.Errorf("expected 5kHz, got %s", p18.F)
	}
	if err := dev.SetPWM(ctx, 18, 0, half, false); err != nil {
		t.Fatalf("SetPWM failed: %v", err)
	}
	if p18.L != gpio.Low {
		t.Error("expected disabled output to be low")
	}
	if err := dev.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
