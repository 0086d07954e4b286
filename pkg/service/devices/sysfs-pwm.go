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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	model "github.com/binkynet/SpindleWorker/model"
)

const (
	sysfsPWMMaxValue      = 10000
	sysfsPWMDefaultHz     = 1000
	sysfsPWMExportTimeout = 500 * time.Millisecond
)

type sysfsPWM struct {
	mutex    sync.Mutex
	onActive func()
	config   model.HWDevice
	chipPath string
	npwm     int
	periodNS map[model.DeviceIndex]uint64
	state    map[model.DeviceIndex]pwmState
}

// newSysfsPWM creates a PWM device for a Linux pwmchip.
// The address is the chip directory (e.g. /sys/class/pwm/pwmchip0),
// the pin index is the channel number.
func newSysfsPWM(config model.HWDevice, onActive func()) (PWM, error) {
	if config.Type != model.HWDeviceTypeSysfsPWM {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	return &sysfsPWM{
		onActive: onActive,
		config:   config,
		chipPath: config.Address,
	}, nil
}

// ID returns the configured identifier of the device.
func (d *sysfsPWM) ID() model.DeviceID {
	return d.config.ID
}

// Configure reads the number of channels of the chip.
func (d *sysfsPWM) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	raw, err := os.ReadFile(filepath.Join(d.chipPath, "npwm"))
	if err != nil {
		return errors.Wrapf(err, "failed to read npwm of '%s'", d.chipPath)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return errors.Wrapf(err, "invalid npwm of '%s'", d.chipPath)
	}
	d.onActive()
	d.npwm = n
	d.periodNS = make(map[model.DeviceIndex]uint64)
	d.state = make(map[model.DeviceIndex]pwmState)
	return nil
}

// Close disables all used channels.
func (d *sysfsPWM) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var result error
	for index := range d.periodNS {
		if err := d.writeChannel(index, "enable", "0"); err != nil && result == nil {
			result = err
		}
	}
	d.periodNS = nil
	d.state = nil
	d.onActive()
	return result
}

// PWMPinCount returns the number of channels of the chip
func (d *sysfsPWM) PWMPinCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.npwm
}

// MaxPWMValue returns the maximum valid value for onValue or offValue.
func (d *sysfsPWM) MaxPWMValue() uint32 {
	return sysfsPWMMaxValue
}

// SupportsPWM returns true for all channels of the chip.
func (d *sysfsPWM) SupportsPWM(index model.DeviceIndex) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return int(index) < d.npwm
}

// channelPath returns the directory of the given channel.
func (d *sysfsPWM) channelPath(index model.DeviceIndex) string {
	return filepath.Join(d.chipPath, "pwm"+strconv.Itoa(int(index)))
}

// ensureExported exports the channel when its directory does not exist yet.
// Requires the mutex to be held.
func (d *sysfsPWM) ensureExported(index model.DeviceIndex) error {
	if d.periodNS == nil {
		return errors.Wrapf(NotConfiguredError, "device %s", d.config.ID)
	}
	if int(index) >= d.npwm {
		return errors.Wrapf(OutOfRangeError, "channel %d of '%s'", index, d.chipPath)
	}
	path := d.channelPath(index)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := writeSysfs(filepath.Join(d.chipPath, "export"), strconv.Itoa(int(index))); err != nil {
		return errors.Wrapf(err, "failed to export channel %d", index)
	}
	deadline := time.Now().Add(sysfsPWMExportTimeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if time.Now().After(deadline) {
			return errors.Wrapf(err, "channel %d not created after export", index)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (d *sysfsPWM) writeChannel(index model.DeviceIndex, name, value string) error {
	return writeSysfs(filepath.Join(d.channelPath(index), name), value)
}

// SetPWMFrequency sets the period of the given channel.
// The channel is disabled while changing the period.
func (d *sysfsPWM) SetPWMFrequency(ctx context.Context, index model.DeviceIndex, hz uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.ensureExported(index); err != nil {
		return err
	}
	if hz == 0 {
		hz = sysfsPWMDefaultHz
	}
	periodNS := uint64(time.Second) / uint64(hz)
	d.onActive()
	if err := d.writeChannel(index, "enable", "0"); err != nil {
		return err
	}
	// The kernel rejects a duty cycle larger than the period.
	if err := d.writeChannel(index, "duty_cycle", "0"); err != nil {
		return err
	}
	if err := d.writeChannel(index, "period", strconv.FormatUint(periodNS, 10)); err != nil {
		return err
	}
	d.periodNS[index] = periodNS
	d.state[index] = pwmState{Frequency: hz}
	return nil
}

// SetPWM the output at given channel to the given value
func (d *sysfsPWM) SetPWM(ctx context.Context, index model.DeviceIndex, onValue, offValue uint32, enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.ensureExported(index); err != nil {
		return err
	}
	periodNS, found := d.periodNS[index]
	if !found {
		periodNS = uint64(time.Second) / sysfsPWMDefaultHz
		if err := d.writeChannel(index, "period", strconv.FormatUint(periodNS, 10)); err != nil {
			return err
		}
		d.periodNS[index] = periodNS
	}
	var value uint64
	if offValue > onValue {
		value = min(uint64(offValue-onValue), sysfsPWMMaxValue)
	}
	dutyNS := periodNS * value / sysfsPWMMaxValue
	d.onActive()
	if err := d.writeChannel(index, "duty_cycle", strconv.FormatUint(dutyNS, 10)); err != nil {
		return err
	}
	if err := d.writeChannel(index, "enable", boolDigit(enabled)); err != nil {
		return err
	}
	state := d.state[index]
	state.OnValue, state.OffValue, state.Enabled = onValue, offValue, enabled
	d.state[index] = state
	return nil
}

// GetPWM the output at given channel
// Returns onValue,offValue,enabled,error
func (d *sysfsPWM) GetPWM(ctx context.Context, index model.DeviceIndex) (uint32, uint32, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if state, found := d.state[index]; found {
		return state.OnValue, state.OffValue, state.Enabled, nil
	}
	return 0, 0, false, errors.Wrapf(NotConfiguredError, "channel %d", index)
}

func boolDigit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// writeSysfs writes a sysfs attribute.
// Attributes are opened without O_TRUNC, which some drivers reject.
func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write '%s'", path)
	}
	return errors.WithStack(f.Close())
}
