// Copyright 2020 Ewout Prangsma
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
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
)

// Service contains the API that is exposed by the device service.
type Service interface {
	// DeviceByID returns the device with given ID.
	// Return false if not found or not configured.
	DeviceByID(id model.DeviceID) (Device, bool)
	// Configure is called once to put all devices in the desired state.
	Configure(ctx context.Context) error
	// Run the service until the given context is canceled.
	Run(ctx context.Context) error
	// Close brings all devices back to a safe state.
	Close(context.Context) error
	// Get a list of configured device IDs
	GetConfiguredDeviceIDs() []string
	// Get a list of unconfigured device IDs
	GetUnconfiguredDeviceIDs() []string
	// DiscoverI2CAddresses probes the I2C bus for devices.
	DiscoverI2CAddresses() []string
}

// localBridge is the part of the bridge used by the devices service.
type localBridge interface {
	bridge.StatusLEDs
	bridge.LocalGPIO
}

type service struct {
	mutex            sync.RWMutex
	moduleID          string
	mqttBrokerAddress string
	log               zerolog.Logger
	devices           map[model.DeviceID]Device
	configuredDevices map[model.DeviceID]Device
	bus               bridge.I2CBus
	bAPI              localBridge
	activeCount       uint32
}

// NewService instantiates a new Service and Device's for the given
// device configurations.
// The I2C bus may be nil when no I2C devices are configured.
func NewService(moduleID, mqttBrokerAddress string, configs []model.HWDevice,
	bAPI localBridge, bus bridge.I2CBus, log zerolog.Logger) (Service, error) {
	s := &service{
		moduleID:          moduleID,
		mqttBrokerAddress: mqttBrokerAddress,
		log:               log.With().Str("component", "device-service").Logger(),
		devices:           make(map[model.DeviceID]Device),
		configuredDevices: make(map[model.DeviceID]Device),
		bus:               bus,
		bAPI:              bAPI,
	}
	for _, c := range configs {
		var dev Device
		var err error
		switch c.Type {
		case model.HWDeviceTypeGPIO:
			dev, err = newLocalGPIO(c, bAPI, s.onActive)
		case model.HWDeviceTypeGPIOCDev:
			dev, err = newGPIOCDev(c, s.onActive)
		case model.HWDeviceTypePeriph:
			dev, err = newPeriphGPIO(c, nil, s.onActive)
		case model.HWDeviceTypePCA9685:
			if bus == nil {
				err = fmt.Errorf("device '%s' requires an i2c bus", c.ID)
			} else {
				dev, err = newPCA9685(c, bus, s.onActive)
			}
		case model.HWDeviceTypeSysfsPWM:
			dev, err = newSysfsPWM(c, s.onActive)
		case model.HWDeviceTypeMQTTGPIO:
			dev, err = newMQTTGPIO(s.log, c, s.onActive, moduleID, mqttBrokerAddress)
		case model.HWDeviceTypeMQTTPWM:
			dev, err = newMQTTPWM(s.log, c, s.onActive, moduleID, mqttBrokerAddress)
		case model.HWDeviceTypeVirtual:
			dev = NewVirtual(c, s.onActive)
		default:
			return nil, model.InvalidArgument("Unsupported device type '%s'", c.Type)
		}
		if err != nil {
			return nil, err
		}
		s.devices[c.ID] = dev
	}
	devicesCreatedTotal.Set(float64(len(s.devices)))
	return s, nil
}

// DeviceByID returns the device with given ID.
// Return false if not found or not configured.
func (s *service) DeviceByID(id model.DeviceID) (Device, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	dev, ok := s.configuredDevices[id]
	return dev, ok
}

// Configure is called once to put all devices in the desired state.
func (s *service) Configure(ctx context.Context) error {
	log := s.log
	var ae aerr.AggregateError
	configuredDevices := make(map[model.DeviceID]Device)
	for id, d := range s.devices {
		log := log.With().Str("device-id", string(id)).Logger()
		log.Debug().Msg("configuring device...")
		if err := d.Configure(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to configure device")
			devicesConfigureErrorsTotal.WithLabelValues(string(id)).Inc()
			ae.Add(err)
		} else {
			configuredDevices[id] = d
			log.Debug().Msg("configured device")
		}
	}
	s.mutex.Lock()
	s.configuredDevices = configuredDevices
	s.mutex.Unlock()
	log.Info().Int("count", len(configuredDevices)).Msg("Configured devices")
	devicesConfiguredTotal.Set(float64(len(configuredDevices)))
	return ae.AsError()
}

// Run the service until the given context is canceled.
func (s *service) Run(ctx context.Context) error {
	return s.runActiveNotify(ctx)
}

// Close brings all devices back to a safe state.
func (s *service) Close(ctx context.Context) error {
	var ae aerr.AggregateError
	for id, d := range s.devices {
		if err := d.Close(ctx); err != nil {
			s.log.Warn().Err(err).Str("device-id", string(id)).Msg("Failed to close device")
			ae.Add(err)
		}
	}
	s.mutex.Lock()
	clear(s.configuredDevices)
	s.mutex.Unlock()
	return ae.AsError()
}

// onActive is called when a device change is activated.
func (s *service) onActive() {
	atomic.AddUint32(&s.activeCount, 1)
}

// runActiveNotify updates the blinking status when a device has become active
func (s *service) runActiveNotify(ctx context.Context) error {
	lastActiveCount := uint32(0)
	count := 0
	for {
		select {
		case <-ctx.Done():
			// Context canceled
			return nil
		case <-time.After(time.Second / 10):
			newActiveCount := atomic.LoadUint32(&s.activeCount)
			if newActiveCount != lastActiveCount {
				lastActiveCount = newActiveCount
				s.bAPI.BlinkRedLED(time.Second / 10)
				count = 0
			} else if count < 20 {
				count++
			} else {
				count = 0
				s.bAPI.SetRedLED(false)
			}
		}
	}
}

// DiscoverI2CAddresses probes the I2C bus for devices.
func (s *service) DiscoverI2CAddresses() []string {
	if s.bus == nil {
		return nil
	}
	addrs := s.bus.DetectSlaveAddresses()
	result := lo.Map(addrs, func(addr byte, _ int) string {
		return fmt.Sprintf("0x%x", addr)
	})
	s.log.Info().Strs("addresses", result).Msg("Discovered addresses")
	return result
}

// Get a list of configured device IDs
func (s *service) GetConfiguredDeviceIDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := lo.Map(lo.Keys(s.configuredDevices), func(id model.DeviceID, _ int) string {
		return string(id)
	})
	slices.Sort(result)
	return result
}

// Get a list of unconfigured device IDs
func (s *service) GetUnconfiguredDeviceIDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := lo.Filter(lo.Keys(s.devices), func(id model.DeviceID, _ int) bool {
		_, found := s.configuredDevices[id]
		return !found
	})
	result := lo.Map(ids, func(id model.DeviceID, _ int) string {
		return string(id)
	})
	slices.Sort(result)
	return result
}
