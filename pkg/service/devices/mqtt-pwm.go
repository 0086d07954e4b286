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
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	model "github.com/binkynet/SpindleWorker/model"
)

type mqttPWM struct {
	log               zerolog.Logger
	mutex             sync.Mutex
	onActive          func()
	config            model.HWDevice
	topicPrefix       string
	mqttClientID      string
	mqttBrokerAddress string

	states map[model.DeviceIndex]pwmState
	client mqttapi.Client
}

// pwmState is the payload published on '<prefix>pin<n>/command'.
type pwmState struct {
	Frequency uint32 `json:"frequency"`
	OnValue   uint32 `json:"on"`
	OffValue  uint32 `json:"off"`
	Enabled   bool   `json:"enabled"`
}

const (
	mqttPWMMaxValue = 65535
)

// newMQTTPWM creates a virtual MQTT PWM device with given config.
func newMQTTPWM(log zerolog.Logger, config model.HWDevice, onActive func(), moduleID, mqttBrokerAddress string) (PWM, error) {
	if config.Type != model.HWDeviceTypeMQTTPWM {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	if mqttBrokerAddress == "" {
		return nil, model.InvalidArgument("Device '%s' requires an MQTT broker", config.ID)
	}
	return &mqttPWM{
		log:               log.With().Str("device", string(config.ID)).Logger(),
		onActive:          onActive,
		config:            config,
		topicPrefix:       mqttTopicPrefix(config.Address),
		mqttClientID:      mqttClientID(moduleID, string(config.ID)),
		mqttBrokerAddress: mqttBrokerAddress,
		states:            make(map[model.DeviceIndex]pwmState),
	}, nil
}

// ID returns the configured identifier of the device.
func (d *mqttPWM) ID() model.DeviceID {
	return d.config.ID
}

// Configure is called once to put the device in the desired state.
func (d *mqttPWM) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	opts := defaultMQTTClientOptions(d.mqttBrokerAddress, d.mqttClientID)
	opts.SetOnConnectHandler(func(c mqttapi.Client) {
		topic := d.topicPrefix + "#"
		if token := c.Subscribe(topic, 0, d.onMessage); token.Wait() && token.Error() != nil {
			d.log.Error().Err(token.Error()).
				Msgf("failed to subscribe to '%s'", topic)
			c.Disconnect(mqttDisconnectMS)
		} else {
			d.onActive()
		}
	})

	d.client = mqttapi.NewClient(opts)
	if token := d.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt: %w", token.Error())
	}
	return nil
}

// Close brings the device back to a safe state.
func (d *mqttPWM) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.client != nil {
		d.client.Disconnect(mqttDisconnectMS)
		d.client = nil
	}
	d.onActive()
	return nil
}

// Receive messages
func (d *mqttPWM) onMessage(client mqttapi.Client, msg mqttapi.Message) {
	topic := strings.TrimPrefix(msg.Topic(), d.topicPrefix)
	if !strings.HasSuffix(topic, "/state") {
		// Not a valid message
		return
	}
	var index model.DeviceIndex
	if _, err := fmt.Sscanf(strings.TrimSuffix(topic, "/state"), "pin%d", &index); err != nil {
		return
	}
	var state pwmState
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		d.log.Debug().Err(err).Str("topic", msg.Topic()).Msg("Ignoring invalid PWM state")
		return
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.states[index] = state
}

func (d *mqttPWM) checkIndex(index model.DeviceIndex) error {
	if index < 1 || uint(index) > mqttPinCount {
		return errors.Wrapf(OutOfRangeError, "output %d of device %s", index, d.config.ID)
	}
	return nil
}

// PWMPinCount returns the number of PWM output pins of the device
func (d *mqttPWM) PWMPinCount() int {
	return mqttPinCount
}

// MaxPWMValue returns the maximum valid value for onValue or offValue.
func (d *mqttPWM) MaxPWMValue() uint32 {
	return mqttPWMMaxValue
}

// SupportsPWM returns true for every output in range.
func (d *mqttPWM) SupportsPWM(output model.DeviceIndex) bool {
	return d.checkIndex(output) == nil
}

// SetPWMFrequency records the frequency; it is sent along with the next value.
func (d *mqttPWM) SetPWMFrequency(ctx context.Context, output model.DeviceIndex, hz uint32) error {
	if err := d.checkIndex(output); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	state := d.states[output]
	state.Frequency = hz
	d.states[output] = state
	return nil
}

// SetPWM the output at given index (1...) to the given value
func (d *mqttPWM) SetPWM(ctx context.Context, output model.DeviceIndex, onValue, offValue uint32, enabled bool) error {
	if err := d.checkIndex(output); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	state := d.states[output]
	state.OnValue = onValue
	state.OffValue = offValue
	state.Enabled = enabled
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.WithStack(err)
	}
	d.onActive()
	mqttPublish(d.log, d.client, fmt.Sprintf("%spin%d/command", d.topicPrefix, output), false, string(payload))
	d.states[output] = state
	return nil
}

// GetPWM the output at given index (1...)
// Returns onValue,offValue,enabled,error
func (d *mqttPWM) GetPWM(ctx context.Context, output model.DeviceIndex) (uint32, uint32, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if state, ok := d.states[output]; ok {
		return state.OnValue, state.OffValue, state.Enabled, nil
	}
	return 0, 0, false, fmt.Errorf("no state found for output %d", output)
}
