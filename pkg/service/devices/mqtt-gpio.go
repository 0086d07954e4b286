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
	"strings"
	"sync"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	model "github.com/binkynet/SpindleWorker/model"
)

type mqttGPIO struct {
	log               zerolog.Logger
	mutex             sync.Mutex
	onActive          func()
	config            model.HWDevice
	topicPrefix       string
	mqttClientID      string
	mqttBrokerAddress string

	states    map[string]string
	direction []PinDirection
	client    mqttapi.Client
}

// newMQTTGPIO creates a virtual MQTT gpio device with given config.
// Pin <n> is commanded on '<prefix>pin<n>/command' and reports on '<prefix>pin<n>/state'.
func newMQTTGPIO(log zerolog.Logger, config model.HWDevice, onActive func(), moduleID, mqttBrokerAddress string) (GPIO, error) {
	if config.Type != model.HWDeviceTypeMQTTGPIO {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	if mqttBrokerAddress == "" {
		return nil, model.InvalidArgument("Device '%s' requires an MQTT broker", config.ID)
	}
	return &mqttGPIO{
		log:               log.With().Str("device", string(config.ID)).Logger(),
		onActive:          onActive,
		config:            config,
		topicPrefix:       mqttTopicPrefix(config.Address),
		mqttClientID:      mqttClientID(moduleID, string(config.ID)),
		mqttBrokerAddress: mqttBrokerAddress,
		states:            make(map[string]string),
		direction:         make([]PinDirection, mqttPinCount),
	}, nil
}

// ID returns the configured identifier of the device.
func (d *mqttGPIO) ID() model.DeviceID {
	return d.config.ID
}

// Configure is called once to put the device in the desired state.
func (d *mqttGPIO) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// Prepare MQTT client options
	opts := defaultMQTTClientOptions(d.mqttBrokerAddress, d.mqttClientID)
	opts.SetOnConnectHandler(func(c mqttapi.Client) {
		d.log.Debug().Msg("Connected to MQTT")
		topic := d.topicPrefix + "#"
		if token := c.Subscribe(topic, 0, d.onMessage); token.Wait() && token.Error() != nil {
			d.log.Error().Err(token.Error()).
				Msgf("failed to subscribe to '%s'", topic)
			c.Disconnect(mqttDisconnectMS)
		} else {
			d.log.Debug().Msgf("Subscribed to MQTT topic '%s'", topic)
			d.onActive()
		}
	})

	// Connect client
	d.client = mqttapi.NewClient(opts)
	if token := d.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt: %w", token.Error())
	}
	return nil
}

// Close brings the device back to a safe state.
func (d *mqttGPIO) Close(ctx context.Context) error {
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
func (d *mqttGPIO) onMessage(client mqttapi.Client, msg mqttapi.Message) {
	topic := strings.TrimPrefix(msg.Topic(), d.topicPrefix)
	if !strings.HasSuffix(topic, "/state") {
		// Not a valid message
		return
	}
	topic = strings.TrimSuffix(topic, "/state")

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.states[topic] = string(msg.Payload())
}

// PinCount returns the number of pins of the device
func (d *mqttGPIO) PinCount() uint {
	return mqttPinCount
}

func (d *mqttGPIO) checkIndex(index model.DeviceIndex) error {
	if index < 1 || uint(index) > mqttPinCount {
		return errors.Wrapf(OutOfRangeError, "pin %d of device %s", index, d.config.ID)
	}
	return nil
}

// Set the direction of the pin at given index (1...)
func (d *mqttGPIO) SetDirection(ctx context.Context, index model.DeviceIndex, direction PinDirection) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.direction[index-1] = direction
	return nil
}

// Get the direction of the pin at given index (1...)
func (d *mqttGPIO) GetDirection(ctx context.Context, index model.DeviceIndex) (PinDirection, error) {
	if err := d.checkIndex(index); err != nil {
		return PinDirectionInput, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.direction[index-1], nil
}

// Set the pin at given index (1...) to the given value
func (d *mqttGPIO) Set(ctx context.Context, pin model.DeviceIndex, value bool) error {
	if err := d.checkIndex(pin); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.direction[pin-1] == PinDirectionInput {
		return errors.Wrapf(InvalidDirectionError, "pin %d does not have direction output", pin)
	}
	d.onActive()
	mqttPublish(d.log, d.client, fmt.Sprintf("%spin%d/command", d.topicPrefix, pin), true, formatBool(value))
	return nil
}

// Get the pin at given index (1...)
func (d *mqttGPIO) Get(ctx context.Context, pin model.DeviceIndex) (bool, error) {
	if err := d.checkIndex(pin); err != nil {
		return false, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	result, _ := parseBool(d.states[fmt.Sprintf("pin%d", pin)])
	return result, nil
}
