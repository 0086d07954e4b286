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
	"fmt"
	"strings"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	mqttPinCount       = 256
	mqttPublishTimeout = time.Millisecond * 200
	mqttDisconnectMS   = 250
)

// defaultMQTTClientOptions builds the client options shared by all MQTT devices.
func defaultMQTTClientOptions(mqttBrokerAddress, clientID string) *mqttapi.ClientOptions {
	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + mqttBrokerAddress).
		SetClientID(clientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(func(c mqttapi.Client, m mqttapi.Message) {
		// Ignore messages when no subscription match
	})
	return opts
}

// mqttTopicPrefix normalizes the device address into a topic prefix ending with '/'.
func mqttTopicPrefix(address string) string {
	return strings.TrimSuffix(address, "/") + "/"
}

// mqttClientID builds a client ID unique for the device on this worker.
func mqttClientID(moduleID, deviceID string) string {
	return fmt.Sprintf("%s-%s", moduleID, deviceID)
}

// mqttPublish publishes the payload, logging (not failing) when delivery is late.
func mqttPublish(log zerolog.Logger, client mqttapi.Client, topic string, retain bool, payload string) {
	if client == nil {
		return
	}
	token := client.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		log.Error().Err(token.Error()).
			Str("topic", topic).
			Str("payload", payload).
			Msg("failed to deliver MQTT command in time")
	}
}

// Parse a string into a bool
func parseBool(str string) (bool, error) {
	str = strings.ToLower(strings.TrimSpace(str))
	switch str {
	case "1", "t", "true", "on", "yes":
		return true, nil
	case "0", "f", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value '%s'", str)
}

// format a bool as string
func formatBool(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
