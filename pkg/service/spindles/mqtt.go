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

package spindles

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/util"
	"github.com/binkynet/SpindleWorker/pkg/spindle"
)

const (
	mqttPublishTimeout = time.Millisecond * 200
	mqttDisconnectMS   = 250

	mqttCommandSuffix = "/command"
	mqttPowerSuffix   = "/power"
	mqttStatusSuffix  = "/status"
)

// StateCommand is the payload of a spindle command message.
type StateCommand struct {
	State model.SpindleState `json:"state"`
	Speed uint32             `json:"speed"`
}

// spindleTopic returns the topic of the spindle with given name.
func (s *service) spindleTopic(name, suffix string) string {
	return fmt.Sprintf("%s/spindle/%s%s", strings.TrimSuffix(s.MQTTTopicPrefix, "/"), name, suffix)
}

// parseSpindleTopic returns the spindle name & suffix of the given topic.
func (s *service) parseSpindleTopic(topic string) (string, string, bool) {
	prefix := strings.TrimSuffix(s.MQTTTopicPrefix, "/") + "/spindle/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx:], true
}

// parseStateCommand parses the payload of a command message.
func parseStateCommand(payload []byte) (StateCommand, error) {
	var cmd StateCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return StateCommand{}, errors.Wrap(err, "invalid state command")
	}
	return cmd, nil
}

// parsePower parses the payload of a power message.
func parsePower(payload []byte) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "invalid power value")
	}
	return uint32(v), nil
}

// handleMessage processes a single incoming message.
func (s *service) handleMessage(ctx context.Context, topic string, payload []byte) error {
	name, suffix, ok := s.parseSpindleTopic(topic)
	if !ok {
		return nil
	}
	switch suffix {
	case mqttCommandSuffix:
		mqttMessagesTotal.WithLabelValues("command").Inc()
		cmd, err := parseStateCommand(payload)
		if err != nil {
			mqttInvalidMessagesTotal.WithLabelValues("command").Inc()
			return err
		}
		return s.enqueueCommand(name, cmd)
	case mqttPowerSuffix:
		mqttMessagesTotal.WithLabelValues("power").Inc()
		duty, err := parsePower(payload)
		if err != nil {
			mqttInvalidMessagesTotal.WithLabelValues("power").Inc()
			return err
		}
		return s.SetSpeedFromISR(name, duty)
	}
	return nil
}

// runMQTT keeps an MQTT connection for spindle commands & status
// until the given context is canceled.
func (s *service) runMQTT(ctx context.Context) error {
	log := s.log.With().Str("broker", s.MQTTBrokerAddress).Logger()
	return util.UntilCanceled(ctx, log, "MQTT spindle connection", func() error {
		return s.runMQTTOnce(ctx)
	})
}

// runMQTTOnce connects to the broker and serves until the context is canceled.
func (s *service) runMQTTOnce(ctx context.Context) error {
	log := s.log
	commands := s.spindleTopic("+", mqttCommandSuffix)
	power := s.spindleTopic("+", mqttPowerSuffix)
	onMessage := func(c mqttapi.Client, msg mqttapi.Message) {
		if err := s.handleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Failed to process MQTT message")
		}
	}

	opts := mqttapi.NewClientOptions().
		AddBroker("tcp://" + s.MQTTBrokerAddress).
		SetClientID(s.ModuleID + "-spindles")
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	// Handlers run in order, commands are queued so they never block.
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqttapi.Client) {
		log.Debug().Msg("Connected to MQTT")
		for _, topic := range []string{commands, power} {
			if token := c.Subscribe(topic, 0, onMessage); token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Msgf("failed to subscribe to '%s'", topic)
			} else {
				log.Debug().Msgf("Subscribed to MQTT topic '%s'", topic)
			}
		}
		for _, status := range s.Statuses() {
			s.publishStatus(c, status)
		}
	})

	client := mqttapi.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt: %w", token.Error())
	}
	defer client.Disconnect(mqttDisconnectMS)

	cancel := s.Subscribe(func(status spindle.Status) {
		s.publishStatus(client, status)
	})
	defer cancel()

	<-ctx.Done()
	return nil
}

// publishStatus publishes the retained status of a spindle.
func (s *service) publishStatus(client mqttapi.Client, status spindle.Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode status")
		return
	}
	topic := s.spindleTopic(status.Name, mqttStatusSuffix)
	token := client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		s.log.Error().Err(token.Error()).
			Str("topic", topic).
			Msg("failed to deliver MQTT status in time")
	}
}
