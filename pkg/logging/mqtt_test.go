// Copyright 2018 Ewout Prangsma
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

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqttapi "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"go.viam.com/test"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

// recordingClient records published messages.
type recordingClient struct {
	mqttapi.Client
	mutex    sync.Mutex
	messages []string
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttapi.Token {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var msg logMsg
	if err := json.Unmarshal(payload.([]byte), &msg); err == nil {
		c.messages = append(c.messages, topic+":"+msg.Message)
	}
	return doneToken{}
}

func (c *recordingClient) Messages() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.messages...)
}

func TestMQTTWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewMQTTWriter(ctx)
	client := &recordingClient{}
	w.SetDestination("m1/log", client)
	w.Enable(true)

	n, err := w.Write([]byte("hello"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 5)

	deadline := time.Now().Add(5 * time.Second)
	for len(client.Messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	test.That(t, client.Messages(), test.ShouldResemble, []string{"m1/log:hello"})
}

func TestMQTTWriterQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Not enabled, so nothing is taken from the queue
	w := NewMQTTWriter(ctx)
	for i := 0; i < mqttQueueSize*2; i++ {
		n, err := w.Write([]byte("x"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, n, test.ShouldEqual, 1)
	}
	n, err := w.Write(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	log := zerolog.New(NewMultiWriter(&a, &b))
	log.Info().Msg("spindle")
	test.That(t, a.String(), test.ShouldContainSubstring, "spindle")
	test.That(t, a.String(), test.ShouldEqual, b.String())
}

func TestMultiWriterAdd(t *testing.T) {
	var a, b bytes.Buffer
	w := NewMultiWriter(&a)
	w.Write([]byte("one\n"))
	w.Add(&b)
	w.Write([]byte("two\n"))
	test.That(t, a.String(), test.ShouldEqual, "one\ntwo\n")
	test.That(t, b.String(), test.ShouldEqual, "two\n")
}
