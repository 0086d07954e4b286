//    Copyright 2017 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// statusLed drives a status led, either steady or blinking.
type statusLed struct {
	mutex       sync.Mutex
	name        string
	pin         OutputPin
	blinking    bool
	cancelBlink func()
}

// newStatusLed creates a led on the given pin.
func newStatusLed(name string, pin OutputPin) *statusLed {
	return &statusLed{name: name, pin: pin}
}

// stopBlink cancels a running blink, must be called with the mutex held.
func (l *statusLed) stopBlink() {
	if cancel := l.cancelBlink; cancel != nil {
		l.cancelBlink = nil
		cancel()
	}
	l.blinking = false
}

// Set turns the led on/off, cancelling a blink
func (l *statusLed) Set(on bool) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.stopBlink()
	if err := l.pin.Write(on); err != nil {
		return errors.Wrap(err, "Write failed")
	}
	ledStateGauges.WithLabelValues(l.name).Set(boolToFloat(on))
	return nil
}

// Blink the led on/off with given delay between changes.
func (l *statusLed) Blink(delay time.Duration) error {
	if delay <= 0 {
		return errors.Errorf("invalid blink delay %s", delay)
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.stopBlink()
	ctx, cancel := context.WithCancel(context.Background())
	l.cancelBlink = cancel
	l.blinking = true
	ledStateGauges.WithLabelValues(l.name).Set(ledBlinking)
	go func() {
		value := true
		for {
			l.mutex.Lock()
			if ctx.Err() == nil {
				l.pin.Write(value)
				value = !value
			}
			l.mutex.Unlock()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// IsBlinking returns true while the led is blinking.
func (l *statusLed) IsBlinking() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.blinking
}

// Close stops blinking and turns the led off.
func (l *statusLed) Close() error {
	return l.Set(false)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
