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

package machine

import (
	"sync"
	"sync/atomic"

	model "github.com/binkynet/SpindleWorker/model"
)

// State holds the state consulted by spindles: the machine wide
// abort flag and the modal mode of every spindle.
// It is safe for concurrent use, including from the fast path.
type State struct {
	abort       atomic.Bool
	spindleModes sync.Map // name -> *atomic.Uint32
	aborts      atomic.Uint64
	override    atomic.Uint32
}

const (
	// Limits of the spindle speed override in percent
	MinSpeedOverride     = 10
	DefaultSpeedOverride = 100
	MaxSpeedOverride     = 200
)

// New returns a machine state without abort and with the spindle disabled.
func New() *State {
	return &State{}
}

// Abort requests a machine wide abort.
// Returns false if an abort was already active.
func (s *State) Abort() bool {
	if !s.abort.CompareAndSwap(false, true) {
		return false
	}
	s.aborts.Add(1)
	abortActiveGauge.Set(1)
	return true
}

// Reset clears an active abort.
// Returns false if no abort was active.
func (s *State) Reset() bool {
	if !s.abort.CompareAndSwap(true, false) {
		return false
	}
	abortActiveGauge.Set(0)
	return true
}

// AbortActive returns true while an abort is active.
func (s *State) AbortActive() bool {
	return s.abort.Load()
}

// AbortCount returns the number of aborts since startup.
func (s *State) AbortCount() uint64 {
	return s.aborts.Load()
}

// SetSpindleMode sets the modal (commanded) mode of the spindle with given name.
func (s *State) SetSpindleMode(name string, mode model.SpindleState) {
	v, _ := s.spindleModes.LoadOrStore(name, &atomic.Uint32{})
	v.(*atomic.Uint32).Store(uint32(mode))
}

// SpindleMode returns the modal (commanded) mode of the spindle with given name.
// Unknown spindles are disabled.
func (s *State) SpindleMode(name string) model.SpindleState {
	if v, ok := s.spindleModes.Load(name); ok {
		return model.SpindleState(v.(*atomic.Uint32).Load())
	}
	return model.SpindleDisabled
}

// SetSpeedOverride sets the spindle speed override in percent,
// clamped to MinSpeedOverride..MaxSpeedOverride.
// Returns the value that was set.
func (s *State) SetSpeedOverride(percent uint32) uint32 {
	percent = max(MinSpeedOverride, min(MaxSpeedOverride, percent))
	s.override.Store(percent)
	speedOverrideGauge.Set(float64(percent))
	return percent
}

// SpeedOverride returns the spindle speed override in percent.
func (s *State) SpeedOverride() uint32 {
	if v := s.override.Load(); v != 0 {
		return v
	}
	return DefaultSpeedOverride
}
