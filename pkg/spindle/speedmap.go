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

package spindle

import (
	model "github.com/binkynet/SpindleWorker/model"
)

// speedSegment is a breakpoint of a speed map, converted to device duty.
type speedSegment struct {
	speed uint32
	// duty at speed
	offset uint32
	// duty increase per speed unit towards the next breakpoint, 16.16 fixed point
	scale int64
}

// linearSpeeds returns a map from 0 (0%) to maxSpeed (maxPercent).
func linearSpeeds(maxSpeed uint32, maxPercent float32) model.SpeedMap {
	return model.SpeedMap{
		{Speed: 0, Percent: 0},
		{Speed: maxSpeed, Percent: maxPercent},
	}
}

// setupSpeeds converts the percentages of the given map into
// segments for a device with the given maximum duty.
func setupSpeeds(m model.SpeedMap, maxDuty uint32) []speedSegment {
	result := make([]speedSegment, len(m))
	for i, e := range m {
		result[i] = speedSegment{
			speed:  e.Speed,
			offset: uint32(float64(e.Percent) / 100 * float64(maxDuty)),
		}
		if i+1 < len(m) {
			next := m[i+1]
			deltaPercent := float64(next.Percent-e.Percent) / 100
			deltaSpeed := float64(next.Speed) - float64(e.Speed)
			if deltaSpeed != 0 {
				result[i].scale = int64(deltaPercent / deltaSpeed * float64(maxDuty) * 65536)
			}
		}
	}
	return result
}

// mapSegments converts a speed into a duty using the given segments.
// Speeds below the first breakpoint map to its duty, speeds at or above
// the last breakpoint map to the last duty.
func mapSegments(segments []speedSegment, speed uint32) uint32 {
	if len(segments) == 0 {
		return 0
	}
	if speed < segments[0].speed {
		return segments[0].offset
	}
	last := len(segments) - 1
	i := 0
	for ; i < last; i++ {
		if speed < segments[i+1].speed {
			break
		}
	}
	seg := segments[i]
	if i == last {
		return seg.offset
	}
	duty := int64(seg.offset) + (int64(speed-seg.speed)*seg.scale)>>16
	if duty < 0 {
		return 0
	}
	return uint32(duty)
}

// offSegment returns the duty of the first breakpoint.
func offSegment(segments []speedSegment) uint32 {
	if len(segments) == 0 {
		return 0
	}
	return segments[0].offset
}
