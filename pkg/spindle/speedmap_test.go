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
	"testing"

	"go.viam.com/test"

	model "github.com/binkynet/SpindleWorker/model"
)

func TestDefaultSpeedMap(t *testing.T) {
	segments := setupSpeeds(linearSpeeds(10000, 100), 4095)
	test.That(t, segments, test.ShouldHaveLength, 2)
	test.That(t, offSegment(segments), test.ShouldEqual, uint32(0))

	tests := []struct {
		Speed    uint32
		Expected uint32
	}{
		{0, 0},
		{1000, 409},
		{3000, 1228},
		{5000, 2047},
		{10000, 4095},
		{20000, 4095},
	}
	for _, tc := range tests {
		test.That(t, mapSegments(segments, tc.Speed), test.ShouldEqual, tc.Expected)
	}
}

func TestSpeedMapSegments(t *testing.T) {
	m := model.SpeedMap{
		{Speed: 1000, Percent: 20},
		{Speed: 2000, Percent: 60},
		{Speed: 4000, Percent: 50},
	}
	segments := setupSpeeds(m, 1000)
	test.That(t, offSegment(segments), test.ShouldEqual, uint32(200))

	// Below the first breakpoint
	test.That(t, mapSegments(segments, 0), test.ShouldEqual, uint32(200))
	test.That(t, mapSegments(segments, 1000), test.ShouldEqual, uint32(200))
	test.That(t, mapSegments(segments, 1500), test.ShouldEqual, uint32(399))
	test.That(t, mapSegments(segments, 2000), test.ShouldEqual, uint32(600))
	// Decreasing segment
	test.That(t, mapSegments(segments, 3000), test.ShouldEqual, uint32(550))
	test.That(t, mapSegments(segments, 4000), test.ShouldEqual, uint32(500))
	test.That(t, mapSegments(segments, 5000), test.ShouldEqual, uint32(500))
}

func TestSpeedMapEmpty(t *testing.T) {
	test.That(t, mapSegments(nil, 100), test.ShouldEqual, uint32(0))
	test.That(t, offSegment(nil), test.ShouldEqual, uint32(0))

	// Without PWM resolution every speed maps to 0
	segments := setupSpeeds(linearSpeeds(10000, 100), 0)
	test.That(t, mapSegments(segments, 5000), test.ShouldEqual, uint32(0))
}
