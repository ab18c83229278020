// Copyright (c) 2026, Classpulse Labs.
//
// Classpulse Labs licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package compose

import "github.com/classpulse/engage-agent/pkg/core"

// Blend coefficients match the scoring service so a sample scored locally
// and one derived server-side from the same inputs agree.

const burstWindow = 12.0

func recencyScore(seconds float64) float64 {
	switch {
	case seconds <= 15:
		return 1.0
	case seconds <= 45:
		return 0.72
	case seconds <= 90:
		return 0.42
	default:
		return 0.18
	}
}

func burstRatio(events int) float64 {
	return core.ClampUnit(float64(events) / burstWindow)
}

func movementIntensity(burst float64, focused, visible bool) float64 {
	return core.ClampUnit(0.3*burst + 0.4*unit(focused) + 0.3*unit(visible))
}

func participation(burst, recency, movement float64, recentQuizAnswer bool) float64 {
	p := 0.2 + 0.45*burst + 0.25*recency + 0.1*movement
	if recentQuizAnswer {
		p += 0.15
	}
	return core.ClampUnit(p)
}

func attendanceConsistency(visibleRatio float64, focused bool) float64 {
	return core.ClampUnit(0.7*core.ClampUnit(visibleRatio) + 0.3*unit(focused))
}

func unit(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
