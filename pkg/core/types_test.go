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

package core

import (
	"encoding/json"
	"testing"
)

func TestClampUnit(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tc := range cases {
		if got := ClampUnit(tc.in); got != tc.want {
			t.Errorf("ClampUnit(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSessionStatusIsTerminal(t *testing.T) {
	if StatusScheduled.IsTerminal() || StatusLive.IsTerminal() {
		t.Fatal("scheduled/live must not be terminal")
	}
	if !StatusEnded.IsTerminal() || !StatusCancelled.IsTerminal() {
		t.Fatal("ended/cancelled must be terminal")
	}
}

func TestNormalizeTopicDifficulty(t *testing.T) {
	cases := map[string]TopicDifficulty{
		"LOW":     DifficultyLow,
		"MEDIUM":  DifficultyMedium,
		"HIGH":    DifficultyHigh,
		"":        DifficultyMedium,
		"extreme": DifficultyMedium,
	}
	for in, want := range cases {
		if got := NormalizeTopicDifficulty(in); got != want {
			t.Errorf("NormalizeTopicDifficulty(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestVisionSampleWireTags(t *testing.T) {
	payload, err := json.Marshal(VisionSample{Type: MessageTypeVisionSample})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{
		"type", "image_base64", "participation", "attendance_consistency",
		"interaction_recency_seconds", "interaction_events", "movement_intensity",
	} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("wire key %q missing from %s", key, payload)
		}
	}
}

func TestVisionAckPartialPayload(t *testing.T) {
	var ack SignalAck
	if err := json.Unmarshal([]byte(`{"type":"signal_ack","vision":{"face_visible":false}}`), &ack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack.Vision.FaceVisible == nil || *ack.Vision.FaceVisible {
		t.Fatal("face_visible false not preserved")
	}
	if ack.Vision.FaceCount != nil || ack.Vision.Confidence != nil {
		t.Fatal("absent fields must stay nil")
	}
}
