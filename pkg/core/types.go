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
	"time"
)

type SessionStatus string

const (
	StatusScheduled SessionStatus = "SCHEDULED"
	StatusLive      SessionStatus = "LIVE"
	StatusEnded     SessionStatus = "ENDED"
	StatusCancelled SessionStatus = "CANCELLED"
)

// IsTerminal reports whether the session can never return to LIVE.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

type Session struct {
	ID              int64         `json:"id"`
	Status          SessionStatus `json:"status"`
	ScheduledStart  *time.Time    `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time    `json:"scheduled_end,omitempty"`
	TrackingEnabled bool          `json:"tracking_enabled"`
}

type Participant struct {
	ID             int64     `json:"id"`
	SessionID      int64     `json:"session_id"`
	StudentID      int64     `json:"student_id"`
	JoinedAt       time.Time `json:"joined_at"`
	AttendanceMark bool      `json:"attendance_mark"`
	AuthType       string    `json:"auth_type,omitempty"`
}

type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
	ConnError
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnError:
		return "error"
	default:
		return "disconnected"
	}
}

type DeviceState int

const (
	DeviceIdle DeviceState = iota
	DeviceActive
	DeviceError
	DeviceDenied
)

func (s DeviceState) String() string {
	switch s {
	case DeviceActive:
		return "active"
	case DeviceError:
		return "error"
	case DeviceDenied:
		return "denied"
	default:
		return "idle"
	}
}

type TopicDifficulty string

const (
	DifficultyLow    TopicDifficulty = "LOW"
	DifficultyMedium TopicDifficulty = "MEDIUM"
	DifficultyHigh   TopicDifficulty = "HIGH"
)

// NormalizeTopicDifficulty falls back to MEDIUM for anything unrecognized,
// mirroring the server's normalization.
func NormalizeTopicDifficulty(s string) TopicDifficulty {
	switch TopicDifficulty(s) {
	case DifficultyLow, DifficultyMedium, DifficultyHigh:
		return TopicDifficulty(s)
	default:
		return DifficultyMedium
	}
}

const (
	MessageTypeVisionSample      = "vision_sample"
	MessageTypeSignalAck         = "signal_ack"
	MessageTypeSubscribeInsights = "subscribe_insights"
	MessageTypeInsightsUpdate    = "insights_update"
	MessageTypeError             = "error"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeConnected         = "connected"
)

// Envelope carries only the discriminator so inbound frames can be routed
// before a full decode. Unknown types are ignored by every channel.
type Envelope struct {
	Type string `json:"type"`
}

type VisionSample struct {
	Type                      string  `json:"type"`
	ImageBase64               string  `json:"image_base64"`
	Participation             float64 `json:"participation"`
	AttendanceConsistency     float64 `json:"attendance_consistency"`
	InteractionRecencySeconds float64 `json:"interaction_recency_seconds"`
	InteractionEvents         int     `json:"interaction_events"`
	MovementIntensity         float64 `json:"movement_intensity"`
}

type VisionAck struct {
	FaceVisible *bool    `json:"face_visible,omitempty"`
	FaceCount   *int     `json:"face_count,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

type SignalAck struct {
	Type   string    `json:"type"`
	Vision VisionAck `json:"vision"`
}

type ErrorMessage struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

type SubscribeInsights struct {
	Type            string          `json:"type"`
	TopicDifficulty TopicDifficulty `json:"topic_difficulty"`
	LocalHour       int             `json:"local_hour"`
}

type InsightsUpdate struct {
	Type     string          `json:"type"`
	Insights json.RawMessage `json:"insights"`
}

// InsightsSnapshot is the most recent server-computed aggregate. The payload
// stays opaque; the agent only caches it and hands it on.
type InsightsSnapshot struct {
	Insights   json.RawMessage
	ReceivedAt time.Time
}

type QuizCheckpoint struct {
	ID                 int64      `json:"id"`
	SessionID          int64      `json:"session_id"`
	Question           string     `json:"question"`
	Options            []string   `json:"options"`
	CorrectOptionIndex *int       `json:"correct_option_index,omitempty"`
	DurationSeconds    int        `json:"duration_seconds"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds   *int       `json:"remaining_seconds,omitempty"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	TotalResponses     int        `json:"total_responses"`
	CorrectResponses   int        `json:"correct_responses"`
	AlreadyAnswered    bool       `json:"already_answered,omitempty"`
}

type QuizAnswer struct {
	QuizID              int64     `json:"quiz_id"`
	SelectedOptionIndex int       `json:"selected_option_index"`
	IsCorrect           bool      `json:"is_correct"`
	CorrectOptionIndex  int       `json:"correct_option_index"`
	AnsweredAt          time.Time `json:"answered_at"`
}

type StudentQuizStats struct {
	Attempted int     `json:"attempted"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
}

type JitsiToken struct {
	Domain    string `json:"domain"`
	Room      string `json:"room"`
	JWT       string `json:"jwt,omitempty"`
	AppID     string `json:"app_id"`
	Moderator bool   `json:"moderator"`
}

// ClampUnit bounds a score to [0,1]. Every derived engagement metric passes
// through this before leaving the agent.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
