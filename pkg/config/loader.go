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

package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"time"

	"github.com/classpulse/engage-agent/pkg/core"
	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const AgentVersion = "1.4.0"

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

type CameraConfig struct {
	// SnapshotURL is the local capture daemon or IP camera endpoint that
	// returns one encoded frame per GET.
	SnapshotURL          string `yaml:"snapshot_url"`
	CaptureTimeoutMillis int    `yaml:"capture_timeout_millis"`
}

type Config struct {
	APIBaseURL    string `yaml:"api_base_url"`
	SocketBaseURL string `yaml:"socket_base_url"`
	Token         string `yaml:"token"`
	SessionID     int64  `yaml:"session_id"`
	Role          Role   `yaml:"role"`

	Camera CameraConfig `yaml:"camera"`

	ComposeIntervalSeconds int    `yaml:"compose_interval_seconds"`
	PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
	TopicDifficulty        string `yaml:"topic_difficulty"`
	AuthType               string `yaml:"auth_type"`

	deviceID string
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ComposeIntervalSeconds <= 0 {
		c.ComposeIntervalSeconds = 12
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 5
	}
	if c.Camera.CaptureTimeoutMillis <= 0 {
		c.Camera.CaptureTimeoutMillis = 1500
	}
	if c.Role == "" {
		c.Role = RoleStudent
	}
	if c.AuthType == "" {
		c.AuthType = "password"
	}
	c.TopicDifficulty = string(core.NormalizeTopicDifficulty(c.TopicDifficulty))
	if c.deviceID == "" {
		c.deviceID = uuid.New().String()
	}
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return core.ErrTokenMissing
	}
	if err := checkTokenNotExpired(c.Token); err != nil {
		return err
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("api_base_url: %w", err)
	}
	if _, err := url.ParseRequestURI(c.SocketBaseURL); err != nil {
		return fmt.Errorf("socket_base_url: %w", err)
	}
	if c.SessionID <= 0 {
		return fmt.Errorf("session_id must be positive, got %d", c.SessionID)
	}
	switch c.Role {
	case RoleStudent, RoleInstructor:
	default:
		return fmt.Errorf("role must be student or instructor, got %q", c.Role)
	}
	if c.Role == RoleStudent && c.Camera.SnapshotURL == "" {
		return fmt.Errorf("camera.snapshot_url is required for the student role")
	}
	return nil
}

// checkTokenNotExpired decodes the JWT without verifying the signature
// (verification belongs to the server) and rejects a token whose exp claim
// is already in the past. Opaque non-JWT tokens pass through untouched.
func checkTokenNotExpired(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return nil
	}
	if !claims.VerifyExpiresAt(time.Now().Unix(), false) {
		return core.ErrTokenExpired
	}
	return nil
}

func (c *Config) ComposeInterval() time.Duration {
	return time.Duration(c.ComposeIntervalSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMillis) * time.Millisecond
}

// DeviceInfo is sent with join-session so the roster shows what kind of
// client checked in.
func (c *Config) DeviceInfo() map[string]any {
	return map[string]any{
		"device_id":     c.deviceID,
		"platform":      runtime.GOOS,
		"agent_version": AgentVersion,
	}
}
