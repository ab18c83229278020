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

package logging

import (
	"log/slog"
	"time"
)

// TrafficLogger records every socket frame the agent sends or receives.
// Image payloads are logged by size only.
type TrafficLogger struct {
	logger *slog.Logger
}

func NewTrafficLogger(logger *slog.Logger) *TrafficLogger {
	return &TrafficLogger{logger: logger}
}

func (t *TrafficLogger) Log(channel, direction, msgType string, payloadSize int) {
	if t == nil {
		return
	}
	t.logger.Info("frame",
		"channel", channel,
		"direction", direction,
		"type", msgType,
		"payload_size", payloadSize,
		"timestamp", time.Now().UTC(),
	)
}
