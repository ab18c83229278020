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

package device

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

// Frame is one captured camera image, already encoded (JPEG/PNG) by the
// source.
type Frame struct {
	Data       []byte
	MimeType   string
	CapturedAt time.Time
}

func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// FrameSource abstracts the hardware capture path. The Manager is the only
// caller; nothing else in the agent may open or close a source.
type FrameSource interface {
	// Open claims the device. A PermissionError means access was refused
	// and the manager must not retry on its own.
	Open(ctx context.Context) error
	// Grab returns the current frame. Sources report ErrNoFrame-style
	// failures through plain errors; readiness is checked first via Ready.
	Grab(ctx context.Context) (Frame, error)
	// Close releases the device. Must be safe to call when not open.
	Close() error
	// Ready reports whether the source has buffered enough to serve frames.
	Ready() bool
}

// PermissionError marks a refusal by the platform or the user, as opposed
// to a transient hardware failure.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}
