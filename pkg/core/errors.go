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

import "errors"

var (
	// Configuration errors, rejected before any network attempt.
	ErrTokenMissing = errors.New("auth token missing from configuration")
	ErrTokenExpired = errors.New("auth token already expired")

	// Device errors. Denied is persistent and never auto-retried;
	// Unavailable covers hardware or API failure and is recoverable.
	ErrDeviceDenied      = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrNoFrame           = errors.New("no frame available")
	ErrCaptureFailed     = errors.New("cannot capture frame")

	// Channel errors.
	ErrNotConnected = errors.New("channel not connected")

	// Quiz errors.
	ErrQuizNotFound    = errors.New("quiz checkpoint not tracked")
	ErrTimeOver        = errors.New("quiz time is over")
	ErrAlreadyAnswered = errors.New("quiz already answered")
	ErrNoSelection     = errors.New("no option selected")
	ErrNotJoined       = errors.New("session not joined")
)
