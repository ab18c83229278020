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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/classpulse/engage-agent/pkg/core"
)

const (
	recoveryBackoff = 1200 * time.Millisecond
	reacquireWindow = 2 * time.Second
)

// Manager owns the one camera stream a client is allowed. All track
// start/stop goes through it; everything else reads frames through Capture.
type Manager struct {
	src     FrameSource
	logger  *slog.Logger
	backoff time.Duration

	mu         sync.Mutex
	state      core.DeviceState
	reason     string
	recovering bool
	// generation invalidates a pending recovery when Release intervenes.
	generation int

	onStatus func(string)
}

func NewManager(src FrameSource, logger *slog.Logger) *Manager {
	return &Manager{
		src:     src,
		logger:  logger,
		backoff: recoveryBackoff,
	}
}

// SetStatusFunc registers a sink for transient human-readable status
// messages (recovering, muted). Must be called before the manager is used.
func (m *Manager) SetStatusFunc(f func(string)) {
	m.onStatus = f
}

func (m *Manager) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == core.DeviceActive {
		return nil
	}
	return m.openLocked(ctx)
}

func (m *Manager) openLocked(ctx context.Context) error {
	err := m.src.Open(ctx)
	if err == nil {
		m.state = core.DeviceActive
		m.reason = ""
		m.logger.Info("device stream active")
		return nil
	}

	var perm *PermissionError
	if errors.As(err, &perm) {
		m.state = core.DeviceDenied
		m.reason = perm.Reason
		m.logger.Warn("device permission denied", "reason", perm.Reason)
		return fmt.Errorf("%w: %s", core.ErrDeviceDenied, perm.Reason)
	}

	m.state = core.DeviceError
	m.reason = err.Error()
	m.logger.Error("device acquire failed", "error", err)
	return fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
}

// Capture returns the current frame. When the stream has not buffered
// enough to serve frames yet this is a graceful ErrNoFrame, not a failure
// of the manager.
func (m *Manager) Capture(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != core.DeviceActive {
		return Frame{}, fmt.Errorf("%w: device %s", core.ErrNoFrame, m.state)
	}
	if !m.src.Ready() {
		return Frame{}, core.ErrNoFrame
	}
	frame, err := m.src.Grab(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", core.ErrNoFrame, err)
	}
	return frame, nil
}

// Release stops the underlying track and clears all references. Safe to
// call repeatedly; also aborts a pending recovery.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.recovering = false
	m.src.Close()
	m.state = core.DeviceIdle
	m.reason = ""
}

// HandleTrackEnded reacts to an unexpected end of the hardware track.
// Recovery is single-flight: a second ended signal inside the backoff
// window is dropped.
func (m *Manager) HandleTrackEnded() {
	m.mu.Lock()
	if m.state != core.DeviceActive || m.recovering {
		m.mu.Unlock()
		return
	}
	m.recovering = true
	m.state = core.DeviceError
	m.reason = "stream interrupted"
	gen := m.generation
	m.mu.Unlock()

	m.surface("camera interrupted, recovering")
	m.logger.Warn("device track ended, scheduling recovery", "backoff", m.backoff)
	go m.recoverOnce(gen)
}

func (m *Manager) recoverOnce(gen int) {
	time.Sleep(m.backoff)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || !m.recovering {
		return
	}
	m.recovering = false
	m.src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), reacquireWindow)
	defer cancel()
	if err := m.openLocked(ctx); err != nil {
		m.logger.Error("device recovery failed", "error", err)
		return
	}
	m.logger.Info("device stream recovered")
}

// HandleMute surfaces an OS-level mute/unmute without tearing the stream
// down.
func (m *Manager) HandleMute(muted bool) {
	if muted {
		m.surface("camera muted by system")
	} else {
		m.surface("camera unmuted")
	}
	m.logger.Info("device mute state changed", "muted", muted)
}

func (m *Manager) State() core.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) StatusReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *Manager) surface(msg string) {
	if m.onStatus != nil {
		m.onStatus(msg)
	}
}
