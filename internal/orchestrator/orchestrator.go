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

// Package orchestrator drives the whole agent off the session lifecycle:
// it polls the session, brings the role's components up while the session
// is LIVE, and tears them down in a fixed order when it ends.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/classpulse/engage-agent/pkg/core"
)

const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

// SessionAPI is the slice of the REST client the orchestrator drives.
type SessionAPI interface {
	GetSession(ctx context.Context, sessionID int64) (core.Session, error)
	JoinSession(ctx context.Context, sessionID int64, authType string, deviceInfo map[string]any) (core.Participant, error)
	FetchInsights(ctx context.Context, sessionID int64, topic core.TopicDifficulty, localHour int) (json.RawMessage, error)
}

type DeviceManager interface {
	Acquire(ctx context.Context) error
	Release()
}

type ActivityTracker interface {
	Attach()
	Detach()
}

type TelemetryLink interface {
	Connect(ctx context.Context) error
	Close()
	State() core.ConnState
}

type InsightsLink interface {
	Connect(ctx context.Context) error
	Close()
	State() core.ConnState
	ReplaceSnapshot(raw json.RawMessage)
}

type SampleLoop interface {
	Start(ctx context.Context)
	Stop()
}

type QuizClock interface {
	StartClock()
	StopClock()
	Refresh(ctx context.Context) error
}

// Options carries the wiring for one role. Student agents leave insights
// nil; instructor agents leave device, activity, telemetry and composer
// nil. Every component is optional so either role uses one orchestrator.
type Options struct {
	SessionID    int64
	Role         string
	AuthType     string
	DeviceInfo   map[string]any
	PollInterval time.Duration
	Topic        core.TopicDifficulty

	API       SessionAPI
	Device    DeviceManager
	Activity  ActivityTracker
	Telemetry TelemetryLink
	Insights  InsightsLink
	Composer  SampleLoop
	Quiz      QuizClock

	Logger *slog.Logger
}

type Orchestrator struct {
	opts Options

	mu       sync.Mutex
	running  bool
	joined   bool
	active   bool
	stop     chan struct{}
	done     chan struct{}
	lastSeen core.SessionStatus

	localHour func() int
}

func New(opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Topic == "" {
		opts.Topic = core.DifficultyMedium
	}
	return &Orchestrator{
		opts:      opts,
		localHour: func() int { return time.Now().Hour() },
	}
}

// Run polls the session until the context is cancelled or the session
// reaches a terminal status. Components are (re)activated on every poll
// while the session is LIVE; each activation step is a no-op when its
// component is already up, so the poll doubles as the reconnect driver.
func (o *Orchestrator) Run(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	stop, done := o.stop, o.done
	o.mu.Unlock()

	defer close(done)
	defer o.markStopped()
	defer o.Teardown()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	o.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if terminal := o.pollOnce(ctx); terminal {
				return
			}
		}
	}
}

// markStopped lets a later Run start over after the loop exits on its
// own (terminal session status).
func (o *Orchestrator) markStopped() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

// Stop ends the poll loop and waits for its teardown to finish.
// Re-entrant; a second Stop returns immediately.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stop)
	done := o.done
	o.mu.Unlock()
	<-done
}

func (o *Orchestrator) pollOnce(ctx context.Context) (terminal bool) {
	session, err := o.opts.API.GetSession(ctx, o.opts.SessionID)
	if err != nil {
		o.opts.Logger.Warn("session poll failed", "session_id", o.opts.SessionID, "error", err)
		return false
	}

	o.mu.Lock()
	changed := session.Status != o.lastSeen
	o.lastSeen = session.Status
	o.mu.Unlock()
	if changed {
		o.opts.Logger.Info("session status", "session_id", session.ID, "status", session.Status)
	}

	switch {
	case session.Status == core.StatusLive:
		o.activate(ctx, session)
		return false
	case session.Status.IsTerminal():
		return true
	default:
		// Scheduled: keep waiting.
		return false
	}
}

func (o *Orchestrator) activate(ctx context.Context, session core.Session) {
	if o.opts.Role == RoleStudent {
		o.activateStudent(ctx, session)
		return
	}
	o.activateInstructor(ctx)
}

// activateStudent brings the capture pipeline up in dependency order:
// activity first so the very first sample has interaction state, then the
// camera, then the socket the samples go out on, then the compose loop,
// then the quiz countdown.
func (o *Orchestrator) activateStudent(ctx context.Context, session core.Session) {
	if !o.joinOnce(ctx) {
		return
	}

	o.mu.Lock()
	first := !o.active
	o.active = true
	o.mu.Unlock()

	if o.opts.Activity != nil && first {
		o.opts.Activity.Attach()
	}
	if !session.TrackingEnabled {
		// Camera pipeline stays down: the compose loop would reacquire
		// the device on its own, so it must not run at all. Attendance
		// and quizzes keep working.
		if o.opts.Composer != nil {
			o.opts.Composer.Stop()
		}
		if o.opts.Device != nil {
			o.opts.Device.Release()
		}
	} else if o.opts.Device != nil {
		if err := o.opts.Device.Acquire(ctx); err != nil {
			// The compose loop degrades to no-frame cycles; keep going.
			o.opts.Logger.Warn("camera acquire failed", "error", err)
		}
	}
	if o.opts.Telemetry != nil {
		if err := o.opts.Telemetry.Connect(ctx); err != nil {
			o.opts.Logger.Warn("telemetry connect failed", "error", err)
		}
	}
	if o.opts.Composer != nil && session.TrackingEnabled {
		o.opts.Composer.Start(ctx)
	}
	if o.opts.Quiz != nil && first {
		if err := o.opts.Quiz.Refresh(ctx); err != nil {
			o.opts.Logger.Warn("initial quiz refresh failed", "error", err)
		}
		o.opts.Quiz.StartClock()
	}
}

func (o *Orchestrator) joinOnce(ctx context.Context) bool {
	o.mu.Lock()
	joined := o.joined
	o.mu.Unlock()
	if joined {
		return true
	}

	participant, err := o.opts.API.JoinSession(ctx, o.opts.SessionID, o.opts.AuthType, o.opts.DeviceInfo)
	if err != nil {
		o.opts.Logger.Warn("join failed", "session_id", o.opts.SessionID, "error", err)
		return false
	}
	o.mu.Lock()
	o.joined = true
	o.mu.Unlock()
	o.opts.Logger.Info("joined session",
		"session_id", o.opts.SessionID,
		"participant_id", participant.ID,
		"attendance_mark", participant.AttendanceMark)
	return true
}

// activateInstructor keeps the insights socket up and falls back to the
// REST snapshot whenever the socket is down on a poll.
func (o *Orchestrator) activateInstructor(ctx context.Context) {
	o.mu.Lock()
	first := !o.active
	o.active = true
	o.mu.Unlock()

	if o.opts.Insights != nil {
		if err := o.opts.Insights.Connect(ctx); err != nil {
			o.opts.Logger.Warn("insights connect failed", "error", err)
		}
		if o.opts.Insights.State() != core.ConnConnected {
			raw, err := o.opts.API.FetchInsights(ctx, o.opts.SessionID, o.opts.Topic, o.localHour())
			if err != nil {
				o.opts.Logger.Warn("insights fallback fetch failed", "error", err)
			} else {
				o.opts.Insights.ReplaceSnapshot(raw)
			}
		}
	}
	if o.opts.Quiz != nil && first {
		if err := o.opts.Quiz.Refresh(ctx); err != nil {
			o.opts.Logger.Warn("initial quiz refresh failed", "error", err)
		}
		o.opts.Quiz.StartClock()
	}
}

// Teardown releases everything in a fixed order: the compose loop stops
// before the camera it captures from, the quiz clock before its last tick
// can schedule another refresh, sockets last. Safe to call repeatedly and
// with components that never started.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	o.active = false
	// A session re-entering LIVE later is rebuilt from scratch, join
	// included.
	o.joined = false
	o.lastSeen = ""
	o.mu.Unlock()

	if o.opts.Composer != nil {
		o.opts.Composer.Stop()
	}
	if o.opts.Quiz != nil {
		o.opts.Quiz.StopClock()
	}
	if o.opts.Device != nil {
		o.opts.Device.Release()
	}
	if o.opts.Activity != nil {
		o.opts.Activity.Detach()
	}
	if o.opts.Telemetry != nil {
		o.opts.Telemetry.Close()
	}
	if o.opts.Insights != nil {
		o.opts.Insights.Close()
	}
	o.opts.Logger.Info("session teardown complete", "session_id", o.opts.SessionID)
}
