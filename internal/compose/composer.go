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

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/classpulse/engage-agent/internal/device"
	"github.com/classpulse/engage-agent/pkg/core"
)

const (
	// How recently a quiz answer still boosts participation.
	quizBoostWindow = 3 * time.Minute
	// Pause between the two capture attempts of one cycle.
	captureRetryWait = 300 * time.Millisecond
)

type DeviceController interface {
	State() core.DeviceState
	Acquire(ctx context.Context) error
	Capture(ctx context.Context) (device.Frame, error)
}

type ActivityReader interface {
	SecondsSinceInteraction() float64
	InteractionCount() int
	ResetInteractions()
	Focused() bool
	Visible() bool
	HiddenDuration() time.Duration
}

type QuizActivity interface {
	RecentlyAnswered(window time.Duration) bool
}

type SampleSender interface {
	SendSample(ctx context.Context, sample core.VisionSample) error
}

// Composer assembles one telemetry sample per tick. Slow cycles are
// skipped, never queued: a sample that misses its tick is stale anyway.
type Composer struct {
	device   DeviceController
	activity ActivityReader
	quiz     QuizActivity
	sender   SampleSender
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	joinedAt  time.Time
	status    string
	retryWait time.Duration
	now       func() time.Time
}

func New(dev DeviceController, act ActivityReader, quiz QuizActivity, sender SampleSender, interval time.Duration, logger *slog.Logger) *Composer {
	return &Composer{
		device:    dev,
		activity:  act,
		quiz:      quiz,
		sender:    sender,
		interval:  interval,
		logger:    logger,
		retryWait: captureRetryWait,
		now:       time.Now,
	}
}

// Start begins the compose loop. No-op while already running.
func (c *Composer) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.joinedAt = c.now()
	c.mu.Unlock()

	go c.loop(loopCtx)
}

func (c *Composer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.cancel()
	c.running = false
}

func (c *Composer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status is the outcome of the most recent cycle; empty means the last
// sample went out.
func (c *Composer) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Composer) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ComposeOnce(ctx)
		}
	}
}

// ComposeOnce runs a single compose cycle: frame capture (with one
// reacquire-and-retry), blend, send. Failures surface as a status string
// and leave the burst counter untouched for the next tick.
func (c *Composer) ComposeOnce(ctx context.Context) {
	frame, ok := c.captureFrame(ctx)
	if !ok {
		return
	}

	sample := c.buildSample(frame)
	if err := c.sender.SendSample(ctx, sample); err != nil {
		c.setStatus("telemetry send failed: " + err.Error())
		c.logger.Warn("sample send failed, keeping counters for next tick", "error", err)
		return
	}

	c.activity.ResetInteractions()
	c.setStatus("")
}

func (c *Composer) captureFrame(ctx context.Context) (device.Frame, bool) {
	if c.device.State() != core.DeviceActive {
		if err := c.device.Acquire(ctx); err != nil {
			c.setStatus("cannot capture: " + err.Error())
			return device.Frame{}, false
		}
	}

	frame, err := c.device.Capture(ctx)
	if err == nil {
		return frame, true
	}

	// One reacquire, a short wait, one more attempt; then give up for
	// this cycle.
	if err := c.device.Acquire(ctx); err != nil {
		c.setStatus("cannot capture: " + err.Error())
		return device.Frame{}, false
	}
	select {
	case <-ctx.Done():
		c.setStatus("cannot capture: " + ctx.Err().Error())
		return device.Frame{}, false
	case <-time.After(c.retryWait):
	}
	frame, err = c.device.Capture(ctx)
	if err != nil {
		c.setStatus("cannot capture: " + err.Error())
		c.logger.Warn("capture failed twice in one cycle", "error", err)
		return device.Frame{}, false
	}
	return frame, true
}

func (c *Composer) buildSample(frame device.Frame) core.VisionSample {
	recencySeconds := c.activity.SecondsSinceInteraction()
	events := c.activity.InteractionCount()
	focused := c.activity.Focused()
	visible := c.activity.Visible()

	burst := burstRatio(events)
	recency := recencyScore(recencySeconds)
	movement := movementIntensity(burst, focused, visible)
	recentQuiz := c.quiz.RecentlyAnswered(quizBoostWindow)

	c.mu.Lock()
	elapsed := c.now().Sub(c.joinedAt)
	c.mu.Unlock()
	visibleRatio := 1.0
	if elapsed > 0 {
		visibleRatio = 1 - c.activity.HiddenDuration().Seconds()/elapsed.Seconds()
	}

	return core.VisionSample{
		Type:                      core.MessageTypeVisionSample,
		ImageBase64:               frame.Base64(),
		Participation:             participation(burst, recency, movement, recentQuiz),
		AttendanceConsistency:     attendanceConsistency(visibleRatio, focused),
		InteractionRecencySeconds: recencySeconds,
		InteractionEvents:         events,
		MovementIntensity:         movement,
	}
}

func (c *Composer) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
