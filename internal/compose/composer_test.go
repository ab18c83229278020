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
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/classpulse/engage-agent/internal/device"
	"github.com/classpulse/engage-agent/pkg/core"
)

type fakeDevice struct {
	state       core.DeviceState
	acquireErr  error
	captureErrs []error // consumed per call, nil means success
	captures    int
	acquires    int
}

func (d *fakeDevice) State() core.DeviceState { return d.state }

func (d *fakeDevice) Acquire(ctx context.Context) error {
	d.acquires++
	if d.acquireErr != nil {
		return d.acquireErr
	}
	d.state = core.DeviceActive
	return nil
}

func (d *fakeDevice) Capture(ctx context.Context) (device.Frame, error) {
	idx := d.captures
	d.captures++
	if idx < len(d.captureErrs) && d.captureErrs[idx] != nil {
		return device.Frame{}, d.captureErrs[idx]
	}
	return device.Frame{Data: []byte("img"), MimeType: "image/jpeg"}, nil
}

type fakeActivity struct {
	recency float64
	events  int
	focused bool
	visible bool
	hidden  time.Duration
	resets  int
}

func (a *fakeActivity) SecondsSinceInteraction() float64 { return a.recency }
func (a *fakeActivity) InteractionCount() int            { return a.events }
func (a *fakeActivity) ResetInteractions()               { a.resets++; a.events = 0 }
func (a *fakeActivity) Focused() bool                    { return a.focused }
func (a *fakeActivity) Visible() bool                    { return a.visible }
func (a *fakeActivity) HiddenDuration() time.Duration    { return a.hidden }

type fakeQuiz struct {
	recent bool
}

func (q *fakeQuiz) RecentlyAnswered(time.Duration) bool { return q.recent }

type fakeSender struct {
	err     error
	samples []core.VisionSample
}

func (s *fakeSender) SendSample(ctx context.Context, sample core.VisionSample) error {
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	return nil
}

func testComposer(dev *fakeDevice, act *fakeActivity, quiz *fakeQuiz, sender *fakeSender) *Composer {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c := New(dev, act, quiz, sender, time.Second, logger)
	c.retryWait = time.Millisecond
	c.joinedAt = time.Now()
	return c
}

func TestComposeProducesOneClampedSample(t *testing.T) {
	dev := &fakeDevice{state: core.DeviceActive}
	act := &fakeActivity{recency: 10, events: 8, focused: true, visible: true}
	sender := &fakeSender{}
	c := testComposer(dev, act, &fakeQuiz{recent: true}, sender)

	c.ComposeOnce(context.Background())

	if len(sender.samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(sender.samples))
	}
	s := sender.samples[0]
	if s.Type != core.MessageTypeVisionSample {
		t.Fatalf("expected vision_sample, got %s", s.Type)
	}
	if s.ImageBase64 == "" {
		t.Fatal("expected encoded image")
	}
	for name, v := range map[string]float64{
		"participation":          s.Participation,
		"attendance_consistency": s.AttendanceConsistency,
		"movement_intensity":     s.MovementIntensity,
	} {
		if v < 0 || v > 1 {
			t.Fatalf("%s out of [0,1]: %v", name, v)
		}
	}
	if s.InteractionEvents != 8 {
		t.Fatalf("expected 8 events, got %d", s.InteractionEvents)
	}
}

func TestScoresClampedForExtremeInputs(t *testing.T) {
	for _, events := range []int{0, 1, 12, 500} {
		for _, recency := range []float64{0, 44, 91, 100000} {
			dev := &fakeDevice{state: core.DeviceActive}
			act := &fakeActivity{recency: recency, events: events, focused: true, visible: true}
			sender := &fakeSender{}
			c := testComposer(dev, act, &fakeQuiz{recent: true}, sender)

			c.ComposeOnce(context.Background())
			s := sender.samples[0]
			if s.Participation < 0 || s.Participation > 1 ||
				s.MovementIntensity < 0 || s.MovementIntensity > 1 ||
				s.AttendanceConsistency < 0 || s.AttendanceConsistency > 1 {
				t.Fatalf("unclamped score for events=%d recency=%v: %+v", events, recency, s)
			}
		}
	}
}

func TestParticipationMonotonicInInteraction(t *testing.T) {
	prev := -1.0
	for _, events := range []int{0, 2, 4, 8, 12, 20} {
		dev := &fakeDevice{state: core.DeviceActive}
		act := &fakeActivity{recency: 10, events: events, focused: true, visible: true}
		sender := &fakeSender{}
		c := testComposer(dev, act, &fakeQuiz{}, sender)

		c.ComposeOnce(context.Background())
		p := sender.samples[0].Participation
		if p < prev {
			t.Fatalf("participation decreased with more interaction: %v -> %v at %d events", prev, p, events)
		}
		prev = p
	}
}

func TestQuizAnswerBoostsParticipation(t *testing.T) {
	run := func(recent bool) float64 {
		dev := &fakeDevice{state: core.DeviceActive}
		act := &fakeActivity{recency: 60, events: 2, focused: true, visible: true}
		sender := &fakeSender{}
		c := testComposer(dev, act, &fakeQuiz{recent: recent}, sender)
		c.ComposeOnce(context.Background())
		return sender.samples[0].Participation
	}

	if run(true) <= run(false) {
		t.Fatal("expected recent quiz answer to boost participation")
	}
}

func TestBurstResetOnlyOnSuccessfulSend(t *testing.T) {
	dev := &fakeDevice{state: core.DeviceActive}
	act := &fakeActivity{events: 6, focused: true, visible: true}
	sender := &fakeSender{err: errors.New("socket down")}
	c := testComposer(dev, act, &fakeQuiz{}, sender)

	c.ComposeOnce(context.Background())
	if act.resets != 0 {
		t.Fatal("failed send must not reset the burst counter")
	}
	if c.Status() == "" {
		t.Fatal("expected failure status")
	}

	sender.err = nil
	c.ComposeOnce(context.Background())
	if act.resets != 1 {
		t.Fatalf("expected reset after successful send, got %d", act.resets)
	}
	if c.Status() != "" {
		t.Fatalf("expected clear status, got %q", c.Status())
	}
}

func TestCaptureRetriesOnceThenGivesUp(t *testing.T) {
	dev := &fakeDevice{
		state:       core.DeviceActive,
		captureErrs: []error{core.ErrNoFrame, core.ErrNoFrame},
	}
	sender := &fakeSender{}
	c := testComposer(dev, &fakeActivity{focused: true, visible: true}, &fakeQuiz{}, sender)

	c.ComposeOnce(context.Background())

	if dev.captures != 2 {
		t.Fatalf("expected exactly 2 capture attempts, got %d", dev.captures)
	}
	if dev.acquires != 1 {
		t.Fatalf("expected one reacquire between attempts, got %d", dev.acquires)
	}
	if len(sender.samples) != 0 {
		t.Fatal("expected no sample after two failed captures")
	}
	if !strings.Contains(c.Status(), "cannot capture") {
		t.Fatalf("expected cannot capture status, got %q", c.Status())
	}
}

func TestCaptureRecoversOnRetry(t *testing.T) {
	dev := &fakeDevice{
		state:       core.DeviceActive,
		captureErrs: []error{core.ErrNoFrame, nil},
	}
	sender := &fakeSender{}
	c := testComposer(dev, &fakeActivity{focused: true, visible: true}, &fakeQuiz{}, sender)

	c.ComposeOnce(context.Background())
	if len(sender.samples) != 1 {
		t.Fatalf("expected sample from retry, got %d", len(sender.samples))
	}
}

func TestDeniedDeviceNeverCrashesCycles(t *testing.T) {
	dev := &fakeDevice{state: core.DeviceDenied, acquireErr: core.ErrDeviceDenied}
	sender := &fakeSender{}
	c := testComposer(dev, &fakeActivity{}, &fakeQuiz{}, sender)

	for i := 0; i < 5; i++ {
		c.ComposeOnce(context.Background())
	}
	if len(sender.samples) != 0 {
		t.Fatal("expected no samples while denied")
	}
	if !strings.Contains(c.Status(), "cannot capture") {
		t.Fatalf("expected cannot capture status, got %q", c.Status())
	}
}

func TestStartStopIdempotent(t *testing.T) {
	dev := &fakeDevice{state: core.DeviceActive}
	c := testComposer(dev, &fakeActivity{}, &fakeQuiz{}, &fakeSender{})

	ctx := context.Background()
	c.Start(ctx)
	c.Start(ctx)
	if !c.Running() {
		t.Fatal("expected running")
	}
	c.Stop()
	c.Stop()
	if c.Running() {
		t.Fatal("expected stopped")
	}
}
