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

package activity

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor() (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	m := NewMonitor()
	m.now = clock.now
	m.Attach()
	return m, clock
}

func TestHiddenAccumulation(t *testing.T) {
	m, clock := newTestMonitor()

	m.Observe(Event{Kind: VisibilityHidden})
	clock.advance(40 * time.Second)
	m.Observe(Event{Kind: VisibilityVisible})

	if got := m.HiddenDuration(); got != 40*time.Second {
		t.Fatalf("expected 40s hidden, got %v", got)
	}
	if !m.Visible() {
		t.Fatal("expected visible after regain")
	}
}

func TestOpenHiddenIntervalCounts(t *testing.T) {
	m, clock := newTestMonitor()

	m.Observe(Event{Kind: VisibilityHidden})
	clock.advance(25 * time.Second)

	if got := m.HiddenDuration(); got != 25*time.Second {
		t.Fatalf("expected open interval to count, got %v", got)
	}
}

func TestRegainCountsAsInteraction(t *testing.T) {
	m, clock := newTestMonitor()

	m.Observe(Event{Kind: VisibilityHidden})
	clock.advance(90 * time.Second)
	m.Observe(Event{Kind: VisibilityVisible})

	if m.InteractionCount() != 1 {
		t.Fatalf("expected regain interaction, got %d", m.InteractionCount())
	}
	if got := m.SecondsSinceInteraction(); got != 0 {
		t.Fatalf("expected fresh interaction, got %v", got)
	}
}

func TestBurstCounterReset(t *testing.T) {
	m, _ := newTestMonitor()

	for i := 0; i < 5; i++ {
		m.Observe(Event{Kind: Interaction})
	}
	if m.InteractionCount() != 5 {
		t.Fatalf("expected burst of 5, got %d", m.InteractionCount())
	}

	m.ResetInteractions()
	if m.InteractionCount() != 0 {
		t.Fatalf("expected reset, got %d", m.InteractionCount())
	}
}

func TestFocusTracking(t *testing.T) {
	m, _ := newTestMonitor()

	m.Observe(Event{Kind: FocusLost})
	if m.Focused() {
		t.Fatal("expected unfocused")
	}
	m.Observe(Event{Kind: FocusGained})
	if !m.Focused() {
		t.Fatal("expected focused")
	}
}

func TestSecondsSinceInteraction(t *testing.T) {
	m, clock := newTestMonitor()

	m.Observe(Event{Kind: Interaction})
	clock.advance(72 * time.Second)

	if got := m.SecondsSinceInteraction(); got != 72 {
		t.Fatalf("expected 72s, got %v", got)
	}
}

func TestDetachStopsEvents(t *testing.T) {
	m, clock := newTestMonitor()

	m.Observe(Event{Kind: VisibilityHidden})
	clock.advance(10 * time.Second)
	m.Detach()

	// Events after detach must be ignored.
	m.Observe(Event{Kind: Interaction})
	m.Observe(Event{Kind: VisibilityVisible})

	if m.InteractionCount() != 0 {
		t.Fatalf("expected no interactions after detach, got %d", m.InteractionCount())
	}
	if got := m.HiddenDuration(); got != 10*time.Second {
		t.Fatalf("expected hidden interval closed at detach, got %v", got)
	}
}

func TestReattachResetsState(t *testing.T) {
	m, clock := newTestMonitor()

	m.Observe(Event{Kind: VisibilityHidden})
	clock.advance(30 * time.Second)
	m.Detach()
	m.Attach()

	if m.HiddenDuration() != 0 {
		t.Fatalf("expected clean slate after reattach, got %v", m.HiddenDuration())
	}
	if !m.Visible() || !m.Focused() {
		t.Fatal("expected visible and focused after reattach")
	}
}
