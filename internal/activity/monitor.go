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
	"sync"
	"time"
)

type EventKind int

const (
	VisibilityHidden EventKind = iota
	VisibilityVisible
	FocusGained
	FocusLost
	// Interaction covers pointer movement, key press, scroll and tap.
	Interaction
)

// Event is fed by the embedding shell from its platform event hooks. An
// empty At means "now".
type Event struct {
	Kind EventKind
	At   time.Time
}

// Monitor accumulates visibility, focus and interaction recency for the
// signal composer. Attach/Detach bound one activation cycle; events
// arriving outside a cycle are dropped so stale handlers from a previous
// session cannot leak state into the next one.
type Monitor struct {
	mu       sync.Mutex
	now      func() time.Time
	attached bool

	visible         bool
	focused         bool
	lastInteraction time.Time
	interactions    int
	hiddenTotal     time.Duration
	hiddenSince     time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{now: time.Now}
}

// Attach begins an activation cycle with a clean slate.
func (m *Monitor) Attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.attached = true
	m.visible = true
	m.focused = true
	m.lastInteraction = now
	m.interactions = 0
	m.hiddenTotal = 0
	m.hiddenSince = time.Time{}
}

// Detach ends the cycle. Accumulated values stay readable; new events are
// ignored until the next Attach.
func (m *Monitor) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.attached {
		return
	}
	if !m.hiddenSince.IsZero() {
		m.hiddenTotal += m.now().Sub(m.hiddenSince)
		m.hiddenSince = time.Time{}
	}
	m.attached = false
}

func (m *Monitor) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

func (m *Monitor) Observe(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.attached {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = m.now()
	}

	switch ev.Kind {
	case VisibilityHidden:
		if m.visible {
			m.visible = false
			m.hiddenSince = at
		}
	case VisibilityVisible:
		if !m.visible {
			m.visible = true
			if !m.hiddenSince.IsZero() {
				m.hiddenTotal += at.Sub(m.hiddenSince)
				m.hiddenSince = time.Time{}
			}
			// Coming back counts as an interaction.
			m.lastInteraction = at
			m.interactions++
		}
	case FocusGained:
		m.focused = true
	case FocusLost:
		m.focused = false
	case Interaction:
		m.lastInteraction = at
		m.interactions++
	}
}

// HiddenDuration includes a currently open hidden interval.
func (m *Monitor) HiddenDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.hiddenTotal
	if !m.hiddenSince.IsZero() {
		total += m.now().Sub(m.hiddenSince)
	}
	return total
}

func (m *Monitor) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

func (m *Monitor) Focused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

func (m *Monitor) SecondsSinceInteraction() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastInteraction.IsZero() {
		return 0
	}
	return m.now().Sub(m.lastInteraction).Seconds()
}

// InteractionCount is the burst counter since the last reset, not a
// running total.
func (m *Monitor) InteractionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interactions
}

// ResetInteractions is called by the composer after a successful flush.
func (m *Monitor) ResetInteractions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = 0
}
