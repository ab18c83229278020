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

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/classpulse/engage-agent/internal/logging"
	"github.com/classpulse/engage-agent/pkg/core"
	"github.com/gorilla/websocket"
)

// Outbound application-level ping cadence; keeps idle sockets alive
// through proxies that time out quiet connections.
const pingInterval = 30 * time.Second

// Channel is the student-side duplex socket: vision samples out, scoring
// acknowledgements in. It never retries on its own; the orchestrator's
// lifecycle poll is the reconnect driver.
type Channel struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	logger   *slog.Logger
	traffic  *logging.TrafficLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	state     core.ConnState
	lastError string

	// Serializes writers; gorilla allows one concurrent writer only.
	writeMu sync.Mutex

	onAck         func(core.VisionAck)
	onServerError func(string)
}

// New builds a channel for one session. socketBase is the ws/wss scheme
// base of the API host.
func New(socketBase string, sessionID int64, token string, logger *slog.Logger, traffic *logging.TrafficLogger) *Channel {
	return &Channel{
		endpoint: fmt.Sprintf("%s/api/v1/sessions/%d/engagement/ws", socketBase, sessionID),
		token:    token,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
		traffic:  traffic,
	}
}

// SetAckFunc registers the sink for face-visibility acknowledgements.
func (c *Channel) SetAckFunc(f func(core.VisionAck)) {
	c.onAck = f
}

// SetServerErrorFunc registers the sink for server-reported errors; the
// socket stays open when these arrive.
func (c *Channel) SetServerErrorFunc(f func(string)) {
	c.onServerError = f
}

// Connect dials the engagement socket. A no-op while already connected or
// connecting. Refuses outright when no auth token can be embedded in the
// URL: that is a configuration error, not a connection failure.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == core.ConnConnected || c.state == core.ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.token == "" {
		c.mu.Unlock()
		return core.ErrTokenMissing
	}
	c.state = core.ConnConnecting
	c.mu.Unlock()

	target := c.endpoint + "?token=" + url.QueryEscape(c.token)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.mu.Lock()
		c.state = core.ConnError
		c.lastError = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("dial engagement socket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = core.ConnConnected
	c.lastError = ""
	c.mu.Unlock()

	c.logger.Info("telemetry channel connected")
	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

// pingLoop sends application-level pings while conn is still current.
func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	payload, _ := json.Marshal(core.Envelope{Type: core.MessageTypePing})
	for range ticker.C {
		c.mu.Lock()
		current := c.conn == conn
		c.mu.Unlock()
		if !current {
			return
		}
		c.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// SendSample writes one vision sample. Samples are never queued: a failed
// write is reported and the caller skips the cycle.
func (c *Channel) SendSample(ctx context.Context, sample core.VisionSample) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return core.ErrNotConnected
	}

	sample.Type = core.MessageTypeVisionSample
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		c.state = core.ConnError
		c.lastError = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("write sample: %w", err)
	}
	c.traffic.Log("telemetry", "outbound", sample.Type, len(payload))
	return nil
}

// Close shuts the socket and clears the handle so a later Connect can
// re-establish.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = core.ConnDisconnected
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) State() core.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("telemetry read error", "error", err)
			}
			c.markClosed(conn)
			return
		}

		var env core.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// Malformed inbound payloads are dropped, not fatal.
			continue
		}
		c.traffic.Log("telemetry", "inbound", env.Type, len(payload))

		switch env.Type {
		case core.MessageTypeConnected:
			// Server greeting after accept; informational only.
			c.logger.Debug("server greeting received")
		case core.MessageTypeSignalAck:
			var ack core.SignalAck
			if err := json.Unmarshal(payload, &ack); err != nil {
				continue
			}
			if c.onAck != nil {
				c.onAck(ack.Vision)
			}
		case core.MessageTypeError:
			var msg core.ErrorMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			c.mu.Lock()
			c.lastError = msg.Detail
			c.mu.Unlock()
			if c.onServerError != nil {
				c.onServerError(msg.Detail)
			}
		default:
			// Unknown message shapes must not throw; forward compatible.
		}
	}
}

// markClosed clears state only if the closing conn is still current, so a
// reconnect racing the old read loop is not torn down.
func (c *Channel) markClosed(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.state = core.ConnDisconnected
	}
}
