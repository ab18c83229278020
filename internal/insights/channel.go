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

package insights

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

// Channel is the instructor-side socket. The server does not re-derive
// subscription parameters: after every (re)connect, and after every topic
// difficulty change while connected, the subscribe message must go out
// again explicitly.
type Channel struct {
	endpoint  string
	token     string
	dialer    *websocket.Dialer
	logger    *slog.Logger
	traffic   *logging.TrafficLogger
	localHour func() int
	write     func(conn *websocket.Conn, payload []byte) error

	mu        sync.Mutex
	conn      *websocket.Conn
	state     core.ConnState
	topic     core.TopicDifficulty
	snapshot  *core.InsightsSnapshot
	lastError string

	// Serializes writers; gorilla allows one concurrent writer only.
	writeMu sync.Mutex

	onUpdate func(core.InsightsSnapshot)
}

func New(socketBase string, sessionID int64, token string, logger *slog.Logger, traffic *logging.TrafficLogger) *Channel {
	return &Channel{
		endpoint:  fmt.Sprintf("%s/api/v1/sessions/%d/engagement/ws", socketBase, sessionID),
		token:     token,
		dialer:    websocket.DefaultDialer,
		logger:    logger,
		traffic:   traffic,
		topic:     core.DifficultyMedium,
		localHour: func() int { return time.Now().Hour() },
		write: func(conn *websocket.Conn, payload []byte) error {
			return conn.WriteMessage(websocket.TextMessage, payload)
		},
	}
}

// SetUpdateFunc registers the sink for replaced snapshots.
func (c *Channel) SetUpdateFunc(f func(core.InsightsSnapshot)) {
	c.onUpdate = f
}

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
		return fmt.Errorf("dial insights socket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = core.ConnConnected
	c.lastError = ""
	topic := c.topic
	c.mu.Unlock()

	c.logger.Info("insights channel connected", "topic_difficulty", topic)
	go c.readLoop(conn)
	if err := c.sendSubscribe(conn, topic); err != nil {
		// A socket the server never heard subscribe on is useless; fail
		// it so the next Connect re-dials and resubscribes.
		c.failConn(conn, err)
		return err
	}
	return nil
}

// failConn drops a connection whose subscription is unusable. Identity
// guarded like markClosed, so a racing reconnect is untouched.
func (c *Channel) failConn(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.state = core.ConnError
		c.lastError = err.Error()
	}
	c.mu.Unlock()
	conn.Close()
}

// SetTopicDifficulty updates the subscription parameters. While connected
// this sends exactly one subscribe message per actual change; setting the
// same value again is a no-op. While disconnected the value is kept and
// goes out with the next Connect.
func (c *Channel) SetTopicDifficulty(d core.TopicDifficulty) error {
	d = core.NormalizeTopicDifficulty(string(d))
	c.mu.Lock()
	if d == c.topic {
		c.mu.Unlock()
		return nil
	}
	c.topic = d
	conn := c.conn
	connected := c.state == core.ConnConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}
	if err := c.sendSubscribe(conn, d); err != nil {
		// Leaving the socket "connected" here would strand the server on
		// the previous parameters.
		c.failConn(conn, err)
		return err
	}
	return nil
}

func (c *Channel) sendSubscribe(conn *websocket.Conn, topic core.TopicDifficulty) error {
	msg := core.SubscribeInsights{
		Type:            core.MessageTypeSubscribeInsights,
		TopicDifficulty: topic,
		LocalHour:       c.localHour(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	c.writeMu.Lock()
	err = c.write(conn, payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	c.traffic.Log("insights", "outbound", msg.Type, len(payload))
	return nil
}

// Snapshot returns the most recent full insights payload, if any has
// arrived yet.
func (c *Channel) Snapshot() (core.InsightsSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return core.InsightsSnapshot{}, false
	}
	return *c.snapshot, true
}

// ReplaceSnapshot installs a snapshot obtained out of band (the REST
// fallback uses this so the dashboard sees one cache either way).
func (c *Channel) ReplaceSnapshot(raw json.RawMessage) {
	snap := core.InsightsSnapshot{Insights: raw, ReceivedAt: time.Now().UTC()}
	c.mu.Lock()
	c.snapshot = &snap
	c.mu.Unlock()
	if c.onUpdate != nil {
		c.onUpdate(snap)
	}
}

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
				c.logger.Warn("insights read error", "error", err)
			}
			c.markClosed(conn)
			return
		}

		var env core.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		c.traffic.Log("insights", "inbound", env.Type, len(payload))

		switch env.Type {
		case core.MessageTypeInsightsUpdate:
			var update core.InsightsUpdate
			if err := json.Unmarshal(payload, &update); err != nil {
				continue
			}
			// Whole-snapshot replacement; no merging of partial state.
			c.ReplaceSnapshot(update.Insights)
		case core.MessageTypeError:
			var msg core.ErrorMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			c.mu.Lock()
			c.lastError = msg.Detail
			c.mu.Unlock()
		default:
		}
	}
}

func (c *Channel) markClosed(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.state = core.ConnDisconnected
	}
}
